package backup

import (
	"context"
	"testing"
)

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"0 2 * * *", false},
		{"*/15 * * * 1-5", false},
		{"@daily", false},
		{"0 0 2 * * *", true},
		{"not a schedule", true},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	e := newTestEngine(t, testConfig("unused"), newMockStorage())
	s := NewScheduler(e, "0 2 * * *", discardLogger())

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	if !s.NextRun().IsZero() {
		t.Error("NextRun() should be zero before Start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	next := s.NextRun()
	if next.IsZero() || next.Hour() != 2 || next.Minute() != 0 {
		t.Errorf("NextRun() = %v, want next 02:00", next)
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if s.Engine() != e {
		t.Error("Engine() returned a different engine")
	}
}

func TestScheduler_Descriptor(t *testing.T) {
	s := NewScheduler(newTestEngine(t, testConfig("unused"), newMockStorage()), "@hourly", discardLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	if s.NextRun().Minute() != 0 {
		t.Errorf("NextRun() = %v, want top of the hour", s.NextRun())
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestEngine(t, testConfig("unused"), newMockStorage()), "bogus", discardLogger())
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() expected error for invalid schedule")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after failed Start")
	}
}
