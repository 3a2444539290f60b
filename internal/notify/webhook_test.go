package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capture starts a server that decodes every payload it receives.
func capture(t *testing.T, status int) (*httptest.Server, *[]WebhookPayload) {
	t.Helper()
	var got []WebhookPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("User-Agent = %s, want %s", ua, userAgent)
		}

		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("Failed to decode payload: %v", err)
		}
		got = append(got, p)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func TestNewNotifier(t *testing.T) {
	if n := NewNotifier("", discard()); n != nil {
		t.Error("NewNotifier with empty URL should return nil")
	}
	if n := NewNotifier("https://example.com/hook", nil); n == nil {
		t.Error("NewNotifier with URL should not return nil")
	}
}

func TestNotifier_NotifyDump(t *testing.T) {
	server, got := capture(t, http.StatusOK)
	n := NewNotifier(server.URL, discard())
	n.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)) }

	n.NotifyDump(context.Background(), Summary{
		DumpID:   "dump_20240301_120000",
		Database: "shop",
		Size:     2048,
		Duration: 1500 * time.Millisecond,
		Tables:   3,
		Rows:     42,
	})

	if len(*got) != 1 {
		t.Fatalf("received %d payloads, want 1", len(*got))
	}
	p := (*got)[0]
	if p.Event != EventDumpCompleted || p.Status != "success" {
		t.Errorf("Event/Status = %s/%s, want %s/success", p.Event, p.Status, EventDumpCompleted)
	}
	if p.DumpID != "dump_20240301_120000" || p.Database != "shop" {
		t.Errorf("DumpID/Database = %s/%s", p.DumpID, p.Database)
	}
	if p.Details.Size != 2048 || p.Details.Duration != 1500 || p.Details.Tables != 3 || p.Details.Rows != 42 {
		t.Errorf("Details = %+v", p.Details)
	}
	if !p.Timestamp.Equal(time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v, want 11:00 UTC", p.Timestamp)
	}
	if !strings.Contains(p.Message, "3 table(s), 42 row(s)") {
		t.Errorf("Message = %q", p.Message)
	}
}

func TestNotifier_NotifyRestore(t *testing.T) {
	server, got := capture(t, http.StatusOK)
	n := NewNotifier(server.URL, discard())

	n.NotifyRestore(context.Background(), Summary{DumpID: "dump_1", Database: "shop", Statements: 17})

	if len(*got) != 1 {
		t.Fatalf("received %d payloads, want 1", len(*got))
	}
	if p := (*got)[0]; p.Event != EventRestoreCompleted || p.Details.Statements != 17 {
		t.Errorf("payload = %+v", p)
	}
}

func TestNotifier_NotifyFailure(t *testing.T) {
	server, got := capture(t, http.StatusOK)
	n := NewNotifier(server.URL, discard())

	n.NotifyFailure(context.Background(), "dump_1", false, errors.New("connection refused"))
	n.NotifyFailure(context.Background(), "dump_1", true, errors.New("table missing"))

	if len(*got) != 2 {
		t.Fatalf("received %d payloads, want 2", len(*got))
	}
	if p := (*got)[0]; p.Event != EventDumpFailed || p.Details.Error != "connection refused" || p.Status != "failure" {
		t.Errorf("dump failure payload = %+v", p)
	}
	if p := (*got)[1]; p.Event != EventRestoreFailed || p.Message != "Restore of dump_1 failed" {
		t.Errorf("restore failure payload = %+v", p)
	}
}

func TestNotifier_NotifyAlert(t *testing.T) {
	server, got := capture(t, http.StatusOK)
	n := NewNotifier(server.URL, discard())

	n.NotifyAlert(context.Background(), "No successful dump in 26h")

	if len(*got) != 1 {
		t.Fatalf("received %d payloads, want 1", len(*got))
	}
	if p := (*got)[0]; p.Event != EventAlert || p.Status != "alert" || p.Message != "No successful dump in 26h" {
		t.Errorf("payload = %+v", p)
	}
}

func TestNotifier_CanceledContextStillSends(t *testing.T) {
	server, got := capture(t, http.StatusOK)
	n := NewNotifier(server.URL, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.NotifyFailure(ctx, "dump_1", false, context.Canceled)

	if len(*got) != 1 {
		t.Errorf("received %d payloads, want 1", len(*got))
	}
}

func TestNotifier_NilSafe(t *testing.T) {
	var n *Notifier
	ctx := context.Background()

	n.NotifyDump(ctx, Summary{})
	n.NotifyRestore(ctx, Summary{})
	n.NotifyFailure(ctx, "x", false, errors.New("x"))
	n.NotifyAlert(ctx, "x")
}

func TestNotifier_ServerErrorAndBadURL(t *testing.T) {
	server, got := capture(t, http.StatusInternalServerError)
	NewNotifier(server.URL, discard()).NotifyAlert(context.Background(), "x")
	if len(*got) != 1 {
		t.Errorf("received %d payloads, want 1", len(*got))
	}

	NewNotifier("://bad", discard()).NotifyAlert(context.Background(), "x")
}

func TestWebhookPayload_OmitsEmptyDetails(t *testing.T) {
	data, err := json.Marshal(WebhookPayload{Event: EventAlert, Status: "alert"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if strings.Contains(string(data), "details") {
		t.Errorf("payload = %s, want details omitted", data)
	}
}
