package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a dump followed by a retention cleanup on a cron
// schedule. Schedules use the standard five fields.
type Scheduler struct {
	engine   *Engine
	cron     *cron.Cron
	schedule string
	logger   *slog.Logger
	mu       sync.RWMutex
	running  bool
	entry    cron.EntryID
}

func NewScheduler(engine *Engine, schedule string, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger}
	return &Scheduler{
		engine:   engine,
		schedule: schedule,
		logger:   logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// ValidateSchedule reports whether schedule is a valid five field cron
// expression.
func ValidateSchedule(schedule string) error {
	_, err := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(schedule)
	return err
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	spec := s.schedule
	if len(spec) == 0 || spec[0] != '@' {
		spec = "0 " + spec
	}

	id, err := s.cron.AddFunc(spec, func() { s.runDump(ctx) })
	if err != nil {
		return err
	}
	s.entry = id
	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started",
		"schedule", s.schedule,
		"next_run", s.cron.Entry(id).Next,
	)
	return nil
}

// Stop waits for a dump in progress to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.cron.Remove(s.entry)
	s.running = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) RunNow(ctx context.Context) (*Result, error) {
	return s.engine.Run(ctx)
}

func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) Engine() *Engine {
	return s.engine
}

func (s *Scheduler) runDump(ctx context.Context) {
	s.logger.Info("scheduled dump starting")

	result, err := s.engine.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled dump failed", "error", err)
	} else {
		s.logger.Info("scheduled dump completed", "id", result.ID)
	}

	if _, err := s.engine.Cleanup(ctx); err != nil {
		s.logger.Error("cleanup after dump failed", "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
