package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
)

// Scheduler triggers periodic full crawls from a cron expression.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler constructs a stopped scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	scheduleLogger := logging.WithComponent(logger, "scheduler")
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{scheduleLogger}))),
		logger: scheduleLogger,
	}
}

// Add registers a job under a standard five-field cron expression.
func (s *Scheduler) Add(spec string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("cron schedule %q: %w", spec, err)
	}
	return nil
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for a running job, bounded by the context.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
	s.logger.Info("scheduler stopped")
}

// NextRun reports when the earliest scheduled job fires next.
func (s *Scheduler) NextRun() (time.Time, bool) {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	next := entries[0].Next
	for _, entry := range entries[1:] {
		if entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next, true
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Info(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	c.logger.Error(msg, args...)
}
