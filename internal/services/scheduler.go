package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers fulfillment runs on a cron schedule. A tick that arrives while
// the previous run is still going is skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	run      func(ctx context.Context) error
	logger   *slog.Logger
	ctx      context.Context
	entry    cron.EntryID
}

// NewScheduler validates schedule and prepares the cron runner.
func NewScheduler(schedule string, run func(ctx context.Context) error, logger *slog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		schedule: schedule,
		run:      run,
		logger:   logger,
		ctx:      context.Background(),
	}
	entry, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.entry = entry
	return s, nil
}

// Start begins scheduling. Runs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("fulfillment scheduler started", "schedule", s.schedule, "next", s.cron.Entry(s.entry).Next)
}

// Stop stops scheduling and returns a context done once a running job has finished.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.logger.Info("fulfillment scheduler stopped")
	return done
}

func (s *Scheduler) tick() {
	if err := s.run(s.ctx); err != nil {
		s.logger.Warn("scheduled run failed", "error", err)
	}
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
