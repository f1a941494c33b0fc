// Package jobs runs periodic background work on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 5 * time.Minute

// Sweeper drops expired in-memory import batches.
type Sweeper interface {
	Sweep() int
}

type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

type SchedulerConfig struct {
	// ReminderSchedule is a standard five-field cron spec or descriptor.
	ReminderSchedule string
	Reminders        *ReminderSweep
	// Sessions may be nil when batches live in Redis.
	Sessions Sweeper
}

func NewScheduler(cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cron.DiscardLogger)))
	s := &Scheduler{cron: c, logger: logger}

	if cfg.Reminders != nil {
		if _, err := c.AddFunc(cfg.ReminderSchedule, s.runReminders(cfg.Reminders)); err != nil {
			return nil, fmt.Errorf("schedule reminder sweep: %w", err)
		}
	}
	if cfg.Sessions != nil {
		if _, err := c.AddFunc("@every 1m", func() {
			if n := cfg.Sessions.Sweep(); n > 0 {
				logger.Info("import_sessions_expired", "count", n)
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule session sweep: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) runReminders(job *ReminderSweep) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		start := time.Now()
		res, err := job.Run(ctx)
		if err != nil {
			s.logger.Error("reminder_sweep_failed", "error", err, "queued", res.Queued, "failed", res.Failed)
			return
		}
		s.logger.Info("reminder_sweep_completed",
			"marked_overdue", res.MarkedOverdue,
			"queued", res.Queued,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler_started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
