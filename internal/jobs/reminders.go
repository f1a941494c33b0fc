package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gentlechase/api/internal/store"
)

// ReminderStore is the slice of *store.Store the sweep needs.
type ReminderStore interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	OverdueWithoutRecentReminder(ctx context.Context, asOf time.Time) ([]store.ReminderCandidate, error)
	QueueReminder(ctx context.Context, userID, invoiceID uuid.UUID, source string) (store.Reminder, error)
}

type SweepResult struct {
	MarkedOverdue int64
	Queued        int
	Failed        int
}

// ReminderSweep marks past-due invoices overdue and queues a scheduled
// reminder for each overdue invoice that is due one under its owner's
// reminder pattern.
type ReminderSweep struct {
	Store  ReminderStore
	Logger *slog.Logger
	Now    func() time.Time
}

func (j *ReminderSweep) Run(ctx context.Context) (SweepResult, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	asOf := now().UTC()

	var res SweepResult
	marked, err := j.Store.MarkOverdue(ctx, asOf)
	if err != nil {
		return res, err
	}
	res.MarkedOverdue = marked

	candidates, err := j.Store.OverdueWithoutRecentReminder(ctx, asOf)
	if err != nil {
		return res, err
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := j.Store.QueueReminder(ctx, c.UserID, c.InvoiceID, store.ReminderSourceScheduled); err != nil {
			res.Failed++
			j.logger().Warn("reminder_queue_failed", "invoice_id", c.InvoiceID, "error", err)
			continue
		}
		res.Queued++
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("%d reminders failed to queue", res.Failed)
	}
	return res, nil
}

func (j *ReminderSweep) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
