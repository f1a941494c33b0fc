package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	ReminderSourceManual    = "manual"
	ReminderSourceScheduled = "scheduled"
)

type Reminder struct {
	ID        uuid.UUID
	InvoiceID uuid.UUID
	Style     string
	Channel   string
	Source    string
	QueuedAt  time.Time
}

// QueueReminder records a reminder for an invoice using the owner's current
// reminder style.
func (s *Store) QueueReminder(ctx context.Context, userID, invoiceID uuid.UUID, source string) (Reminder, error) {
	var r Reminder
	err := s.db.QueryRow(ctx, `
		INSERT INTO reminders (user_id, invoice_id, style, source)
		SELECT i.user_id, i.id, COALESCE(p.reminder_style, 'polite'), $3
		FROM invoices i
		LEFT JOIN profiles p ON p.user_id = i.user_id
		WHERE i.id = $2 AND i.user_id = $1
		RETURNING id, invoice_id, style, channel, source, queued_at
	`, userID, invoiceID, source).Scan(&r.ID, &r.InvoiceID, &r.Style, &r.Channel, &r.Source, &r.QueuedAt)
	if err != nil {
		return Reminder{}, notFound(err)
	}
	return r, nil
}

// MarkOverdue flips pending invoices whose due date is before asOf.
func (s *Store) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE invoices SET status = 'overdue', updated_at = now()
		WHERE status = 'pending' AND due_date < $1::date
	`, asOf.Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

type ReminderCandidate struct {
	UserID    uuid.UUID
	InvoiceID uuid.UUID
	Pattern   string
	LastSent  *time.Time
}

// OverdueWithoutRecentReminder lists overdue invoices whose latest reminder
// is older than the owner's pattern interval, or that have none.
func (s *Store) OverdueWithoutRecentReminder(ctx context.Context, asOf time.Time) ([]ReminderCandidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.user_id, i.id, COALESCE(p.reminder_pattern, '7days'), r.last_sent
		FROM invoices i
		LEFT JOIN profiles p ON p.user_id = i.user_id
		LEFT JOIN LATERAL (
			SELECT max(queued_at) AS last_sent FROM reminders WHERE invoice_id = i.id
		) r ON TRUE
		WHERE i.status = 'overdue'
		  AND (r.last_sent IS NULL OR r.last_sent <= $1::timestamptz - (
		        CASE COALESCE(p.reminder_pattern, '7days')
		            WHEN '3days' THEN interval '3 days'
		            WHEN '14days' THEN interval '14 days'
		            ELSE interval '7 days'
		        END))
		ORDER BY i.due_date
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReminderCandidate, error) {
		var c ReminderCandidate
		err := row.Scan(&c.UserID, &c.InvoiceID, &c.Pattern, &c.LastSent)
		return c, err
	})
}
