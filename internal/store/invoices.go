package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gentlechase/api/internal/importer"
)

const dateLayout = "2006-01-02"

type Invoice struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	ClientID      *uuid.UUID
	InvoiceNumber string
	ClientName    string
	ClientEmail   string
	ClientPhone   string
	Amount        decimal.Decimal
	DueDate       time.Time
	// Status is the display status: a pending invoice past its due date
	// reads as overdue.
	Status      string
	Description string
	Notes       string
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const invoiceColumns = `id, user_id, client_id, invoice_number, client_name, client_email, client_phone,
	amount::text, due_date,
	CASE WHEN status = 'pending' AND due_date < current_date THEN 'overdue' ELSE status END,
	description, notes, paid_at, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (Invoice, error) {
	var inv Invoice
	var email, phone, desc, notes *string
	var amount string
	if err := row.Scan(&inv.ID, &inv.UserID, &inv.ClientID, &inv.InvoiceNumber, &inv.ClientName, &email, &phone,
		&amount, &inv.DueDate, &inv.Status, &desc, &notes, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return Invoice{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return Invoice{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	inv.Amount = parsed
	inv.ClientEmail, inv.ClientPhone = deref(email), deref(phone)
	inv.Description, inv.Notes = deref(desc), deref(notes)
	return inv, nil
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	defer rows.Close()
	out := []Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type InvoiceFilter struct {
	// Status filters on display status; empty means all.
	Status string
	// Q matches client name, invoice number or description.
	Q string
}

const effectiveStatus = `CASE WHEN status = 'pending' AND due_date < current_date THEN 'overdue' ELSE status END`

func (s *Store) ListInvoices(ctx context.Context, userID uuid.UUID, f InvoiceFilter) ([]Invoice, error) {
	var status, q *string
	if f.Status != "" {
		status = &f.Status
	}
	if trimmed := strings.TrimSpace(f.Q); trimmed != "" {
		pattern := "%" + strings.ToLower(trimmed) + "%"
		q = &pattern
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE user_id = $1
		  AND ($2::text IS NULL OR `+effectiveStatus+` = $2)
		  AND ($3::text IS NULL
		       OR lower(client_name) LIKE $3
		       OR lower(invoice_number) LIKE $3
		       OR lower(COALESCE(description, '')) LIKE $3)
		ORDER BY due_date DESC, created_at DESC
	`, userID, status, q)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return collectInvoices(rows)
}

func (s *Store) RecentInvoices(ctx context.Context, userID uuid.UUID, limit int) ([]Invoice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent invoices: %w", err)
	}
	return collectInvoices(rows)
}

type InvoiceStats struct {
	Total       int
	Paid        int
	Pending     int
	Overdue     int
	Revenue     decimal.Decimal
	Outstanding decimal.Decimal
}

func (s *Store) GetInvoiceStats(ctx context.Context, userID uuid.UUID) (InvoiceStats, error) {
	var st InvoiceStats
	var revenue, outstanding string
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE s = 'paid'),
		       COUNT(*) FILTER (WHERE s = 'pending'),
		       COUNT(*) FILTER (WHERE s = 'overdue'),
		       COALESCE(SUM(amount) FILTER (WHERE s = 'paid'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE s <> 'paid'), 0)::text
		FROM (SELECT amount, `+effectiveStatus+` AS s FROM invoices WHERE user_id = $1) i
	`, userID).Scan(&st.Total, &st.Paid, &st.Pending, &st.Overdue, &revenue, &outstanding)
	if err != nil {
		return InvoiceStats{}, fmt.Errorf("invoice stats: %w", err)
	}
	if st.Revenue, err = decimal.NewFromString(revenue); err != nil {
		return InvoiceStats{}, err
	}
	if st.Outstanding, err = decimal.NewFromString(outstanding); err != nil {
		return InvoiceStats{}, err
	}
	return st, nil
}

type InvoiceParams struct {
	InvoiceNumber string
	ClientID      *uuid.UUID
	ClientName    string
	ClientEmail   string
	ClientPhone   string
	Amount        decimal.Decimal
	DueDate       time.Time
	Status        string
	Description   string
	Notes         string
}

// CreateInvoice inserts one invoice. A number already used by the user
// yields ErrConflict.
func (s *Store) CreateInvoice(ctx context.Context, userID uuid.UUID, p InvoiceParams) (Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx, `
		INSERT INTO invoices (user_id, client_id, invoice_number, client_name, client_email, client_phone,
		                      amount, due_date, status, description, notes, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::date, $9, $10, $11,
		        CASE WHEN $9 = 'paid' THEN now() END)
		RETURNING `+invoiceColumns,
		userID, p.ClientID, strings.TrimSpace(p.InvoiceNumber), strings.TrimSpace(p.ClientName),
		nullable(p.ClientEmail), nullable(p.ClientPhone), p.Amount.String(), p.DueDate.Format(dateLayout),
		p.Status, nullable(p.Description), nullable(p.Notes)))
	if err != nil {
		if isUniqueViolation(err) {
			return Invoice{}, ErrConflict
		}
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, userID, invoiceID uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND user_id = $2`, invoiceID, userID))
	if err != nil {
		return Invoice{}, notFound(err)
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, userID, invoiceID uuid.UUID, p InvoiceParams) (Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx, `
		UPDATE invoices
		SET invoice_number = $3, client_id = $4, client_name = $5, client_email = $6, client_phone = $7,
		    amount = $8::numeric, due_date = $9::date, status = $10, description = $11, notes = $12,
		    paid_at = CASE WHEN $10 = 'paid' THEN COALESCE(paid_at, now()) END,
		    updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+invoiceColumns,
		invoiceID, userID, strings.TrimSpace(p.InvoiceNumber), p.ClientID, strings.TrimSpace(p.ClientName),
		nullable(p.ClientEmail), nullable(p.ClientPhone), p.Amount.String(), p.DueDate.Format(dateLayout),
		p.Status, nullable(p.Description), nullable(p.Notes)))
	if err != nil {
		if isUniqueViolation(err) {
			return Invoice{}, ErrConflict
		}
		return Invoice{}, notFound(err)
	}
	return inv, nil
}

func (s *Store) MarkInvoicePaid(ctx context.Context, userID, invoiceID uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx, `
		UPDATE invoices
		SET status = 'paid', paid_at = COALESCE(paid_at, now()), updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+invoiceColumns,
		invoiceID, userID))
	if err != nil {
		return Invoice{}, notFound(err)
	}
	return inv, nil
}

func (s *Store) DeleteInvoice(ctx context.Context, userID, invoiceID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM invoices WHERE id = $1 AND user_id = $2`, invoiceID, userID)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FetchInvoiceNumbers(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT invoice_number FROM invoices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch invoice numbers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CreateInvoices bulk-inserts imported invoices. Numbers that already exist
// for the user are skipped by the unique constraint and not counted.
func (s *Store) CreateInvoices(ctx context.Context, userID uuid.UUID, invoices []importer.NewInvoice) (int, error) {
	if len(invoices) == 0 {
		return 0, nil
	}
	n := len(invoices)
	numbers := make([]string, n)
	clientIDs := make([]*string, n)
	names := make([]string, n)
	emails := make([]*string, n)
	phones := make([]*string, n)
	amounts := make([]string, n)
	dues := make([]string, n)
	statuses := make([]string, n)
	descs := make([]*string, n)
	notes := make([]*string, n)
	for i, inv := range invoices {
		numbers[i] = inv.InvoiceNumber
		if inv.ClientID != nil {
			id := inv.ClientID.String()
			clientIDs[i] = &id
		}
		names[i] = inv.ClientName
		emails[i], phones[i] = inv.ClientEmail, inv.ClientPhone
		amounts[i] = inv.Amount.String()
		dues[i] = inv.DueDate.Format(dateLayout)
		statuses[i] = string(inv.Status)
		descs[i], notes[i] = inv.Description, inv.Notes
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO invoices (user_id, invoice_number, client_id, client_name, client_email, client_phone,
		                      amount, due_date, status, description, notes, paid_at)
		SELECT $1, t.num, t.cid::uuid, t.name, t.email, t.phone, t.amount::numeric, t.due::date, t.status,
		       t.descr, t.notes, CASE WHEN t.status = 'paid' THEN now() END
		FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[],
		            $9::text[], $10::text[], $11::text[])
		     AS t(num, cid, name, email, phone, amount, due, status, descr, notes)
		ON CONFLICT ON CONSTRAINT invoices_user_number_key DO NOTHING
	`, userID, numbers, clientIDs, names, emails, phones, amounts, dues, statuses, descs, notes)
	if err != nil {
		return 0, fmt.Errorf("insert invoices: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ExportInvoices returns every invoice for the user ordered by number.
func (s *Store) ExportInvoices(ctx context.Context, userID uuid.UUID) ([]Invoice, error) {
	rows, err := s.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE user_id = $1 ORDER BY invoice_number`, userID)
	if err != nil {
		return nil, fmt.Errorf("export invoices: %w", err)
	}
	return collectInvoices(rows)
}
