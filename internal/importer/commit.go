package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCommitInProgress = errors.New("commit already in progress")
	ErrNotImportable    = errors.New("batch has rows with errors or no rows")
)

// Client is an existing or newly created client as seen by the importer.
type Client struct {
	ID   uuid.UUID
	Name string
}

type NewClient struct {
	Name  string
	Email *string
	Phone *string
}

type NewInvoice struct {
	InvoiceNumber string
	ClientName    string
	ClientID      *uuid.UUID
	ClientEmail   *string
	ClientPhone   *string
	Amount        decimal.Decimal
	DueDate       time.Time
	Status        Status
	Description   *string
	Notes         *string
}

// Storage is the persistence the commit needs. CreateInvoices reports how
// many invoices were actually written; rows it refuses (for example a
// number that became taken after staging) are simply not counted.
type Storage interface {
	FetchClients(ctx context.Context, userID uuid.UUID) ([]Client, error)
	CreateClients(ctx context.Context, userID uuid.UUID, clients []NewClient) ([]Client, error)
	CreateInvoices(ctx context.Context, userID uuid.UUID, invoices []NewInvoice) (int, error)
	FetchInvoiceNumbers(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Transactor is implemented by storages that can run the commit writes in
// a single transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(Storage) error) error
}

type Result struct {
	Imported         int `json:"imported"`
	SkippedDuplicate int `json:"skippedDuplicate"`
	SkippedRejected  int `json:"skippedRejected"`
	NewClients       int `json:"newClients"`
}

// Skipped is the total of rows that were staged but not imported.
func (r Result) Skipped() int {
	return r.SkippedDuplicate + r.SkippedRejected
}

// PartialCommitError is returned by non-transactional commits that failed
// after clients had already been created.
type PartialCommitError struct {
	ClientsCreated int
	Err            error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("import partially applied (%d clients created): %v", e.ClientsCreated, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// Commit writes the batch for userID. Only one commit may run at a time;
// once one succeeds the batch is spent. A failed commit leaves the batch
// editable so it can be retried.
func (b *Batch) Commit(ctx context.Context, st Storage, userID uuid.UUID) (Result, error) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrCommitInProgress
	}
	defer b.inFlight.Store(false)

	b.mu.Lock()
	if b.spent {
		b.mu.Unlock()
		return Result{}, ErrBatchCommitted
	}
	if !b.summaryLocked().canImport() {
		b.mu.Unlock()
		return Result{}, ErrNotImportable
	}
	rows := make([]Row, 0, len(b.rows))
	for _, r := range b.rows {
		rows = append(rows, r.clone())
	}
	b.mu.Unlock()

	var (
		res Result
		err error
	)
	if tx, ok := st.(Transactor); ok {
		err = tx.InTx(ctx, func(s Storage) error {
			var werr error
			res, werr = writeRows(ctx, s, userID, rows)
			return werr
		})
	} else {
		res, err = writeRows(ctx, st, userID, rows)
		if err != nil && res.NewClients > 0 {
			err = &PartialCommitError{ClientsCreated: res.NewClients, Err: err}
		}
	}
	if err != nil {
		return Result{}, err
	}

	b.mu.Lock()
	b.spent = true
	b.mu.Unlock()
	return res, nil
}

func clientKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// writeRows returns the partial result alongside an error so callers can
// tell whether clients were created before the failure.
func writeRows(ctx context.Context, st Storage, userID uuid.UUID, rows []Row) (Result, error) {
	var res Result

	toInsert := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.IsDuplicate {
			res.SkippedDuplicate++
			continue
		}
		toInsert = append(toInsert, r)
	}
	if len(toInsert) == 0 {
		return res, nil
	}

	existing, err := st.FetchClients(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("fetch clients: %w", err)
	}
	ids := make(map[string]uuid.UUID, len(existing))
	for _, c := range existing {
		ids[clientKey(c.Name)] = c.ID
	}

	var pending []NewClient
	queued := map[string]bool{}
	for _, r := range toInsert {
		key := clientKey(r.ClientName)
		if _, ok := ids[key]; ok || queued[key] {
			continue
		}
		queued[key] = true
		pending = append(pending, NewClient{
			Name:  strings.TrimSpace(r.ClientName),
			Email: optional(r.ClientEmail),
			Phone: optional(r.ClientPhone),
		})
	}
	if len(pending) > 0 {
		created, err := st.CreateClients(ctx, userID, pending)
		if err != nil {
			return res, fmt.Errorf("create clients: %w", err)
		}
		for _, c := range created {
			ids[clientKey(c.Name)] = c.ID
		}
		res.NewClients = len(created)
	}

	invoices := make([]NewInvoice, 0, len(toInsert))
	for _, r := range toInsert {
		inv, err := toInvoice(r)
		if err != nil {
			return res, fmt.Errorf("row %s: %w", r.LocalID, err)
		}
		if id, ok := ids[clientKey(r.ClientName)]; ok {
			inv.ClientID = &id
		}
		invoices = append(invoices, inv)
	}

	inserted, err := st.CreateInvoices(ctx, userID, invoices)
	if err != nil {
		return res, fmt.Errorf("create invoices: %w", err)
	}
	res.Imported = inserted
	res.SkippedRejected = len(invoices) - inserted
	return res, nil
}

func toInvoice(r Row) (NewInvoice, error) {
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return NewInvoice{}, fmt.Errorf("amount: %w", err)
	}
	due, ok := ParseDate(r.DueDate)
	if !ok {
		return NewInvoice{}, fmt.Errorf("due date %q", r.DueDate)
	}
	status := r.Status
	if status == "" {
		status = StatusPending
	}
	return NewInvoice{
		InvoiceNumber: r.InvoiceNumber,
		ClientName:    strings.TrimSpace(r.ClientName),
		ClientEmail:   optional(r.ClientEmail),
		ClientPhone:   optional(r.ClientPhone),
		Amount:        amount,
		DueDate:       due,
		Status:        status,
		Description:   optional(r.Description),
		Notes:         optional(r.Notes),
	}, nil
}
