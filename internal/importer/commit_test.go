package importer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeStorage struct {
	mu sync.Mutex

	clients        []Client
	createClients  [][]NewClient
	createInvoices [][]NewInvoice
	fetchCalls     int

	rejectInvoices int
	invoiceErr     error

	entered chan struct{}
	release chan struct{}
}

func (f *fakeStorage) FetchClients(ctx context.Context, userID uuid.UUID) ([]Client, error) {
	f.mu.Lock()
	f.fetchCalls++
	out := append([]Client(nil), f.clients...)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return out, nil
}

func (f *fakeStorage) CreateClients(ctx context.Context, userID uuid.UUID, clients []NewClient) ([]Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createClients = append(f.createClients, clients)
	created := make([]Client, 0, len(clients))
	for _, c := range clients {
		nc := Client{ID: uuid.New(), Name: c.Name}
		f.clients = append(f.clients, nc)
		created = append(created, nc)
	}
	return created, nil
}

func (f *fakeStorage) CreateInvoices(ctx context.Context, userID uuid.UUID, invoices []NewInvoice) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createInvoices = append(f.createInvoices, invoices)
	if f.invoiceErr != nil {
		return 0, f.invoiceErr
	}
	return len(invoices) - f.rejectInvoices, nil
}

func (f *fakeStorage) FetchInvoiceNumbers(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return nil, nil
}

// txStorage rolls back created clients when the callback fails.
type txStorage struct {
	*fakeStorage
	txCalls int
}

func (s *txStorage) InTx(ctx context.Context, fn func(Storage) error) error {
	s.txCalls++
	s.mu.Lock()
	snapshot := append([]Client(nil), s.clients...)
	s.mu.Unlock()
	if err := fn(s.fakeStorage); err != nil {
		s.mu.Lock()
		s.clients = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func TestCommitExcludesDuplicates(t *testing.T) {
	b := stage(t,
		"Invoice #,Client,Amount,Due,Email\nINV-1234,Dup Co,100,2025-01-15,d@dup.test\nINV-2000,Acme,200,2025-01-20,a@acme.test\n",
		"INV-1234",
	)
	st := &fakeStorage{}
	res, err := b.Commit(context.Background(), st, uuid.New())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if res.Imported != 1 || res.SkippedDuplicate != 1 || res.SkippedRejected != 0 || res.NewClients != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Skipped() < 1 {
		t.Fatalf("expected skipped to cover the duplicate")
	}
	if len(st.createClients) != 1 || len(st.createClients[0]) != 1 || st.createClients[0][0].Name != "Acme" {
		t.Fatalf("expected only Acme to be created, got %+v", st.createClients)
	}
	if len(st.createInvoices) != 1 || len(st.createInvoices[0]) != 1 || st.createInvoices[0][0].InvoiceNumber != "INV-2000" {
		t.Fatalf("expected only INV-2000 to be inserted, got %+v", st.createInvoices)
	}
}

func TestCommitDedupesClientNames(t *testing.T) {
	b := stage(t, "Client,Amount,Due,Email\nAcme Corp,100,2025-01-15,a@acme.test\nacme corp ,200,2025-01-20,\n")
	st := &fakeStorage{}
	res, err := b.Commit(context.Background(), st, uuid.New())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.NewClients != 1 || len(st.createClients) != 1 || len(st.createClients[0]) != 1 {
		t.Fatalf("expected one client creation, got %+v", st.createClients)
	}
	invoices := st.createInvoices[0]
	if invoices[0].ClientID == nil || invoices[1].ClientID == nil || *invoices[0].ClientID != *invoices[1].ClientID {
		t.Fatalf("expected both invoices linked to the same client")
	}
	if invoices[1].ClientName != "acme corp" {
		t.Fatalf("expected trimmed client name on invoice, got %q", invoices[1].ClientName)
	}
	if invoices[1].ClientEmail != nil {
		t.Fatalf("expected empty email to be stored as null")
	}
}

func TestCommitReusesExistingClients(t *testing.T) {
	existing := Client{ID: uuid.New(), Name: "ACME CORP"}
	st := &fakeStorage{clients: []Client{existing}}
	b := stage(t, "Client,Amount,Due,Phone\nAcme Corp,100,2025-01-15,555\n")

	res, err := b.Commit(context.Background(), st, uuid.New())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.NewClients != 0 || len(st.createClients) != 0 {
		t.Fatalf("expected no client creation, got %+v", st.createClients)
	}
	inv := st.createInvoices[0][0]
	if inv.ClientID == nil || *inv.ClientID != existing.ID {
		t.Fatalf("expected invoice linked to existing client")
	}
	if inv.Amount.String() != "100" || inv.DueDate.Format("2006-01-02") != "2025-01-15" {
		t.Fatalf("unexpected invoice values %+v", inv)
	}
}

func TestCommitCountsRejectedInserts(t *testing.T) {
	b := stage(t, "Client,Amount,Due,Phone\nAcme,100,2025-01-15,555\nGlobex,5,2025-01-15,556\n")
	st := &fakeStorage{rejectInvoices: 1}
	res, err := b.Commit(context.Background(), st, uuid.New())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Imported != 1 || res.SkippedRejected != 1 || res.Skipped() != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCommitRejectsBatchWithHardErrors(t *testing.T) {
	b := stage(t, "Client,Amount,Due\n,100,2025-01-15\n")
	st := &fakeStorage{}
	if _, err := b.Commit(context.Background(), st, uuid.New()); !errors.Is(err, ErrNotImportable) {
		t.Fatalf("expected ErrNotImportable, got %v", err)
	}
	if st.fetchCalls != 0 {
		t.Fatalf("expected no storage calls, got %d", st.fetchCalls)
	}
}

func TestCommitRoundsAmountsToCents(t *testing.T) {
	b := stage(t, "Client,Amount,Due,Phone\nAcme,1.005,2025-01-15,555\nGlobex,20.1049,2025-01-15,556\n")
	st := &fakeStorage{}
	if _, err := b.Commit(context.Background(), st, uuid.New()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(st.createInvoices) != 1 || len(st.createInvoices[0]) != 2 {
		t.Fatalf("expected one insert of two invoices, got %+v", st.createInvoices)
	}
	got := []string{st.createInvoices[0][0].Amount.StringFixed(2), st.createInvoices[0][1].Amount.StringFixed(2)}
	if got[0] != "1.01" || got[1] != "20.10" {
		t.Fatalf("expected rounded amounts, got %v", got)
	}
	if st.createInvoices[0][0].Amount.Exponent() < -2 {
		t.Fatalf("expected at most two decimals, got %s", st.createInvoices[0][0].Amount)
	}
}

func TestCommitRejectsOutOfRangeAmounts(t *testing.T) {
	b := stage(t, "Client,Amount,Due,Phone\nAcme,1e20,2025-01-15,555\n")
	if b.CanImport() {
		t.Fatalf("expected batch with oversized amount to be blocked")
	}
	st := &fakeStorage{}
	if _, err := b.Commit(context.Background(), st, uuid.New()); !errors.Is(err, ErrNotImportable) {
		t.Fatalf("expected ErrNotImportable, got %v", err)
	}
	if len(st.createInvoices) != 0 {
		t.Fatalf("expected no inserts, got %+v", st.createInvoices)
	}

	if _, err := toInvoice(Row{ClientName: "Acme", Amount: "123456789012345", DueDate: "2025-01-15"}); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange from toInvoice, got %v", err)
	}
}

func TestCommitGuardsReentry(t *testing.T) {
	b := stage(t, "Client,Amount,Due,Phone\nAcme,100,2025-01-15,555\n")
	st := &fakeStorage{entered: make(chan struct{}), release: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := b.Commit(context.Background(), st, uuid.New())
		done <- err
	}()
	<-st.entered

	if _, err := b.Commit(context.Background(), st, uuid.New()); !errors.Is(err, ErrCommitInProgress) {
		t.Fatalf("expected ErrCommitInProgress, got %v", err)
	}
	if _, err := b.Edit(b.Rows()[0].LocalID, FieldAmount, "5"); !errors.Is(err, ErrBatchLocked) {
		t.Fatalf("expected edits to be refused during commit, got %v", err)
	}

	close(st.release)
	if err := <-done; err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if st.fetchCalls != 1 || len(st.createInvoices) != 1 {
		t.Fatalf("expected a single round of writes, got fetch=%d invoices=%d", st.fetchCalls, len(st.createInvoices))
	}

	st.entered = nil
	if _, err := b.Commit(context.Background(), st, uuid.New()); !errors.Is(err, ErrBatchCommitted) {
		t.Fatalf("expected ErrBatchCommitted, got %v", err)
	}
	if err := b.Remove(b.Rows()[0].LocalID); !errors.Is(err, ErrBatchCommitted) {
		t.Fatalf("expected spent batch to refuse removal, got %v", err)
	}
}

func TestCommitPartialFailure(t *testing.T) {
	boom := errors.New("insert failed")

	t.Run("without transaction reports created clients", func(t *testing.T) {
		b := stage(t, "Client,Amount,Due,Phone\nAcme,100,2025-01-15,555\n")
		st := &fakeStorage{invoiceErr: boom}
		_, err := b.Commit(context.Background(), st, uuid.New())

		var partial *PartialCommitError
		if !errors.As(err, &partial) {
			t.Fatalf("expected PartialCommitError, got %v", err)
		}
		if partial.ClientsCreated != 1 || !errors.Is(err, boom) {
			t.Fatalf("unexpected partial error %+v", partial)
		}
		if _, err := b.Edit(b.Rows()[0].LocalID, FieldAmount, "101"); err != nil {
			t.Fatalf("expected batch to stay editable after a failed commit, got %v", err)
		}
	})

	t.Run("with transaction rolls back", func(t *testing.T) {
		b := stage(t, "Client,Amount,Due,Phone\nAcme,100,2025-01-15,555\n")
		st := &txStorage{fakeStorage: &fakeStorage{invoiceErr: boom}}
		_, err := b.Commit(context.Background(), st, uuid.New())

		var partial *PartialCommitError
		if errors.As(err, &partial) {
			t.Fatalf("did not expect a partial error inside a transaction")
		}
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped insert error, got %v", err)
		}
		if st.txCalls != 1 || len(st.clients) != 0 {
			t.Fatalf("expected rollback of created clients, got tx=%d clients=%d", st.txCalls, len(st.clients))
		}
	})
}
