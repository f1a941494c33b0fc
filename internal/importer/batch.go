package importer

import (
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRowNotFound    = errors.New("row not found")
	ErrUnknownField   = errors.New("unknown field")
	ErrBatchLocked    = errors.New("batch is being committed")
	ErrBatchCommitted = errors.New("batch already committed")
)

// Row is one staged invoice line. Errors and IsDuplicate are derived from
// the other fields and are rebuilt by the batch after every change.
type Row struct {
	LocalID       string          `json:"localId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	ClientName    string          `json:"clientName"`
	ClientEmail   string          `json:"clientEmail"`
	ClientPhone   string          `json:"clientPhone"`
	Amount        string          `json:"amount"`
	DueDate       string          `json:"dueDate"`
	Status        Status          `json:"status"`
	Description   string          `json:"description"`
	Notes         string          `json:"notes"`
	Errors        map[Field]Issue `json:"errors"`
	IsDuplicate   bool            `json:"isDuplicate"`
}

func (r *Row) set(field Field, value string) {
	switch field {
	case FieldInvoiceNumber:
		r.InvoiceNumber = value
	case FieldClientName:
		r.ClientName = value
	case FieldClientEmail:
		r.ClientEmail = value
	case FieldClientPhone:
		r.ClientPhone = value
	case FieldAmount:
		r.Amount = value
	case FieldDueDate:
		r.DueDate = NormalizeDate(value)
	case FieldStatus:
		r.Status = NormalizeStatus(value)
	case FieldDescription:
		r.Description = value
	case FieldNotes:
		r.Notes = value
	}
}

func (r *Row) clone() Row {
	out := *r
	out.Errors = make(map[Field]Issue, len(r.Errors))
	for k, v := range r.Errors {
		out.Errors[k] = v
	}
	return out
}

type Summary struct {
	Total      int `json:"total"`
	Valid      int `json:"valid"`
	HardErrors int `json:"hardErrors"`
	Duplicates int `json:"duplicates"`
	Warnings   int `json:"warnings"`
}

type BatchOptions struct {
	Synonyms Synonyms
	// Rand seeds invoice number generation. Nil uses a random source.
	Rand *rand.Rand
	Now  func() time.Time
}

// Batch is the staging list for one upload. It is safe for concurrent use.
type Batch struct {
	ID        string
	Filename  string
	CreatedAt time.Time
	// Columns lists the fields the upload's header row mapped to.
	Columns   []Field

	mu       sync.Mutex
	rows     []*Row
	existing map[string]struct{}
	spent    bool

	inFlight atomic.Bool
}

// NewBatch stages every non-blank line of grid. existing holds the invoice
// numbers already persisted for the uploading user.
func NewBatch(filename string, grid Grid, existing []string, opts BatchOptions) *Batch {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	syn := opts.Synonyms
	if syn == nil {
		syn = DefaultSynonyms()
	}

	b := &Batch{
		ID:        uuid.NewString(),
		Filename:  filename,
		CreatedAt: now().UTC(),
		existing:  toSet(existing),
	}
	if len(grid) == 0 {
		return b
	}

	headers := syn.MapHeaders(grid[0])
	b.Columns = headers.Fields()
	cols := make([]int, 0, len(headers))
	for idx := range headers {
		cols = append(cols, idx)
	}
	// ascending so that a later column overrides an earlier one for the same field
	sort.Ints(cols)

	gen := NewNumberGenerator(opts.Rand, b.existing)
	for _, line := range grid[1:] {
		if isBlankLine(line) {
			continue
		}
		r := &Row{LocalID: uuid.NewString(), Status: StatusPending}
		for _, idx := range cols {
			var cell string
			if idx < len(line) {
				cell = strings.TrimSpace(line[idx])
			}
			r.set(headers[idx], cell)
		}
		gen.Reserve(r.InvoiceNumber)
		b.rows = append(b.rows, r)
	}
	for _, r := range b.rows {
		if r.InvoiceNumber == "" {
			r.InvoiceNumber = gen.Next()
		}
		b.refresh(r)
	}
	return b
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (b *Batch) refresh(r *Row) {
	r.Errors = Validate(*r)
	r.IsDuplicate = IsDuplicate(*r, b.existing)
}

func (b *Batch) Rows() []Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Row, 0, len(b.rows))
	for _, r := range b.rows {
		out = append(out, r.clone())
	}
	return out
}

func (b *Batch) Row(id string) (Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.find(id)
	if r == nil {
		return Row{}, ErrRowNotFound
	}
	return r.clone(), nil
}

func (b *Batch) find(id string) *Row {
	for _, r := range b.rows {
		if r.LocalID == id {
			return r
		}
	}
	return nil
}

func (b *Batch) writable() error {
	if b.spent {
		return ErrBatchCommitted
	}
	if b.inFlight.Load() {
		return ErrBatchLocked
	}
	return nil
}

// Edit sets one field of a row and re-derives its issues and duplicate flag.
// Due dates and statuses go through the same normalization as file input.
func (b *Batch) Edit(id string, field Field, value string) (Row, error) {
	if _, ok := ParseField(string(field)); !ok {
		return Row{}, ErrUnknownField
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(); err != nil {
		return Row{}, err
	}
	r := b.find(id)
	if r == nil {
		return Row{}, ErrRowNotFound
	}
	r.set(field, strings.TrimSpace(value))
	b.refresh(r)
	return r.clone(), nil
}

func (b *Batch) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	for i, r := range b.rows {
		if r.LocalID == id {
			b.rows = append(b.rows[:i], b.rows[i+1:]...)
			return nil
		}
	}
	return ErrRowNotFound
}

func (b *Batch) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summaryLocked()
}

func (b *Batch) summaryLocked() Summary {
	s := Summary{Total: len(b.rows)}
	for _, r := range b.rows {
		if IsHardError(r.Errors) {
			s.HardErrors++
		} else {
			s.Valid++
		}
		if r.IsDuplicate {
			s.Duplicates++
		}
		if HasSoftIssues(r.Errors) {
			s.Warnings++
		}
	}
	return s
}

// CanImport is true when at least one row is staged and none has a hard
// error. Duplicates do not count against it.
func (b *Batch) CanImport() bool {
	return b.Summary().canImport()
}

func (s Summary) canImport() bool {
	return s.HardErrors == 0 && s.Total > 0
}

// Committing reports whether a commit is currently running.
func (b *Batch) Committing() bool {
	return b.inFlight.Load()
}

// BatchState is the serializable form of a batch, used by session stores
// that keep batches outside the process.
type BatchState struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"createdAt"`
	Columns   []Field   `json:"columns"`
	Rows      []Row     `json:"rows"`
	Existing  []string  `json:"existing"`
	Committed bool      `json:"committed"`
}

func (b *Batch) State() BatchState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BatchState{
		ID:        b.ID,
		Filename:  b.Filename,
		CreatedAt: b.CreatedAt,
		Columns:   append([]Field(nil), b.Columns...),
		Rows:      make([]Row, 0, len(b.rows)),
		Existing:  make([]string, 0, len(b.existing)),
		Committed: b.spent,
	}
	for _, r := range b.rows {
		st.Rows = append(st.Rows, r.clone())
	}
	for n := range b.existing {
		st.Existing = append(st.Existing, n)
	}
	sort.Strings(st.Existing)
	return st
}

// RestoreBatch rebuilds a batch from its state. Derived fields are
// recomputed rather than trusted.
func RestoreBatch(st BatchState) *Batch {
	b := &Batch{
		ID:        st.ID,
		Filename:  st.Filename,
		CreatedAt: st.CreatedAt,
		Columns:   st.Columns,
		existing:  toSet(st.Existing),
		spent:     st.Committed,
		rows:      make([]*Row, 0, len(st.Rows)),
	}
	for i := range st.Rows {
		r := st.Rows[i].clone()
		b.refresh(&r)
		b.rows = append(b.rows, &r)
	}
	return b
}
