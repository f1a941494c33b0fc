package importer

import (
	"errors"
	"testing"
)

func validRow() Row {
	return Row{
		InvoiceNumber: "INV-1001",
		ClientName:    "Acme Corp",
		ClientEmail:   "billing@acme.test",
		ClientPhone:   "555-0100",
		Amount:        "1200.50",
		DueDate:       "2025-01-15",
		Status:        StatusPending,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Row)
		want   map[Field]Issue
		hard   bool
	}{
		{
			name:   "complete row",
			mutate: func(*Row) {},
			want:   map[Field]Issue{},
		},
		{
			name:   "missing client name",
			mutate: func(r *Row) { r.ClientName = "  " },
			want:   map[Field]Issue{FieldClientName: {Message: "Required", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "non numeric amount",
			mutate: func(r *Row) { r.Amount = "12 dollars" },
			want:   map[Field]Issue{FieldAmount: {Message: "Must be a number", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "empty amount",
			mutate: func(r *Row) { r.Amount = "" },
			want:   map[Field]Issue{FieldAmount: {Message: "Must be a number", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "amount beyond storable range",
			mutate: func(r *Row) { r.Amount = "1e20" },
			want:   map[Field]Issue{FieldAmount: {Message: "Amount is too large", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "amount with too many integer digits",
			mutate: func(r *Row) { r.Amount = "123456789012345" },
			want:   map[Field]Issue{FieldAmount: {Message: "Amount is too large", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "negative amount beyond range",
			mutate: func(r *Row) { r.Amount = "-1000000000000" },
			want:   map[Field]Issue{FieldAmount: {Message: "Amount is too large", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "extra decimals are accepted",
			mutate: func(r *Row) { r.Amount = "1.005" },
			want:   map[Field]Issue{},
		},
		{
			name:   "missing due date",
			mutate: func(r *Row) { r.DueDate = "" },
			want:   map[Field]Issue{FieldDueDate: {Message: "Required", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "unparsable due date",
			mutate: func(r *Row) { r.DueDate = "soonish" },
			want:   map[Field]Issue{FieldDueDate: {Message: "Invalid date", Severity: SeverityError}},
			hard:   true,
		},
		{
			name:   "only phone missing",
			mutate: func(r *Row) { r.ClientPhone = "" },
			want:   map[Field]Issue{FieldClientPhone: {Message: "⚠ Missing", Severity: SeverityWarning}},
		},
		{
			name:   "only email missing",
			mutate: func(r *Row) { r.ClientEmail = "" },
			want:   map[Field]Issue{FieldClientEmail: {Message: "⚠ Missing", Severity: SeverityWarning}},
		},
		{
			name:   "no contact at all",
			mutate: func(r *Row) { r.ClientEmail, r.ClientPhone = "", "" },
			want: map[Field]Issue{
				FieldClientEmail: {Message: "Required (email or phone)", Severity: SeverityError},
				FieldClientPhone: {Message: "Required (email or phone)", Severity: SeverityError},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validRow()
			tc.mutate(&r)
			got := Validate(r)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d issues, got %d (%v)", len(tc.want), len(got), got)
			}
			for f, issue := range tc.want {
				if got[f] != issue {
					t.Fatalf("field %s: expected %+v, got %+v", f, issue, got[f])
				}
			}
			if IsHardError(got) != tc.hard {
				t.Fatalf("expected hard=%v, got %v", tc.hard, IsHardError(got))
			}
		})
	}
}

func TestIsDuplicateIsCaseSensitive(t *testing.T) {
	existing := map[string]struct{}{"INV-1234": {}}
	r := validRow()

	r.InvoiceNumber = "INV-1234"
	if !IsDuplicate(r, existing) {
		t.Fatalf("expected exact match to be a duplicate")
	}
	r.InvoiceNumber = "inv-1234"
	if IsDuplicate(r, existing) {
		t.Fatalf("expected different case not to be a duplicate")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr error
	}{
		{raw: "1200.50", want: "1200.5"},
		{raw: " 1.005 ", want: "1.01"},
		{raw: "1.004", want: "1"},
		{raw: "999999999999.99", want: "999999999999.99"},
		{raw: "999999999999.995", wantErr: ErrAmountOutOfRange},
		{raw: "1e12", wantErr: ErrAmountOutOfRange},
		{raw: "1e20", wantErr: ErrAmountOutOfRange},
		{raw: "123456789012345", wantErr: ErrAmountOutOfRange},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseAmount(tc.raw)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v (%s)", tc.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}

	if _, err := ParseAmount("twelve"); err == nil || errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}
