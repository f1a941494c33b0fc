package importer

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a per-field validation finding.
type Issue struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

const (
	msgRequired        = "Required"
	msgNotNumber       = "Must be a number"
	msgAmountTooLarge  = "Amount is too large"
	msgInvalidDate     = "Invalid date"
	msgContactRequired = "Required (email or phone)"
	msgContactMissing  = "⚠ Missing"
)

// MaxAmount is the exclusive bound on stored amounts (numeric(14,2)).
var MaxAmount = decimal.New(1, 12)

var ErrAmountOutOfRange = errors.New("amount out of range")

// ParseAmount reads a money value and rounds it to cents. Values whose
// magnitude reaches MaxAmount after rounding fail with ErrAmountOutOfRange.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, err
	}
	d = d.Round(2)
	if d.Abs().GreaterThanOrEqual(MaxAmount) {
		return decimal.Decimal{}, ErrAmountOutOfRange
	}
	return d, nil
}

// Validate checks a staged row and returns its issues keyed by field.
// It reads only the row itself.
func Validate(r Row) map[Field]Issue {
	issues := map[Field]Issue{}

	if strings.TrimSpace(r.ClientName) == "" {
		issues[FieldClientName] = Issue{Message: msgRequired, Severity: SeverityError}
	}

	if _, err := ParseAmount(r.Amount); err != nil {
		msg := msgNotNumber
		if errors.Is(err, ErrAmountOutOfRange) {
			msg = msgAmountTooLarge
		}
		issues[FieldAmount] = Issue{Message: msg, Severity: SeverityError}
	}

	switch due := strings.TrimSpace(r.DueDate); {
	case due == "":
		issues[FieldDueDate] = Issue{Message: msgRequired, Severity: SeverityError}
	default:
		if _, ok := ParseDate(due); !ok {
			issues[FieldDueDate] = Issue{Message: msgInvalidDate, Severity: SeverityError}
		}
	}

	email := strings.TrimSpace(r.ClientEmail)
	phone := strings.TrimSpace(r.ClientPhone)
	switch {
	case email == "" && phone == "":
		issues[FieldClientEmail] = Issue{Message: msgContactRequired, Severity: SeverityError}
		issues[FieldClientPhone] = Issue{Message: msgContactRequired, Severity: SeverityError}
	case email == "":
		issues[FieldClientEmail] = Issue{Message: msgContactMissing, Severity: SeverityWarning}
	case phone == "":
		issues[FieldClientPhone] = Issue{Message: msgContactMissing, Severity: SeverityWarning}
	}

	return issues
}

var hardFields = []Field{FieldClientName, FieldAmount, FieldDueDate}

// IsHardError reports whether the issues block the row from importing.
// Only name, amount and due date are blocking; contact problems never are.
func IsHardError(issues map[Field]Issue) bool {
	for _, f := range hardFields {
		if _, ok := issues[f]; ok {
			return true
		}
	}
	return false
}

// HasSoftIssues reports whether any issue sits on a non-blocking field.
func HasSoftIssues(issues map[Field]Issue) bool {
	for f := range issues {
		if !isHardField(f) {
			return true
		}
	}
	return false
}

func isHardField(f Field) bool {
	for _, h := range hardFields {
		if h == f {
			return true
		}
	}
	return false
}

// IsDuplicate is an exact, case-sensitive lookup of the invoice number.
func IsDuplicate(r Row, existing map[string]struct{}) bool {
	_, ok := existing[r.InvoiceNumber]
	return ok
}
