package importer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is the canonical name of an importable invoice column.
type Field string

const (
	FieldInvoiceNumber Field = "invoiceNumber"
	FieldClientName    Field = "clientName"
	FieldClientEmail   Field = "clientEmail"
	FieldClientPhone   Field = "clientPhone"
	FieldAmount        Field = "amount"
	FieldDueDate       Field = "dueDate"
	FieldStatus        Field = "status"
	FieldDescription   Field = "description"
	FieldNotes         Field = "notes"
)

var allFields = []Field{
	FieldInvoiceNumber,
	FieldClientName,
	FieldClientEmail,
	FieldClientPhone,
	FieldAmount,
	FieldDueDate,
	FieldStatus,
	FieldDescription,
	FieldNotes,
}

// ParseField resolves a canonical field name as sent by API clients.
func ParseField(raw string) (Field, bool) {
	for _, f := range allFields {
		if string(f) == raw {
			return f, true
		}
	}
	return "", false
}

var defaultSynonyms = map[string]Field{
	"client":        FieldClientName,
	"client name":   FieldClientName,
	"name":          FieldClientName,
	"customer":      FieldClientName,
	"customer name": FieldClientName,
	"bill to":       FieldClientName,

	"amount":         FieldAmount,
	"total":          FieldAmount,
	"price":          FieldAmount,
	"value":          FieldAmount,
	"invoice amount": FieldAmount,
	"cost":           FieldAmount,
	"fee":            FieldAmount,
	"charge":         FieldAmount,

	"due date":    FieldDueDate,
	"due":         FieldDueDate,
	"date":        FieldDueDate,
	"payment due": FieldDueDate,
	"due by":      FieldDueDate,
	"expiry":      FieldDueDate,

	"invoice number": FieldInvoiceNumber,
	"invoice #":      FieldInvoiceNumber,
	"inv #":          FieldInvoiceNumber,
	"inv number":     FieldInvoiceNumber,
	"number":         FieldInvoiceNumber,
	"invoice no":     FieldInvoiceNumber,
	"reference":      FieldInvoiceNumber,

	"status":         FieldStatus,
	"payment status": FieldStatus,
	"state":          FieldStatus,

	"description": FieldDescription,
	"desc":        FieldDescription,
	"service":     FieldDescription,
	"details":     FieldDescription,

	"notes": FieldNotes,
	"note":  FieldNotes,
	"memo":  FieldNotes,

	"email":          FieldClientEmail,
	"client email":   FieldClientEmail,
	"e-mail":         FieldClientEmail,
	"customer email": FieldClientEmail,
	"contact email":  FieldClientEmail,

	"phone":          FieldClientPhone,
	"phone number":   FieldClientPhone,
	"mobile":         FieldClientPhone,
	"tel":            FieldClientPhone,
	"telephone":      FieldClientPhone,
	"contact":        FieldClientPhone,
	"client phone":   FieldClientPhone,
	"customer phone": FieldClientPhone,
}

// Synonyms maps a normalized header cell to its canonical field.
type Synonyms map[string]Field

// DefaultSynonyms returns a copy of the built-in header table.
func DefaultSynonyms() Synonyms {
	out := make(Synonyms, len(defaultSynonyms))
	for k, v := range defaultSynonyms {
		out[k] = v
	}
	return out
}

type synonymFile struct {
	Fields map[string][]string `yaml:"fields"`
}

// LoadSynonyms reads extra header synonyms from a YAML file of the form
//
//	fields:
//	  clientName: ["company", "account"]
//
// and merges them over the built-in table. Built-in entries are never replaced.
func LoadSynonyms(path string) (Synonyms, error) {
	syn := DefaultSynonyms()
	if strings.TrimSpace(path) == "" {
		return syn, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read synonyms file: %w", err)
	}
	var doc synonymFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse synonyms file: %w", err)
	}

	for rawField, headers := range doc.Fields {
		field, ok := ParseField(rawField)
		if !ok {
			return nil, fmt.Errorf("synonyms file: unknown field %q", rawField)
		}
		for _, h := range headers {
			key := normalizeHeader(h)
			if key == "" {
				continue
			}
			if _, builtin := defaultSynonyms[key]; builtin {
				continue
			}
			syn[key] = field
		}
	}
	return syn, nil
}

// HeaderMap is the column index → field routing for one uploaded sheet.
type HeaderMap map[int]Field

// MapHeaders routes each recognized header cell to its canonical field.
// Unrecognized headers are left out, so their columns are ignored.
func (s Synonyms) MapHeaders(header []string) HeaderMap {
	m := HeaderMap{}
	for i, cell := range header {
		if field, ok := s[normalizeHeader(cell)]; ok {
			m[i] = field
		}
	}
	return m
}

// Fields lists the distinct canonical fields present in the mapping.
func (m HeaderMap) Fields() []Field {
	seen := map[Field]bool{}
	out := make([]Field, 0, len(m))
	for _, f := range allFields {
		for _, mapped := range m {
			if mapped == f && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func normalizeHeader(raw string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
}
