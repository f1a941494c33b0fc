package importer

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const isoDate = "2006-01-02"

type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusOverdue Status = "overdue"
)

var serialDatePattern = regexp.MustCompile(`^\d{4,5}$`)

var dateLayouts = []string{
	isoDate,
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"2-Jan-06",
	"Mon, 02 Jan 2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDate parses the date formats accepted in import files and on edits.
func ParseDate(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// NormalizeDate converts spreadsheet serial numbers and recognised date
// strings to YYYY-MM-DD. Anything else is returned unchanged so validation
// can flag it.
func NormalizeDate(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if serialDatePattern.MatchString(value) {
		serial, _ := strconv.Atoi(value)
		if t, err := excelize.ExcelDateToTime(float64(serial), false); err == nil {
			return t.Format(isoDate)
		}
	}
	if t, ok := ParseDate(value); ok {
		return t.Format(isoDate)
	}
	return value
}

// NormalizeStatus maps free-text payment states onto the three invoice
// statuses. Unknown and empty values become pending.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "complete", "completed", "done":
		return StatusPaid
	case "overdue", "late", "expired":
		return StatusOverdue
	default:
		return StatusPending
	}
}

const numberAttempts = 64

// NumberGenerator synthesizes invoice numbers for rows that have none.
// It skips numbers already persisted for the user and numbers it has
// already handed out. Once the four-digit space looks crowded it widens to
// eight digits; the database constraint remains the final arbiter.
type NumberGenerator struct {
	rng   *rand.Rand
	taken map[string]struct{}
}

func NewNumberGenerator(rng *rand.Rand, existing map[string]struct{}) *NumberGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	taken := make(map[string]struct{}, len(existing))
	for k := range existing {
		taken[k] = struct{}{}
	}
	return &NumberGenerator{rng: rng, taken: taken}
}

// Reserve marks a number as used, e.g. one supplied by the file itself.
func (g *NumberGenerator) Reserve(number string) {
	if number != "" {
		g.taken[number] = struct{}{}
	}
}

func (g *NumberGenerator) Next() string {
	for i := 0; i < numberAttempts; i++ {
		candidate := fmt.Sprintf("INV-%d", 1000+g.rng.IntN(9000))
		if _, used := g.taken[candidate]; !used {
			g.taken[candidate] = struct{}{}
			return candidate
		}
	}
	for {
		candidate := fmt.Sprintf("INV-%d", 10000000+g.rng.IntN(90000000))
		if _, used := g.taken[candidate]; !used {
			g.taken[candidate] = struct{}{}
			return candidate
		}
	}
}
