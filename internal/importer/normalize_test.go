package importer

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
)

func TestNormalizeDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"2025-01-15", "2025-01-15"},
		{" 2025/01/15 ", "2025-01-15"},
		{"01/15/2025", "2025-01-15"},
		{"1/5/2025", "2025-01-05"},
		{"Jan 15, 2025", "2025-01-15"},
		{"15 Jan 2025", "2025-01-15"},
		{"15-Jan-2025", "2025-01-15"},
		{"45672", "2025-01-15"},
		{"2025-01-15T10:30:00Z", "2025-01-15"},
		{"next tuesday", "next tuesday"},
	}
	for _, tc := range cases {
		if got := NormalizeDate(tc.in); got != tc.want {
			t.Fatalf("NormalizeDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"Paid":       StatusPaid,
		" completed": StatusPaid,
		"DONE":       StatusPaid,
		"late":       StatusOverdue,
		"Expired":    StatusOverdue,
		"":           StatusPending,
		"sent":       StatusPending,
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNumberGeneratorAvoidsTakenNumbers(t *testing.T) {
	existing := map[string]struct{}{"INV-1000": {}}
	gen := NewNumberGenerator(rand.New(rand.NewPCG(7, 11)), existing)
	gen.Reserve("INV-2000")

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		n := gen.Next()
		if !strings.HasPrefix(n, "INV-") || len(n) != len("INV-0000") {
			t.Fatalf("unexpected number format %q", n)
		}
		if n == "INV-1000" || n == "INV-2000" || seen[n] {
			t.Fatalf("generator returned taken number %q", n)
		}
		seen[n] = true
	}
}

func TestNumberGeneratorWidensWhenCrowded(t *testing.T) {
	existing := make(map[string]struct{}, 9000)
	for i := 1000; i <= 9999; i++ {
		existing[fmt.Sprintf("INV-%d", i)] = struct{}{}
	}
	gen := NewNumberGenerator(rand.New(rand.NewPCG(1, 2)), existing)
	n := gen.Next()
	if len(n) != len("INV-00000000") {
		t.Fatalf("expected widened number, got %q", n)
	}
}
