package importer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseFileRejectsUnsupportedExtension(t *testing.T) {
	_, err := ParseFile("invoices.pdf", strings.NewReader("anything"), ParseOptions{})
	if !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected ErrUnsupportedFile, got %v", err)
	}
	if got := ParseErrorMessage(err); got != "Only CSV and Excel (.xlsx, .xls) files are supported." {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestParseFileCSV(t *testing.T) {
	t.Run("strips BOM and keeps ragged rows", func(t *testing.T) {
		input := "\ufeffName,Total,Due\nAcme Corp,1200,2025-01-15\nShort\n"
		grid, err := ParseFile("Invoices.CSV", strings.NewReader(input), ParseOptions{})
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(grid) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(grid))
		}
		if grid[0][0] != "Name" {
			t.Fatalf("expected BOM to be stripped, got %q", grid[0][0])
		}
		if len(grid[2]) != 1 {
			t.Fatalf("expected ragged row to keep 1 cell, got %d", len(grid[2]))
		}
	})

	t.Run("decodes windows-1252", func(t *testing.T) {
		input := []byte("Name,Total,Due\nCaf\xe9 Ltd,10,2025-01-15\n")
		grid, err := ParseFile("legacy.csv", bytes.NewReader(input), ParseOptions{})
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if grid[1][0] != "Café Ltd" {
			t.Fatalf("expected decoded name, got %q", grid[1][0])
		}
	})

	t.Run("header only has no data", func(t *testing.T) {
		_, err := ParseFile("empty.csv", strings.NewReader("Name,Total,Due\n"), ParseOptions{})
		if !errors.Is(err, ErrNoData) {
			t.Fatalf("expected ErrNoData, got %v", err)
		}
	})

	t.Run("row limit", func(t *testing.T) {
		input := "Name,Total,Due\na,1,2025-01-01\nb,2,2025-01-01\nc,3,2025-01-01\n"
		_, err := ParseFile("big.csv", strings.NewReader(input), ParseOptions{MaxRows: 2})
		if !errors.Is(err, ErrTooManyRows) {
			t.Fatalf("expected ErrTooManyRows, got %v", err)
		}
	})

	t.Run("size limit", func(t *testing.T) {
		input := "Name,Total,Due\nAcme,1,2025-01-01\n"
		_, err := ParseFile("big.csv", strings.NewReader(input), ParseOptions{MaxBytes: 10})
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}
	})
}

func TestParseFileXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Client", "Amount", "Due Date"}); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Acme Corp", 1200, 45672}); err != nil {
		t.Fatalf("set row: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	grid, err := ParseFile("book.xlsx", bytes.NewReader(buf.Bytes()), ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(grid) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(grid))
	}
	if grid[1][0] != "Acme Corp" || grid[1][1] != "1200" || grid[1][2] != "45672" {
		t.Fatalf("unexpected data row %v", grid[1])
	}
	if got := NormalizeDate(grid[1][2]); got != "2025-01-15" {
		t.Fatalf("expected serial date to normalize to 2025-01-15, got %q", got)
	}
}

func TestParseFileUnreadable(t *testing.T) {
	for _, name := range []string{"broken.xlsx", "broken.xls"} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile(name, strings.NewReader("definitely not a workbook"), ParseOptions{})
			if !errors.Is(err, ErrUnreadableFile) {
				t.Fatalf("expected ErrUnreadableFile, got %v", err)
			}
			if got := ParseErrorMessage(err); got != "Could not read file. Make sure it's a valid CSV or Excel file." {
				t.Fatalf("unexpected message %q", got)
			}
		})
	}
}
