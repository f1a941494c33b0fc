package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrUnreadableFile  = errors.New("could not read file")
	ErrNoData          = errors.New("no data rows")
	ErrFileTooLarge    = errors.New("file too large")
	ErrTooManyRows     = errors.New("row limit exceeded")
)

var parseMessages = map[error]string{
	ErrUnsupportedFile: "Only CSV and Excel (.xlsx, .xls) files are supported.",
	ErrUnreadableFile:  "Could not read file. Make sure it's a valid CSV or Excel file.",
	ErrNoData:          "File appears to be empty or has no data rows.",
	ErrFileTooLarge:    "File exceeds the upload size limit.",
	ErrTooManyRows:     "File has more rows than a single import allows.",
}

// ParseErrorMessage returns the user-facing text for a ParseFile error.
func ParseErrorMessage(err error) string {
	for sentinel, msg := range parseMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return parseMessages[ErrUnreadableFile]
}

// Grid is a decoded sheet. Row 0 is the header row.
type Grid [][]string

type ParseOptions struct {
	MaxBytes int64
	MaxRows  int
}

// SupportedExtension reports whether filename has an importable extension.
func SupportedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".xlsx", ".xls":
		return true
	}
	return false
}

// ParseFile decodes the first sheet of an uploaded file. The extension is
// checked before any content is read.
func ParseFile(filename string, r io.Reader, opts ParseOptions) (Grid, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !SupportedExtension(filename) {
		return nil, ErrUnsupportedFile
	}

	src := r
	if opts.MaxBytes > 0 {
		src = io.LimitReader(r, opts.MaxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, ErrUnreadableFile
	}
	if opts.MaxBytes > 0 && int64(len(data)) > opts.MaxBytes {
		return nil, ErrFileTooLarge
	}

	var grid Grid
	switch ext {
	case ".csv":
		grid, err = readCSV(data)
	case ".xlsx":
		grid, err = readXLSX(data)
	case ".xls":
		grid, err = readXLS(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	if len(grid) < 2 {
		return nil, ErrNoData
	}
	if opts.MaxRows > 0 && len(grid)-1 > opts.MaxRows {
		return nil, ErrTooManyRows
	}
	return grid, nil
}

func readCSV(data []byte) (Grid, error) {
	var decoder transform.Transformer = unicode.UTF8.NewDecoder()
	if !utf8.Valid(data) {
		decoder = charmap.Windows1252.NewDecoder()
	}
	reader := csv.NewReader(transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(decoder)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	grid := make(Grid, 0, 256)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		grid = append(grid, record)
	}
	return grid, nil
}

func readXLSX(data []byte) (Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	return Grid(rows), nil
}

func readXLS(data []byte) (grid Grid, err error) {
	// the BIFF decoder panics on some truncated files
	defer func() {
		if rec := recover(); rec != nil {
			grid, err = nil, fmt.Errorf("decode xls: %v", rec)
		}
	}()

	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	if book.NumSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("first sheet is unreadable")
	}

	grid = make(Grid, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		grid = append(grid, cells)
	}
	return trimTrailingBlankRows(grid), nil
}

func trimTrailingBlankRows(grid Grid) Grid {
	end := len(grid)
	for end > 0 && isBlankLine(grid[end-1]) {
		end--
	}
	return grid[:end]
}

func isBlankLine(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
