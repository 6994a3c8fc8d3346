package datasets

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	mimeCSV  = "text/csv"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Table is a parsed tabular file: a header and string cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Parse reads up to maxRows data rows from a CSV or XLSX payload. maxRows <= 0
// reads everything.
func Parse(fileName, mimeType string, data []byte, maxRows int) (Table, error) {
	switch formatOf(fileName, mimeType) {
	case "csv":
		return parseCSV(bytes.NewReader(data), maxRows)
	case "xlsx":
		return parseXLSX(bytes.NewReader(data), maxRows)
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupported, fileName)
	}
}

func formatOf(fileName, mimeType string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".csv", ".txt":
		return "csv"
	case ".xlsx", ".xlsm":
		return "xlsx"
	}
	switch mimeType {
	case mimeCSV, "text/plain; charset=utf-8", "text/plain":
		return "csv"
	case mimeXLSX:
		return "xlsx"
	}
	return ""
}

func parseCSV(r io.Reader, maxRows int) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, ErrEmptyDataset
	}
	if err != nil {
		return Table{}, fmt.Errorf("read csv header: %w", err)
	}
	t := Table{Header: cleanHeader(header)}
	for maxRows <= 0 || len(t.Rows) < maxRows {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read csv row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, padRow(rec, len(t.Header)))
	}
	return t, nil
}

func parseXLSX(r io.Reader, maxRows int) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, ErrEmptyDataset
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return Table{}, ErrEmptyDataset
	}
	t := Table{Header: cleanHeader(rows[0])}
	for _, row := range rows[1:] {
		if maxRows > 0 && len(t.Rows) >= maxRows {
			break
		}
		t.Rows = append(t.Rows, padRow(row, len(t.Header)))
	}
	return t, nil
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	seen := map[string]int{}
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func padRow(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

// Records converts up to limit table rows into Rows. Numeric cells become
// float64, booleans become bool and empty cells become nil.
func (t Table) Records(limit int) []Row {
	n := len(t.Rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Row, 0, n)
	for _, raw := range t.Rows[:n] {
		row := make(Row, len(t.Header))
		for i, name := range t.Header {
			row[name] = cellValue(raw[i])
		}
		out = append(out, row)
	}
	return out
}

func cellValue(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && looksNumeric(s) {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// looksNumeric rejects strings ParseFloat accepts but users do not mean as
// numbers, such as "NaN", "Inf" and hex literals.
func looksNumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}
