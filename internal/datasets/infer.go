package datasets

import (
	"strconv"
	"strings"
	"time"
)

const inferSampleSize = 50

var dateFormats = []string{
	time.RFC3339,
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"2006-01",
}

// InferSchema derives column types from the first rows of t and keeps up to
// MaxExamples distinct non-empty example values per column.
func InferSchema(t Table) []Column {
	cols := make([]Column, len(t.Header))
	for i, name := range t.Header {
		cols[i] = Column{
			Name:     name,
			Type:     inferColumnType(t.Rows, i),
			Examples: examples(t.Rows, i),
		}
	}
	return cols
}

func inferColumnType(rows [][]string, colIndex int) string {
	sampleSize := inferSampleSize
	if len(rows) < sampleSize {
		sampleSize = len(rows)
	}

	isInt, isFloat, isDate, isBool := true, true, true, true
	seen := 0
	for i := 0; i < sampleSize; i++ {
		val := rows[i][colIndex]
		if val == "" {
			continue
		}
		seen++
		if _, err := strconv.ParseInt(val, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(val, 64); err != nil || !looksNumeric(val) {
			isFloat = false
		}
		if !isDateString(val) {
			isDate = false
		}
		if !isBoolString(val) {
			isBool = false
		}
	}

	switch {
	case seen == 0:
		return TypeString
	case isInt:
		return TypeInteger
	case isFloat:
		return TypeNumber
	case isDate:
		return TypeDate
	case isBool:
		return TypeBoolean
	default:
		return TypeString
	}
}

func isDateString(val string) bool {
	for _, f := range dateFormats {
		if _, err := time.Parse(f, val); err == nil {
			return true
		}
	}
	return false
}

func isBoolString(val string) bool {
	switch strings.ToLower(val) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func examples(rows [][]string, colIndex int) []string {
	out := make([]string, 0, MaxExamples)
	seen := map[string]struct{}{}
	for _, row := range rows {
		val := row[colIndex]
		if val == "" {
			continue
		}
		if _, dup := seen[val]; dup {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
		if len(out) == MaxExamples {
			break
		}
	}
	return out
}
