// Package scan keeps the cache convergent with the remote campaign
// documents. Each scanner owns one document: it snapshots the worksheet,
// parses it into domain rows, and replaces its owned tables inside a
// single session. Writes back to the document go through a debounced
// flusher so bursts of single-cell edits coalesce into one batch.
package scan

import (
	"fmt"
	"strings"
)

// ColumnToIndex converts an A1 column label to its 1-based index.
// Labels are base-26 with A=1, so "A"=1, "Z"=26, "AA"=27.
func ColumnToIndex(col string) (int, error) {
	if col == "" {
		return 0, fmt.Errorf("empty column label")
	}
	n := 0
	for _, r := range strings.ToUpper(col) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("column label %q: invalid rune %q", col, r)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n, nil
}

// IndexToColumn converts a 1-based index to its A1 column label.
func IndexToColumn(n int) string {
	if n < 1 {
		return ""
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// OffsetColumn shifts a column label by delta, carrying across letter
// boundaries ("Z"+1 = "AA"). Shifting below "A" is an error.
func OffsetColumn(col string, delta int) (string, error) {
	n, err := ColumnToIndex(col)
	if err != nil {
		return "", err
	}
	n += delta
	if n < 1 {
		return "", fmt.Errorf("column %q offset %d: before A", col, delta)
	}
	return IndexToColumn(n), nil
}

// NextColumn returns the column to the right.
func NextColumn(col string) (string, error) { return OffsetColumn(col, 1) }

// PrevColumn returns the column to the left.
func PrevColumn(col string) (string, error) { return OffsetColumn(col, -1) }

// cellRange renders a single-cell A1 range.
func cellRange(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

// spanRange renders a rectangular A1 range.
func spanRange(fromCol string, fromRow int, toCol string, toRow int) string {
	return fmt.Sprintf("%s%d:%s%d", fromCol, fromRow, toCol, toRow)
}
