package scan

import (
	"strings"
	"unicode"
)

// OffsetFormula rewrites every A1 column reference in a formula by delta
// columns. The pass tokenizes rather than pattern-replaces: quoted string
// literals pass through untouched, and a letter run only counts as a
// column reference when a row number (or a $ and a row number) follows,
// so function names like SUM never shift.
func OffsetFormula(formula string, delta int) (string, error) {
	var out strings.Builder
	runes := []rune(formula)
	for i := 0; i < len(runes); {
		r := runes[i]

		// String literals: copy through to the closing quote.
		if r == '"' || r == '\'' {
			quote := r
			out.WriteRune(r)
			i++
			for i < len(runes) {
				out.WriteRune(runes[i])
				if runes[i] == quote {
					i++
					break
				}
				i++
			}
			continue
		}

		if isColLetter(r) {
			start := i
			for i < len(runes) && isColLetter(runes[i]) {
				i++
			}
			letters := string(runes[start:i])

			// Optional $ between column and row keeps the reference absolute.
			j := i
			if j < len(runes) && runes[j] == '$' {
				j++
			}
			digits := j
			for digits < len(runes) && unicode.IsDigit(runes[digits]) {
				digits++
			}
			// A trailing ( means a function call like LOG10, not a cell.
			isRef := digits > j && (digits == len(runes) || runes[digits] != '(')
			if isRef {
				shifted, err := OffsetColumn(letters, delta)
				if err != nil {
					return "", err
				}
				out.WriteString(shifted)
				continue
			}
			// Not a cell reference (function name, plain word).
			out.WriteString(letters)
			continue
		}

		out.WriteRune(r)
		i++
	}
	return out.String(), nil
}

func isColLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}
