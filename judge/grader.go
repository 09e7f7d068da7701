package judge

import "strings"

// Validate reports whether actual equals expected row for row and cell for
// cell. Column names play no part. A nil result never passes.
func Validate(actual, expected [][]string) bool {
	if actual == nil || len(actual) != len(expected) {
		return false
	}
	for i := range actual {
		if !equalRows(actual[i], expected[i]) {
			return false
		}
	}
	return true
}

// Diagnose tells a correct result from one holding the right rows in the
// wrong order and from one with different rows.
func Diagnose(actual, expected [][]string) Status {
	switch {
	case Validate(actual, expected):
		return Accepted
	case actual != nil && sameRows(actual, expected):
		return IncorrectOrder
	default:
		return IncorrectContent
	}
}

func equalRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sameRows compares two results as multisets of rows.
func sameRows(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, row := range a {
		counts[rowKey(row)]++
	}
	for _, row := range b {
		key := rowKey(row)
		if counts[key] == 0 {
			return false
		}
		counts[key]--
	}
	return true
}

func rowKey(row []string) string {
	var b strings.Builder
	for _, cell := range row {
		b.WriteString(cell)
		b.WriteByte(0)
	}
	return b.String()
}
