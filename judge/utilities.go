package judge

import (
	"github.com/elmanelman/sql-judge/sandbox"
	"strings"
	"unicode"
)

// prepareQueryText brings a query to the form restrictions are matched
// against: upper case, single spaces, no statement delimiters.
func prepareQueryText(query string) string {
	query = strings.ReplaceAll(query, ";", " ")
	query = strings.Join(strings.Fields(query), " ")

	return strings.ToUpper(query)
}

// leadingKeyword returns the first word of the query, skipping whitespace,
// comments and opening parentheses.
func leadingKeyword(query string) string {
	s := sandbox.LeadingText(query)
	for strings.HasPrefix(s, "(") {
		s = sandbox.LeadingText(s[1:])
	}
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

// isReadQuery reports whether the query returns rows.
func isReadQuery(query string) bool {
	switch leadingKeyword(query) {
	case "SELECT", "WITH":
		return true
	default:
		return false
	}
}

func isBlankQuery(query string) bool {
	return len(sandbox.SplitStatements(query)) == 0
}
