package judge

import (
	"fmt"
	"github.com/elmanelman/sql-judge/sandbox"
	"strings"
)

// violatedRestriction returns the first restricted fragment that occurs in
// the query. Comments and string literals are not searched.
func violatedRestriction(query string, restrictions []string) (string, bool) {
	text := prepareQueryText(sandbox.StripLiterals(query))
	for _, r := range restrictions {
		fragment := prepareQueryText(r)
		if fragment != "" && strings.Contains(text, fragment) {
			return r, true
		}
	}
	return "", false
}

func restrictionMessage(fragment string) string {
	return fmt.Sprintf("\"%s\" is restricted", fragment)
}
