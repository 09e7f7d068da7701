package catalog

import (
	"github.com/grafana/regexp"
	"strings"
)

type Column struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Constraints []string `json:"constraints"`
}

type Table struct {
	Name    string   `json:"table_name"`
	Columns []Column `json:"columns"`
}

var (
	createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(\w+)\s*\(([\s\S]*?)\)\s*;`)
	columnRe      = regexp.MustCompile(`(?s)^(\w+)\s+(\w+(?:\s*\([^)]*\))?)(.*)$`)
)

// table-level clauses that do not describe a column
var tableClauses = []string{"FOREIGN KEY", "PRIMARY KEY", "UNIQUE", "CONSTRAINT", "CHECK"}

var columnConstraints = []string{"PRIMARY KEY", "NOT NULL", "UNIQUE"}

// Tables describes the tables created by the challenge schema, for display
// next to the question.
func (c *Challenge) Tables() []Table {
	tables := []Table{}
	for _, m := range createTableRe.FindAllStringSubmatch(c.SchemaSQL.String(), -1) {
		table := Table{Name: m[1], Columns: []Column{}}
		for _, def := range splitTopLevel(m[2]) {
			if col, ok := parseColumn(def); ok {
				table.Columns = append(table.Columns, col)
			}
		}
		tables = append(tables, table)
	}
	return tables
}

func parseColumn(def string) (Column, bool) {
	upper := strings.ToUpper(def)
	for _, clause := range tableClauses {
		if strings.HasPrefix(upper, clause) {
			return Column{}, false
		}
	}

	m := columnRe.FindStringSubmatch(def)
	if m == nil {
		return Column{}, false
	}

	col := Column{Name: m[1], Type: m[2], Constraints: []string{}}
	rest := strings.ToUpper(m[3])
	for _, constraint := range columnConstraints {
		if strings.Contains(rest, constraint) {
			col.Constraints = append(col.Constraints, constraint)
		}
	}
	return col, true
}

// splitTopLevel splits a column list on commas that are not nested in
// parentheses, so DECIMAL(10,2) stays one definition.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = appendTrimmed(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return appendTrimmed(parts, s[start:])
}

func appendTrimmed(parts []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		parts = append(parts, s)
	}
	return parts
}
