package sandbox

import (
	"context"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"strings"
)

// SplitStatements splits a delimited SQL script on semicolons that are not
// inside quotes, comments or dollar-quoted bodies. Fragments holding only
// whitespace and comments are dropped.
func SplitStatements(script string) []string {
	var (
		stmts []string
		start int
	)
	for i := 0; i < len(script); {
		switch c := script[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(script, i, c)
		case strings.HasPrefix(script[i:], "--"):
			i = skipLine(script, i)
		case strings.HasPrefix(script[i:], "/*"):
			i = skipBlock(script, i)
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				i = skipPast(script, i+len(tag), tag)
			} else {
				i++
			}
		case c == ';':
			stmts = appendStatement(stmts, script[start:i])
			i++
			start = i
		default:
			i++
		}
	}
	return appendStatement(stmts, script[start:])
}

// StripLiterals returns the script with comments replaced by a space and
// the contents of string literals and dollar-quoted bodies removed. Quoted
// identifiers are kept.
func StripLiterals(script string) string {
	var (
		b     strings.Builder
		start int
	)
	for i := 0; i < len(script); {
		switch c := script[i]; {
		case c == '\'':
			b.WriteString(script[start:i])
			b.WriteString("''")
			i = skipQuoted(script, i, c)
			start = i
		case c == '"' || c == '`':
			i = skipQuoted(script, i, c)
		case strings.HasPrefix(script[i:], "--"):
			b.WriteString(script[start:i])
			b.WriteByte(' ')
			i = skipLine(script, i)
			start = i
		case strings.HasPrefix(script[i:], "/*"):
			b.WriteString(script[start:i])
			b.WriteByte(' ')
			i = skipBlock(script, i)
			start = i
		case c == '$':
			tag, ok := dollarTag(script[i:])
			if !ok {
				i++
				continue
			}
			b.WriteString(script[start:i])
			b.WriteString("''")
			i = skipPast(script, i+len(tag), tag)
			start = i
		default:
			i++
		}
	}
	b.WriteString(script[start:])
	return b.String()
}

// LeadingText returns s without the whitespace and comments in front of
// the first token.
func LeadingText(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n\f\v")
		switch {
		case strings.HasPrefix(s, "--"):
			s = s[skipLine(s, 0):]
		case strings.HasPrefix(s, "/*"):
			s = s[skipBlock(s, 0):]
		default:
			return s
		}
	}
}

func appendStatement(stmts []string, fragment string) []string {
	if LeadingText(fragment) == "" {
		return stmts
	}
	return append(stmts, strings.TrimSpace(fragment))
}

// skipQuoted returns the index after the quote closing the one at i. A
// doubled quote character is an escaped quote.
func skipQuoted(s string, i int, quote byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		if j+1 < len(s) && s[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

func skipLine(s string, i int) int {
	if n := strings.IndexByte(s[i:], '\n'); n >= 0 {
		return i + n + 1
	}
	return len(s)
}

func skipBlock(s string, i int) int {
	return skipPast(s, i+2, "*/")
}

func skipPast(s string, from int, marker string) int {
	if n := strings.Index(s[from:], marker); n >= 0 {
		return from + n + len(marker)
	}
	return len(s)
}

// dollarTag recognises the opening of a dollar-quoted body ($$ or $tag$) at
// the start of s. Positional parameters such as $1 are not tags.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && j > 1:
		default:
			return "", false
		}
	}
	return "", false
}

// seed applies the challenge schema and seed scripts in one transaction.
func seed(ctx context.Context, inst *Instance, challenge *catalog.Challenge) error {
	tx, err := inst.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin seed transaction")
	}
	if err := applyScript(ctx, tx, inst.Driver, challenge.SchemaSQL); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "apply schema")
	}
	if err := applyScript(ctx, tx, inst.Driver, challenge.SeedSQL); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "apply seed data")
	}
	return errors.Wrap(tx.Commit(), "commit seed transaction")
}

func applyScript(ctx context.Context, tx *sqlx.Tx, driverName string, script catalog.Script) error {
	for _, element := range script {
		stmts := []string{element}
		if !nativeScripts(driverName) {
			stmts = SplitStatements(element)
		} else if LeadingText(element) == "" {
			continue
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "execute %q", abbreviate(stmt))
			}
		}
	}
	return nil
}

func abbreviate(stmt string) string {
	const limit = 60
	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) > limit {
		return stmt[:limit] + "..."
	}
	return stmt
}
