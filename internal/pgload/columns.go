package pgload

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentifierLen = 63

// ColumnNames derives database column names from a header row.
//
// "Transaction ID" -> "transaction_id". Characters other than letters, digits
// and underscores are dropped, blank names become column_N, and repeats get a
// numeric suffix so every name is unique.
func ColumnNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))

	for i, h := range header {
		name := toDBColumnName(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}

		base := name
		for seen[name] > 0 {
			seen[base]++
			name = fmt.Sprintf("%s_%d", base, seen[base])
		}
		seen[name]++
		names[i] = name
	}
	return names
}

// GenericColumns returns column_1 .. column_n for tables without a header.
func GenericColumns(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("column_%d", i+1)
	}
	return names
}

func toDBColumnName(name string) string {
	var b strings.Builder
	lastUnderscore := true // trims leading underscores
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	for len(out) > maxIdentifierLen {
		_, size := utf8.DecodeLastRuneInString(out)
		out = out[:len(out)-size]
	}
	return strings.TrimRight(out, "_")
}

// createTableSQL returns a CREATE TABLE IF NOT EXISTS statement with one text
// column per name.
func createTableSQL(table pgx.Identifier, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " text"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Sanitize(), strings.Join(defs, ", "))
}
