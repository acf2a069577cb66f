package db

import (
	"strings"
)

// Dialect describes the SQL differences the repositories have to care about.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string
	// Positional reports that the driver only understands "?" placeholders.
	Positional bool
	// Returning reports support for INSERT/UPDATE ... RETURNING.
	Returning bool
}

// DialectFor returns the dialect of a built-in driver name. Unknown names get
// the PostgreSQL dialect.
func DialectFor(driverName string) Dialect {
	switch driverName {
	case "mysql":
		return Dialect{Name: driverName, Positional: true}
	case "sqlite3":
		return Dialect{Name: driverName, Returning: true}
	default:
		return Dialect{Name: driverName, Returning: true}
	}
}

// Rebind rewrites "$N" placeholders into "?" for positional dialects.
// Placeholders inside single-quoted literals are left alone. Statements must
// reference each $N once and in ascending order for the rewrite to be valid.
func (d Dialect) Rebind(query string) string {
	if !d.Positional || !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '$' && !inQuote && i+1 < len(query) && isDigit(query[i+1]) {
			b.WriteByte('?')
			for i+1 < len(query) && isDigit(query[i+1]) {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
