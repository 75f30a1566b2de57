// Package sqlstore implements the report and file-progress store on
// database/sql. SQL differences between the supported engines are isolated
// in a Dialect supplied by the postgres, mysql and sqlite packages.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect holds the engine specific parts of the store.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	NumberedParams bool
	// UpsertFile is appended to the file progress INSERT and must reset the
	// row to pending on conflict.
	UpsertFile string
	// Schema statements, run in order by EnsureSchema.
	Schema []string
}

// rebind rewrites "?" placeholders for engines that number them.
func (d Dialect) rebind(q string) string {
	if !d.NumberedParams {
		return q
	}
	var sb strings.Builder
	sb.Grow(len(q) + 16)
	n := 0
	for _, ch := range q {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", d.Name, err)
		}
	}
	return nil
}
