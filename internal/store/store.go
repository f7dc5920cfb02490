// Package store defines the relational destination the load engine writes to.
//
// A Store exposes exactly the catalog reads and DDL/DML the engine needs:
// namespace creation, live column snapshots, drop-and-create, column type
// fixups, truncation and transactional inserts. Stores that support a
// server-side bulk transfer also implement BulkCopier.
//
// Implementations live in the mssql and postgres subpackages.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/JonMunkholm/stageload/internal/schema"
)

// ErrBulkCopyUnavailable means the bulk-copy path cannot be used for this
// store or connection. The engine treats it as "skip the tier", not a failure.
var ErrBulkCopyUnavailable = errors.New("bulk copy unavailable")

// Table identifies a destination table.
type Table struct {
	Schema string
	Name   string
}

// ParseTable splits "schema.name"; a bare name takes defaultSchema.
func ParseTable(s, defaultSchema string) Table {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return Table{Schema: s[:i], Name: s[i+1:]}
	}
	return Table{Schema: defaultSchema, Name: s}
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Store is a destination relational database.
type Store interface {
	// Dialect names the backend ("mssql", "postgres").
	Dialect() string

	Ping(ctx context.Context) error

	// EnsureSchema creates the namespace if it does not exist. Concurrent
	// callers rely on the server's own existence check.
	EnsureSchema(ctx context.Context, name string) error

	// Columns snapshots the live columns of t in ordinal order.
	// It returns nil, nil when the table does not exist.
	Columns(ctx context.Context, t Table) ([]schema.LiveColumn, error)

	// CreateTable drops t if present and creates it with cols in order.
	CreateTable(ctx context.Context, t Table, cols []schema.ColumnSpec) error

	// AlterColumn changes the type of an existing column.
	AlterColumn(ctx context.Context, t Table, col schema.ColumnSpec) error

	// Truncate removes every row of t without touching its definition.
	Truncate(ctx context.Context, t Table) error

	// InsertRows writes rows in a single transaction: either every row
	// commits or none does. Values are positional against columns.
	InsertRows(ctx context.Context, t Table, columns []string, rows [][]any) (int64, error)

	// Privileges probes what the connected principal may do in namespace.
	Privileges(ctx context.Context, namespace string) ([]Privilege, error)

	Close()
}

// BulkCopier is implemented by stores with a server-side bulk transfer.
// A failed BulkCopy must leave no rows behind.
type BulkCopier interface {
	BulkCopy(ctx context.Context, t Table, columns []string, rows [][]any) (int64, error)
}

// Privilege is one permission probe result.
type Privilege struct {
	Name    string // e.g. "CREATE TABLE"
	Granted bool
	Detail  string
}

// Value unwraps driver.Valuer values (sql.NullTime and friends) so bulk
// paths that do their own encoding receive plain Go values.
func Value(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case driver.Valuer:
		return x.Value()
	}
	return v, nil
}

// ValueRows applies Value to every cell, copying the rows.
func ValueRows(rows [][]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, len(r))
		for j, v := range r {
			u, err := Value(v)
			if err != nil {
				return nil, err
			}
			vals[j] = u
		}
		out[i] = vals
	}
	return out, nil
}
