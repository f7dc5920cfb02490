// Package mssql implements store.Store on Microsoft SQL Server using
// go-mssqldb. The bulk-copy tier uses the driver's bulk copy API
// (mssql.CopyIn) inside a transaction so a failed copy leaves no rows.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// Server error numbers the store interprets.
const (
	errObjectExists   = 2714 // "There is already an object named ..."
	errSchemaExists   = 2759 // CREATE SCHEMA failed, schema already exists
	errBulkPermission = 4834 // no permission to use the bulk load statement
)

// Config holds connection settings.
type Config struct {
	DSN             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a SQL Server destination.
type Store struct {
	db *sql.DB
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.BulkCopier = (*Store)(nil)
)

// Open validates the DSN, opens a pool and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Dialect() string { return "mssql" }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) EnsureSchema(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, ensureSchemaSQL, name); err != nil {
		// Lost a race with another creator.
		if n, ok := errorNumber(err); ok && (n == errSchemaExists || n == errObjectExists) {
			return nil
		}
		return fmt.Errorf("create schema %s: %w", name, err)
	}
	return nil
}

func (s *Store) Columns(ctx context.Context, t store.Table) ([]schema.LiveColumn, error) {
	rows, err := s.db.QueryContext(ctx, columnsSQL, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", t, err)
	}
	defer rows.Close()

	var out []schema.LiveColumn
	for rows.Next() {
		var (
			name, dataType          string
			maxLen, precision, scale sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &maxLen, &precision, &scale); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", t, err)
		}
		out = append(out, schema.NewLiveColumn(name, liveType(dataType, maxLen, precision, scale)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", t, err)
	}
	return out, nil
}

func (s *Store) CreateTable(ctx context.Context, t store.Table, cols []schema.ColumnSpec) error {
	stmt, err := createTableSQL(t, cols)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", t, err)
	}
	return nil
}

func (s *Store) AlterColumn(ctx context.Context, t store.Table, col schema.ColumnSpec) error {
	if _, err := s.db.ExecContext(ctx, alterColumnSQL(t, col)); err != nil {
		return fmt.Errorf("alter %s.%s: %w", t, col.Name, err)
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context, t store.Table) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+quoteTable(t)); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

// InsertRows writes rows with multi-row INSERT statements in one transaction.
func (s *Store) InsertRows(ctx context.Context, t store.Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	per := rowsPerInsert(len(columns))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		batch := rows[start:end]

		args := make([]any, 0, len(batch)*len(columns))
		for _, r := range batch {
			args = append(args, r...)
		}
		res, err := tx.ExecContext(ctx, insertSQL(t, columns, len(batch)), args...)
		if err != nil {
			rollback()
			return 0, fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			rollback()
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// BulkCopy streams rows through the TDS bulk load protocol.
func (s *Store) BulkCopy(ctx context.Context, t store.Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	values, err := store.ValueRows(rows)
	if err != nil {
		return 0, fmt.Errorf("bulk values: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(quoteTable(t), mssql.BulkOptions{}, columns...))
	if err != nil {
		rollback()
		return 0, bulkErr("prepare bulk", err)
	}
	for i := range values {
		if _, err := stmt.ExecContext(ctx, values[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, bulkErr(fmt.Sprintf("bulk row %d", i+1), err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, bulkErr("bulk finalize", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (s *Store) Privileges(ctx context.Context, namespace string) ([]store.Privilege, error) {
	var createSchema, createTable, schemaID, alter, insert, del sql.NullInt64
	err := s.db.QueryRowContext(ctx, privilegesSQL, namespace).
		Scan(&createSchema, &createTable, &schemaID, &alter, &insert, &del)
	if err != nil {
		return nil, fmt.Errorf("probe permissions: %w", err)
	}
	return privilegeReport(namespace, createSchema, createTable, schemaID, alter, insert, del), nil
}

func privilegeReport(namespace string, createSchema, createTable, schemaID, alter, insert, del sql.NullInt64) []store.Privilege {
	granted := func(v sql.NullInt64) bool { return v.Valid && v.Int64 == 1 }
	out := []store.Privilege{
		{Name: "CREATE TABLE", Granted: granted(createTable)},
	}

	if !schemaID.Valid {
		// The owner of a schema we create holds every schema permission.
		ok := granted(createSchema)
		detail := fmt.Sprintf("schema %s does not exist and will be created", namespace)
		return append(out,
			store.Privilege{Name: "CREATE SCHEMA", Granted: ok, Detail: detail},
			store.Privilege{Name: "ALTER", Granted: ok, Detail: detail},
			store.Privilege{Name: "INSERT", Granted: ok, Detail: detail},
			store.Privilege{Name: "DELETE", Granted: ok, Detail: detail},
		)
	}

	scope := "on schema " + namespace
	return append(out,
		store.Privilege{Name: "ALTER", Granted: granted(alter), Detail: scope},
		store.Privilege{Name: "INSERT", Granted: granted(insert), Detail: scope},
		store.Privilege{Name: "DELETE", Granted: granted(del), Detail: scope},
	)
}

// errorNumber extracts the server error number.
func errorNumber(err error) (int32, bool) {
	var me mssql.Error
	if errors.As(err, &me) {
		return me.Number, true
	}
	return 0, false
}

// bulkErr marks permission refusals as an unavailable tier rather than a
// data failure.
func bulkErr(op string, err error) error {
	if n, ok := errorNumber(err); ok && n == errBulkPermission {
		return fmt.Errorf("%s: %w: %w", op, store.ErrBulkCopyUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
