// Package postgres implements store.Store on PostgreSQL using pgx.
//
// DDL runs inside transactions, so a failed drop-and-create leaves the old
// table in place. The bulk-copy tier is the COPY protocol via CopyFrom.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// SQLSTATE codes the store interprets.
const (
	codeUniqueViolation = "23505" // concurrent CREATE SCHEMA IF NOT EXISTS
	codeDuplicateSchema = "42P06"
)

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a PostgreSQL destination.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.BulkCopier = (*Store)(nil)
)

// Open parses the URL, builds a pool and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Dialect() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) EnsureSchema(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(name))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == codeUniqueViolation || pgErr.Code == codeDuplicateSchema) {
			return nil
		}
		return fmt.Errorf("create schema %s: %w", name, err)
	}
	return nil
}

func (s *Store) Columns(ctx context.Context, t store.Table) ([]schema.LiveColumn, error) {
	rows, err := s.pool.Query(ctx, columnsSQL, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", t, err)
	}
	defer rows.Close()

	var out []schema.LiveColumn
	for rows.Next() {
		var (
			name, dataType           string
			maxLen, precision, scale *int64
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
	create, err := createTableSQL(t, cols)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+quoteTable(t)); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
		if _, err := tx.Exec(ctx, create); err != nil {
			return fmt.Errorf("create table %s: %w", t, err)
		}
		return nil
	})
}

func (s *Store) AlterColumn(ctx context.Context, t store.Table, col schema.ColumnSpec) error {
	if _, err := s.pool.Exec(ctx, alterColumnSQL(t, col)); err != nil {
		return fmt.Errorf("alter %s.%s: %w", t, col.Name, err)
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context, t store.Table) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+quoteTable(t)); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

// InsertRows queues one INSERT per row in a batch inside a transaction.
// Values go to pgx as-is; it encodes pgtype values and driver.Valuers itself.
func (s *Store) InsertRows(ctx context.Context, t store.Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt := insertSQL(t, columns)
	var total int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range rows {
			batch.Queue(stmt, r...)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range rows {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("insert row %d: %w", i+1, err)
			}
			total += tag.RowsAffected()
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// BulkCopy loads rows with COPY FROM STDIN in a transaction.
func (s *Store) BulkCopy(ctx context.Context, t store.Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		copied, err := tx.CopyFrom(ctx, identifier(t), columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", t, err)
		}
		n = copied
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Privileges(ctx context.Context, namespace string) ([]store.Privilege, error) {
	var dbCreate, exists, schemaCreate, usage bool
	err := s.pool.QueryRow(ctx, privilegesSQL, namespace).Scan(&dbCreate, &exists, &schemaCreate, &usage)
	if err != nil {
		return nil, fmt.Errorf("probe permissions: %w", err)
	}
	return privilegeReport(namespace, dbCreate, exists, schemaCreate, usage), nil
}

func privilegeReport(namespace string, dbCreate, exists, schemaCreate, usage bool) []store.Privilege {
	if !exists {
		detail := fmt.Sprintf("schema %s does not exist and will be created", namespace)
		return []store.Privilege{
			{Name: "CREATE SCHEMA", Granted: dbCreate, Detail: detail},
			{Name: "CREATE TABLE", Granted: dbCreate, Detail: detail},
		}
	}
	scope := "on schema " + namespace
	return []store.Privilege{
		{Name: "USAGE", Granted: usage, Detail: scope},
		{Name: "CREATE TABLE", Granted: schemaCreate, Detail: scope},
	}
}
