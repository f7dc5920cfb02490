package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/stageload/internal/config"
	"github.com/JonMunkholm/stageload/internal/core"
	"github.com/JonMunkholm/stageload/internal/logging"
	"github.com/JonMunkholm/stageload/internal/metrics"
	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/settings"
	"github.com/JonMunkholm/stageload/internal/store"
	"github.com/JonMunkholm/stageload/internal/store/mssql"
	"github.com/JonMunkholm/stageload/internal/store/postgres"
)

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	settings *settings.Settings
	store    store.Store
	metrics  *metrics.Metrics
	service  *core.Service
}

// newApp loads configuration and settings, sends logs to logOut and
// connects to the destination store.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.New(logOut, cfg.Logging.Level, cfg.Logging.Format))

	st, err := settings.Load(cfg.Settings.ColumnSettingsPath, cfg.Settings.DtypeSettingsPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("settings loaded", "file_types", len(st.FileTypes()), "tables", len(st.Tables()))

	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Database.Driver, err)
	}
	slog.Info("connected to database", "driver", cfg.Database.Driver, "name", databaseName(cfg.Database.URL))

	m := metrics.New(cfg.Metrics.Enabled)
	return &app{
		cfg:      cfg,
		settings: st,
		store:    db,
		metrics:  m,
		service:  core.NewService(db, serviceOptions(cfg), m),
	}, nil
}

func (a *app) close() {
	a.store.Close()
}

func serviceOptions(cfg *config.Config) core.Options {
	return core.Options{
		Pipeline: core.PipelineConfig{
			ChunkThreshold: cfg.Load.ChunkThreshold,
			ChunkSize:      cfg.Load.ChunkSize,
			BulkCopy:       cfg.Load.BulkCopy,
		},
		Diagnostics: core.DiagnosticLimits{
			Columns:  cfg.Load.DiagnosticColumns,
			Examples: cfg.Load.DiagnosticExamples,
		},
		Reconcile:        schema.Options{StrictNumeric: cfg.Load.StrictNumeric},
		DefaultNamespace: cfg.Load.DefaultNamespace,
		MaxConcurrent:    cfg.Load.MaxConcurrent,
		AcquireTimeout:   cfg.Load.AcquireTimeout,
		Timeout:          cfg.Load.Timeout,
		HistorySize:      cfg.Load.HistorySize,
	}
}

func openStore(ctx context.Context, db config.DatabaseConfig) (store.Store, error) {
	if db.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.ConnectTimeout)
		defer cancel()
	}

	switch strings.ToLower(db.Driver) {
	case "postgres":
		s, err := postgres.Open(ctx, postgres.Config{
			URL:             db.URL,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
			MaxConnIdleTime: db.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mssql":
		s, err := mssql.Open(ctx, mssql.Config{
			DSN:             db.URL,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
			MaxConnIdleTime: db.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", db.Driver)
	}
}

// databaseName extracts the database from a URL-style connection string
// for logging. SQL Server carries it in the query, PostgreSQL in the path.
func databaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if name := u.Query().Get("database"); name != "" {
		return name
	}
	return strings.TrimPrefix(u.Path, "/")
}
