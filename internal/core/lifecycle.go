package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/stageload/internal/logging"
	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// Lifecycle applies the DDL side of a load: namespaces, table rebuilds,
// truncation and column width fixups.
type Lifecycle struct {
	store store.Store
}

// NewLifecycle returns a Lifecycle for st.
func NewLifecycle(st store.Store) *Lifecycle {
	return &Lifecycle{store: st}
}

// EnsureNamespace creates every missing namespace. Existing ones are left
// alone; the store's own existence check settles concurrent creators.
func (l *Lifecycle) EnsureNamespace(ctx context.Context, names ...string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		if err := l.store.EnsureSchema(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot reads the live columns of t; nil means the table is absent.
func (l *Lifecycle) Snapshot(ctx context.Context, t store.Table) ([]schema.LiveColumn, error) {
	return l.store.Columns(ctx, t)
}

// Recreate drops t and builds it empty from spec, in spec order. Existing
// rows are lost.
func (l *Lifecycle) Recreate(ctx context.Context, t store.Table, spec []schema.ColumnSpec) error {
	if len(spec) == 0 {
		return fmt.Errorf("recreate %s: empty column specification", t)
	}
	return l.store.CreateTable(ctx, t, spec)
}

// Truncate removes all rows of t without altering its definition.
func (l *Lifecycle) Truncate(ctx context.Context, t store.Table) error {
	return l.store.Truncate(ctx, t)
}

// FixStringCapacities re-reads t after a rebuild and widens every column
// declared as unbounded text that the table ended up bounded for. It is
// best-effort: failures are logged and the number of columns still narrow
// is returned.
func (l *Lifecycle) FixStringCapacities(ctx context.Context, t store.Table, spec []schema.ColumnSpec) int {
	logger := logging.FromContext(ctx)

	live, err := l.store.Columns(ctx, t)
	if err != nil {
		logger.Warn("string width check skipped", "error", err)
		return 0
	}

	byName := make(map[string]schema.LiveColumn, len(live))
	for _, lc := range live {
		byName[strings.ToLower(lc.Name)] = lc
	}

	failed := 0
	for _, col := range spec {
		if col.Category() != schema.String || col.Capacity() != schema.Unbounded {
			continue
		}
		lc, ok := byName[strings.ToLower(col.Name)]
		if !ok || lc.Capacity == schema.Unbounded {
			continue
		}
		if err := l.store.AlterColumn(ctx, t, col); err != nil {
			failed++
			logger.Warn("string width fixup failed",
				slog.String("column", col.Name),
				slog.String("live_type", lc.RawType),
				slog.Any("error", err))
			continue
		}
		logger.Info("widened column", "column", col.Name, "from", lc.RawType, "to", col.Type.Raw)
	}
	return failed
}
