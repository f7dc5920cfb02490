package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// memStore is an in-memory store.Store for engine tests. Each InsertRows
// call is atomic, like a real transaction.
type memStore struct {
	mu      sync.Mutex
	schemas map[string]bool
	tables  map[string]*memTable

	// renderType maps a declared column to the type the catalog reports.
	// The default reports the declared type unchanged.
	renderType func(schema.ColumnSpec) string

	insertCalls int
	failInsert  map[int]error // 1-based InsertRows call -> error
	insertHook  func()        // runs at the start of every InsertRows

	createCalls   int
	truncateCalls int
	alterCalls    int
	alterErr      error
	ensureErr     error
	privileges    []store.Privilege
}

type memTable struct {
	cols []schema.LiveColumn
	rows [][]any
}

func newMemStore() *memStore {
	return &memStore{
		schemas:    make(map[string]bool),
		tables:     make(map[string]*memTable),
		failInsert: make(map[int]error),
	}
}

func memKey(t store.Table) string { return strings.ToLower(t.String()) }

func (m *memStore) Dialect() string { return "mem" }
func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() {}

func (m *memStore) EnsureSchema(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensureErr != nil {
		return m.ensureErr
	}
	m.schemas[strings.ToLower(name)] = true
	return nil
}

func (m *memStore) Columns(ctx context.Context, t store.Table) ([]schema.LiveColumn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.tables[memKey(t)]
	if !ok {
		return nil, nil
	}
	return append([]schema.LiveColumn{}, tbl.cols...), nil
}

func (m *memStore) CreateTable(ctx context.Context, t store.Table, cols []schema.ColumnSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if t.Schema != "" && !m.schemas[strings.ToLower(t.Schema)] {
		return fmt.Errorf("create table %s: schema does not exist", t)
	}
	tbl := &memTable{}
	for _, c := range cols {
		tbl.cols = append(tbl.cols, schema.NewLiveColumn(c.Name, m.render(c)))
	}
	m.tables[memKey(t)] = tbl
	return nil
}

func (m *memStore) render(c schema.ColumnSpec) string {
	if m.renderType != nil {
		return m.renderType(c)
	}
	return c.Type.Raw
}

func (m *memStore) AlterColumn(ctx context.Context, t store.Table, col schema.ColumnSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alterCalls++
	if m.alterErr != nil {
		return m.alterErr
	}
	tbl, ok := m.tables[memKey(t)]
	if !ok {
		return fmt.Errorf("alter %s: no such table", t)
	}
	for i, lc := range tbl.cols {
		if strings.EqualFold(lc.Name, col.Name) {
			tbl.cols[i] = schema.NewLiveColumn(lc.Name, col.Type.Raw)
			return nil
		}
	}
	return fmt.Errorf("alter %s: no column %s", t, col.Name)
}

func (m *memStore) Truncate(ctx context.Context, t store.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncateCalls++
	tbl, ok := m.tables[memKey(t)]
	if !ok {
		return fmt.Errorf("truncate %s: no such table", t)
	}
	tbl.rows = nil
	return nil
}

func (m *memStore) InsertRows(ctx context.Context, t store.Table, columns []string, rows [][]any) (int64, error) {
	if m.insertHook != nil {
		m.insertHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if err := m.failInsert[m.insertCalls]; err != nil {
		return 0, err
	}
	return m.appendRows(t, columns, rows)
}

func (m *memStore) appendRows(t store.Table, columns []string, rows [][]any) (int64, error) {
	tbl, ok := m.tables[memKey(t)]
	if !ok {
		return 0, fmt.Errorf("insert %s: no such table", t)
	}
	if len(columns) != len(tbl.cols) {
		return 0, fmt.Errorf("insert %s: %d columns for a %d column table", t, len(columns), len(tbl.cols))
	}
	for _, r := range rows {
		tbl.rows = append(tbl.rows, append([]any{}, r...))
	}
	return int64(len(rows)), nil
}

func (m *memStore) Privileges(ctx context.Context, namespace string) ([]store.Privilege, error) {
	return m.privileges, nil
}

// rows returns a copy of the rows stored in t.
func (m *memStore) rows(t store.Table) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.tables[memKey(t)]
	if !ok {
		return nil
	}
	return append([][]any{}, tbl.rows...)
}

// bulkStore adds a bulk-copy tier to memStore.
type bulkStore struct {
	*memStore
	bulkErr   error
	bulkCalls int
}

func (b *bulkStore) BulkCopy(ctx context.Context, t store.Table, columns []string, rows [][]any) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bulkCalls++
	if b.bulkErr != nil {
		return 0, b.bulkErr
	}
	return b.appendRows(t, columns, rows)
}

var errInsertRejected = errors.New("Conversion failed when converting the nvarchar value to data type int.")
