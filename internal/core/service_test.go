package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

var testNow = time.Date(2025, 7, 15, 8, 30, 0, 0, time.UTC)

var ordersSpec = []schema.ColumnSpec{
	schema.Column("order_id", "NVARCHAR(50)"),
	schema.Column("amount", "DECIMAL(18,2)"),
	schema.Column("ordered_at", "DATE"),
	schema.Column("notes", "NVARCHAR(MAX)"),
}

var ordersTable = store.Table{Name: "orders"}

func orderRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			"order_id":   fmt.Sprintf("A-%d", i+1),
			"amount":     "12.50",
			"ordered_at": "2025-07-14",
			"notes":      "",
			"sales_rep":  "Kim", // not an expected column
		}
	}
	return rows
}

func newTestService(st store.Store, opts Options) *Service {
	if opts.DefaultNamespace == "" {
		opts.DefaultNamespace = "stage"
	}
	s := NewService(st, opts, nil)
	s.now = func() time.Time { return testNow }
	return s
}

func ordersRequest(n int) LoadRequest {
	return LoadRequest{Table: ordersTable, Rows: orderRows(n), Spec: ordersSpec, Source: "orders.csv"}
}

var stageOrders = store.Table{Schema: "stage", Name: "orders"}

func TestLoad_CreatesTable(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Options{})

	res := svc.Load(context.Background(), ordersRequest(3))

	if !res.Success {
		t.Fatalf("Load failed: %s", res.Message)
	}
	if res.Table != "stage.orders" || res.RowsAffected != 3 || res.Tier != TierSingle {
		t.Errorf("result = %+v", res)
	}
	if res.Verdict != "TABLE_ABSENT" {
		t.Errorf("Verdict = %q, want TABLE_ABSENT", res.Verdict)
	}
	if res.LoadID == "" {
		t.Error("LoadID is empty")
	}
	want := "Upload successful -> stage.orders: 3 rows via single insert (table recreated: table does not exist)"
	if res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
	if !st.schemas["stage"] {
		t.Error("namespace not created")
	}

	live, _ := st.Columns(context.Background(), stageOrders)
	var names []string
	for _, c := range live {
		names = append(names, c.Name)
	}
	if got := strings.Join(names, ","); got != "order_id,amount,ordered_at,notes,updated_at" {
		t.Errorf("columns = %s", got)
	}

	rows := st.rows(stageOrders)
	if len(rows) != 3 {
		t.Fatalf("stored %d rows, want 3", len(rows))
	}
	first := rows[0]
	if len(first) != 5 {
		t.Fatalf("row has %d values, want 5 (extra source column dropped)", len(first))
	}
	if first[0] != "A-1" {
		t.Errorf("order_id = %v", first[0])
	}
	if _, ok := first[1].(pgtype.Numeric); !ok {
		t.Errorf("amount = %T, want pgtype.Numeric", first[1])
	}
	if ts, ok := first[2].(time.Time); !ok || !ts.Equal(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ordered_at = %#v", first[2])
	}
	if first[3] != nil {
		t.Errorf("empty notes = %#v, want nil", first[3])
	}
	if first[4] != testNow {
		t.Errorf("updated_at = %#v, want %v", first[4], testNow)
	}
}

func TestLoad_ReuseTruncatesAndIsIdempotent(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Options{})
	ctx := context.Background()

	first := svc.Load(ctx, ordersRequest(3))
	second := svc.Load(ctx, ordersRequest(3))

	if !first.Success || !second.Success {
		t.Fatalf("loads failed: %q / %q", first.Message, second.Message)
	}
	if second.Verdict != "MATCH" {
		t.Errorf("second Verdict = %q, want MATCH", second.Verdict)
	}
	if !strings.Contains(second.Message, "existing table truncated and reused") {
		t.Errorf("second Message = %q", second.Message)
	}
	if st.createCalls != 1 || st.truncateCalls != 1 {
		t.Errorf("create=%d truncate=%d, want 1 and 1", st.createCalls, st.truncateCalls)
	}
	if n := len(st.rows(stageOrders)); n != 3 {
		t.Errorf("stored %d rows after reload, want 3", n)
	}
}

func TestLoad_Append(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Options{})
	ctx := context.Background()

	svc.Load(ctx, ordersRequest(3))
	req := ordersRequest(2)
	req.Append = true
	res := svc.Load(ctx, req)

	if !res.Success || res.RowsAffected != 2 {
		t.Fatalf("append failed: %+v", res)
	}
	if st.truncateCalls != 0 {
		t.Errorf("truncate called %d times in append mode", st.truncateCalls)
	}
	if n := len(st.rows(stageOrders)); n != 5 {
		t.Errorf("stored %d rows, want 5", n)
	}
}

func TestLoad_ForceRecreate(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Options{})
	ctx := context.Background()

	svc.Load(ctx, ordersRequest(3))
	req := ordersRequest(1)
	req.ForceRecreate = true
	res := svc.Load(ctx, req)

	if !res.Success || res.Verdict != "TABLE_ABSENT" {
		t.Fatalf("forced load = %+v", res)
	}
	if !strings.Contains(res.Message, "recreate requested") {
		t.Errorf("Message = %q", res.Message)
	}
	if st.createCalls != 2 {
		t.Errorf("createCalls = %d, want 2", st.createCalls)
	}

	// A rebuilt table reconciles cleanly on the next load.
	if next := svc.Load(ctx, ordersRequest(1)); next.Verdict != "MATCH" {
		t.Errorf("Verdict after rebuild = %q, want MATCH", next.Verdict)
	}
}

func TestLoad_ColumnSetChangeRecreates(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Options{})
	ctx := context.Background()

	svc.Load(ctx, ordersRequest(3))

	req := ordersRequest(2)
	req.Spec = append(append([]schema.ColumnSpec{}, ordersSpec...), schema.Column("sales_rep", "NVARCHAR(100)"))
	res := svc.Load(ctx, req)

	if !res.Success || res.Verdict != "COLUMN_SET_MISMATCH" {
		t.Fatalf("result = %+v", res)
	}
	rows := st.rows(stageOrders)
	if len(rows) != 2 {
		t.Fatalf("stored %d rows, want 2", len(rows))
	}
	if rows[0][4] != "Kim" {
		t.Errorf("sales_rep = %v, want Kim", rows[0][4])
	}
}

func TestLoad_ChunkedMatchesSingleShot(t *testing.T) {
	chunkedStore := newMemStore()
	chunked := newTestService(chunkedStore, Options{})
	res := chunked.Load(context.Background(), ordersRequest(12000))
	if !res.Success || res.Tier != TierChunked || res.RowsAffected != 12000 {
		t.Fatalf("chunked load = %+v", res)
	}
	if chunkedStore.insertCalls != 3 {
		t.Errorf("insertCalls = %d, want 3 chunks", chunkedStore.insertCalls)
	}
	if !strings.Contains(res.Message, "12,000 rows via chunked insert") {
		t.Errorf("Message = %q", res.Message)
	}

	singleStore := newMemStore()
	single := newTestService(singleStore, Options{Pipeline: PipelineConfig{ChunkThreshold: 100000}})
	res = single.Load(context.Background(), ordersRequest(12000))
	if !res.Success || res.Tier != TierSingle {
		t.Fatalf("single load = %+v", res)
	}

	if !reflect.DeepEqual(chunkedStore.rows(stageOrders), singleStore.rows(stageOrders)) {
		t.Error("chunked and single-shot loads stored different rows")
	}
}

func TestLoad_ChunkFailureReportsPartialCommit(t *testing.T) {
	st := newMemStore()
	st.failInsert[2] = errInsertRejected
	svc := newTestService(st, Options{})

	res := svc.Load(context.Background(), ordersRequest(12000))

	if res.Success {
		t.Fatal("load succeeded, want failure")
	}
	if !res.Partial || res.RowsAffected != 5000 || res.Tier != TierChunked {
		t.Errorf("result = %+v", res)
	}
	if st.insertCalls != 2 {
		t.Errorf("insertCalls = %d, want 2 (no fallback after a chunk failure)", st.insertCalls)
	}
	if n := len(st.rows(stageOrders)); n != 5000 {
		t.Errorf("stored %d rows, want 5000", n)
	}
	if res.Code != "ERR304" {
		t.Errorf("Code = %q, want ERR304", res.Code)
	}
	for _, want := range []string{
		"Database error: chunk rows 5001-10000: Conversion failed",
		"Rows committed before failure: 5,000 of 12,000",
	} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("Message missing %q:\n%s", want, res.Message)
		}
	}
}

func TestLoad_FailureNamesBadColumn(t *testing.T) {
	st := newMemStore()
	st.failInsert[1] = errInsertRejected
	svc := newTestService(st, Options{})

	req := ordersRequest(3)
	req.Rows[1]["amount"] = "abc"
	res := svc.Load(context.Background(), req)

	if res.Success || res.Partial || res.RowsAffected != 0 {
		t.Fatalf("result = %+v", res)
	}
	want := "\n- amount (expected DECIMAL(18,2)) invalid 1 rows. Examples: [row 2: \"abc\"]"
	if !strings.Contains(res.Message, want) {
		t.Errorf("Message missing %q:\n%s", want, res.Message)
	}
}

func TestLoad_BulkCopy(t *testing.T) {
	st := &bulkStore{memStore: newMemStore()}
	svc := newTestService(st, Options{Pipeline: PipelineConfig{BulkCopy: true}})

	res := svc.Load(context.Background(), ordersRequest(3))

	if !res.Success || res.Tier != TierBulkCopy {
		t.Fatalf("result = %+v", res)
	}
	if st.bulkCalls != 1 || st.insertCalls != 0 {
		t.Errorf("bulk=%d insert=%d", st.bulkCalls, st.insertCalls)
	}
}

func TestLoad_BulkCopyFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		bulkErr error
	}{
		{"unavailable", fmt.Errorf("%w: driver has no bulk path", store.ErrBulkCopyUnavailable)},
		{"failed", errors.New("bulk load: connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &bulkStore{memStore: newMemStore(), bulkErr: tt.bulkErr}
			svc := newTestService(st, Options{Pipeline: PipelineConfig{BulkCopy: true}})

			res := svc.Load(context.Background(), ordersRequest(3))

			if !res.Success || res.Tier != TierSingle || res.RowsAffected != 3 {
				t.Fatalf("result = %+v", res)
			}
			if n := len(st.rows(stageOrders)); n != 3 {
				t.Errorf("stored %d rows, want 3", n)
			}
		})
	}
}

func TestLoad_BulkCopyDisabled(t *testing.T) {
	st := &bulkStore{memStore: newMemStore()}
	svc := newTestService(st, Options{})

	if res := svc.Load(context.Background(), ordersRequest(3)); !res.Success || res.Tier != TierSingle {
		t.Fatalf("result = %+v", res)
	}
	if st.bulkCalls != 0 {
		t.Errorf("bulkCalls = %d with bulk copy disabled", st.bulkCalls)
	}
}

// The store creates NVARCHAR(MAX) as a bounded column, as some drivers do
// for parameterized DDL. The engine widens it after the rebuild so the
// next load still matches.
func TestLoad_WidensUnboundedStrings(t *testing.T) {
	st := newMemStore()
	st.renderType = func(c schema.ColumnSpec) string {
		if c.Capacity() == schema.Unbounded {
			return "NVARCHAR(4000)"
		}
		return c.Type.Raw
	}
	svc := newTestService(st, Options{})
	ctx := context.Background()

	if res := svc.Load(ctx, ordersRequest(1)); !res.Success {
		t.Fatalf("load failed: %s", res.Message)
	}
	if st.alterCalls != 1 {
		t.Errorf("alterCalls = %d, want 1", st.alterCalls)
	}
	if res := svc.Load(ctx, ordersRequest(1)); res.Verdict != "MATCH" {
		t.Errorf("second Verdict = %q, want MATCH", res.Verdict)
	}
}

func TestLoad_WidenFailureIsNotFatal(t *testing.T) {
	st := newMemStore()
	st.renderType = func(c schema.ColumnSpec) string {
		if c.Capacity() == schema.Unbounded {
			return "NVARCHAR(4000)"
		}
		return c.Type.Raw
	}
	st.alterErr = errors.New("permission denied")
	svc := newTestService(st, Options{})

	if res := svc.Load(context.Background(), ordersRequest(2)); !res.Success || res.RowsAffected != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLoad_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  LoadRequest
		want string
	}{
		{"empty table", LoadRequest{Spec: ordersSpec}, "table name is empty"},
		{"empty spec", LoadRequest{Table: ordersTable}, "column specification is empty"},
		{"blank column", LoadRequest{Table: ordersTable, Spec: []schema.ColumnSpec{schema.Column(" ", "INT")}}, "empty name"},
		{"duplicate column", LoadRequest{Table: ordersTable, Spec: []schema.ColumnSpec{
			schema.Column("id", "INT"), schema.Column("ID", "INT"),
		}}, "declared twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			res := newTestService(st, Options{}).Load(context.Background(), tt.req)
			if res.Success {
				t.Fatal("invalid request succeeded")
			}
			if !strings.HasPrefix(res.Message, "Invalid load request: ") || !strings.Contains(res.Message, tt.want) {
				t.Errorf("Message = %q, want it to mention %q", res.Message, tt.want)
			}
			if st.createCalls != 0 || len(st.schemas) != 0 {
				t.Error("invalid request touched the store")
			}
		})
	}
}

func TestLoad_NamespaceFailure(t *testing.T) {
	st := newMemStore()
	st.ensureErr = errors.New("permission denied for database stage")
	res := newTestService(st, Options{}).Load(context.Background(), ordersRequest(1))

	if res.Success || res.Code != "ERR401" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Message, "Schema setup failed: permission denied for database stage (Code: ERR401).") {
		t.Errorf("Message = %q", res.Message)
	}
	if st.createCalls != 0 {
		t.Error("table created after the namespace step failed")
	}
}

func TestLoad_ZeroRows(t *testing.T) {
	st := newMemStore()
	res := newTestService(st, Options{}).Load(context.Background(), ordersRequest(0))

	if !res.Success || res.RowsAffected != 0 || res.Tier != TierNone {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Message, "no rows to load") {
		t.Errorf("Message = %q", res.Message)
	}
	if st.createCalls != 1 || st.insertCalls != 0 {
		t.Errorf("create=%d insert=%d", st.createCalls, st.insertCalls)
	}
}

func TestLoad_SanitizesDates(t *testing.T) {
	st := newMemStore()
	req := ordersRequest(3)
	req.Rows[0]["ordered_at"] = "2025-13-40"
	req.Rows[1]["ordered_at"] = "0001-01-01"
	req.Rows[2]["ordered_at"] = "14/07/2025"
	req.DayFirst = true

	res := newTestService(st, Options{}).Load(context.Background(), req)
	if !res.Success {
		t.Fatalf("load failed: %s", res.Message)
	}

	rows := st.rows(stageOrders)
	if rows[0][2] != NullDate || rows[1][2] != NullDate {
		t.Errorf("out of range dates = %#v, %#v, want NullDate", rows[0][2], rows[1][2])
	}
	if ts, ok := rows[2][2].(time.Time); !ok || !ts.Equal(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day-first date = %#v", rows[2][2])
	}
	// The caller's rows are not modified.
	if req.Rows[0]["ordered_at"] != "2025-13-40" {
		t.Error("request rows were modified")
	}
}

func TestLoad_RowKeysMatchCaseInsensitively(t *testing.T) {
	st := newMemStore()
	req := ordersRequest(0)
	req.Rows = []Row{{"ORDER_ID": "A-9", "Ordered_At": "2025-07-14"}}

	if res := newTestService(st, Options{}).Load(context.Background(), req); !res.Success {
		t.Fatalf("load failed: %s", res.Message)
	}
	row := st.rows(stageOrders)[0]
	if row[0] != "A-9" {
		t.Errorf("order_id = %v", row[0])
	}
	if _, ok := row[2].(time.Time); !ok {
		t.Errorf("ordered_at = %#v", row[2])
	}
}

func TestLoad_CallerLoadedAtColumnReplaced(t *testing.T) {
	st := newMemStore()
	req := ordersRequest(1)
	req.Spec = append(append([]schema.ColumnSpec{}, ordersSpec...), schema.Column("Updated_At", "NVARCHAR(10)"))
	req.Rows[0]["Updated_At"] = "yesterday"

	if res := newTestService(st, Options{}).Load(context.Background(), req); !res.Success {
		t.Fatalf("load failed: %s", res.Message)
	}
	live, _ := st.Columns(context.Background(), stageOrders)
	if len(live) != 5 {
		t.Fatalf("table has %d columns, want 5", len(live))
	}
	last := live[4]
	if last.Name != LoadedAtColumn || last.Category != schema.DateTime {
		t.Errorf("last column = %+v", last)
	}
	if st.rows(stageOrders)[0][4] != testNow {
		t.Error("caller value overrode the loaded-at timestamp")
	}
}

func TestLoad_ExplicitSchema(t *testing.T) {
	st := newMemStore()
	req := ordersRequest(1)
	req.Table = store.Table{Schema: "finance", Name: "orders"}

	res := newTestService(st, Options{}).Load(context.Background(), req)
	if !res.Success || res.Table != "finance.orders" {
		t.Fatalf("result = %+v", res)
	}
	if !st.schemas["finance"] || st.schemas["stage"] {
		t.Errorf("schemas = %v", st.schemas)
	}
}

func TestLoad_LimiterBusy(t *testing.T) {
	st := newMemStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	st.insertHook = func() {
		once.Do(func() { close(entered) })
		<-release
	}
	svc := newTestService(st, Options{MaxConcurrent: 1, AcquireTimeout: 20 * time.Millisecond})

	done := make(chan LoadResult)
	go func() {
		done <- svc.Load(context.Background(), ordersRequest(1))
	}()
	<-entered

	req := ordersRequest(1)
	req.Table = store.Table{Name: "other"}
	busy := svc.Load(context.Background(), req)
	close(release)

	if busy.Success || busy.Code != "ERR501" {
		t.Errorf("busy result = %+v", busy)
	}
	if !strings.HasPrefix(busy.Message, "Load not started: ") {
		t.Errorf("Message = %q", busy.Message)
	}
	if first := <-done; !first.Success {
		t.Errorf("first load failed: %s", first.Message)
	}
	if svc.Limiter().ActiveCount() != 0 {
		t.Error("limiter slot leaked")
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := newMemStore()
	res := newTestService(st, Options{}).Load(ctx, ordersRequest(1))
	if res.Success || res.Code != "ERR502" {
		t.Fatalf("result = %+v", res)
	}
	if st.createCalls != 0 {
		t.Error("cancelled load reached the store")
	}
}

func TestLoad_SameTableSerialized(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Options{MaxConcurrent: 4})

	var wg sync.WaitGroup
	results := make([]LoadResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Load(context.Background(), ordersRequest(10))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if !res.Success {
			t.Errorf("load %d failed: %s", i, res.Message)
		}
	}
	if n := len(st.rows(stageOrders)); n != 10 {
		t.Errorf("stored %d rows, want 10 (each load truncates first)", n)
	}
	if st.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", st.createCalls)
	}
	if svc.locks.held() != 0 {
		t.Error("table lock entries leaked")
	}
}

func TestFormatCount(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		12000:    "12,000",
		1234567:  "1,234,567",
		-5000:    "-5,000",
		10000000: "10,000,000",
	}
	for n, want := range tests {
		if got := formatCount(n); got != want {
			t.Errorf("formatCount(%d) = %q, want %q", n, got, want)
		}
	}
}
