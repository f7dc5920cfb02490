package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

func pipelineFixture(t *testing.T, n int) (*memStore, store.Table, []string, [][]any) {
	t.Helper()
	st := newMemStore()
	tbl := store.Table{Name: "t"}
	spec := []schema.ColumnSpec{schema.Column("id", "INT")}
	if err := st.CreateTable(context.Background(), tbl, spec); err != nil {
		t.Fatal(err)
	}
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1)}
	}
	return st, tbl, schema.Names(spec), rows
}

func TestPipeline_Tiers(t *testing.T) {
	tests := []struct {
		name       string
		rows       int
		wantTier   Tier
		wantInsert int
	}{
		{"below threshold", 5, TierSingle, 1},
		{"at threshold", 10, TierSingle, 1},
		{"above threshold", 11, TierChunked, 3},
		{"exact chunk multiple", 12, TierChunked, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, tbl, cols, rows := pipelineFixture(t, tt.rows)
			p := NewPipeline(st, PipelineConfig{ChunkThreshold: 10, ChunkSize: 4}, nil)

			c := p.run(context.Background(), tbl, cols, rows)

			if c.state != stateDone || c.err != nil {
				t.Fatalf("state = %s, err = %v", c.state, c.err)
			}
			if c.tier != tt.wantTier {
				t.Errorf("tier = %q, want %q", c.tier, tt.wantTier)
			}
			if c.committed != int64(tt.rows) {
				t.Errorf("committed = %d, want %d", c.committed, tt.rows)
			}
			if st.insertCalls != tt.wantInsert {
				t.Errorf("insertCalls = %d, want %d", st.insertCalls, tt.wantInsert)
			}
			if got := len(st.rows(tbl)); got != tt.rows {
				t.Errorf("stored %d rows, want %d", got, tt.rows)
			}
		})
	}
}

func TestPipeline_FirstChunkFails(t *testing.T) {
	st, tbl, cols, rows := pipelineFixture(t, 20)
	st.failInsert[1] = errInsertRejected
	p := NewPipeline(st, PipelineConfig{ChunkThreshold: 10, ChunkSize: 5}, nil)

	c := p.run(context.Background(), tbl, cols, rows)

	if c.state != stateFailed || c.partial() {
		t.Errorf("state = %s, partial = %v", c.state, c.partial())
	}
	if c.committed != 0 || !errors.Is(c.err, errInsertRejected) {
		t.Errorf("committed = %d, err = %v", c.committed, c.err)
	}
	if st.insertCalls != 1 {
		t.Errorf("insertCalls = %d, want 1", st.insertCalls)
	}
}

func TestPipeline_LaterChunkFails(t *testing.T) {
	st, tbl, cols, rows := pipelineFixture(t, 20)
	st.failInsert[3] = errInsertRejected
	p := NewPipeline(st, PipelineConfig{ChunkThreshold: 10, ChunkSize: 5}, nil)

	c := p.run(context.Background(), tbl, cols, rows)

	if !c.partial() || c.committed != 10 {
		t.Errorf("partial = %v, committed = %d", c.partial(), c.committed)
	}
	if want := "chunk rows 11-15: "; c.err == nil || !strings.HasPrefix(c.err.Error(), want) {
		t.Errorf("err = %v, want prefix %q", c.err, want)
	}
}

func TestPipeline_SingleShotIsAtomic(t *testing.T) {
	st, tbl, cols, rows := pipelineFixture(t, 5)
	st.failInsert[1] = errInsertRejected
	p := NewPipeline(st, PipelineConfig{}, nil)

	c := p.run(context.Background(), tbl, cols, rows)

	if c.state != stateFailed || c.tier != TierSingle || c.committed != 0 {
		t.Errorf("cascade = %+v", c)
	}
	if len(st.rows(tbl)) != 0 {
		t.Error("failed single-shot insert left rows behind")
	}
}

func TestPipeline_BulkCopyFallbackRunsChunked(t *testing.T) {
	st, tbl, cols, rows := pipelineFixture(t, 12)
	bs := &bulkStore{memStore: st, bulkErr: fmt.Errorf("%w: no bulk path", store.ErrBulkCopyUnavailable)}
	p := NewPipeline(bs, PipelineConfig{ChunkThreshold: 10, ChunkSize: 4, BulkCopy: true}, nil)

	c := p.run(context.Background(), tbl, cols, rows)

	if c.state != stateDone || c.tier != TierChunked || c.committed != 12 {
		t.Errorf("cascade = %+v", c)
	}
	if bs.bulkCalls != 1 || st.insertCalls != 3 {
		t.Errorf("bulk=%d insert=%d", bs.bulkCalls, st.insertCalls)
	}
}

func TestPipelineConfig_Defaults(t *testing.T) {
	c := PipelineConfig{}.withDefaults()
	if c.ChunkThreshold != DefaultChunkThreshold || c.ChunkSize != DefaultChunkSize || c.BulkCopy {
		t.Errorf("withDefaults() = %+v", c)
	}
}

func TestLoadState_String(t *testing.T) {
	tests := map[loadState]string{
		stateNotStarted:     "NOT_STARTED",
		stateTier1Attempted: "TIER_1_ATTEMPTED",
		stateTier2Attempted: "TIER_2_ATTEMPTED",
		stateTier3Attempted: "TIER_3_ATTEMPTED",
		stateDone:           "DONE",
		stateFailed:         "FAILED",
		loadState(42):       "loadState(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
