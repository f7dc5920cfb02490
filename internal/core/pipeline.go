package core

// pipeline.go writes prepared rows through the tier cascade:
//
//  1. bulk copy, when the store supports it and it is enabled
//  2. chunked batched insert, when the row count exceeds ChunkThreshold
//  3. single-shot insert
//
// Each tier runs only after the previous one failed or was unavailable.
// Chunks run in order and each commits on its own, so a chunk failure
// leaves exactly the earlier chunks in the table. That failure ends the
// cascade: falling through to a single-shot insert would load those rows
// twice.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/stageload/internal/logging"
	"github.com/JonMunkholm/stageload/internal/metrics"
	"github.com/JonMunkholm/stageload/internal/store"
)

// Default tier tuning.
const (
	DefaultChunkThreshold = 10000
	DefaultChunkSize      = 5000
)

// PipelineConfig tunes the cascade.
type PipelineConfig struct {
	ChunkThreshold int  // rows above which the chunked tier is used
	ChunkSize      int  // rows per chunk
	BulkCopy       bool // try the bulk-copy tier first
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = DefaultChunkThreshold
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	return c
}

// loadState tracks how far a cascade got.
type loadState int

const (
	stateNotStarted loadState = iota
	stateTier1Attempted
	stateTier2Attempted
	stateTier3Attempted
	stateDone
	stateFailed
)

func (s loadState) String() string {
	switch s {
	case stateNotStarted:
		return "NOT_STARTED"
	case stateTier1Attempted:
		return "TIER_1_ATTEMPTED"
	case stateTier2Attempted:
		return "TIER_2_ATTEMPTED"
	case stateTier3Attempted:
		return "TIER_3_ATTEMPTED"
	case stateDone:
		return "DONE"
	case stateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("loadState(%d)", int(s))
}

// cascade is the outcome of one pipeline run.
type cascade struct {
	state     loadState
	tier      Tier  // tier that finished (or failed last)
	committed int64 // rows committed, including partial chunk progress
	err       error
}

func (c cascade) partial() bool {
	return c.state == stateFailed && c.committed > 0
}

// Pipeline runs the tier cascade against a store.
type Pipeline struct {
	store   store.Store
	cfg     PipelineConfig
	metrics *metrics.Metrics
}

// NewPipeline returns a pipeline over st. m may be nil.
func NewPipeline(st store.Store, cfg PipelineConfig, m *metrics.Metrics) *Pipeline {
	return &Pipeline{store: st, cfg: cfg.withDefaults(), metrics: m}
}

func (p *Pipeline) run(ctx context.Context, t store.Table, columns []string, rows [][]any) cascade {
	logger := logging.FromContext(ctx)
	c := cascade{state: stateNotStarted}

	if copier, ok := p.store.(store.BulkCopier); ok && p.cfg.BulkCopy {
		c.state, c.tier = stateTier1Attempted, TierBulkCopy
		n, err := copier.BulkCopy(ctx, t, columns, rows)
		if err == nil {
			p.metrics.RecordTierAttempt(string(TierBulkCopy), metrics.OutcomeSuccess)
			c.state, c.committed = stateDone, n
			return c
		}
		if errors.Is(err, store.ErrBulkCopyUnavailable) {
			p.metrics.RecordTierAttempt(string(TierBulkCopy), metrics.OutcomeUnavailable)
			logger.Info("bulk copy unavailable, falling back", slog.Any("error", err))
		} else {
			p.metrics.RecordTierAttempt(string(TierBulkCopy), metrics.OutcomeFailure)
			logger.Warn("bulk copy failed, falling back", slog.Any("error", err))
		}
		c.err = err
	}

	if len(rows) > p.cfg.ChunkThreshold {
		c.state, c.tier = stateTier2Attempted, TierChunked
		committed, err := p.chunked(ctx, logger, t, columns, rows)
		c.committed = committed
		if err != nil {
			p.metrics.RecordTierAttempt(string(TierChunked), metrics.OutcomeFailure)
			c.state, c.err = stateFailed, err
			return c
		}
		p.metrics.RecordTierAttempt(string(TierChunked), metrics.OutcomeSuccess)
		c.state, c.err = stateDone, nil
		return c
	}

	c.state, c.tier = stateTier3Attempted, TierSingle
	n, err := p.store.InsertRows(ctx, t, columns, rows)
	if err != nil {
		p.metrics.RecordTierAttempt(string(TierSingle), metrics.OutcomeFailure)
		c.state, c.err = stateFailed, err
		return c
	}
	p.metrics.RecordTierAttempt(string(TierSingle), metrics.OutcomeSuccess)
	c.state, c.committed, c.err = stateDone, n, nil
	return c
}

// chunked inserts rows ChunkSize at a time, stopping at the first failed
// chunk. It returns the rows committed so far.
func (p *Pipeline) chunked(ctx context.Context, logger *slog.Logger, t store.Table, columns []string, rows [][]any) (int64, error) {
	var committed int64
	total := len(rows)
	for start := 0; start < total; start += p.cfg.ChunkSize {
		end := min(start+p.cfg.ChunkSize, total)
		n, err := p.store.InsertRows(ctx, t, columns, rows[start:end])
		if err != nil {
			return committed, fmt.Errorf("chunk rows %d-%d: %w", start+1, end, err)
		}
		committed += n
		logger.Debug("chunk committed", "rows", end, "total", total)
	}
	return committed, nil
}
