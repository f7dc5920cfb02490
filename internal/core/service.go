package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/stageload/internal/logging"
	"github.com/JonMunkholm/stageload/internal/metrics"
	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// Options configures a Service.
type Options struct {
	Pipeline    PipelineConfig
	Diagnostics DiagnosticLimits
	Reconcile   schema.Options

	// DefaultNamespace is used for requests whose table has no schema.
	DefaultNamespace string

	MaxConcurrent  int
	AcquireTimeout time.Duration

	// Timeout bounds one Load call; zero means no limit.
	Timeout time.Duration

	// HistorySize is the number of results kept for History.
	HistorySize int
}

// Service runs load calls against one store.
type Service struct {
	store     store.Store
	lifecycle *Lifecycle
	pipeline  *Pipeline
	limiter   *LoadLimiter
	locks     *tableLocks
	history   *History
	metrics   *metrics.Metrics
	opts      Options

	now func() time.Time
}

// NewService creates a Service. m may be nil.
func NewService(st store.Store, opts Options, m *metrics.Metrics) *Service {
	opts.Diagnostics = opts.Diagnostics.withDefaults()
	return &Service{
		store:     st,
		lifecycle: NewLifecycle(st),
		pipeline:  NewPipeline(st, opts.Pipeline, m),
		limiter:   NewLoadLimiter(opts.MaxConcurrent, opts.AcquireTimeout),
		locks:     newTableLocks(),
		history:   NewHistory(opts.HistorySize),
		metrics:   m,
		opts:      opts,
		now:       time.Now,
	}
}

// Store returns the destination store.
func (s *Service) Store() store.Store { return s.store }

// Limiter returns the load limiter, for status and graceful shutdown.
func (s *Service) Limiter() *LoadLimiter { return s.limiter }

// History returns the recent load results.
func (s *Service) History() *History { return s.history }

// Load reconciles the destination table with req.Spec, prepares it, and
// writes req.Rows through the tier cascade. It never returns an error:
// every failure is reported in the result message.
func (s *Service) Load(ctx context.Context, req LoadRequest) LoadResult {
	start := s.now()
	if req.Table.Schema == "" {
		req.Table.Schema = s.opts.DefaultNamespace
	}

	result := LoadResult{
		LoadID:    uuid.New().String(),
		Table:     req.Table.String(),
		Source:    req.Source,
		StartedAt: start,
	}
	ctx = logging.WithLoad(ctx, result.LoadID, result.Table)
	logger := logging.FromContext(ctx)
	if o := OriginFrom(ctx); o.IP != "" {
		logger = logger.With("client_ip", o.IP)
	}

	s.metrics.LoadStarted()
	defer s.metrics.LoadFinished()

	finish := func(r LoadResult) LoadResult {
		r.Duration = s.now().Sub(start)
		tier := string(r.Tier)
		if !r.Success {
			tier = "failed"
		} else if tier == "" {
			tier = "none"
		}
		s.metrics.ObserveLoad(tier, r.Duration)
		if r.Success {
			s.metrics.RecordRowsLoaded(r.Table, r.RowsAffected)
			logger.Info("load complete", "rows", r.RowsAffected, "tier", r.Tier, "verdict", r.Verdict, "duration", r.Duration)
		} else {
			logger.Error("load failed", "tier", r.Tier, "verdict", r.Verdict, "rows_committed", r.RowsAffected, "message", r.Message)
		}
		s.history.Add(r)
		return r
	}

	if err := validateRequest(req); err != nil {
		result.Message = "Invalid load request: " + err.Error()
		return finish(result)
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		result.Message, result.Code = stageFailure("Load not started", err)
		return finish(result)
	}
	defer s.limiter.Release()

	unlock, err := s.locks.lock(ctx, result.Table)
	if err != nil {
		result.Message, result.Code = stageFailure("Load not started", err)
		return finish(result)
	}
	defer unlock()

	logger.Info("load started", "rows", req.RowCount(), "source", req.Source, "recreate", req.ForceRecreate, "append", req.Append)

	expected := withLoadedAt(req.Spec)

	// Reconciliation strictly precedes any write.
	if err := s.lifecycle.EnsureNamespace(ctx, req.Table.Schema); err != nil {
		result.Message, result.Code = stageFailure("Schema setup failed", err)
		return finish(result)
	}
	live, err := s.lifecycle.Snapshot(ctx, req.Table)
	if err != nil {
		result.Message, result.Code = stageFailure("Reading table definition failed", err)
		return finish(result)
	}
	verdict := schema.Reconcile(expected, live, req.ForceRecreate, s.opts.Reconcile)
	result.Verdict = verdict.String()
	s.metrics.RecordVerdict(verdict.Kind.String())
	logger.Info("schema reconciled", "verdict", verdict.String(), "reason", verdict.Reason())

	var action string
	switch {
	case verdict.NeedsRecreate():
		if err := s.lifecycle.Recreate(ctx, req.Table, expected); err != nil {
			result.Message, result.Code = stageFailure("Table rebuild failed", err)
			return finish(result)
		}
		if narrow := s.lifecycle.FixStringCapacities(ctx, req.Table, expected); narrow > 0 {
			logger.Warn("some unbounded text columns remain bounded", "columns", narrow)
		}
		action = "table recreated: " + verdict.Reason()
	case req.Append:
		action = "appended to existing table"
	default:
		if err := s.lifecycle.Truncate(ctx, req.Table); err != nil {
			result.Message, result.Code = stageFailure("Clearing table failed", err)
			return finish(result)
		}
		action = "existing table truncated and reused"
	}

	// Sanitization strictly precedes the cascade.
	columns, rows, nulled := s.prepare(req, expected)
	if nulled > 0 {
		logger.Info("dates replaced with null", "values", nulled)
	}

	if len(rows) == 0 {
		result.Success = true
		result.Message = fmt.Sprintf("Upload successful -> %s: no rows to load (%s)", result.Table, action)
		return finish(result)
	}

	c := s.pipeline.run(ctx, req.Table, columns, rows)
	result.Tier = c.tier
	result.RowsAffected = c.committed
	logger.Debug("cascade finished", "state", c.state.String())

	if c.state == stateDone {
		result.Success = true
		result.Message = fmt.Sprintf("Upload successful -> %s: %s rows via %s (%s)",
			result.Table, formatCount(c.committed), tierLabel(c.tier), action)
		return finish(result)
	}

	report := Diagnose(c.err, rows, expected, req.DayFirst, s.opts.Diagnostics)
	result.Code = report.Code
	result.Partial = c.partial()
	msg := report.Text()
	if result.Partial {
		msg += fmt.Sprintf("\nRows committed before failure: %s of %s", formatCount(c.committed), formatCount(int64(len(rows))))
	}
	result.Message = msg
	return finish(result)
}

// prepare projects rows onto the expected columns: extra source columns
// are dropped, dates are sanitized, other values coerced, and the
// loaded-at column is stamped.
func (s *Service) prepare(req LoadRequest, expected []schema.ColumnSpec) ([]string, [][]any, int) {
	var dateCols []string
	for _, col := range req.Spec {
		if col.Category() == schema.DateTime {
			dateCols = append(dateCols, col.Name)
		}
	}
	sanitized, nulled := Sanitize(req.Rows, dateCols, req.DayFirst)

	columns := schema.Names(expected)
	loadedAt := s.now().Truncate(time.Millisecond)
	out := make([][]any, 0, len(sanitized))
	for _, r := range sanitized {
		vals := make([]any, len(expected))
		for i, col := range expected {
			switch {
			case col.Name == LoadedAtColumn:
				vals[i] = loadedAt
			case col.Category() == schema.DateTime:
				// Already sanitized unless the row key differs in case.
				vals[i] = SanitizeValue(lookup(r, col.Name), req.DayFirst)
			default:
				vals[i] = Coerce(lookup(r, col.Name), col)
			}
		}
		out = append(out, vals)
	}
	return columns, out, nulled
}

// lookup finds name in r, falling back to a case-insensitive match.
func lookup(r Row, name string) any {
	if v, ok := r[name]; ok {
		return v
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// withLoadedAt returns spec with the system loaded-at column appended.
// A caller-declared column of the same name is replaced.
func withLoadedAt(spec []schema.ColumnSpec) []schema.ColumnSpec {
	out := make([]schema.ColumnSpec, 0, len(spec)+1)
	for _, c := range spec {
		if strings.EqualFold(c.Name, LoadedAtColumn) {
			continue
		}
		out = append(out, c)
	}
	return append(out, loadedAtSpec)
}

func validateRequest(req LoadRequest) error {
	if strings.TrimSpace(req.Table.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(req.Spec) == 0 {
		return fmt.Errorf("column specification is empty")
	}
	seen := make(map[string]bool, len(req.Spec))
	for _, c := range req.Spec {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if key == "" {
			return fmt.Errorf("column specification has an empty name")
		}
		if seen[key] {
			return fmt.Errorf("column %q declared twice", c.Name)
		}
		seen[key] = true
	}
	return nil
}

// stageFailure formats a failure before the cascade started.
func stageFailure(stage string, err error) (string, string) {
	msg := MapError(err)
	if msg.Code == defaultMessage.Code {
		return fmt.Sprintf("%s: %s", stage, CondenseError(err)), msg.Code
	}
	return fmt.Sprintf("%s: %s (Code: %s). %s", stage, CondenseError(err), msg.Code, msg.Action), msg.Code
}

func tierLabel(t Tier) string {
	switch t {
	case TierBulkCopy:
		return "bulk copy"
	case TierChunked:
		return "chunked insert"
	case TierSingle:
		return "single insert"
	}
	return string(t)
}

// formatCount renders n with thousands separators.
func formatCount(n int64) string {
	s := fmt.Sprint(n)
	if n < 0 {
		return "-" + formatCount(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
