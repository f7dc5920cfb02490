package schema

import (
	"fmt"
	"sort"
	"strings"
)

// VerdictKind is the outcome of comparing an expected spec with a live table.
type VerdictKind int

const (
	Match VerdictKind = iota
	TableAbsent
	ColumnSetMismatch
	TypeCategoryMismatch
	CapacityTooSmall
	PrecisionTooSmall
)

func (k VerdictKind) String() string {
	switch k {
	case Match:
		return "MATCH"
	case TableAbsent:
		return "TABLE_ABSENT"
	case ColumnSetMismatch:
		return "COLUMN_SET_MISMATCH"
	case TypeCategoryMismatch:
		return "TYPE_CATEGORY_MISMATCH"
	case CapacityTooSmall:
		return "CAPACITY_TOO_SMALL"
	case PrecisionTooSmall:
		return "PRECISION_TOO_SMALL"
	default:
		return fmt.Sprintf("VerdictKind(%d)", int(k))
	}
}

// Verdict is the single reason Reconcile settled on.
type Verdict struct {
	Kind   VerdictKind
	Column string // set for per-column verdicts

	Expected string // expected type or capacity, for messages
	Live     string

	Missing []string // expected columns absent from the table
	Extra   []string // table columns not expected

	Forced bool // TableAbsent because the caller asked for a rebuild
}

// NeedsRecreate reports whether the table has to be dropped and rebuilt.
func (v Verdict) NeedsRecreate() bool { return v.Kind != Match }

func (v Verdict) String() string {
	if v.Column != "" {
		return fmt.Sprintf("%s(%s)", v.Kind, v.Column)
	}
	return v.Kind.String()
}

// Reason is a one-line operator explanation of the verdict.
func (v Verdict) Reason() string {
	switch v.Kind {
	case Match:
		return "table matches the column specification"
	case TableAbsent:
		if v.Forced {
			return "recreate requested"
		}
		return "table does not exist"
	case ColumnSetMismatch:
		var parts []string
		if len(v.Missing) > 0 {
			parts = append(parts, "missing "+strings.Join(v.Missing, ", "))
		}
		if len(v.Extra) > 0 {
			parts = append(parts, "unexpected "+strings.Join(v.Extra, ", "))
		}
		return "column set differs: " + strings.Join(parts, "; ")
	case TypeCategoryMismatch:
		return fmt.Sprintf("column %s is %s, expected %s", v.Column, v.Live, v.Expected)
	case CapacityTooSmall:
		return fmt.Sprintf("column %s holds %s characters, expected %s", v.Column, v.Live, v.Expected)
	case PrecisionTooSmall:
		return fmt.Sprintf("column %s is %s, narrower than %s", v.Column, v.Live, v.Expected)
	}
	return v.String()
}

// Options tune Reconcile.
type Options struct {
	// StrictNumeric flags live DECIMAL/NUMERIC columns with smaller precision
	// or scale, and integer columns narrower than declared.
	StrictNumeric bool
}

// Reconcile compares expected against live and returns the first problem
// found, or Match. A nil live slice means the table does not exist.
//
// Column names compare case-insensitively. Per-column checks walk expected
// in declared order and stop at the first mismatch, so the result is a pure
// function of its inputs.
func Reconcile(expected []ColumnSpec, live []LiveColumn, forceRecreate bool, opts Options) Verdict {
	if live == nil {
		return Verdict{Kind: TableAbsent}
	}
	if forceRecreate {
		return Verdict{Kind: TableAbsent, Forced: true}
	}

	byName := make(map[string]LiveColumn, len(live))
	for _, c := range live {
		byName[strings.ToLower(c.Name)] = c
	}

	var missing []string
	wanted := make(map[string]bool, len(expected))
	for _, spec := range expected {
		key := strings.ToLower(spec.Name)
		wanted[key] = true
		if _, ok := byName[key]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	var extra []string
	for _, c := range live {
		if !wanted[strings.ToLower(c.Name)] {
			extra = append(extra, c.Name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return Verdict{Kind: ColumnSetMismatch, Missing: missing, Extra: extra}
	}

	for _, spec := range expected {
		lc := byName[strings.ToLower(spec.Name)]
		if v, bad := compareColumn(spec, lc, opts); bad {
			return v
		}
	}

	return Verdict{Kind: Match}
}

func compareColumn(spec ColumnSpec, lc LiveColumn, opts Options) (Verdict, bool) {
	want := Classify(spec.Type)
	if want != lc.Category {
		return Verdict{
			Kind:     TypeCategoryMismatch,
			Column:   spec.Name,
			Expected: want.String(),
			Live:     lc.Category.String(),
		}, true
	}

	switch want {
	case String:
		wantCap := CapacityOf(spec.Type)
		// Unknown on either side skips the check. An unbounded expectation
		// against a bounded column is too small.
		if wantCap == Unknown || lc.Capacity == Unknown || lc.Capacity == Unbounded {
			return Verdict{}, false
		}
		if lc.Capacity < wantCap {
			return Verdict{
				Kind:     CapacityTooSmall,
				Column:   spec.Name,
				Expected: wantCap.String(),
				Live:     lc.Capacity.String(),
			}, true
		}
	case Numeric:
		if opts.StrictNumeric && numericNarrower(spec.Type, lc.Type) {
			return Verdict{
				Kind:     PrecisionTooSmall,
				Column:   spec.Name,
				Expected: spec.Type.String(),
				Live:     lc.RawType,
			}, true
		}
	}
	return Verdict{}, false
}

func numericNarrower(want, live SQLType) bool {
	if isDecimal(want.Base) && isDecimal(live.Base) {
		if want.Precision == 0 || live.Precision == 0 {
			return false
		}
		wantInt := want.Precision - want.Scale
		liveInt := live.Precision - live.Scale
		return liveInt < wantInt || live.Scale < want.Scale
	}
	if isDecimal(want.Base) && want.Scale > 0 && integerWidth(live.Base) > 0 {
		return true
	}
	ww, lw := integerWidth(want.Base), integerWidth(live.Base)
	return ww > 0 && lw > 0 && lw < ww
}
