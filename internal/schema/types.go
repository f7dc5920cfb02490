// Package schema classifies column types into semantic categories and
// reconciles an expected column specification against a live table.
//
// Everything here is pure: no I/O, no logging, no shared state. The stores
// in internal/store produce LiveColumn snapshots, the settings package
// produces ColumnSpec lists, and Reconcile decides whether a table can be
// reused or must be rebuilt.
package schema

import (
	"math"
	"strconv"
	"strings"
)

// Capacity is the character capacity of a string column.
type Capacity int

const (
	// Unknown means the capacity could not be determined (bare type, malformed suffix).
	Unknown Capacity = -1
	// Unbounded is the capacity of MAX/TEXT style columns.
	Unbounded Capacity = math.MaxInt32
)

// Bounded reports whether c is a concrete, finite length.
func (c Capacity) Bounded() bool {
	return c >= 0 && c != Unbounded
}

func (c Capacity) String() string {
	switch c {
	case Unknown:
		return "UNKNOWN"
	case Unbounded:
		return "MAX"
	default:
		return strconv.Itoa(int(c))
	}
}

// SQLType is a parsed type descriptor such as NVARCHAR(255) or DECIMAL(18,2).
// Expected types from settings and live types from the catalog are both
// parsed into this form so they classify identically.
type SQLType struct {
	Raw       string
	Base      string   // upper-cased name without arguments, e.g. "NVARCHAR"
	Length    Capacity // from (n) or (MAX); Unknown when absent or malformed
	Precision int      // from (p,s); 0 when absent
	Scale     int
}

// ParseType parses a type descriptor. It never fails: anything it cannot
// make sense of yields Unknown facets.
func ParseType(raw string) SQLType {
	t := SQLType{Raw: raw, Length: Unknown}
	s := strings.ToUpper(strings.TrimSpace(raw))

	open := strings.IndexByte(s, '(')
	if open < 0 {
		t.Base = collapseSpaces(s)
		return t
	}

	closing := strings.IndexByte(s[open:], ')')
	if closing < 0 {
		t.Base = collapseSpaces(s[:open])
		return t
	}
	closing += open

	// "timestamp(3) without time zone" keeps the words after the arguments.
	t.Base = collapseSpaces(s[:open] + " " + s[closing+1:])

	args := strings.Split(s[open+1:closing], ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}

	switch len(args) {
	case 1:
		if args[0] == "MAX" {
			t.Length = Unbounded
			break
		}
		if n, err := strconv.Atoi(args[0]); err == nil && n >= 0 {
			t.Length = Capacity(n)
			t.Precision = n
		}
	case 2:
		p, perr := strconv.Atoi(args[0])
		sc, serr := strconv.Atoi(args[1])
		if perr == nil && serr == nil && p >= 0 && sc >= 0 {
			t.Precision, t.Scale = p, sc
		}
	}
	return t
}

func (t SQLType) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	return t.Base
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ColumnSpec is one expected column.
type ColumnSpec struct {
	Name     string
	Type     SQLType
	Required bool
}

// Column builds a required ColumnSpec from a type descriptor string.
func Column(name, typ string) ColumnSpec {
	return ColumnSpec{Name: name, Type: ParseType(typ), Required: true}
}

// Category returns the semantic category of the column's type.
func (c ColumnSpec) Category() Category { return Classify(c.Type) }

// Capacity returns the declared string capacity.
func (c ColumnSpec) Capacity() Capacity { return CapacityOf(c.Type) }

// LiveColumn is a snapshot of one column of an existing table.
type LiveColumn struct {
	Name     string
	RawType  string
	Type     SQLType
	Category Category
	Capacity Capacity
}

// NewLiveColumn derives the classification of a catalog type string.
func NewLiveColumn(name, rawType string) LiveColumn {
	t := ParseType(rawType)
	return LiveColumn{
		Name:     name,
		RawType:  rawType,
		Type:     t,
		Category: Classify(t),
		Capacity: CapacityOf(t),
	}
}

// Names returns the column names of specs in declared order.
func Names(specs []ColumnSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

// Find returns the spec named name, matched case-insensitively.
func Find(specs []ColumnSpec, name string) (ColumnSpec, bool) {
	for _, s := range specs {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return ColumnSpec{}, false
}
