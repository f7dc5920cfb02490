package schema

import (
	"math"
	"strings"
)

// Category is the semantic class of a column type.
type Category int

const (
	Other Category = iota
	Numeric
	DateTime
	Boolean
	String
)

func (c Category) String() string {
	switch c {
	case Numeric:
		return "NUMERIC"
	case DateTime:
		return "DATETIME"
	case Boolean:
		return "BOOLEAN"
	case String:
		return "STRING"
	default:
		return "OTHER"
	}
}

// Base names for SQL Server and PostgreSQL, plus the names used in dtype settings.
var baseCategories = map[string]Category{
	"TINYINT": Numeric, "SMALLINT": Numeric, "INT": Numeric, "INTEGER": Numeric,
	"BIGINT": Numeric, "INT2": Numeric, "INT4": Numeric, "INT8": Numeric,
	"FLOAT": Numeric, "FLOAT4": Numeric, "FLOAT8": Numeric, "REAL": Numeric,
	"DOUBLE PRECISION": Numeric, "DECIMAL": Numeric, "NUMERIC": Numeric,
	"MONEY": Numeric, "SMALLMONEY": Numeric,

	"DATE": DateTime, "DATETIME": DateTime, "DATETIME2": DateTime,
	"SMALLDATETIME": DateTime, "DATETIMEOFFSET": DateTime, "TIME": DateTime,
	"TIMESTAMP": DateTime, "TIMESTAMPTZ": DateTime,
	"TIMESTAMP WITHOUT TIME ZONE": DateTime, "TIMESTAMP WITH TIME ZONE": DateTime,
	"TIME WITHOUT TIME ZONE": DateTime, "TIME WITH TIME ZONE": DateTime,

	"BIT": Boolean, "BOOLEAN": Boolean, "BOOL": Boolean,

	"CHAR": String, "NCHAR": String, "VARCHAR": String, "NVARCHAR": String,
	"TEXT": String, "NTEXT": String, "CHARACTER": String,
	"CHARACTER VARYING": String, "BPCHAR": String, "CITEXT": String,
}

// Substring fallback for spellings not in the table, checked in order.
// DATETIME patterns come first so "TIMESTAMP" never falls through to a
// numeric match on "INT".
var categoryHints = []struct {
	needle string
	cat    Category
}{
	{"DATE", DateTime}, {"TIME", DateTime},
	{"BOOL", Boolean}, {"BIT", Boolean},
	{"CHAR", String}, {"TEXT", String},
	{"INT", Numeric}, {"FLOAT", Numeric}, {"DECIMAL", Numeric},
	{"NUMERIC", Numeric}, {"REAL", Numeric}, {"MONEY", Numeric}, {"DOUBLE", Numeric},
}

var unboundedBases = map[string]bool{
	"TEXT": true, "NTEXT": true, "CITEXT": true,
}

// Classify maps a type descriptor to its semantic category.
func Classify(t SQLType) Category {
	if c, ok := baseCategories[t.Base]; ok {
		return c
	}
	for _, h := range categoryHints {
		if strings.Contains(t.Base, h.needle) {
			return h.cat
		}
	}
	return Other
}

// ClassifyString is Classify over an unparsed type string.
func ClassifyString(raw string) Category { return Classify(ParseType(raw)) }

// CapacityOf returns the string capacity of t. Non-string types and bare
// string types without a length report Unknown; TEXT-like types report
// Unbounded.
func CapacityOf(t SQLType) Capacity {
	if Classify(t) != String {
		return Unknown
	}
	if t.Length != Unknown {
		return t.Length
	}
	if unboundedBases[t.Base] {
		return Unbounded
	}
	return Unknown
}

// integerWidth ranks integer types for strict numeric comparison.
func integerWidth(base string) int {
	switch base {
	case "TINYINT":
		return 1
	case "SMALLINT", "INT2":
		return 2
	case "INT", "INTEGER", "INT4":
		return 4
	case "BIGINT", "INT8":
		return 8
	}
	return 0
}

func isDecimal(base string) bool {
	return base == "DECIMAL" || base == "NUMERIC"
}

// IsInteger reports whether t is an integer type.
func (t SQLType) IsInteger() bool { return integerWidth(t.Base) > 0 }

// IntegerRange returns the smallest and largest value an integer type
// holds. TINYINT is unsigned, as in SQL Server.
func (t SQLType) IntegerRange() (lo, hi int64, ok bool) {
	switch integerWidth(t.Base) {
	case 1:
		return 0, math.MaxUint8, true
	case 2:
		return math.MinInt16, math.MaxInt16, true
	case 4:
		return math.MinInt32, math.MaxInt32, true
	case 8:
		return math.MinInt64, math.MaxInt64, true
	}
	return 0, 0, false
}

// IsExact reports whether t is a fixed-point type (DECIMAL, NUMERIC, MONEY).
func (t SQLType) IsExact() bool {
	return isDecimal(t.Base) || t.Base == "MONEY" || t.Base == "SMALLMONEY"
}
