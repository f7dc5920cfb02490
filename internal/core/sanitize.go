package core

import (
	"database/sql"
	"time"
)

// Representable year range of the narrowest supported destination type
// (SQL Server DATETIME).
const (
	MinDateYear = 1753
	MaxDateYear = 9999
)

// NullDate is the sentinel written for dates that are empty, unparseable
// or outside the representable range. Stores write it as NULL.
var NullDate = sql.NullTime{}

// InDateRange reports whether t fits the destination's date range.
func InDateRange(t time.Time) bool {
	y := t.Year()
	return y >= MinDateYear && y <= MaxDateYear
}

// SanitizeValue resolves one datetime cell to a time.Time or NullDate.
// It never fails.
func SanitizeValue(v any, dayFirst bool) any {
	t, ok := ParseTimestamp(v, dayFirst)
	if !ok || !InDateRange(t) {
		return NullDate
	}
	return t
}

// Sanitize returns rows with every datetime column resolved by
// SanitizeValue. Rows are copied before modification; the input is left
// untouched. The second result counts values replaced with NullDate that
// were not already null.
func Sanitize(rows []Row, datetimeColumns []string, dayFirst bool) ([]Row, int) {
	if len(datetimeColumns) == 0 {
		return rows, 0
	}

	out := make([]Row, len(rows))
	nulled := 0
	for i, r := range rows {
		clean := make(Row, len(r))
		for k, v := range r {
			clean[k] = v
		}
		for _, col := range datetimeColumns {
			v, ok := r[col]
			if !ok {
				continue
			}
			s := SanitizeValue(v, dayFirst)
			if s == NullDate && !isNullValue(v) {
				nulled++
			}
			clean[col] = s
		}
		out[i] = clean
	}
	return out, nulled
}

func isNullValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return IsNullToken(x)
	case sql.NullTime:
		return !x.Valid
	}
	return false
}
