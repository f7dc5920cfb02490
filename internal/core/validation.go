package core

// validation.go checks prepared cell values against their column
// specification. Failure Diagnostics uses it to re-scan rows after a
// terminal load failure; the rules match the ones a pre-load validation
// pass would apply:
//   - NUMERIC: the value must parse as the declared kind of number, and
//     integers must fit the width of their type
//   - DATETIME: the value must parse as a timestamp
//   - BOOLEAN: the value must be a recognised true/false spelling
//   - STRING: the value must fit the declared bounded capacity
//
// Nulls are always valid: every column the engine creates is nullable.

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/stageload/internal/schema"
)

// ValidationError represents a single invalid value.
type ValidationError struct {
	Field   string // Column name
	Row     int    // 1-based row position in the load request
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidateValue checks one value against col and returns nil if it can be
// stored. dayFirst only matters for textual dates.
func ValidateValue(v any, col schema.ColumnSpec, dayFirst bool) error {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if IsNullToken(x) {
			return nil
		}
	case sql.NullTime:
		if !x.Valid {
			return nil
		}
	}

	switch col.Category() {
	case schema.Numeric:
		return validateNumeric(v, col.Type)
	case schema.DateTime:
		t, ok := ParseTimestamp(v, dayFirst)
		if !ok {
			return fmt.Errorf("invalid date format")
		}
		if !InDateRange(t) {
			return fmt.Errorf("date outside %d-%d", MinDateYear, MaxDateYear)
		}
	case schema.Boolean:
		switch x := v.(type) {
		case bool:
		case string:
			if _, ok := ParseBool(CleanCell(x)); !ok {
				return fmt.Errorf("invalid boolean")
			}
		default:
			return fmt.Errorf("invalid boolean")
		}
	case schema.String:
		capacity := col.Capacity()
		if !capacity.Bounded() {
			return nil
		}
		if n := utf8.RuneCountInString(fmt.Sprint(v)); n > int(capacity) {
			return fmt.Errorf("length %d exceeds %d", n, capacity)
		}
	}
	return nil
}

func validateNumeric(v any, t schema.SQLType) error {
	switch x := v.(type) {
	case int64:
		return checkIntegerRange(x, t)
	case int:
		return checkIntegerRange(int64(x), t)
	case int32:
		return checkIntegerRange(int64(x), t)
	case float64:
		if !t.IsInteger() {
			return nil
		}
		if x != math.Trunc(x) {
			return fmt.Errorf("not a whole number")
		}
		if n, ok := ParseInt(strconv.FormatFloat(x, 'f', -1, 64)); ok {
			return checkIntegerRange(n, t)
		}
		return fmt.Errorf("out of range for %s", t.Base)
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		if x.NaN || x.InfinityModifier != pgtype.Finite {
			return fmt.Errorf("not a finite number")
		}
		return nil
	case string:
		s := CleanCell(x)
		if t.IsInteger() {
			n, ok := ParseInt(s)
			if !ok {
				return fmt.Errorf("invalid integer")
			}
			return checkIntegerRange(n, t)
		}
		if _, ok := ParseFloat(s); !ok {
			return fmt.Errorf("invalid number format")
		}
		return nil
	}
	return fmt.Errorf("invalid number format")
}

// checkIntegerRange reports n as an error when it overflows integer type t.
func checkIntegerRange(n int64, t schema.SQLType) error {
	lo, hi, ok := t.IntegerRange()
	if ok && (n < lo || n > hi) {
		return fmt.Errorf("%d out of range for %s", n, t.Base)
	}
	return nil
}
