package core

// convert.go turns loosely typed cell values into values the stores accept.
//
// These functions handle the messy reality of exported CSV data:
//   - Multiple date formats (ISO, day-first, month-first, named months)
//   - Currency symbols and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//   - Null spellings left behind by spreadsheets and dataframes
//
// Parse* functions report ok=false for empty or invalid input. Coerce keeps
// an unparseable value as its original string so the store rejects it and
// Failure Diagnostics can point at the column.

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/stageload/internal/schema"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// nullTokens are read as SQL NULL in every column.
var nullTokens = map[string]bool{
	"":     true,
	"nan":  true,
	"NaN":  true,
	"NULL": true,
	"null": true,
	"None": true,
}

// IsNullToken reports whether s spells a null value.
func IsNullToken(s string) bool {
	return nullTokens[strings.TrimSpace(s)]
}

var timeSuffixes = []string{"", " 15:04:05", " 15:04", " 3:04:05 PM", " 3:04 PM", "T15:04:05"}

// Timestamp layouts grouped by how unambiguous they are. Day and month
// layouts are tried in the order the caller prefers, then the other way
// round, so 25/12/2024 still parses with a month-first preference.
var (
	isoLayouts = withTimes([]string{
		"2006-1-2", "2006/1/2", "2006.1.2",
	}, time.RFC3339Nano, "20060102", "Jan 2, 2006", "January 2, 2006",
		"2 Jan 2006", "2 January 2006", "2-Jan-2006", "2-Jan-06")
	dayFirstLayouts   = withTimes([]string{"2/1/2006", "2-1-2006", "2.1.2006"})
	monthFirstLayouts = withTimes([]string{"1/2/2006", "1-2-2006", "1.2.2006"})

	dayFirstShortLayouts   = withTimes([]string{"2/1/06", "2-1-06", "2.1.06"})
	monthFirstShortLayouts = withTimes([]string{"1/2/06", "1-2-06", "1.2.06"})
)

// timeOfDayLayouts match values with no date part, as found in TIME
// columns.
var timeOfDayLayouts = []string{
	"15:04:05.999999999", "15:04", "3:04:05 PM", "3:04 PM", "3:04:05PM", "3:04PM",
}

// ClockBaseDate is the date given to a time of day with no date, the same
// one SQL Server uses when a TIME is cast to DATETIME.
var ClockBaseDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

func withTimes(dates []string, extra ...string) []string {
	out := make([]string, 0, len(dates)*len(timeSuffixes)+len(extra))
	for _, d := range dates {
		for _, suffix := range timeSuffixes {
			out = append(out, d+suffix)
		}
	}
	return append(out, extra...)
}

// ParseTimestamp reads v as a calendar timestamp. It accepts time values,
// sql.NullTime and strings in any of the supported layouts; dayFirst
// decides how 03/04/2025 is read.
func ParseTimestamp(v any, dayFirst bool) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case sql.NullTime:
		return x.Time, x.Valid
	case string:
		return parseTimestampString(x, dayFirst)
	case []byte:
		return parseTimestampString(string(x), dayFirst)
	}
	return parseTimestampString(fmt.Sprint(v), dayFirst)
}

func parseTimestampString(s string, dayFirst bool) (time.Time, bool) {
	s = CleanCell(s)
	if IsNullToken(s) {
		return time.Time{}, false
	}

	if t, ok := tryLayouts(s, isoLayouts); ok {
		return t, true
	}

	first, second := monthFirstLayouts, dayFirstLayouts
	if dayFirst {
		first, second = dayFirstLayouts, monthFirstLayouts
	}
	if t, ok := tryLayouts(s, first); ok {
		return t, true
	}
	if t, ok := tryLayouts(s, second); ok {
		return t, true
	}

	// 2-digit years with pivot adjustment
	first, second = monthFirstShortLayouts, dayFirstShortLayouts
	if dayFirst {
		first, second = dayFirstShortLayouts, monthFirstShortLayouts
	}
	t, ok := tryLayouts(s, first)
	if !ok {
		t, ok = tryLayouts(s, second)
	}
	if !ok {
		return parseTimeOfDay(s)
	}
	if t.Year() > time.Now().Year()+TwoDigitYearPivot {
		t = t.AddDate(-100, 0, 0)
	}
	return t, true
}

// parseTimeOfDay reads a bare clock time onto ClockBaseDate.
func parseTimeOfDay(s string) (time.Time, bool) {
	t, ok := tryLayouts(s, timeOfDayLayouts)
	if !ok {
		return time.Time{}, false
	}
	y, m, d := ClockBaseDate.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), true
}

func tryLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cleanNumber strips currency symbols and thousands separators and turns
// accounting negatives "(123.45)" into "-123.45". It reports false when
// the result is not a number.
func cleanNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return "", false
	}
	return s, true
}

// ToPgNumeric converts a string to pgtype.Numeric.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ToPgNumeric(s string) pgtype.Numeric {
	clean, ok := cleanNumber(s)
	if !ok {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(clean); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// ParseInt reads s as an integer. Integral floats such as "12.0" and
// "1e3" are accepted.
func ParseInt(s string) (int64, bool) {
	clean, ok := cleanNumber(s)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(clean, 10, 64)
	if err == nil {
		return n, true
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, false
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || f != math.Trunc(f) || f > 1<<63 || f < -(1<<63) {
		return 0, false
	}
	if math.Abs(f) < 1<<53 {
		return int64(f), true
	}

	// Above 2^53 the float is rounded; 2^63 and 2^63-1 share a float64.
	r, ok := new(big.Rat).SetString(clean)
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		return 0, false
	}
	return r.Num().Int64(), true
}

// ParseFloat reads s as a floating point number.
func ParseFloat(s string) (float64, bool) {
	clean, ok := cleanNumber(s)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseBool accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1", "1.0":
		return true, true
	case "false", "f", "no", "n", "0", "0.0":
		return false, true
	}
	return false, false
}

// Coerce converts a cell to the Go value stored in col. Null tokens become
// nil. Values that do not parse for a numeric or boolean column are
// returned as their cleaned string. String and date columns pass through
// unchanged; dates are the sanitizer's job.
func Coerce(v any, col schema.ColumnSpec) any {
	if v == nil {
		return nil
	}
	raw, isString := v.(string)
	if !isString {
		return v
	}
	if IsNullToken(raw) {
		return nil
	}

	s := CleanCell(raw)
	switch col.Category() {
	case schema.Numeric:
		switch {
		case col.Type.IsInteger():
			if n, ok := ParseInt(s); ok {
				return n
			}
		case col.Type.IsExact():
			if n := ToPgNumeric(s); n.Valid {
				return n
			}
		default:
			if f, ok := ParseFloat(s); ok {
				return f
			}
		}
	case schema.Boolean:
		if b, ok := ParseBool(s); ok {
			return b
		}
	default:
		return raw
	}
	return s
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}
