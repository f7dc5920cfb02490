package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/JonMunkholm/stageload/internal/schema"
)

// Default limits of the column scan.
const (
	DefaultDiagnosticColumns  = 5
	DefaultDiagnosticExamples = 3
)

// maxExampleLen truncates example values in reports.
const maxExampleLen = 50

// payloadMarkers start raw statement or parameter dumps inside driver
// messages; everything from the first marker on is dropped.
var payloadMarkers = []string{"[SQL:", "[parameters:"}

// DiagnosticLimits bounds the column scan.
type DiagnosticLimits struct {
	Columns  int // columns reported at most
	Examples int // example values per column
}

func (l DiagnosticLimits) withDefaults() DiagnosticLimits {
	if l.Columns <= 0 {
		l.Columns = DefaultDiagnosticColumns
	}
	if l.Examples <= 0 {
		l.Examples = DefaultDiagnosticExamples
	}
	return l
}

// Example is one offending value and its 1-based row position.
type Example struct {
	Row   int    `json:"row"`
	Value string `json:"value"`
}

// ColumnFinding is a column whose values fail their declared type.
type ColumnFinding struct {
	Column       string    `json:"column"`
	Expected     string    `json:"expected"`
	InvalidCount int       `json:"invalidCount"`
	Examples     []Example `json:"examples"`
}

// DiagnosticReport explains a terminal load failure. Findings are a
// possible cause found by re-validating the rows; they are not derived
// from the driver error.
type DiagnosticReport struct {
	Cause    string          `json:"cause"`
	Code     string          `json:"code"`
	Action   string          `json:"action"`
	Findings []ColumnFinding `json:"findings,omitempty"`
}

// Text renders the report as an operator message.
func (r DiagnosticReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database error: %s", r.Cause)
	if r.Code != "" && r.Code != defaultMessage.Code {
		fmt.Fprintf(&b, " (Code: %s). %s", r.Code, r.Action)
	}
	if len(r.Findings) == 0 {
		return b.String()
	}
	b.WriteString("\nPossible cause, likely problematic columns (partial):")
	for _, f := range r.Findings {
		values := make([]string, len(f.Examples))
		for i, ex := range f.Examples {
			values[i] = fmt.Sprintf("row %d: %q", ex.Row, ex.Value)
		}
		fmt.Fprintf(&b, "\n- %s (expected %s) invalid %d rows. Examples: [%s]",
			f.Column, f.Expected, f.InvalidCount, strings.Join(values, ", "))
	}
	return b.String()
}

// Diagnose condenses err and scans rows for values that do not fit spec.
// rows are positional against spec; extra trailing values are ignored.
// It never panics on malformed input.
func Diagnose(err error, rows [][]any, spec []schema.ColumnSpec, dayFirst bool, limits DiagnosticLimits) DiagnosticReport {
	msg := MapError(err)
	return DiagnosticReport{
		Cause:    CondenseError(err),
		Code:     msg.Code,
		Action:   msg.Action,
		Findings: ScanColumns(rows, spec, dayFirst, limits),
	}
}

// CondenseError extracts the innermost driver message from err, drops any
// embedded statement or parameter dump and keeps the first line.
func CondenseError(err error) string {
	if err == nil {
		return ""
	}

	text := err.Error()
	var pgErr *pgconn.PgError
	var msErr mssql.Error
	switch {
	case errors.As(err, &pgErr):
		text = pgErr.Message
		if pgErr.Detail != "" {
			text += ": " + pgErr.Detail
		}
	case errors.As(err, &msErr):
		text = msErr.Message
	}

	for _, marker := range payloadMarkers {
		if i := strings.Index(text, marker); i >= 0 {
			text = text[:i]
		}
	}
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "unknown error"
	}
	return text
}

// ScanColumns re-validates rows column by column in spec order and reports
// at most limits.Columns failing columns with up to limits.Examples
// offending values each.
func ScanColumns(rows [][]any, spec []schema.ColumnSpec, dayFirst bool, limits DiagnosticLimits) []ColumnFinding {
	limits = limits.withDefaults()

	var findings []ColumnFinding
	for i, col := range spec {
		f := ColumnFinding{Column: col.Name, Expected: expectedLabel(col)}
		for r, row := range rows {
			if i >= len(row) {
				continue
			}
			if ValidateValue(row[i], col, dayFirst) == nil {
				continue
			}
			f.InvalidCount++
			if len(f.Examples) < limits.Examples {
				f.Examples = append(f.Examples, Example{Row: r + 1, Value: exampleText(row[i])})
			}
		}
		if f.InvalidCount == 0 {
			continue
		}
		findings = append(findings, f)
		if len(findings) >= limits.Columns {
			break
		}
	}
	return findings
}

func expectedLabel(col schema.ColumnSpec) string {
	if col.Type.Raw != "" {
		return strings.ToUpper(strings.TrimSpace(col.Type.Raw))
	}
	return col.Category().String()
}

func exampleText(v any) string {
	s := fmt.Sprint(v)
	if r := []rune(s); len(r) > maxExampleLen {
		return string(r[:maxExampleLen]) + "..."
	}
	return s
}
