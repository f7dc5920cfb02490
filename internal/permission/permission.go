// Package permission verifies that the database login can perform every
// operation a load needs in a namespace. Callers run Check before a load and
// refuse to start when the report does not pass.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/stageload/internal/logging"
	"github.com/JonMunkholm/stageload/internal/store"
)

// ErrCheckFailed is wrapped by Report.Err when a privilege is missing.
var ErrCheckFailed = errors.New("permission check failed")

// Required lists, per dialect, the privileges a load needs. A store that
// does not report one of them fails the check for it. PostgreSQL tables are
// owned by the login that created them, so CREATE covers the rest there.
var Required = map[string][]string{
	"mssql":    {"CREATE TABLE", "ALTER", "INSERT", "DELETE"},
	"postgres": {"CREATE TABLE"},
}

func required(dialect string) []string {
	if r, ok := Required[dialect]; ok {
		return r
	}
	return []string{"CREATE TABLE"}
}

// Prober reports the privileges of the connected login.
type Prober interface {
	Dialect() string
	Privileges(ctx context.Context, namespace string) ([]store.Privilege, error)
}

// Result is one probed privilege.
type Result struct {
	Name    string `json:"name"`
	Granted bool   `json:"granted"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the outcome of Check.
type Report struct {
	Namespace string   `json:"namespace"`
	Dialect   string   `json:"dialect"`
	Passed    bool     `json:"passed"`
	Checks    []Result `json:"checks"`
}

// Missing returns the names of privileges that are not granted.
func (r Report) Missing() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Granted {
			out = append(out, c.Name)
		}
	}
	return out
}

// Err returns nil for a passing report.
func (r Report) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w for schema %s: missing %s", ErrCheckFailed, r.Namespace, strings.Join(r.Missing(), ", "))
}

// Text renders the report for an operator.
func (r Report) Text() string {
	var b strings.Builder
	status := "PASSED"
	if !r.Passed {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Permission check for schema %s (%s): %s\n", r.Namespace, r.Dialect, status)
	for _, c := range r.Checks {
		mark := "[OK]     "
		if !c.Granted {
			mark = "[MISSING]"
		}
		line := fmt.Sprintf("  %s %s", mark, c.Name)
		if c.Detail != "" {
			line += " (" + c.Detail + ")"
		}
		b.WriteString(line + "\n")
	}
	if missing := r.Missing(); len(missing) > 0 {
		fmt.Fprintf(&b, "Ask a DBA to grant: %s\n", strings.Join(missing, ", "))
	}
	return b.String()
}

// Check probes p for the privileges a load into namespace needs.
// An error means the probe itself failed, not that a privilege is missing.
func Check(ctx context.Context, p Prober, namespace string) (Report, error) {
	report := Report{Namespace: namespace, Dialect: p.Dialect()}

	privs, err := p.Privileges(ctx, namespace)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}

	seen := make(map[string]bool, len(privs))
	for _, pr := range privs {
		seen[strings.ToUpper(pr.Name)] = true
		report.Checks = append(report.Checks, Result{Name: pr.Name, Granted: pr.Granted, Detail: pr.Detail})
	}
	for _, name := range required(report.Dialect) {
		if !seen[name] {
			report.Checks = append(report.Checks, Result{Name: name, Detail: "not reported by the server"})
		}
	}

	report.Passed = len(report.Missing()) == 0
	logging.FromContext(ctx).Debug("permission check",
		"namespace", namespace, "passed", report.Passed, "missing", report.Missing())
	return report, nil
}
