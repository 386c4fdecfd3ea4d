package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the label printed in reports.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status as its label in JSON reports.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText parses a label written by MarshalText.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	for _, st := range []CheckStatus{StatusPass, StatusWarn, StatusFail} {
		if strings.EqualFold(string(text), st.String()) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown check status %q", text)
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight checks.
type Checker struct {
	models  ModelProber
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithModels enables the embedding model checks.
func WithModels(m ModelProber) Option {
	return func(c *Checker) {
		c.models = m
	}
}

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the report writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against dataDir, creating it if needed.
func (c *Checker) RunAll(ctx context.Context, dataDir string) []CheckResult {
	results := []CheckResult{c.CheckWritePermissions(dataDir)}
	results = append(results, c.CheckDiskSpace(dataDir))
	results = append(results, c.CheckFileDescriptors())
	if c.models != nil {
		results = append(results, c.CheckModels(ctx)...)
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a plain text report.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "indexify system check")
	_, _ = fmt.Fprintln(c.output)

	var failures, warnings []string
	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
		switch {
		case r.IsCritical():
			failures = append(failures, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
	printList(c.output, "error(s)", failures)
	printList(c.output, "warning(s)", warnings)
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%d %s:\n", len(items), label)
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "  - %s\n", item)
	}
}

// CheckWritePermissions creates dir if needed and writes a probe file in it.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "data_dir",
		Required: true,
		Details:  dir,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create: %v", err)
		return result
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = "writable"
	return result
}
