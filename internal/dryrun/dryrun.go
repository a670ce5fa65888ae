// Package dryrun carries the --dry-run switch and renders previews of state
// changes that were skipped.
package dryrun

import (
	"context"
	"fmt"
	"io"
)

type contextKey struct{}

// WithDryRun marks ctx as a dry run.
func WithDryRun(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, contextKey{}, enabled)
}

// IsEnabled reports whether ctx is a dry run.
func IsEnabled(ctx context.Context) bool {
	v, _ := ctx.Value(contextKey{}).(bool)
	return v
}

// Field is one line of preview detail. Fields print in order.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Preview describes a change that would have been made.
type Preview struct {
	Action   string   `json:"action"`
	Target   string   `json:"target"`
	Fields   []Field  `json:"fields,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Add appends a detail line and returns p for chaining.
func (p *Preview) Add(name string, value any) *Preview {
	p.Fields = append(p.Fields, Field{Name: name, Value: value})
	return p
}

// Warn appends a warning and returns p for chaining.
func (p *Preview) Warn(format string, args ...any) *Preview {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
	return p
}

// Write renders the preview as text.
func (p *Preview) Write(w io.Writer) {
	_, _ = fmt.Fprintf(w, "[dry-run] would %s %s\n", p.Action, p.Target)
	for _, f := range p.Fields {
		_, _ = fmt.Fprintf(w, "  %s: %v\n", f.Name, f.Value)
	}
	for _, warning := range p.Warnings {
		_, _ = fmt.Fprintf(w, "  ! %s\n", warning)
	}
	_, _ = fmt.Fprintln(w, "nothing changed")
}
