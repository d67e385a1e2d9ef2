package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/djsync/internal/model"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", ev.Step, ev.Do, ev.Ref, ev.ID)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " (%s)", ev.Error)
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// evaluate checks every assertion against the final state and returns the
// failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, result *Result) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.check(ctx, a, result); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) check(ctx context.Context, a Assertion, result *Result) error {
	var (
		lines []string
		err   error
	)
	switch a.Type {
	case AssertRequests:
		lines = result.Requests
	case AssertPending:
		lines, err = h.pendingLines(ctx)
	case AssertFailed:
		lines, err = h.failedLines(ctx)
	case AssertJournals:
		lines, err = h.journalLines(ctx)
	case AssertEntries:
		lines, err = h.entryLines(ctx, a.Journal)
	case AssertServerJournals:
		lines = recordLines(h.backend.Journals())
	case AssertServerEntries:
		var id model.ID
		id, err = h.store.ResolveID(ctx, h.refs[a.Journal])
		if err == nil {
			lines = recordLines(h.backend.Entries(id))
		}
	case AssertResolves:
		return h.checkResolves(ctx, a, result)
	case AssertState:
		if got := h.engine.State().String(); got != a.Value {
			return &AssertionError{Type: a.Type, Expected: a.Value, Actual: got, Trace: result.Trace}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", a.Type, err)
	}
	return compareLines(a, lines, result.Trace)
}

func (h *Harness) checkResolves(ctx context.Context, a Assertion, result *Result) error {
	got, err := h.store.ResolveID(ctx, h.refs[a.Ref])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", a.Ref, err)
	}
	if string(got) != a.Value {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s resolves to %s", a.Ref, a.Value),
			Actual:   fmt.Sprintf("%s resolves to %s", a.Ref, got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// compareLines checks an exact ordered list when Values is set, and the
// length when Count is set.
func compareLines(a Assertion, lines []string, trace []TraceEvent) error {
	if a.Count != nil && len(lines) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d items", *a.Count),
			Actual:   fmt.Sprintf("%d items: %q", len(lines), lines),
			Trace:    trace,
		}
	}
	if a.Values != nil && !slices.Equal(lines, a.Values) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%q", a.Values),
			Actual:   fmt.Sprintf("%q", lines),
			Trace:    trace,
		}
	}
	return nil
}

// pendingLines renders the queue in send order as "op kind id".
func (h *Harness) pendingLines(ctx context.Context) ([]string, error) {
	ms, err := h.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(ms))
	for _, m := range ms {
		lines = append(lines, mutationLine(m))
	}
	return lines, nil
}

// failedLines renders the failed list as "op kind id REASON".
func (h *Harness) failedLines(ctx context.Context) ([]string, error) {
	fs, err := h.store.Failed(ctx)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(fs))
	for _, f := range fs {
		lines = append(lines, mutationLine(f.Mutation)+" "+f.Reason)
	}
	return lines, nil
}

func (h *Harness) journalLines(ctx context.Context) ([]string, error) {
	js, err := h.store.Journals(ctx)
	if err != nil {
		return nil, err
	}
	return recordLines(js), nil
}

func (h *Harness) entryLines(ctx context.Context, ref string) ([]string, error) {
	id, err := h.store.ResolveID(ctx, h.refs[ref])
	if err != nil {
		return nil, err
	}
	es, err := h.store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	return recordLines(es), nil
}

func mutationLine(m model.Mutation) string {
	return fmt.Sprintf("%s %s %s", m.Op(), m.Kind(), m.AffectedID())
}

// recordLines renders records as "id label", sorted.
func recordLines[R model.Record](recs []R) []string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, string(r.RecordID())+" "+label(r))
	}
	slices.Sort(lines)
	return lines
}

func label(r model.Record) string {
	switch r := r.(type) {
	case model.Journal:
		return r.Title
	case model.Entry:
		return r.Description
	default:
		return ""
	}
}
