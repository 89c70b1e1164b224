package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rodaine/table"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/action"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// render prints rows under headers and drops the header line when
// NoHeaders is set.
func (f *TableFormatter) render(headers []any, rows [][]any) string {
	var buf bytes.Buffer
	tbl := table.New(headers...).WithWriter(&buf).WithPadding(2)
	for _, row := range rows {
		tbl.AddRow(row...)
	}
	tbl.Print()

	out := buf.String()
	if f.NoHeaders {
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			out = out[i+1:]
		}
	}
	return out
}

// FormatSession formats a single Session as a table row.
func (f *TableFormatter) FormatSession(s *v1alpha1.Session) (string, error) {
	return f.FormatSessionList([]*v1alpha1.Session{s})
}

// FormatSessionList formats a list of Sessions as a table.
func (f *TableFormatter) FormatSessionList(sessions []*v1alpha1.Session) (string, error) {
	if len(sessions) == 0 {
		return "No sessions found\n", nil
	}

	rows := make([][]any, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []any{
			s.UID,
			string(s.Spec.Mode),
			dash(s.Spec.Source),
			dash(s.Status.Machine),
			dash(string(s.Status.Phase)),
			age(s.CreationTimestamp),
		})
	}
	return f.render([]any{"ID", "MODE", "SOURCE", "MACHINE", "PHASE", "AGE"}, rows), nil
}

// FormatCloneList formats clones as a table.
func (f *TableFormatter) FormatCloneList(clones []Clone) (string, error) {
	if len(clones) == 0 {
		return "No clones found\n", nil
	}

	rows := make([][]any, 0, len(clones))
	for _, c := range clones {
		inUse := "no"
		if c.InUse {
			inUse = "yes"
		}
		rows = append(rows, []any{
			dash(c.Session.Status.Machine),
			dash(c.Session.Spec.Source),
			dash(c.Session.Spec.Snapshot),
			dash(c.State),
			inUse,
			age(c.Session.CreationTimestamp),
		})
	}
	return f.render([]any{"NAME", "SOURCE", "SNAPSHOT", "STATE", "IN USE", "AGE"}, rows), nil
}

// FormatResults formats isolated action results, one row per action.
func (f *TableFormatter) FormatResults(results []action.Result) (string, error) {
	if len(results) == 0 {
		return "No results\n", nil
	}

	rows := make([][]any, 0, len(results))
	for i, r := range results {
		detail := r.Error
		if r.Success {
			detail = "-"
			if r.Result != nil {
				detail = fmt.Sprintf("%v", r.Result)
			}
		}
		rows = append(rows, []any{i, r.Success, detail})
	}
	return f.render([]any{"#", "SUCCESS", "RESULT"}, rows), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func age(t v1alpha1.Time) string {
	if t.IsZero() {
		return "-"
	}
	return formatAge(time.Since(t.Time))
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	// Less than ~2 months (8 weeks)
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
