// Package output provides formatters for displaying marionette sessions,
// clones and action results in various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/action"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format for declarative configs.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Clone is one clone domain found on the host, as listed by `marionette
// clones`.
type Clone struct {
	// Session is the clone metadata stored in the domain.
	Session *v1alpha1.Session `json:"session" yaml:"session"`
	State   string            `json:"state" yaml:"state"`
	InUse   bool              `json:"inUse" yaml:"inUse"`
}

// Formatter formats marionette resources for output.
type Formatter interface {
	// FormatSession formats a single Session resource.
	FormatSession(s *v1alpha1.Session) (string, error)

	// FormatSessionList formats a list of Session resources.
	FormatSessionList(sessions []*v1alpha1.Session) (string, error)

	// FormatCloneList formats the clones found on the host.
	FormatCloneList(clones []Clone) (string, error)

	// FormatResults formats the per-action results of an isolated batch.
	FormatResults(results []action.Result) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}

// setDefaultTypeMeta fills apiVersion and kind on sessions built by hand.
func setDefaultTypeMeta(s *v1alpha1.Session) {
	if s.APIVersion == "" {
		s.APIVersion = v1alpha1.APIVersion()
	}
	if s.Kind == "" {
		s.Kind = v1alpha1.SessionKind
	}
}
