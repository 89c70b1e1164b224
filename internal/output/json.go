package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/action"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}

// FormatSession formats a single Session as JSON.
func (f *JSONFormatter) FormatSession(s *v1alpha1.Session) (string, error) {
	setDefaultTypeMeta(s)
	return marshalJSON(s, "session")
}

// FormatSessionList formats a list of Sessions as a JSON array.
func (f *JSONFormatter) FormatSessionList(sessions []*v1alpha1.Session) (string, error) {
	if len(sessions) == 0 {
		return "[]\n", nil
	}
	for _, s := range sessions {
		setDefaultTypeMeta(s)
	}
	return marshalJSON(sessions, "sessions")
}

// FormatSessionListAsItems formats a list of Sessions as a JSON object with
// an items array, in the Kubernetes List format:
//
//	{
//	  "apiVersion": "marionette.cofront.xyz/v1alpha1",
//	  "kind": "SessionList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatSessionListAsItems(sessions []*v1alpha1.Session) (string, error) {
	for _, s := range sessions {
		setDefaultTypeMeta(s)
	}
	if sessions == nil {
		sessions = []*v1alpha1.Session{}
	}

	wrapper := map[string]any{
		"apiVersion": v1alpha1.APIVersion(),
		"kind":       v1alpha1.SessionKind + "List",
		"items":      sessions,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(wrapper); err != nil {
		return "", fmt.Errorf("failed to marshal session list to JSON: %w", err)
	}
	return buf.String(), nil
}

// FormatCloneList formats clones as a JSON array.
func (f *JSONFormatter) FormatCloneList(clones []Clone) (string, error) {
	if len(clones) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(clones, "clones")
}

// FormatResults formats action results as a JSON array.
func (f *JSONFormatter) FormatResults(results []action.Result) (string, error) {
	if len(results) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(results, "results")
}
