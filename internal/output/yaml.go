package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/action"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatSession formats a single Session as YAML.
func (f *YAMLFormatter) FormatSession(s *v1alpha1.Session) (string, error) {
	setDefaultTypeMeta(s)

	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session to YAML: %w", err)
	}
	return string(data), nil
}

// FormatSessionList formats a list of Sessions as a YAML stream (multiple
// documents separated by ---).
func (f *YAMLFormatter) FormatSessionList(sessions []*v1alpha1.Session) (string, error) {
	if len(sessions) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for i, s := range sessions {
		setDefaultTypeMeta(s)

		data, err := yaml.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("failed to marshal session %s to YAML: %w", s.UID, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}

// FormatCloneList formats clones as a YAML list.
func (f *YAMLFormatter) FormatCloneList(clones []Clone) (string, error) {
	if len(clones) == 0 {
		return "", nil
	}
	data, err := yaml.Marshal(clones)
	if err != nil {
		return "", fmt.Errorf("failed to marshal clones to YAML: %w", err)
	}
	return string(data), nil
}

// FormatResults formats action results as a YAML list.
func (f *YAMLFormatter) FormatResults(results []action.Result) (string, error) {
	if len(results) == 0 {
		return "", nil
	}
	data, err := yaml.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to marshal results to YAML: %w", err)
	}
	return string(data), nil
}
