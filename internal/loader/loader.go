// Package loader provides functions for loading ActionBatch resources from
// YAML files.
package loader

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/action"
	"github.com/jbweber/marionette/internal/keyboard"
)

// LoadFromFile loads an ActionBatch from a YAML file, or from standard input
// when path is "-". Batches that name no layout get defaultLayout.
func LoadFromFile(path, defaultLayout string) (*v1alpha1.ActionBatch, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadFromYAML(data, defaultLayout)
}

// LoadFromYAML loads an ActionBatch from YAML bytes. apiVersion and kind may
// be omitted; when present they must be marionette.cofront.xyz/v1alpha1 and
// ActionBatch.
func LoadFromYAML(data []byte, defaultLayout string) (*v1alpha1.ActionBatch, error) {
	var b v1alpha1.ActionBatch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if b.APIVersion != "" && b.APIVersion != v1alpha1.APIVersion() {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", b.APIVersion, v1alpha1.APIVersion())
	}
	if b.Kind != "" && b.Kind != v1alpha1.ActionBatchKind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", b.Kind, v1alpha1.ActionBatchKind)
	}

	b.Normalize()
	if b.Spec.Layout == "" {
		b.Spec.Layout = defaultLayout
	}
	b.SetDefaults()

	if err := validateSpec(&b); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &b, nil
}

// validateSpec checks the target selection, the layout and, for strict
// batches, every action. Isolated batches report bad entries per action at
// run time instead.
func validateSpec(b *v1alpha1.ActionBatch) error {
	spec := &b.Spec

	if spec.Connect == "" && spec.Clone == "" {
		return fmt.Errorf("spec must set either 'connect' or 'clone'")
	}
	if spec.Connect != "" && spec.Clone != "" {
		return fmt.Errorf("spec cannot set both 'connect' and 'clone'")
	}
	if spec.Snapshot != "" && spec.Clone == "" {
		return fmt.Errorf("spec.snapshot requires spec.clone")
	}

	if _, err := keyboard.Lookup(spec.Layout); err != nil {
		return fmt.Errorf("spec.layout: %w", err)
	}

	if len(spec.Actions) == 0 {
		return fmt.Errorf("spec.actions must have at least one action")
	}
	if !spec.Isolated {
		if _, err := action.ParseBatch(spec.Actions); err != nil {
			return fmt.Errorf("spec.actions: %w", err)
		}
	}
	return nil
}
