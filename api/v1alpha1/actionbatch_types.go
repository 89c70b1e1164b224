package v1alpha1

// ActionBatch is a file-based list of input actions together with the
// machine they run against. `marionette exec` loads one, opens a session,
// runs the actions and closes the session again.
//
// Example:
//
//	apiVersion: marionette.cofront.xyz/v1alpha1
//	kind: ActionBatch
//	metadata:
//	  name: login
//	spec:
//	  clone: win11-base
//	  snapshot: clean
//	  actions:
//	    - [mouseMove, 400, 300]
//	    - [mousePress, 16]
//	    - [mouseRelease, 16]
//	    - [type, "hunter2"]
type ActionBatch struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec ActionBatchSpec `json:"spec" yaml:"spec"`
}

// ActionBatchSpec selects the target machine and lists the actions.
// Exactly one of Connect and Clone must be set.
type ActionBatchSpec struct {
	// Connect attaches to this running machine.
	// +optional
	Connect string `json:"connect,omitempty" yaml:"connect,omitempty"`

	// Clone creates a linked clone of this machine for the batch.
	// +optional
	Clone string `json:"clone,omitempty" yaml:"clone,omitempty"`

	// Snapshot is the snapshot of Clone to start from.
	// +optional
	Snapshot string `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`

	// Layout overrides the configured keyboard layout.
	// +optional
	Layout string `json:"layout,omitempty" yaml:"layout,omitempty"`

	// Isolated runs each action independently and reports one result per
	// action instead of stopping at the first failure.
	// +optional
	Isolated bool `json:"isolated,omitempty" yaml:"isolated,omitempty"`

	// Actions are [name, args...] arrays, run in order.
	// +kubebuilder:validation:MinItems=1
	Actions [][]any `json:"actions" yaml:"actions"`
}
