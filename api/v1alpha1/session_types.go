package v1alpha1

// Session describes one controlled machine: how it was obtained and the
// observed state of the session that drives it.
//
// Sessions are not created from files. The lifecycle manager builds one when
// it attaches to or clones a machine, and the server and CLI render it. A
// clone's Session is also stored in its libvirt domain metadata so orphaned
// clones can be found later.
//
// +kubebuilder:printcolumn:name="Machine",type=string,JSONPath=`.status.machine`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type Session struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec SessionSpec `json:"spec" yaml:"spec"`

	// +optional
	Status SessionStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// SessionMode selects how a session obtains its machine.
type SessionMode string

const (
	// SessionModeAttach drives an existing running machine.
	SessionModeAttach SessionMode = "attach"
	// SessionModeClone drives a linked clone that is deleted on close.
	SessionModeClone SessionMode = "clone"
)

// SessionSpec is what the caller asked for.
type SessionSpec struct {
	// Mode is attach or clone.
	// +kubebuilder:validation:Enum=attach;clone
	Mode SessionMode `json:"mode" yaml:"mode"`

	// Source is the name or UUID of the machine to attach to or clone from.
	Source string `json:"source" yaml:"source"`

	// Snapshot names the snapshot of Source to clone from.
	// Only valid in clone mode.
	// +optional
	Snapshot string `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`

	// Layout is the keyboard layout used to translate keys and text.
	// +optional
	// +kubebuilder:default=us
	Layout string `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// SessionStatus is the observed state of a session.
type SessionStatus struct {
	// +optional
	// +kubebuilder:validation:Enum=Pending;Attaching;Cloning;Ready;Closing;Closed;Failed
	Phase SessionPhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Machine is the name of the machine being driven. For clones this is
	// the generated clone name.
	// +optional
	Machine string `json:"machine,omitempty" yaml:"machine,omitempty"`

	// MachineUUID is the hypervisor's identifier of Machine.
	// +optional
	MachineUUID string `json:"machineUUID,omitempty" yaml:"machineUUID,omitempty"`

	// Teardown is detach or destroy.
	// +optional
	Teardown string `json:"teardown,omitempty" yaml:"teardown,omitempty"`

	// ObservedGeneration is the generation most recently acted on.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`
}

// SessionPhase is the lifecycle phase of a Session.
type SessionPhase string

const (
	// SessionPhasePending means the session has been requested.
	SessionPhasePending SessionPhase = "Pending"

	// SessionPhaseAttaching means the machine is being locked for an
	// attach session.
	SessionPhaseAttaching SessionPhase = "Attaching"

	// SessionPhaseCloning means the clone is being created and launched.
	SessionPhaseCloning SessionPhase = "Cloning"

	// SessionPhaseReady means every device handle is available.
	SessionPhaseReady SessionPhase = "Ready"

	// SessionPhaseClosing means teardown is in progress.
	SessionPhaseClosing SessionPhase = "Closing"

	// SessionPhaseClosed means teardown finished.
	SessionPhaseClosed SessionPhase = "Closed"

	// SessionPhaseFailed means setup or teardown failed.
	SessionPhaseFailed SessionPhase = "Failed"
)

// Condition types for Session resources.
const (
	// ConditionReady is True while actions can run.
	ConditionReady = "Ready"

	// ConditionLocked is True while the session lock is held.
	ConditionLocked = "Locked"

	// ConditionCloned is True once the linked clone is registered.
	ConditionCloned = "Cloned"

	// ConditionLaunched is True once the clone's process is running.
	ConditionLaunched = "Launched"
)

// DeepCopy creates a deep copy of Session.
func (in *Session) DeepCopy() *Session {
	if in == nil {
		return nil
	}
	out := new(Session)
	out.TypeMeta = in.TypeMeta
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec = in.Spec
	out.Status = *in.Status.DeepCopy()
	return out
}

// DeepCopy creates a deep copy of SessionStatus.
func (in *SessionStatus) DeepCopy() *SessionStatus {
	if in == nil {
		return nil
	}
	out := new(SessionStatus)
	*out = *in
	if in.Conditions != nil {
		out.Conditions = make([]Condition, len(in.Conditions))
		copy(out.Conditions, in.Conditions)
	}
	return out
}
