package v1alpha1

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for marionette resources.
	GroupName = "marionette.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// SessionKind is the kind string for Session resources.
	SessionKind = "Session"

	// ActionBatchKind is the kind string for ActionBatch resources.
	ActionBatchKind = "ActionBatch"

	// DefaultLayout is the keyboard layout used when none is configured.
	DefaultLayout = "us"
)

// APIVersion returns the group/version string written to resources.
func APIVersion() string {
	return GroupName + "/" + Version
}

// NewSession creates a Pending session for source with a fresh UID.
func NewSession(mode SessionMode, source, snapshot string) *Session {
	return &Session{
		TypeMeta: TypeMeta{
			APIVersion: APIVersion(),
			Kind:       SessionKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              source,
			UID:               uuid.New().String(),
			CreationTimestamp: Now(),
			Generation:        1,
		},
		Spec: SessionSpec{
			Mode:     mode,
			Source:   source,
			Snapshot: snapshot,
			Layout:   DefaultLayout,
		},
		Status: SessionStatus{
			Phase: SessionPhasePending,
		},
	}
}

// IsClone reports whether the session drives a throwaway clone.
func (s *Session) IsClone() bool {
	return s.Spec.Mode == SessionModeClone
}

// GetLayout returns the keyboard layout with default fallback.
func (s *Session) GetLayout() string {
	if s.Spec.Layout == "" {
		return DefaultLayout
	}
	return s.Spec.Layout
}

// SetPhase sets the session phase in status.
func (s *Session) SetPhase(phase SessionPhase) {
	s.Status.Phase = phase
}

// GetPhase returns the current session phase.
func (s *Session) GetPhase() SessionPhase {
	return s.Status.Phase
}

// SetMachine records the machine the session drives.
func (s *Session) SetMachine(name, id string) {
	s.Status.Machine = name
	s.Status.MachineUUID = id
}

// UpdateObservedGeneration updates status.observedGeneration to match
// metadata.generation.
func (s *Session) UpdateObservedGeneration() {
	s.Status.ObservedGeneration = s.Generation
}

// SetDefaults fills apiVersion, kind and layout on a batch loaded from a
// file that omitted them.
func (b *ActionBatch) SetDefaults() {
	if b.APIVersion == "" {
		b.APIVersion = APIVersion()
	}
	if b.Kind == "" {
		b.Kind = ActionBatchKind
	}
	if b.Spec.Layout == "" {
		b.Spec.Layout = DefaultLayout
	}
}

// Normalize trims user input.
func (b *ActionBatch) Normalize() {
	b.Name = strings.TrimSpace(b.Name)
	b.Spec.Connect = strings.TrimSpace(b.Spec.Connect)
	b.Spec.Clone = strings.TrimSpace(b.Spec.Clone)
	b.Spec.Snapshot = strings.TrimSpace(b.Spec.Snapshot)
	b.Spec.Layout = strings.ToLower(strings.TrimSpace(b.Spec.Layout))
}

// Session returns the session request a batch describes.
func (b *ActionBatch) Session() *Session {
	var s *Session
	if b.Spec.Clone != "" {
		s = NewSession(SessionModeClone, b.Spec.Clone, b.Spec.Snapshot)
	} else {
		s = NewSession(SessionModeAttach, b.Spec.Connect, "")
	}
	if b.Spec.Layout != "" {
		s.Spec.Layout = b.Spec.Layout
	}
	return s
}
