package status

import (
	"fmt"

	"github.com/jbweber/marionette/api/v1alpha1"
)

// TransitionToAttaching moves a Pending attach session to Attaching.
func TransitionToAttaching(s *v1alpha1.Session) error {
	if s.GetPhase() != v1alpha1.SessionPhasePending {
		return fmt.Errorf("cannot transition to Attaching from phase %s", s.GetPhase())
	}

	s.SetPhase(v1alpha1.SessionPhaseAttaching)
	SetCondition(s, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Attaching", "locking machine")
	return nil
}

// TransitionToCloning moves a Pending clone session to Cloning.
func TransitionToCloning(s *v1alpha1.Session) error {
	if s.GetPhase() != v1alpha1.SessionPhasePending {
		return fmt.Errorf("cannot transition to Cloning from phase %s", s.GetPhase())
	}

	s.SetPhase(v1alpha1.SessionPhaseCloning)
	SetCondition(s, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Cloning", "creating linked clone")
	return nil
}

// TransitionToReady marks the session usable once every device handle is
// available.
func TransitionToReady(s *v1alpha1.Session) error {
	phase := s.GetPhase()
	if phase != v1alpha1.SessionPhaseAttaching && phase != v1alpha1.SessionPhaseCloning {
		return fmt.Errorf("cannot transition to Ready from phase %s", phase)
	}

	s.SetPhase(v1alpha1.SessionPhaseReady)
	SetCondition(s, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "DevicesReady", "mouse and keyboard available")
	s.UpdateObservedGeneration()
	return nil
}

// TransitionToClosing starts teardown. It is allowed from any phase that is
// not already terminal or closing, because a session that fails during setup
// is torn down as well.
func TransitionToClosing(s *v1alpha1.Session) error {
	phase := s.GetPhase()
	if IsTerminal(phase) || phase == v1alpha1.SessionPhaseClosing {
		return fmt.Errorf("cannot transition to Closing from phase %s", phase)
	}

	s.SetPhase(v1alpha1.SessionPhaseClosing)
	SetCondition(s, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Closing", "teardown in progress")
	return nil
}

// TransitionToClosed finishes a successful teardown.
func TransitionToClosed(s *v1alpha1.Session) error {
	if s.GetPhase() != v1alpha1.SessionPhaseClosing {
		return fmt.Errorf("cannot transition to Closed from phase %s", s.GetPhase())
	}

	s.SetPhase(v1alpha1.SessionPhaseClosed)
	SetCondition(s, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Closed", "session closed")
	return nil
}

// IsTerminal returns true if the phase is terminal (Closed or Failed).
func IsTerminal(phase v1alpha1.SessionPhase) bool {
	return phase == v1alpha1.SessionPhaseClosed || phase == v1alpha1.SessionPhaseFailed
}

// IsReady returns true if actions can run in this phase.
func IsReady(phase v1alpha1.SessionPhase) bool {
	return phase == v1alpha1.SessionPhaseReady
}

// IsTransitioning returns true if the session is being set up or torn down.
func IsTransitioning(phase v1alpha1.SessionPhase) bool {
	switch phase {
	case v1alpha1.SessionPhaseAttaching, v1alpha1.SessionPhaseCloning, v1alpha1.SessionPhaseClosing:
		return true
	}
	return false
}
