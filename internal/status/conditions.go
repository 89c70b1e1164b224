// Package status manages Session status fields: conditions and phase
// transitions.
package status

import (
	"github.com/jbweber/marionette/api/v1alpha1"
)

// SetCondition adds or updates a condition in the session status.
// If a condition with the same type already exists, it updates it.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(s *v1alpha1.Session, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Now()

	for i := range s.Status.Conditions {
		if s.Status.Conditions[i].Type != condType {
			continue
		}
		existing := &s.Status.Conditions[i]
		if existing.Status != status {
			existing.LastTransitionTime = now
		}
		existing.Status = status
		existing.Reason = reason
		existing.Message = message
		existing.ObservedGeneration = s.Generation
		return
	}

	s.Status.Conditions = append(s.Status.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: s.Generation,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(s *v1alpha1.Session, condType string) *v1alpha1.Condition {
	for i := range s.Status.Conditions {
		if s.Status.Conditions[i].Type == condType {
			return &s.Status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(s *v1alpha1.Session, condType string) bool {
	cond := GetCondition(s, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// MarkLocked records that the session lock was acquired.
func MarkLocked(s *v1alpha1.Session, lockType string) {
	SetCondition(s, v1alpha1.ConditionLocked, v1alpha1.ConditionTrue, "LockAcquired", lockType+" lock held")
}

// MarkUnlocked records that the session lock was released.
func MarkUnlocked(s *v1alpha1.Session) {
	SetCondition(s, v1alpha1.ConditionLocked, v1alpha1.ConditionFalse, "LockReleased", "session lock released")
}

// MarkCloned records that the linked clone is registered.
func MarkCloned(s *v1alpha1.Session) {
	SetCondition(s, v1alpha1.ConditionCloned, v1alpha1.ConditionTrue, "CloneRegistered", "linked clone "+s.Status.Machine+" registered")
}

// MarkLaunched records that the clone's process is running.
func MarkLaunched(s *v1alpha1.Session) {
	SetCondition(s, v1alpha1.ConditionLaunched, v1alpha1.ConditionTrue, "ProcessStarted", "machine started headless")
}

// MarkFailed sets the Ready condition to False and phase to Failed.
func MarkFailed(s *v1alpha1.Session, reason, message string) {
	SetCondition(s, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, reason, message)
	s.SetPhase(v1alpha1.SessionPhaseFailed)
}
