package session

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionFailed is returned when a machine is not in a state
	// that allows the requested operation, such as attaching to a machine
	// that is not running.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrLifecycle matches every error returned by Attach and
	// CloneAndLaunch.
	ErrLifecycle = errors.New("session lifecycle failed")

	// ErrSessionNotFound is returned by the registry for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotReady is returned when a device is used on a session that is
	// closed or lacks the device.
	ErrNotReady = errors.New("session not ready")
)

// LifecycleError reports a failed attach or clone-and-launch. Err is the
// step that failed; Teardown is the error from cleaning up afterwards, if
// any. errors.Is matches ErrLifecycle, Err and Teardown.
type LifecycleError struct {
	Op       string
	Machine  string
	Err      error
	Teardown error
}

func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("failed to %s %s: %v", e.Op, e.Machine, e.Err)
	if e.Teardown != nil {
		msg += fmt.Sprintf(" (teardown also failed: %v)", e.Teardown)
	}
	return msg
}

func (e *LifecycleError) Unwrap() []error {
	errs := []error{ErrLifecycle, e.Err}
	if e.Teardown != nil {
		errs = append(errs, e.Teardown)
	}
	return errs
}
