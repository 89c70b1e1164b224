// Package session manages the lifecycle of controlled machines.
//
// A Session owns one machine handle, the session lock on it and the input
// devices derived from its console. The Manager hands out sessions only once
// all of these are in place; if any step fails, whatever was acquired is
// released again before the error is returned.
//
// Sessions obtained by attaching are detached on close: the lock is released
// and the machine keeps running. Sessions obtained by cloning are destroyed
// on close: the clone is powered off, unregistered and its disks deleted.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/status"
)

// Teardown is the cleanup strategy of a session.
type Teardown string

const (
	// TeardownDetach releases the lock and leaves the machine alone.
	TeardownDetach Teardown = "detach"
	// TeardownDestroy powers off the machine and deletes it.
	TeardownDestroy Teardown = "destroy"
)

// Session is one controlled machine. Device calls on a session must not run
// concurrently; the server serializes batches per session.
type Session struct {
	mu    sync.Mutex
	batch sync.Mutex

	resource *v1alpha1.Session
	teardown Teardown
	log      *logrus.Entry

	hv      hypervisor.Hypervisor
	machine hypervisor.Machine
	lock    hypervisor.Session

	// What has been acquired, for teardown.
	created  bool
	locked   bool
	launched bool

	mouse    hypervisor.Mouse
	keyboard hypervisor.Keyboard
	screen   hypervisor.Screen
	guest    hypervisor.Guest

	buttons hypervisor.ButtonMask
	closed  bool
}

func newSession(hv hypervisor.Hypervisor, resource *v1alpha1.Session, teardown Teardown) *Session {
	resource.Status.Teardown = string(teardown)
	return &Session{
		resource: resource,
		teardown: teardown,
		hv:       hv,
		log: logrus.WithFields(logrus.Fields{
			"session": resource.UID,
			"machine": resource.Spec.Source,
		}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.resource.UID
}

// Teardown returns the cleanup strategy used by Close.
func (s *Session) Teardown() Teardown {
	return s.teardown
}

// Machine returns the controlled machine.
func (s *Session) Machine() hypervisor.Machine {
	return s.machine
}

// Resource returns a snapshot of the session's status record.
func (s *Session) Resource() *v1alpha1.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource.DeepCopy()
}

// Mouse returns the pointer device.
func (s *Session) Mouse() hypervisor.Mouse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mouse
}

// Keyboard returns the keyboard device.
func (s *Session) Keyboard() hypervisor.Keyboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyboard
}

// Screen returns the display, or nil if the backend has none.
func (s *Session) Screen() hypervisor.Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// Buttons returns the mouse buttons currently held, as last injected.
func (s *Session) Buttons() hypervisor.ButtonMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttons
}

// SetButtons records the button mask of the last injected event.
func (s *Session) SetButtons(m hypervisor.ButtonMask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons = m
}

// Serialize runs fn while holding the session's batch lock, so batches and
// Close issued through it never overlap.
func (s *Session) Serialize(fn func() error) error {
	s.batch.Lock()
	defer s.batch.Unlock()
	return fn()
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RunProcess runs a command inside the guest.
func (s *Session) RunProcess(ctx context.Context, spec hypervisor.ProcessSpec) (*hypervisor.ProcessResult, error) {
	if len(spec.CommandLine) == 0 {
		return nil, errors.New("command line must not be empty")
	}
	s.mu.Lock()
	closed, guest, machine := s.closed, s.guest, s.resource.Status.Machine
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: session %s is closed", ErrNotReady, s.ID())
	}
	if guest == nil {
		return nil, fmt.Errorf("%w: guest agent not available on %s", ErrNotReady, machine)
	}

	s.log.WithField("command", spec.CommandLine[0]).Info("Running guest process")
	res, err := guest.Run(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s in guest: %w", spec.CommandLine[0], err)
	}
	return res, nil
}

// Close tears the session down. It is idempotent: only the first call has
// an effect, later calls return nil. Every acquired handle is released even
// if releasing an earlier one fails; all failures are returned joined.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := s.shutdown(ctx); err != nil {
		return fmt.Errorf("failed to close session %s: %w", s.resource.UID, err)
	}
	return nil
}

// shutdown runs the teardown strategy once. The caller holds s.mu.
func (s *Session) shutdown(ctx context.Context) error {
	s.closed = true
	if err := status.TransitionToClosing(s.resource); err != nil {
		s.log.Debugf("status: %v", err)
	}

	s.log.WithField("teardown", s.teardown).Info("Tearing down session...")

	var errs []error
	if s.teardown == TeardownDestroy && s.launched {
		s.log.Info("Powering off clone...")
		if err := s.machine.PowerOff(ctx); err != nil {
			s.log.WithError(err).Warn("Warning: failed to power off clone")
			errs = append(errs, fmt.Errorf("failed to power off %s: %w", s.machine.Name(), err))
		}
	}

	if s.locked {
		s.log.Info("Releasing session lock...")
		if err := s.lock.Unlock(ctx); err != nil {
			s.log.WithError(err).Warn("Warning: failed to release session lock")
			errs = append(errs, fmt.Errorf("failed to unlock %s: %w", s.machine.Name(), err))
		} else {
			s.locked = false
			status.MarkUnlocked(s.resource)
		}
	}

	if s.teardown == TeardownDestroy && s.created {
		s.log.Info("Deleting clone...")
		if err := s.machine.UnregisterAndDelete(ctx); err != nil {
			s.log.WithError(err).Warn("Warning: failed to delete clone")
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", s.machine.Name(), err))
		}
	}

	s.mouse, s.keyboard, s.screen, s.guest = nil, nil, nil, nil

	if err := errors.Join(errs...); err != nil {
		status.MarkFailed(s.resource, "TeardownFailed", err.Error())
		return err
	}
	if err := status.TransitionToClosed(s.resource); err != nil {
		s.log.Debugf("status: %v", err)
	}
	s.log.Info("Session closed")
	return nil
}
