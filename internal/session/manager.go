package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/status"
)

// Manager creates sessions on a hypervisor.
type Manager struct {
	hv     hypervisor.Hypervisor
	layout string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLayout records the keyboard layout in the session resources the
// manager creates.
func WithLayout(layout string) Option {
	return func(m *Manager) {
		m.layout = layout
	}
}

// NewManager returns a Manager backed by hv.
func NewManager(hv hypervisor.Hypervisor, opts ...Option) *Manager {
	m := &Manager{hv: hv, layout: v1alpha1.DefaultLayout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach takes control of the running machine id (name or UUID) with a
// shared lock. Closing the session releases the lock and leaves the machine
// running.
//
// A machine that is not running fails with ErrPreconditionFailed before any
// lock is taken.
func (m *Manager) Attach(ctx context.Context, id string) (*Session, error) {
	res := v1alpha1.NewSession(v1alpha1.SessionModeAttach, id, "")
	res.Spec.Layout = m.layout
	if err := status.TransitionToAttaching(res); err != nil {
		return nil, err
	}
	s := newSession(m.hv, res, TeardownDetach)

	if err := m.attach(ctx, s, id); err != nil {
		return nil, s.fail(ctx, "attach to", id, err)
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) attach(ctx context.Context, s *Session, id string) error {
	s.log.Info("Looking up machine...")
	machine, err := m.hv.FindMachine(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to find machine: %w", err)
	}
	s.machine = machine
	s.resource.SetMachine(machine.Name(), machine.ID())

	state, err := machine.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to get machine state: %w", err)
	}
	if state != hypervisor.StateRunning {
		return fmt.Errorf("%w: machine %s is not running (state %s)", ErrPreconditionFailed, machine.Name(), state)
	}

	if err := s.acquireLock(ctx, hypervisor.LockShared); err != nil {
		return err
	}
	return s.openDevices(ctx)
}

// CloneAndLaunch creates a linked clone of source named newName, optionally
// from the snapshot named snapshot, starts it headless and takes an
// exclusive lock on it. Closing the session powers the clone off and deletes
// it.
//
// The clone and launch waits are bounded only by ctx. If any step fails the
// clone is removed again, so no half-built clone stays registered.
func (m *Manager) CloneAndLaunch(ctx context.Context, source, newName, snapshot string) (*Session, error) {
	res := v1alpha1.NewSession(v1alpha1.SessionModeClone, source, snapshot)
	res.Spec.Layout = m.layout
	if err := status.TransitionToCloning(res); err != nil {
		return nil, err
	}
	s := newSession(m.hv, res, TeardownDestroy)
	s.log = s.log.WithField("clone", newName)

	if err := m.cloneAndLaunch(ctx, s, source, newName, snapshot); err != nil {
		return nil, s.fail(ctx, "clone", source, err)
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) cloneAndLaunch(ctx context.Context, s *Session, source, newName, snapshot string) error {
	s.log.Info("Looking up source machine...")
	src, err := m.hv.FindMachine(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to find source machine: %w", err)
	}

	if snapshot != "" {
		s.log.WithField("snapshot", snapshot).Info("Looking up snapshot...")
		snap, err := src.FindSnapshot(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("failed to find snapshot %s: %w", snapshot, err)
		}
		src, err = snap.Machine(ctx)
		if err != nil {
			return fmt.Errorf("failed to read snapshot %s: %w", snapshot, err)
		}
	}

	s.log.Info("Creating clone record...")
	target, err := m.hv.CreateMachine(ctx, newName)
	if err != nil {
		return fmt.Errorf("failed to create machine %s: %w", newName, err)
	}
	s.machine = target
	s.created = true
	s.resource.SetMachine(target.Name(), target.ID())

	s.log.Info("Cloning disks...")
	progress, err := src.CloneTo(ctx, target, hypervisor.CloneOptions{Linked: true})
	if err != nil {
		return fmt.Errorf("failed to start clone: %w", err)
	}
	if err := progress.Wait(ctx); err != nil {
		return fmt.Errorf("failed to clone: %w", err)
	}

	s.log.Info("Registering clone...")
	if err := m.hv.RegisterMachine(ctx, target); err != nil {
		return fmt.Errorf("failed to register clone: %w", err)
	}
	s.resource.SetMachine(target.Name(), target.ID())
	status.MarkCloned(s.resource)

	if err := s.acquireLock(ctx, hypervisor.LockExclusive); err != nil {
		return err
	}

	s.log.Info("Starting clone...")
	progress, err = target.LaunchProcess(ctx, s.lock, hypervisor.LaunchHeadless)
	if err != nil {
		return fmt.Errorf("failed to launch clone: %w", err)
	}
	s.launched = true
	if err := progress.Wait(ctx); err != nil {
		return fmt.Errorf("failed to launch clone: %w", err)
	}
	status.MarkLaunched(s.resource)

	return s.openDevices(ctx)
}

func (s *Session) acquireLock(ctx context.Context, lt hypervisor.LockType) error {
	s.log.WithField("lock", lt).Info("Acquiring session lock...")
	lock, err := s.hv.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.machine.Lock(ctx, lock, lt); err != nil {
		return fmt.Errorf("failed to lock machine: %w", err)
	}
	s.lock = lock
	s.locked = true
	status.MarkLocked(s.resource, lt.String())
	return nil
}

// openDevices derives the device handles from the console. Mouse and
// keyboard are required; a backend without a screen or guest agent still
// yields a usable session.
func (s *Session) openDevices(ctx context.Context) error {
	console, err := s.lock.Console(ctx)
	if err != nil {
		return fmt.Errorf("failed to get console: %w", err)
	}
	if s.mouse, err = console.Mouse(ctx); err != nil {
		return fmt.Errorf("failed to get mouse: %w", err)
	}
	if s.keyboard, err = console.Keyboard(ctx); err != nil {
		return fmt.Errorf("failed to get keyboard: %w", err)
	}
	if s.screen, err = console.Screen(ctx); err != nil {
		s.log.WithError(err).Warn("Screen not available; calibrate will fail")
		s.screen = nil
	}
	if s.guest, err = console.Guest(ctx); err != nil {
		s.log.WithError(err).Warn("Guest agent not available; run will fail")
		s.guest = nil
	}
	return nil
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := status.TransitionToReady(s.resource); err != nil {
		return err
	}
	s.log.Info("Session ready")
	return nil
}

// fail tears down whatever setup acquired and wraps cause. Cleanup runs
// with ctx's values but without its cancellation, so a timed-out setup is
// still cleaned up.
func (s *Session) fail(ctx context.Context, op, machine string, cause error) error {
	s.log.WithError(cause).Errorf("Failed to %s machine, cleaning up", op)

	s.mu.Lock()
	defer s.mu.Unlock()

	tdErr := s.shutdown(context.WithoutCancel(ctx))
	status.MarkFailed(s.resource, "SetupFailed", cause.Error())
	return &LifecycleError{Op: op, Machine: machine, Err: cause, Teardown: tdErr}
}

// Log returns the session's logger with session and machine fields.
func (s *Session) Log() *logrus.Entry {
	return s.log
}
