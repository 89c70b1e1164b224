// Package hypervisor defines the capabilities marionette needs from a
// virtualization platform: finding and cloning machines, locking them for a
// session, launching them, and injecting raw input through their console.
//
// The session lifecycle and the action pipeline are written against these
// interfaces only. internal/libvirt provides the production implementation.
package hypervisor

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrNotFound is returned when a machine or snapshot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned when a session lock cannot be acquired because
	// another session holds a conflicting lock.
	ErrLocked = errors.New("machine is locked by another session")
)

// MachineState is the power state reported for a machine.
type MachineState string

const (
	StateRunning      MachineState = "running"
	StatePaused       MachineState = "paused"
	StateBlocked      MachineState = "blocked"
	StateShutdown     MachineState = "shutdown"
	StatePoweredOff   MachineState = "poweroff"
	StateCrashed      MachineState = "crashed"
	StateSuspended    MachineState = "suspended"
	StateUnknown      MachineState = "unknown"
	StateUnregistered MachineState = "unregistered"
)

// LockType selects how a session claims a machine.
type LockType int

const (
	// LockShared allows other shared holders. Used when attaching to a
	// machine that may already be watched by other viewers.
	LockShared LockType = iota
	// LockExclusive excludes every other holder.
	LockExclusive
)

func (t LockType) String() string {
	if t == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

// LaunchMode selects how a machine process is started.
type LaunchMode string

const (
	LaunchHeadless LaunchMode = "headless"
)

// CloneOptions control CloneTo.
type CloneOptions struct {
	// Linked creates copy-on-write disks backed by the source disks.
	Linked bool
}

// Hypervisor is the entry point into the virtualization platform.
type Hypervisor interface {
	// FindMachine resolves a machine by name or UUID.
	FindMachine(ctx context.Context, id string) (Machine, error)
	// CreateMachine creates a new, unregistered machine record.
	CreateMachine(ctx context.Context, name string) (Machine, error)
	// RegisterMachine makes a created machine known to the platform.
	RegisterMachine(ctx context.Context, m Machine) error
	// NewSession returns an unlocked session object.
	NewSession(ctx context.Context) (Session, error)
}

// Machine is a handle to a single virtual machine.
type Machine interface {
	ID() string
	Name() string
	State(ctx context.Context) (MachineState, error)
	FindSnapshot(ctx context.Context, name string) (Snapshot, error)
	// CloneTo copies this machine's state into target. The returned
	// operation completes when the target disks are ready.
	CloneTo(ctx context.Context, target Machine, opts CloneOptions) (Progress, error)
	// Lock binds s to this machine.
	Lock(ctx context.Context, s Session, lt LockType) error
	LaunchProcess(ctx context.Context, s Session, mode LaunchMode) (Progress, error)
	PowerOff(ctx context.Context) error
	// UnregisterAndDelete removes the machine record and every disk that
	// was created for it. It is safe to call on a machine that was created
	// but never registered.
	UnregisterAndDelete(ctx context.Context) error
}

// Snapshot is a saved state of a machine.
type Snapshot interface {
	Name() string
	// Machine returns the machine as it was when the snapshot was taken.
	Machine(ctx context.Context) (Machine, error)
}

// Session is the lock holder through which console access happens.
type Session interface {
	Console(ctx context.Context) (Console, error)
	Unlock(ctx context.Context) error
}

// Console gives access to the devices of a locked machine.
type Console interface {
	Mouse(ctx context.Context) (Mouse, error)
	Keyboard(ctx context.Context) (Keyboard, error)
	Screen(ctx context.Context) (Screen, error)
	Guest(ctx context.Context) (Guest, error)
}

// Mouse injects pointer events. Every event carries the complete set of
// pressed buttons.
type Mouse interface {
	PutEvent(ctx context.Context, dx, dy, dz int, buttons ButtonMask) error
	PutEventAbsolute(ctx context.Context, x, y, dz int, buttons ButtonMask) error
}

// Keyboard injects raw XT (set 1) scancodes in order.
type Keyboard interface {
	PutScancodes(ctx context.Context, codes []int) error
}

// Screen captures the guest display.
type Screen interface {
	Screenshot(ctx context.Context) (image.Image, error)
}

// Guest runs processes inside the guest operating system.
type Guest interface {
	Run(ctx context.Context, spec ProcessSpec) (*ProcessResult, error)
}

// Progress is a long-running operation.
type Progress interface {
	// Wait blocks until the operation finishes or ctx is done.
	Wait(ctx context.Context) error
}
