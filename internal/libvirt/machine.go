package libvirt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/naming"
)

// machine is a libvirt domain, a clone being prepared, or the frozen view of
// a domain at one of its snapshots.
type machine struct {
	hv         *Hypervisor
	dom        libvirt.Domain
	name       string
	id         string
	registered bool

	// clone marks machines whose volumes marionette owns.
	clone bool

	// frozen is the definition recorded in a snapshot; set only on
	// snapshot views.
	frozen   *libvirtxml.Domain
	snapshot string

	mu      sync.Mutex
	pending *cloneDefinition
	cloning *asyncProgress

	// abandoned is set when the clone is deleted while its overlays are
	// still being built; the build then deletes them itself.
	abandoned bool
}

var _ hypervisor.Machine = (*machine)(nil)

func (m *machine) ID() string   { return m.id }
func (m *machine) Name() string { return m.name }

func (m *machine) log() *logrus.Entry {
	return logrus.WithField("machine", m.name)
}

// State maps the libvirt domain state.
func (m *machine) State(ctx context.Context) (hypervisor.MachineState, error) {
	if m.frozen != nil {
		return hypervisor.StatePoweredOff, nil
	}
	if !m.registered {
		return hypervisor.StateUnregistered, nil
	}
	state, _, err := m.hv.lv.DomainGetState(m.dom, 0)
	if err != nil {
		return hypervisor.StateUnknown, fmt.Errorf("failed to get domain state: %w", err)
	}
	return machineState(libvirt.DomainState(state)), nil
}

func machineState(s libvirt.DomainState) hypervisor.MachineState {
	switch s {
	case libvirt.DomainRunning:
		return hypervisor.StateRunning
	case libvirt.DomainBlocked:
		return hypervisor.StateBlocked
	case libvirt.DomainPaused:
		return hypervisor.StatePaused
	case libvirt.DomainShutdown:
		return hypervisor.StateShutdown
	case libvirt.DomainShutoff:
		return hypervisor.StatePoweredOff
	case libvirt.DomainCrashed:
		return hypervisor.StateCrashed
	case libvirt.DomainPmsuspended:
		return hypervisor.StateSuspended
	}
	return hypervisor.StateUnknown
}

// isActive reports whether QEMU holds the domain's disks open.
func isActive(s hypervisor.MachineState) bool {
	switch s {
	case hypervisor.StateRunning, hypervisor.StateBlocked, hypervisor.StatePaused,
		hypervisor.StateShutdown, hypervisor.StateSuspended:
		return true
	}
	return false
}

// FindSnapshot looks up a snapshot of the domain by name.
func (m *machine) FindSnapshot(ctx context.Context, name string) (hypervisor.Snapshot, error) {
	if !m.registered || m.frozen != nil {
		return nil, fmt.Errorf("machine %s has no snapshots", m.name)
	}
	snap, err := m.hv.lv.DomainSnapshotLookupByName(m.dom, name, 0)
	if err != nil {
		return nil, fmt.Errorf("snapshot %q of %s: %w (%v)", name, m.name, hypervisor.ErrNotFound, err)
	}
	return &snapshot{machine: m, snap: snap}, nil
}

// CloneTo prepares target as a linked clone of m: one qcow2 overlay per disk
// in the clone pool, and a domain definition pointing at them. The overlays
// are created in the background; target can be registered once the returned
// progress completes.
func (m *machine) CloneTo(ctx context.Context, target hypervisor.Machine, opts hypervisor.CloneOptions) (hypervisor.Progress, error) {
	if !opts.Linked {
		return nil, fmt.Errorf("full clones are not supported; use a linked clone")
	}
	t, ok := target.(*machine)
	if !ok || t.hv != m.hv {
		return nil, fmt.Errorf("clone target %s does not belong to this hypervisor", target.Name())
	}
	if t.registered || !t.clone {
		return nil, fmt.Errorf("clone target %s must be a newly created machine", t.name)
	}

	src := m.frozen
	if src == nil {
		state, err := m.State(ctx)
		if err != nil {
			return nil, err
		}
		if isActive(state) {
			return nil, fmt.Errorf("machine %s is %s; its disks can only be cloned through a snapshot", m.name, state)
		}
		if src, err = m.hv.domainDefinition(m.dom); err != nil {
			return nil, err
		}
	}

	if err := m.hv.storage.EnsureClonePool(ctx); err != nil {
		return nil, err
	}

	p := newAsyncProgress()
	t.mu.Lock()
	t.cloning = p
	t.mu.Unlock()

	go func() {
		def, err := m.hv.buildClone(ctx, src, t.name, t.id)

		t.mu.Lock()
		t.cloning = nil
		abandoned := t.abandoned
		if err == nil && !abandoned {
			t.pending = &cloneDefinition{def: def, source: m.name, snapshot: m.snapshot}
		}
		t.mu.Unlock()

		// Nobody will register or delete this clone any more.
		if abandoned {
			t.log().Debug("Deleting overlays of abandoned clone")
			if derr := t.deleteVolumes(context.WithoutCancel(ctx)); derr != nil {
				t.log().WithError(derr).Warn("Warning: failed to delete overlays of abandoned clone")
			}
		}
		p.finish(err)
	}()

	return p, nil
}

// Lock takes the machine's session lock for s. Shared locks coexist; an
// exclusive lock excludes every other holder, in this process or another.
func (m *machine) Lock(ctx context.Context, s hypervisor.Session, lt hypervisor.LockType) error {
	ls, ok := s.(*lockSession)
	if !ok || ls.hv != m.hv {
		return fmt.Errorf("session does not belong to this hypervisor")
	}
	if !m.registered || m.frozen != nil {
		return fmt.Errorf("machine %s cannot be locked", m.name)
	}
	if ls.machine != nil {
		return fmt.Errorf("session already holds %s", ls.machine.name)
	}

	fl := flock.New(m.hv.lockPath(m.id))
	var locked bool
	var err error
	if lt == hypervisor.LockExclusive {
		locked, err = fl.TryLock()
	} else {
		locked, err = fl.TryRLock()
	}
	if err != nil {
		return fmt.Errorf("failed to acquire %s lock on %s: %w", lt, m.name, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", hypervisor.ErrLocked, m.name)
	}

	ls.machine = m
	ls.fl = fl
	ls.lockType = lt
	m.log().WithField("lock", lt.String()).Debug("Session lock acquired")
	return nil
}

// LaunchProcess starts the domain. The returned progress completes once
// libvirt reports it running.
func (m *machine) LaunchProcess(ctx context.Context, s hypervisor.Session, mode hypervisor.LaunchMode) (hypervisor.Progress, error) {
	if mode != hypervisor.LaunchHeadless {
		return nil, fmt.Errorf("unsupported launch mode %q", mode)
	}
	ls, ok := s.(*lockSession)
	if !ok || ls.machine != m {
		return nil, fmt.Errorf("machine %s must be locked by the launching session", m.name)
	}

	m.log().Debug("Starting domain")
	if _, err := m.hv.lv.DomainCreateWithFlags(m.dom, 0); err != nil {
		return nil, fmt.Errorf("failed to start domain: %w", err)
	}
	return &launchProgress{m: m, interval: m.hv.pollInterval}, nil
}

// PowerOff force-stops the domain. Stopped or unregistered machines are left
// alone.
func (m *machine) PowerOff(ctx context.Context) error {
	state, err := m.State(ctx)
	if err != nil {
		return err
	}
	if !isActive(state) {
		return nil
	}
	m.log().Debug("Force stopping domain")
	if err := m.hv.lv.DomainDestroy(m.dom); err != nil {
		return fmt.Errorf("failed to stop domain: %w", err)
	}
	return nil
}

// UnregisterAndDelete undefines the clone (with its snapshot metadata,
// managed save and NVRAM) and deletes its overlay volumes and lock file.
// Only clones can be deleted.
func (m *machine) UnregisterAndDelete(ctx context.Context) error {
	if !m.clone {
		return fmt.Errorf("refusing to delete %s: not a marionette clone", m.name)
	}

	// A clone still building its overlays was never registered. Hand the
	// overlays to the build instead of waiting for it.
	m.mu.Lock()
	if m.cloning != nil {
		m.abandoned = true
		m.mu.Unlock()
		m.log().Debug("Clone abandoned while building overlays")
		m.removeLockFile()
		return nil
	}
	m.mu.Unlock()

	var errs []error
	if m.registered {
		m.log().Debug("Undefining clone domain")
		flags := libvirt.DomainUndefineManagedSave | libvirt.DomainUndefineSnapshotsMetadata | libvirt.DomainUndefineNvram
		if err := m.hv.lv.DomainUndefineFlags(m.dom, flags); err != nil {
			errs = append(errs, fmt.Errorf("failed to undefine domain: %w", err))
		} else {
			m.registered = false
		}
	}

	if err := m.deleteVolumes(ctx); err != nil {
		errs = append(errs, err)
	}
	m.removeLockFile()

	return errors.Join(errs...)
}

// deleteVolumes deletes every overlay volume named after the clone.
func (m *machine) deleteVolumes(ctx context.Context) error {
	pool := m.hv.storage.ClonePool()
	if err := m.hv.storage.DeleteVolumesWithPrefix(ctx, pool, naming.VolumePrefix(m.name)); err != nil {
		return fmt.Errorf("failed to delete clone volumes: %w", err)
	}
	return nil
}

func (m *machine) removeLockFile() {
	if err := os.Remove(m.hv.lockPath(m.id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log().WithError(err).Warn("Warning: failed to remove lock file")
	}
}

func (h *Hypervisor) lockPath(machineID string) string {
	return filepath.Join(h.lockDir, naming.LockFileName(machineID))
}
