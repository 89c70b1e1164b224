package libvirt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/metadata"
	"github.com/jbweber/marionette/internal/naming"
)

// CloneInfo describes a clone domain found on the host.
type CloneInfo struct {
	// Record is the clone metadata stored in the domain.
	Record *v1alpha1.Session
	State  hypervisor.MachineState
	// InUse is true while a live session holds the clone's lock.
	InUse bool
}

// ListClones returns every domain carrying marionette clone metadata.
func (h *Hypervisor) ListClones(ctx context.Context) ([]CloneInfo, error) {
	clones, err := h.clones(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]CloneInfo, 0, len(clones))
	for _, c := range clones {
		infos = append(infos, c.info)
	}
	return infos, nil
}

type foundClone struct {
	m    *machine
	info CloneInfo
}

func (h *Hypervisor) clones(ctx context.Context) ([]foundClone, error) {
	domains, _, err := h.lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	var found []foundClone
	for _, dom := range domains {
		if !naming.IsCloneName(dom.Name) {
			continue
		}
		record, err := metadata.Load(h.lv, dom)
		if err != nil {
			logrus.WithField("machine", dom.Name).WithError(err).Debug("Skipping domain without clone metadata")
			continue
		}

		m := h.newMachine(dom, true)
		m.clone = true
		state, err := m.State(ctx)
		if err != nil {
			logrus.WithField("machine", dom.Name).WithError(err).Warn("Warning: failed to get clone state")
		}
		inUse, err := h.lockHeld(m.id)
		if err != nil {
			return nil, err
		}
		found = append(found, foundClone{m: m, info: CloneInfo{Record: record, State: state, InUse: inUse}})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].m.name < found[j].m.name })
	return found, nil
}

// lockHeld reports whether any process holds the session lock of a machine.
func (h *Hypervisor) lockHeld(machineID string) (bool, error) {
	path := h.lockPath(machineID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to probe lock %s: %w", path, err)
	}
	if locked {
		_ = fl.Unlock()
	}
	return !locked, nil
}

// Prune deletes clones whose session lock is not held, i.e. clones left
// behind by a process that exited without closing its session. It returns
// the names of the deleted clones.
func (h *Hypervisor) Prune(ctx context.Context) ([]string, error) {
	clones, err := h.clones(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(h.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	var pruned []string
	var errs []error
	for _, c := range clones {
		if c.info.InUse {
			continue
		}
		deleted, err := h.prune(ctx, c.m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if deleted {
			pruned = append(pruned, c.m.name)
		}
	}
	return pruned, errors.Join(errs...)
}

func (h *Hypervisor) prune(ctx context.Context, m *machine) (bool, error) {
	log := m.log()

	// Hold the lock so no session can attach while the clone goes away.
	fl := flock.New(h.lockPath(m.id))
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", m.name, err)
	}
	if !locked {
		log.Info("Clone was claimed while pruning, skipping")
		return false, nil
	}
	defer func() { _ = fl.Unlock() }()

	log.Info("Pruning orphaned clone")
	if err := m.PowerOff(ctx); err != nil {
		return false, fmt.Errorf("failed to prune %s: %w", m.name, err)
	}
	if err := m.UnregisterAndDelete(ctx); err != nil {
		return false, fmt.Errorf("failed to prune %s: %w", m.name, err)
	}
	return true, nil
}
