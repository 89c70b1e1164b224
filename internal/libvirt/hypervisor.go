package libvirt

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/metadata"
	"github.com/jbweber/marionette/internal/naming"
	"github.com/jbweber/marionette/internal/storage"
)

const (
	// DefaultLockDir holds the per-machine session lock files.
	DefaultLockDir = "/run/marionette/locks"

	// pollInterval is how often launch and guest-exec progress is checked.
	pollInterval = 500 * time.Millisecond
)

// Hypervisor implements hypervisor.Hypervisor on a libvirt/QEMU host.
type Hypervisor struct {
	lv           libvirtClient
	storage      overlayStore
	lockDir      string
	pollInterval time.Duration
}

var _ hypervisor.Hypervisor = (*Hypervisor)(nil)

// Option configures a Hypervisor.
type Option func(*Hypervisor)

// WithLockDir overrides DefaultLockDir.
func WithLockDir(dir string) Option {
	return func(h *Hypervisor) {
		if dir != "" {
			h.lockDir = dir
		}
	}
}

// WithStorage overrides the manager of the clone pool.
func WithStorage(sm *storage.Manager) Option {
	return func(h *Hypervisor) {
		h.storage = sm
	}
}

// NewHypervisor returns a Hypervisor using the connection of c. Clone
// overlays go to storage.DefaultClonePool unless WithStorage is given.
func NewHypervisor(c *Client, opts ...Option) *Hypervisor {
	return newHypervisor(c.Libvirt(), storage.NewManager(c.Libvirt()), opts...)
}

func newHypervisor(lv libvirtClient, sm overlayStore, opts ...Option) *Hypervisor {
	h := &Hypervisor{
		lv:           lv,
		storage:      sm,
		lockDir:      DefaultLockDir,
		pollInterval: pollInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FindMachine resolves a domain by name, falling back to UUID. A domain
// named like a clone and carrying clone metadata can be deleted through the
// returned machine.
func (h *Hypervisor) FindMachine(ctx context.Context, id string) (hypervisor.Machine, error) {
	dom, err := h.lookupDomain(id)
	if err != nil {
		return nil, err
	}
	m := h.newMachine(dom, true)
	m.clone = naming.IsCloneName(dom.Name) && metadata.Exists(h.lv, dom)
	return m, nil
}

func (h *Hypervisor) lookupDomain(id string) (libvirt.Domain, error) {
	dom, err := h.lv.DomainLookupByName(id)
	if err == nil {
		return dom, nil
	}
	if u, perr := uuid.Parse(id); perr == nil {
		if dom, uerr := h.lv.DomainLookupByUUID(libvirt.UUID(u)); uerr == nil {
			return dom, nil
		}
	}
	return libvirt.Domain{}, fmt.Errorf("machine %q: %w (%v)", id, hypervisor.ErrNotFound, err)
}

// CreateMachine reserves a name and UUID for a clone. Nothing is written to
// libvirt until CloneTo and RegisterMachine have run.
func (h *Hypervisor) CreateMachine(ctx context.Context, name string) (hypervisor.Machine, error) {
	if _, err := h.lv.DomainLookupByName(name); err == nil {
		return nil, fmt.Errorf("machine %q already exists", name)
	}
	id := uuid.New()
	return &machine{
		hv:    h,
		dom:   libvirt.Domain{Name: name, UUID: libvirt.UUID(id)},
		name:  name,
		id:    id.String(),
		clone: true,
	}, nil
}

// RegisterMachine defines the clone prepared by CloneTo and records clone
// metadata in it.
func (h *Hypervisor) RegisterMachine(ctx context.Context, m hypervisor.Machine) error {
	mm, ok := m.(*machine)
	if !ok || mm.hv != h {
		return fmt.Errorf("machine %s does not belong to this hypervisor", m.Name())
	}
	if mm.registered {
		return fmt.Errorf("machine %s is already registered", mm.name)
	}
	mm.mu.Lock()
	pending := mm.pending
	mm.mu.Unlock()
	if pending == nil {
		return fmt.Errorf("machine %s has no definition; clone into it first", mm.name)
	}

	doc, err := pending.def.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	log := logrus.WithField("machine", mm.name)
	log.Debug("Defining clone domain")
	dom, err := h.lv.DomainDefineXML(doc)
	if err != nil {
		return fmt.Errorf("failed to define domain: %w", err)
	}
	mm.dom = dom
	mm.registered = true

	// Mark the domain as ours so FindMachine and prune recognize it
	record := v1alpha1.NewSession(v1alpha1.SessionModeClone, pending.source, pending.snapshot)
	record.Name = mm.name
	record.SetMachine(mm.name, mm.id)
	record.Status.Teardown = "destroy"
	if err := metadata.Store(h.lv, dom, record); err != nil {
		return fmt.Errorf("failed to store clone metadata: %w", err)
	}
	return nil
}

// NewSession returns an unlocked session.
func (h *Hypervisor) NewSession(ctx context.Context) (hypervisor.Session, error) {
	if err := os.MkdirAll(h.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &lockSession{hv: h}, nil
}

func (h *Hypervisor) newMachine(dom libvirt.Domain, registered bool) *machine {
	return &machine{
		hv:         h,
		dom:        dom,
		name:       dom.Name,
		id:         uuid.UUID(dom.UUID).String(),
		registered: registered,
	}
}

// domainDefinition returns the persistent definition of dom.
func (h *Hypervisor) domainDefinition(dom libvirt.Domain) (*libvirtxml.Domain, error) {
	doc, err := h.lv.DomainGetXMLDesc(dom, libvirt.DomainXMLInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to get domain XML: %w", err)
	}
	var def libvirtxml.Domain
	if err := def.Unmarshal(doc); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	return &def, nil
}
