package storage

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// LibvirtClient is the interface for libvirt operations.
// This allows for dependency injection and testing.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolBuild(Pool libvirt.StoragePool, Flags libvirt.StoragePoolBuildFlags) error
	StoragePoolSetAutostart(Pool libvirt.StoragePool, Autostart int32) error
	StoragePoolDestroy(Pool libvirt.StoragePool) error
	StoragePoolUndefine(Pool libvirt.StoragePool) error
	StoragePoolGetInfo(Pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error)
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StoragePoolListAllVolumes(Pool libvirt.StoragePool, NeedResults int32, Flags uint32) ([]libvirt.StorageVol, uint32, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolLookupByPath(Path string) (libvirt.StorageVol, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error)
}

// Manager creates and removes the overlay volumes of clones.
type Manager struct {
	client   LibvirtClient
	pool     string
	poolPath string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClonePool overrides the pool that holds clone overlays.
func WithClonePool(name, path string) Option {
	return func(m *Manager) {
		if name != "" {
			m.pool = name
		}
		if path != "" {
			m.poolPath = path
		}
	}
}

// NewManager creates a new storage manager.
func NewManager(client LibvirtClient, opts ...Option) *Manager {
	m := &Manager{
		client:   client,
		pool:     DefaultClonePool,
		poolPath: DefaultClonePath,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClonePool returns the name of the pool holding clone overlays.
func (m *Manager) ClonePool() string {
	return m.pool
}

// EnsureClonePool ensures that the clone pool exists and is running.
func (m *Manager) EnsureClonePool(ctx context.Context) error {
	if err := m.EnsurePool(ctx, m.pool, PoolTypeDir, m.poolPath); err != nil {
		return fmt.Errorf("failed to ensure clone pool: %w", err)
	}
	return nil
}
