package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// EnsurePool ensures a storage pool exists and is running, creating it if
// necessary.
func (m *Manager) EnsurePool(ctx context.Context, name string, poolType PoolType, path string) error {
	// Missing pools are created from scratch
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return m.CreatePool(ctx, name, poolType, path)
	}

	// Check whether it is already active
	state, _, _, _, err := m.client.StoragePoolGetInfo(pool)
	if err != nil {
		return fmt.Errorf("failed to get pool info: %w", err)
	}
	if libvirt.StoragePoolState(state) == libvirt.StoragePoolRunning {
		return nil
	}

	// Defined but stopped, e.g. after a host reboot without autostart.
	if err := m.client.StoragePoolCreate(pool, 0); err != nil {
		return fmt.Errorf("failed to start pool: %w", err)
	}
	return nil
}

// CreatePool creates a new storage pool.
// Returns an error if the pool already exists.
func (m *Manager) CreatePool(ctx context.Context, name string, poolType PoolType, path string) error {
	var poolXML string
	var err error

	// Render the pool definition
	switch poolType {
	case PoolTypeDir:
		poolXML, err = generateDirPoolXML(name, path)
	default:
		return fmt.Errorf("unsupported pool type: %s", poolType)
	}

	if err != nil {
		return fmt.Errorf("failed to generate pool XML: %w", err)
	}

	// Define the pool persistently
	pool, err := m.client.StoragePoolDefineXML(poolXML, 0)
	if err != nil {
		return fmt.Errorf("failed to define pool: %w", err)
	}

	// Build creates the target directory with the qemu ownership
	if err := m.client.StoragePoolBuild(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to build pool: %w", err)
	}

	// Activate it
	if err := m.client.StoragePoolCreate(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to start pool: %w", err)
	}

	// Come back after a host reboot
	if err := m.client.StoragePoolSetAutostart(pool, 1); err != nil {
		return fmt.Errorf("pool created but failed to set autostart: %w", err)
	}

	return nil
}

// DeletePool deletes a storage pool.
// If force is true, all volumes in the pool are deleted first. The clone
// pool can only be deleted with force.
func (m *Manager) DeletePool(ctx context.Context, name string, force bool) error {
	if name == m.pool && !force {
		return fmt.Errorf("cannot delete clone pool %s without force", name)
	}

	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	// Empty the pool first when forced
	if force {
		volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
		if err != nil {
			return fmt.Errorf("failed to list volumes: %w", err)
		}

		for _, vol := range volumes {
			// Keep going; undefine below reports what is left.
			_ = m.client.StorageVolDelete(vol, 0)
		}
	}

	// A running pool has to be stopped before it can be undefined
	poolState, _, _, _, err := m.client.StoragePoolGetInfo(pool)
	if err != nil {
		return fmt.Errorf("failed to get pool info: %w", err)
	}

	if libvirt.StoragePoolState(poolState) == libvirt.StoragePoolRunning {
		if err := m.client.StoragePoolDestroy(pool); err != nil {
			return fmt.Errorf("failed to stop pool: %w", err)
		}
	}

	if err := m.client.StoragePoolUndefine(pool); err != nil {
		return fmt.Errorf("failed to undefine pool: %w", err)
	}

	return nil
}

// GetPoolInfo gets detailed information about a storage pool.
func (m *Manager) GetPoolInfo(ctx context.Context, name string) (*PoolInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	// Runtime numbers
	poolState, capacity, allocation, available, err := m.client.StoragePoolGetInfo(pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool info: %w", err)
	}

	// Type and path only live in the definition
	xmlDesc, err := m.client.StoragePoolGetXMLDesc(pool, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool XML: %w", err)
	}

	var poolDef libvirtxml.StoragePool
	if err := poolDef.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse pool XML: %w", err)
	}

	poolPath := ""
	if poolDef.Target != nil {
		poolPath = poolDef.Target.Path
	}

	return &PoolInfo{
		Name:       pool.Name,
		Type:       PoolType(poolDef.Type),
		Path:       poolPath,
		UUID:       uuid.UUID(pool.UUID).String(),
		State:      poolStateString(libvirt.StoragePoolState(poolState)),
		Capacity:   capacity,
		Allocation: allocation,
		Available:  available,
	}, nil
}

// RefreshPool refreshes a storage pool so volumes created behind libvirt's
// back become visible.
func (m *Manager) RefreshPool(ctx context.Context, name string) error {
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	if err := m.client.StoragePoolRefresh(pool, 0); err != nil {
		return fmt.Errorf("failed to refresh pool: %w", err)
	}

	return nil
}

func poolStateString(s libvirt.StoragePoolState) string {
	switch s {
	case libvirt.StoragePoolInactive:
		return "inactive"
	case libvirt.StoragePoolBuilding:
		return "building"
	case libvirt.StoragePoolRunning:
		return "running"
	case libvirt.StoragePoolDegraded:
		return "degraded"
	case libvirt.StoragePoolInaccessible:
		return "inaccessible"
	}
	return "unknown"
}

// generateDirPoolXML generates XML for a directory-based storage pool owned
// by the QEMU user, so the hypervisor can open the overlays it holds.
func generateDirPoolXML(name, path string) (string, error) {
	uid, gid, _ := GetQEMUUserGroup()

	pool := &libvirtxml.StoragePool{
		Type: "dir",
		Name: name,
		Target: &libvirtxml.StoragePoolTarget{
			Path: path,
			Permissions: &libvirtxml.StoragePoolTargetPermissions{
				Owner: uid,
				Group: gid,
				Mode:  "0755",
			},
		},
	}

	doc, err := pool.Marshal()
	if err != nil {
		return "", err
	}

	return stripXMLHeader(doc), nil
}

// stripXMLHeader removes the XML declaration libvirtxml emits.
func stripXMLHeader(doc string) string {
	s := strings.TrimPrefix(doc, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>")
	return strings.TrimSpace(s)
}
