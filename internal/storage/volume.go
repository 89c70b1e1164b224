package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	libvirtxml "libvirt.org/go/libvirtxml"
)

// CreateOverlay creates a qcow2 volume in poolName whose reads fall through
// to spec.BackingPath, and returns the path of the new volume.
//
// When spec.CapacityBytes is zero the overlay takes the virtual size of the
// backing disk, which must then be known to libvirt.
func (m *Manager) CreateOverlay(ctx context.Context, poolName string, spec OverlaySpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("invalid overlay spec: %w", err)
	}

	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return "", fmt.Errorf("pool not found: %w", err)
	}

	// Size the overlay after its backing disk
	if spec.CapacityBytes == 0 {
		backing, err := m.client.StorageVolLookupByPath(spec.BackingPath)
		if err != nil {
			return "", fmt.Errorf("backing volume %s not known to libvirt: %w", spec.BackingPath, err)
		}
		_, capacity, _, err := m.client.StorageVolGetInfo(backing)
		if err != nil {
			return "", fmt.Errorf("failed to get backing volume info: %w", err)
		}
		spec.CapacityBytes = capacity
	}

	volumeXML, err := generateOverlayXML(spec)
	if err != nil {
		return "", fmt.Errorf("failed to generate volume XML: %w", err)
	}

	vol, err := m.client.StorageVolCreateXML(pool, volumeXML, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create volume: %w", err)
	}

	// The domain XML references the overlay by path; without one it is useless
	path, err := m.client.StorageVolGetPath(vol)
	if err != nil {
		_ = m.client.StorageVolDelete(vol, 0)
		return "", fmt.Errorf("failed to get volume path: %w", err)
	}

	return path, nil
}

// DeleteVolume deletes a volume from the specified pool.
func (m *Manager) DeleteVolume(ctx context.Context, poolName, volumeName string) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return fmt.Errorf("volume not found: %w", err)
	}

	if err := m.client.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}

	return nil
}

// DeleteVolumesWithPrefix deletes every volume of poolName whose name starts
// with prefix. All matching volumes are attempted; failures are joined.
func (m *Manager) DeleteVolumesWithPrefix(ctx context.Context, poolName, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("refusing to delete volumes with empty prefix")
	}

	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return fmt.Errorf("failed to list volumes: %w", err)
	}

	// Delete the matches, carrying on past failures
	var errs []error
	for _, vol := range volumes {
		if !strings.HasPrefix(vol.Name, prefix) {
			continue
		}
		if err := m.client.StorageVolDelete(vol, 0); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete volume %s: %w", vol.Name, err))
		}
	}

	return errors.Join(errs...)
}

// ListVolumes lists all volumes in the specified pool.
func (m *Manager) ListVolumes(ctx context.Context, poolName string) ([]VolumeInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	var volumeInfos []VolumeInfo
	for _, vol := range volumes {
		path, err := m.client.StorageVolGetPath(vol)
		if err != nil {
			// Skip volumes we can't get the path for
			continue
		}

		_, capacity, allocation, err := m.client.StorageVolGetInfo(vol)
		if err != nil {
			// Deleted between the listing and now
			continue
		}

		volumeInfos = append(volumeInfos, VolumeInfo{
			Name:       vol.Name,
			Path:       path,
			Pool:       poolName,
			Capacity:   capacity,
			Allocation: allocation,
		})
	}

	return volumeInfos, nil
}

// VolumeExists checks if a volume exists in the specified pool.
func (m *Manager) VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return false, fmt.Errorf("pool not found: %w", err)
	}

	if _, err := m.client.StorageVolLookupByName(pool, volumeName); err != nil {
		return false, nil
	}

	return true, nil
}

// generateOverlayXML generates XML for a qcow2 overlay volume.
func generateOverlayXML(spec OverlaySpec) (string, error) {
	uid, gid, _ := GetQEMUUserGroup()

	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: spec.Name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: spec.CapacityBytes,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(VolumeFormatQCOW2),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: uid,
				Group: gid,
				Mode:  "0644",
			},
		},
		BackingStore: &libvirtxml.StorageVolumeBackingStore{
			Path: spec.BackingPath,
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(spec.BackingFormat),
			},
		},
	}

	doc, err := vol.Marshal()
	if err != nil {
		return "", err
	}

	return stripXMLHeader(doc), nil
}
