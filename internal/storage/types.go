package storage

import "fmt"

// PoolType represents the type of storage pool backend.
type PoolType string

const (
	PoolTypeDir PoolType = "dir" // Directory-based storage
)

// VolumeFormat represents the disk format.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2"
	VolumeFormatRaw   VolumeFormat = "raw"
)

// OverlaySpec specifies a copy-on-write volume on top of an existing disk.
type OverlaySpec struct {
	Name          string       // Volume name (e.g., "win11-marionette-3f2a9c1e_vda.qcow2")
	BackingPath   string       // Path of the disk the overlay reads through to
	BackingFormat VolumeFormat // Format of the backing disk
	// CapacityBytes is the virtual size of the overlay. Zero means "same as
	// the backing disk".
	CapacityBytes uint64
}

// Validate checks if the overlay spec is valid.
func (o *OverlaySpec) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("volume name is required")
	}
	if o.BackingPath == "" {
		return fmt.Errorf("backing path is required")
	}
	switch o.BackingFormat {
	case VolumeFormatQCOW2, VolumeFormatRaw:
	case "":
		return fmt.Errorf("backing format is required")
	default:
		return fmt.Errorf("invalid backing format: %s (must be qcow2 or raw)", o.BackingFormat)
	}
	return nil
}

// PoolInfo contains information about a storage pool.
type PoolInfo struct {
	Name       string   // Pool name
	Type       PoolType // Pool type
	Path       string   // Pool path (for dir-based pools)
	UUID       string   // Pool UUID
	State      string   // Pool state (running, inactive, etc.)
	Capacity   uint64   // Total capacity in bytes
	Allocation uint64   // Allocated space in bytes
	Available  uint64   // Available space in bytes
}

// AvailableGB returns the pool available space in GB.
func (p *PoolInfo) AvailableGB() float64 {
	return float64(p.Available) / (1024 * 1024 * 1024)
}

// VolumeInfo contains information about a storage volume.
type VolumeInfo struct {
	Name       string // Volume name
	Path       string // Full path to volume
	Pool       string // Pool name
	Capacity   uint64 // Capacity in bytes
	Allocation uint64 // Allocated space in bytes
}

// AllocationGB returns the volume allocation in GB.
func (v *VolumeInfo) AllocationGB() float64 {
	return float64(v.Allocation) / (1024 * 1024 * 1024)
}

// Default clone pool configuration.
const (
	// DefaultClonePool is the pool holding clone overlay volumes.
	DefaultClonePool = "marionette-clones"
	// DefaultClonePath is the directory backing DefaultClonePool.
	DefaultClonePath = "/var/lib/libvirt/images/marionette"
)
