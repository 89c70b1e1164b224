package libvirt

import (
	"context"
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/marionette/internal/naming"
	"github.com/jbweber/marionette/internal/storage"
)

// cloneDefinition is a clone domain ready to be defined.
type cloneDefinition struct {
	def      *libvirtxml.Domain
	source   string
	snapshot string
}

// buildClone creates the overlays for every writable disk of src and returns
// the clone's domain definition.
func (h *Hypervisor) buildClone(ctx context.Context, src *libvirtxml.Domain, name, id string) (*libvirtxml.Domain, error) {
	def, err := copyDomain(src)
	if err != nil {
		return nil, err
	}

	// New identity; libvirt assigns the runtime ID
	def.Name = name
	def.UUID = id
	def.ID = nil
	def.Metadata = nil
	def.Description = fmt.Sprintf("marionette linked clone of %s", src.Name)

	if def.Devices == nil {
		def.Devices = &libvirtxml.DomainDeviceList{}
	}

	// Point every writable disk at a fresh overlay
	pool := h.storage.ClonePool()
	for i := range def.Devices.Disks {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("clone of %s interrupted: %w", src.Name, err)
		}

		disk := &def.Devices.Disks[i]
		if !isWritableDisk(disk) {
			continue
		}

		backing, err := h.diskSourcePath(disk)
		if err != nil {
			return nil, err
		}
		format, err := diskFormat(disk, backing)
		if err != nil {
			return nil, err
		}

		overlay, err := h.storage.CreateOverlay(ctx, pool, storage.OverlaySpec{
			Name:          naming.VolumeNameOverlay(name, disk.Target.Dev),
			BackingPath:   backing,
			BackingFormat: format,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create overlay for %s: %w", disk.Target.Dev, err)
		}

		disk.Source = &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: overlay},
		}
		disk.BackingStore = nil
		if disk.Driver == nil {
			disk.Driver = &libvirtxml.DomainDiskDriver{Name: "qemu"}
		}
		disk.Driver.Type = string(storage.VolumeFormatQCOW2)
	}

	// MACs and NVRAM must not be shared with the source
	if err := rewriteIdentity(def, id); err != nil {
		return nil, err
	}
	return def, nil
}

// rewriteIdentity gives the clone its own MAC addresses, display ports and
// NVRAM, and makes sure it has an absolute pointing device.
func rewriteIdentity(def *libvirtxml.Domain, id string) error {
	for i := range def.Devices.Interfaces {
		iface := &def.Devices.Interfaces[i]
		mac, err := naming.MACFromUUID(id, i)
		if err != nil {
			return fmt.Errorf("failed to calculate MAC address: %w", err)
		}
		iface.MAC = &libvirtxml.DomainInterfaceMAC{Address: mac}
		// Tap names are per host; let libvirt pick one.
		iface.Target = nil
	}

	// Fixed display ports would collide with the running source
	for i := range def.Devices.Graphics {
		g := &def.Devices.Graphics[i]
		if g.VNC != nil {
			g.VNC.Port = 0
			g.VNC.WebSocket = 0
			g.VNC.AutoPort = "yes"
		}
		if g.Spice != nil {
			g.Spice.Port = 0
			g.Spice.TLSPort = 0
			g.Spice.AutoPort = "yes"
		}
	}

	if def.OS != nil && def.OS.NVRam != nil {
		// libvirt creates a fresh variable store from the template.
		def.OS.NVRam.NVRam = ""
	}

	// Absolute pointer moves need a tablet
	for _, in := range def.Devices.Inputs {
		if in.Type == "tablet" {
			return nil
		}
	}
	def.Devices.Inputs = append(def.Devices.Inputs, libvirtxml.DomainInput{Type: "tablet", Bus: "usb"})
	return nil
}

// isWritableDisk reports whether disk needs an overlay. CD-ROMs, floppies,
// read-only, shareable and empty disks are kept as they are.
func isWritableDisk(disk *libvirtxml.DomainDisk) bool {
	if disk.Device != "" && disk.Device != "disk" {
		return false
	}
	if disk.ReadOnly != nil || disk.Shareable != nil {
		return false
	}
	return disk.Source != nil && disk.Target != nil
}

// diskSourcePath resolves a disk source to a host path.
func (h *Hypervisor) diskSourcePath(disk *libvirtxml.DomainDisk) (string, error) {
	src := disk.Source
	switch {
	case src.File != nil && src.File.File != "":
		return src.File.File, nil
	case src.Block != nil && src.Block.Dev != "":
		return src.Block.Dev, nil
	case src.Volume != nil:
		pool, err := h.lv.StoragePoolLookupByName(src.Volume.Pool)
		if err != nil {
			return "", fmt.Errorf("pool %s of disk %s not found: %w", src.Volume.Pool, disk.Target.Dev, err)
		}
		vol, err := h.lv.StorageVolLookupByName(pool, src.Volume.Volume)
		if err != nil {
			return "", fmt.Errorf("volume %s of disk %s not found: %w", src.Volume.Volume, disk.Target.Dev, err)
		}
		path, err := h.lv.StorageVolGetPath(vol)
		if err != nil {
			return "", fmt.Errorf("failed to get volume path: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("disk %s has a source type that cannot be linked-cloned", disk.Target.Dev)
}

// diskFormat returns the driver format of disk, probing the file when the
// definition does not name one.
func diskFormat(disk *libvirtxml.DomainDisk, path string) (storage.VolumeFormat, error) {
	if disk.Driver != nil && disk.Driver.Type != "" {
		return storage.VolumeFormat(disk.Driver.Type), nil
	}
	format, err := storage.DetectDiskFormat(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect format of %s: %w", path, err)
	}
	return format, nil
}

// copyDomain deep-copies a definition through its XML form.
func copyDomain(src *libvirtxml.Domain) (*libvirtxml.Domain, error) {
	doc, err := src.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	var def libvirtxml.Domain
	if err := def.Unmarshal(doc); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	return &def, nil
}
