// Package storage manages the libvirt storage pool that holds clone disks.
//
// A linked clone never copies its source's disks. Each disk of the clone is
// a qcow2 overlay in the clone pool whose backing store is the corresponding
// disk of the source machine (or of the snapshot being cloned from). Writes
// land in the overlay; the source stays untouched.
//
// Volume Naming Convention:
//
// Overlay volumes are named {clone}_{target}.qcow2 (see internal/naming), so
// everything belonging to one clone can be removed with
// DeleteVolumesWithPrefix(pool, naming.VolumePrefix(clone)).
//
// Example usage:
//
//	mgr := storage.NewManager(client.Libvirt())
//	if err := mgr.EnsureClonePool(ctx); err != nil {
//	    return err
//	}
//
//	path, err := mgr.CreateOverlay(ctx, mgr.ClonePool(), storage.OverlaySpec{
//	    Name:          naming.VolumeNameOverlay(clone, "vda"),
//	    BackingPath:   "/var/lib/libvirt/images/win11.qcow2",
//	    BackingFormat: storage.VolumeFormatQCOW2,
//	})
package storage
