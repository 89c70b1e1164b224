// Package libvirt implements the hypervisor capabilities on a libvirt/QEMU
// host, on top of github.com/digitalocean/go-libvirt.
//
// Machines are libvirt domains, found by name or UUID. Clones are linked:
// every writable disk of the source becomes a qcow2 overlay in the clone
// pool (see internal/storage), and the clone domain gets a fresh UUID, MAC
// addresses and NVRAM. Cloning from a snapshot requires an external
// snapshot, whose recorded disks are the frozen backing files.
//
// Session locks are flock(2) locks on {lockDir}/{uuid}.lock. Attaching
// takes a shared lock, clone sessions an exclusive one, and Prune deletes
// clones whose lock nobody holds.
//
// Devices go through QEMU directly:
//   - mouse and keyboard: the QMP input-send-event monitor command
//   - screen: virDomainScreenshot (PPM or PNG)
//   - guest processes: guest-exec through the QEMU guest agent
//
// Connection Management:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	hv := libvirt.NewHypervisor(client, libvirt.WithLockDir("/run/marionette/locks"))
//	mgr := session.NewManager(hv)
//
// Consumer-Side Interfaces:
//
// The backend talks to libvirt through libvirtClient and to storage through
// overlayStore, both satisfied by *libvirt.Libvirt and *storage.Manager in
// production and by mocks in tests.
package libvirt
