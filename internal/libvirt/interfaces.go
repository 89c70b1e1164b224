package libvirt

import (
	"context"
	"io"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/marionette/internal/storage"
)

// libvirtClient defines the libvirt operations the hypervisor backend needs.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type libvirtClient interface {
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)

	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainLookupByUUID(UUID libvirt.UUID) (libvirt.Domain, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainCreateWithFlags(Dom libvirt.Domain, Flags uint32) (libvirt.Domain, error)
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefineFlags(Dom libvirt.Domain, Flags libvirt.DomainUndefineFlagsValues) error
	DomainScreenshot(Dom libvirt.Domain, outStream io.Writer, Screen uint32, Flags uint32) (libvirt.OptString, error)

	DomainSnapshotLookupByName(Dom libvirt.Domain, Name string, Flags uint32) (libvirt.DomainSnapshot, error)
	DomainSnapshotGetXMLDesc(Snap libvirt.DomainSnapshot, Flags uint32) (string, error)

	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)

	QEMUDomainMonitorCommand(Dom libvirt.Domain, Cmd string, Flags uint32) (string, error)
	QEMUDomainAgentCommand(Dom libvirt.Domain, Cmd string, Timeout int32, Flags uint32) (libvirt.OptString, error)

	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// overlayStore defines the storage operations needed for linked clones.
//
// In production, this is satisfied by *storage.Manager.
type overlayStore interface {
	ClonePool() string
	EnsureClonePool(ctx context.Context) error
	CreateOverlay(ctx context.Context, poolName string, spec storage.OverlaySpec) (string, error)
	DeleteVolumesWithPrefix(ctx context.Context, poolName, prefix string) error
}
