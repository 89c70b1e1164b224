package libvirt

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/marionette/internal/hypervisor"
)

type snapshot struct {
	machine *machine
	snap    libvirt.DomainSnapshot
}

var _ hypervisor.Snapshot = (*snapshot)(nil)

func (s *snapshot) Name() string { return s.snap.Name }

// Machine returns the domain as recorded in the snapshot. Only external
// snapshots can serve as a clone source: their disk state at snapshot time
// is a plain file that overlays can be stacked on.
func (s *snapshot) Machine(ctx context.Context) (hypervisor.Machine, error) {
	doc, err := s.machine.hv.lv.DomainSnapshotGetXMLDesc(s.snap, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot XML: %w", err)
	}

	var def libvirtxml.DomainSnapshot
	if err := def.Unmarshal(doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot XML: %w", err)
	}
	if def.Domain == nil {
		return nil, fmt.Errorf("snapshot %s does not record a domain definition", s.snap.Name)
	}
	if def.Disks == nil || len(def.Disks.Disks) == 0 {
		return nil, fmt.Errorf("snapshot %s has no external disks; only external snapshots can be linked-cloned", s.snap.Name)
	}
	for _, d := range def.Disks.Disks {
		if d.Snapshot == "internal" {
			return nil, fmt.Errorf("disk %s of snapshot %s is internal; only external snapshots can be linked-cloned", d.Name, s.snap.Name)
		}
	}

	return &machine{
		hv:         s.machine.hv,
		dom:        s.machine.dom,
		name:       s.machine.name,
		id:         s.machine.id,
		registered: true,
		frozen:     def.Domain,
		snapshot:   s.snap.Name,
	}, nil
}
