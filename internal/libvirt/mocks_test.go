package libvirt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/marionette/internal/storage"
)

// mockLibvirt is a mock implementation of libvirtClient for testing.
type mockLibvirt struct {
	mu      sync.Mutex
	domains map[string]*mockDomain
	volumes map[string]string // "pool/volume" -> path
	calls   []string

	createErr      error
	destroyErr     error
	undefineErr    error
	undefineFlags  libvirt.DomainUndefineFlagsValues
	monitorErr     error
	monitorReply   string
	monitorCmds    []string
	agentReplies   []string
	agentCmds      []string
	screenshot     []byte
	screenshotMime string
}

type mockDomain struct {
	dom          libvirt.Domain
	xml          string
	state        libvirt.DomainState
	launchStates []libvirt.DomainState
	snapshots    map[string]string // name -> snapshot XML
	metadata     string
}

func newMockLibvirt() *mockLibvirt {
	return &mockLibvirt{
		domains:      make(map[string]*mockDomain),
		volumes:      make(map[string]string),
		monitorReply: `{"return": {}}`,
	}
}

func (m *mockLibvirt) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockLibvirt) count(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

// addDomain defines a domain from XML in the given state.
func (m *mockLibvirt) addDomain(t *testing.T, xml string, state libvirt.DomainState) *mockDomain {
	t.Helper()
	var def libvirtxml.Domain
	if err := def.Unmarshal(xml); err != nil {
		t.Fatalf("invalid domain XML: %v", err)
	}
	id, err := uuid.Parse(def.UUID)
	if err != nil {
		t.Fatalf("invalid domain UUID: %v", err)
	}
	d := &mockDomain{
		dom:       libvirt.Domain{Name: def.Name, UUID: libvirt.UUID(id)},
		xml:       xml,
		state:     state,
		snapshots: make(map[string]string),
	}
	m.domains[def.Name] = d
	return d
}

func (m *mockLibvirt) lookup(dom libvirt.Domain) (*mockDomain, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return nil, fmt.Errorf("Domain not found: no domain with matching name '%s'", dom.Name)
	}
	return d, nil
}

func (m *mockLibvirt) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var doms []libvirt.Domain
	for _, d := range m.domains {
		doms = append(doms, d.dom)
	}
	return doms, uint32(len(doms)), nil
}

func (m *mockLibvirt) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[name]
	if !ok {
		return libvirt.Domain{}, fmt.Errorf("Domain not found: no domain with matching name '%s'", name)
	}
	return d.dom, nil
}

func (m *mockLibvirt) DomainLookupByUUID(id libvirt.UUID) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.domains {
		if d.dom.UUID == id {
			return d.dom, nil
		}
	}
	return libvirt.Domain{}, fmt.Errorf("Domain not found: no domain with matching uuid")
}

func (m *mockLibvirt) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.lookup(dom)
	if err != nil {
		return "", err
	}
	return d.xml, nil
}

func (m *mockLibvirt) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DomainDefineXML")
	var def libvirtxml.Domain
	if err := def.Unmarshal(xml); err != nil {
		return libvirt.Domain{}, err
	}
	id, err := uuid.Parse(def.UUID)
	if err != nil {
		return libvirt.Domain{}, err
	}
	d := &mockDomain{
		dom:       libvirt.Domain{Name: def.Name, UUID: libvirt.UUID(id)},
		xml:       xml,
		state:     libvirt.DomainShutoff,
		snapshots: make(map[string]string),
	}
	m.domains[def.Name] = d
	return d.dom, nil
}

func (m *mockLibvirt) DomainCreateWithFlags(dom libvirt.Domain, flags uint32) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DomainCreateWithFlags")
	if m.createErr != nil {
		return libvirt.Domain{}, m.createErr
	}
	d, err := m.lookup(dom)
	if err != nil {
		return libvirt.Domain{}, err
	}
	if len(d.launchStates) == 0 {
		d.state = libvirt.DomainRunning
	}
	return dom, nil
}

func (m *mockLibvirt) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.lookup(dom)
	if err != nil {
		return 0, 0, err
	}
	if len(d.launchStates) > 0 {
		d.state = d.launchStates[0]
		d.launchStates = d.launchStates[1:]
	}
	return int32(d.state), 0, nil
}

func (m *mockLibvirt) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DomainDestroy")
	if m.destroyErr != nil {
		return m.destroyErr
	}
	d, err := m.lookup(dom)
	if err != nil {
		return err
	}
	d.state = libvirt.DomainShutoff
	return nil
}

func (m *mockLibvirt) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DomainUndefineFlags")
	if m.undefineErr != nil {
		return m.undefineErr
	}
	if _, err := m.lookup(dom); err != nil {
		return err
	}
	m.undefineFlags = flags
	delete(m.domains, dom.Name)
	return nil
}

func (m *mockLibvirt) DomainScreenshot(dom libvirt.Domain, out io.Writer, screen uint32, flags uint32) (libvirt.OptString, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DomainScreenshot")
	if m.screenshot == nil {
		return nil, fmt.Errorf("no display")
	}
	if _, err := out.Write(m.screenshot); err != nil {
		return nil, err
	}
	return libvirt.OptString{m.screenshotMime}, nil
}

func (m *mockLibvirt) DomainSnapshotLookupByName(dom libvirt.Domain, name string, flags uint32) (libvirt.DomainSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.lookup(dom)
	if err != nil {
		return libvirt.DomainSnapshot{}, err
	}
	if _, ok := d.snapshots[name]; !ok {
		return libvirt.DomainSnapshot{}, fmt.Errorf("Domain snapshot not found: %s", name)
	}
	return libvirt.DomainSnapshot{Name: name, Dom: dom}, nil
}

func (m *mockLibvirt) DomainSnapshotGetXMLDesc(snap libvirt.DomainSnapshot, flags uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.lookup(snap.Dom)
	if err != nil {
		return "", err
	}
	return d.snapshots[snap.Name], nil
}

func (m *mockLibvirt) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockLibvirt) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.volumes[pool.Name+"/"+name]; !ok {
		return libvirt.StorageVol{}, fmt.Errorf("Storage volume not found: %s", name)
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockLibvirt) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volumes[vol.Pool+"/"+vol.Name], nil
}

func (m *mockLibvirt) QEMUDomainMonitorCommand(dom libvirt.Domain, cmd string, flags uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitorCmds = append(m.monitorCmds, cmd)
	if m.monitorErr != nil {
		return "", m.monitorErr
	}
	return m.monitorReply, nil
}

func (m *mockLibvirt) QEMUDomainAgentCommand(dom libvirt.Domain, cmd string, timeout int32, flags uint32) (libvirt.OptString, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentCmds = append(m.agentCmds, cmd)
	if len(m.agentReplies) == 0 {
		return nil, fmt.Errorf("Guest agent is not responding")
	}
	reply := m.agentReplies[0]
	m.agentReplies = m.agentReplies[1:]
	return libvirt.OptString{reply}, nil
}

func (m *mockLibvirt) DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.lookup(dom)
	if err != nil {
		return err
	}
	if len(metadata) > 0 {
		d.metadata = metadata[0]
	}
	return nil
}

func (m *mockLibvirt) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.lookup(dom)
	if err != nil {
		return "", err
	}
	if d.metadata == "" {
		return "", fmt.Errorf("metadata not found: Requested metadata element is not present")
	}
	return d.metadata, nil
}

// mockStore is a mock implementation of overlayStore for testing.
type mockStore struct {
	mu             sync.Mutex
	overlays       []storage.OverlaySpec
	deletePrefixes []string
	createErr      error
	deleteErr      error
	block          chan struct{} // when set, CreateOverlay waits on it
}

func (s *mockStore) ClonePool() string { return "clones" }

func (s *mockStore) EnsureClonePool(ctx context.Context) error { return nil }

func (s *mockStore) CreateOverlay(ctx context.Context, poolName string, spec storage.OverlaySpec) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.overlays = append(s.overlays, spec)
	return "/pool/" + poolName + "/" + spec.Name, nil
}

func (s *mockStore) DeleteVolumesWithPrefix(ctx context.Context, poolName, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletePrefixes = append(s.deletePrefixes, prefix)
	return s.deleteErr
}

const (
	sourceUUID = "6f1c2d3e-4a5b-4c6d-8e7f-001122334455"

	sourceXML = `<domain type="kvm">
  <name>win11</name>
  <uuid>` + sourceUUID + `</uuid>
  <memory unit="GiB">4</memory>
  <os firmware="efi">
    <type arch="x86_64">hvm</type>
    <nvram template="/usr/share/OVMF/OVMF_VARS.fd">/var/lib/libvirt/qemu/nvram/win11_VARS.fd</nvram>
  </os>
  <devices>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2"/>
      <source file="/var/lib/libvirt/images/win11.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <disk type="volume" device="disk">
      <driver name="qemu" type="raw"/>
      <source pool="data" volume="win11-data.raw"/>
      <target dev="vdb" bus="virtio"/>
    </disk>
    <disk type="file" device="cdrom">
      <source file="/isos/virtio-win.iso"/>
      <target dev="sda" bus="sata"/>
      <readonly/>
    </disk>
    <interface type="network">
      <mac address="52:54:00:aa:bb:cc"/>
      <source network="default"/>
      <target dev="vnet3"/>
      <model type="virtio"/>
    </interface>
    <graphics type="vnc" port="5901" autoport="no"/>
  </devices>
</domain>`

	snapshotXML = `<domainsnapshot>
  <name>clean</name>
  <disks>
    <disk name="vda" snapshot="external">
      <source file="/var/lib/libvirt/images/win11.clean.qcow2"/>
    </disk>
  </disks>
  <domain type="kvm">
    <name>win11</name>
    <uuid>` + sourceUUID + `</uuid>
    <devices>
      <disk type="file" device="disk">
        <driver name="qemu" type="qcow2"/>
        <source file="/var/lib/libvirt/images/win11-base.qcow2"/>
        <target dev="vda" bus="virtio"/>
      </disk>
    </devices>
  </domain>
</domainsnapshot>`

	internalSnapshotXML = `<domainsnapshot>
  <name>internal</name>
  <disks>
    <disk name="vda" snapshot="internal"/>
  </disks>
  <domain type="kvm">
    <name>win11</name>
    <uuid>` + sourceUUID + `</uuid>
  </domain>
</domainsnapshot>`
)

// newTestHypervisor returns a hypervisor over mocks with a temporary lock
// directory and the win11 source domain defined.
func newTestHypervisor(t *testing.T, state libvirt.DomainState) (*Hypervisor, *mockLibvirt, *mockStore) {
	t.Helper()
	lv := newMockLibvirt()
	d := lv.addDomain(t, sourceXML, state)
	d.snapshots["clean"] = snapshotXML
	d.snapshots["internal"] = internalSnapshotXML
	lv.volumes["data/win11-data.raw"] = "/srv/data/win11-data.raw"

	sm := &mockStore{}
	h := newHypervisor(lv, sm, WithLockDir(t.TempDir()))
	h.pollInterval = 5 * time.Millisecond
	return h, lv, sm
}

func containsAll(t *testing.T, doc string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(doc, want) {
			t.Errorf("missing %q in:\n%s", want, doc)
		}
	}
}
