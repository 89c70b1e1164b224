package session

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/jbweber/marionette/internal/hypervisor"
)

// mockHypervisor is a hypervisor with configurable behavior and call
// tracking. Every machine it hands out records its calls on the same
// hypervisor so tests can assert ordering across objects.
type mockHypervisor struct {
	mu sync.Mutex

	machines map[string]*mockMachine

	findMachineFunc     func(id string) (hypervisor.Machine, error)
	createMachineFunc   func(name string) (hypervisor.Machine, error)
	registerMachineFunc func(m hypervisor.Machine) error
	newSessionFunc      func() (hypervisor.Session, error)

	// Call tracking
	calls      []string
	registered map[string]bool
	sessions   []*mockLock
}

func newMockHypervisor() *mockHypervisor {
	h := &mockHypervisor{
		machines:   map[string]*mockMachine{},
		registered: map[string]bool{},
	}
	h.findMachineFunc = func(id string) (hypervisor.Machine, error) {
		if m, ok := h.machines[id]; ok {
			return m, nil
		}
		return nil, hypervisor.ErrNotFound
	}
	h.createMachineFunc = func(name string) (hypervisor.Machine, error) {
		return h.addMachine(name, hypervisor.StateUnregistered), nil
	}
	h.registerMachineFunc = func(m hypervisor.Machine) error {
		h.registered[m.Name()] = true
		return nil
	}
	h.newSessionFunc = func() (hypervisor.Session, error) {
		l := &mockLock{h: h}
		h.sessions = append(h.sessions, l)
		return l, nil
	}
	return h
}

func (h *mockHypervisor) record(call string) {
	h.calls = append(h.calls, call)
}

func (h *mockHypervisor) count(call string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (h *mockHypervisor) addMachine(name string, state hypervisor.MachineState) *mockMachine {
	m := &mockMachine{
		h:     h,
		name:  name,
		id:    "uuid-" + name,
		state: state,
		cloneProgress: func() hypervisor.Progress {
			return hypervisor.Done{}
		},
		launchProgress: func() hypervisor.Progress {
			return hypervisor.Done{}
		},
	}
	h.machines[name] = m
	return m
}

func (h *mockHypervisor) FindMachine(_ context.Context, id string) (hypervisor.Machine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("FindMachine")
	return h.findMachineFunc(id)
}

func (h *mockHypervisor) CreateMachine(_ context.Context, name string) (hypervisor.Machine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("CreateMachine")
	return h.createMachineFunc(name)
}

func (h *mockHypervisor) RegisterMachine(_ context.Context, m hypervisor.Machine) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("RegisterMachine")
	return h.registerMachineFunc(m)
}

func (h *mockHypervisor) NewSession(context.Context) (hypervisor.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("NewSession")
	return h.newSessionFunc()
}

type mockMachine struct {
	h     *mockHypervisor
	name  string
	id    string
	state hypervisor.MachineState

	snapshots map[string]*mockMachine

	stateErr       error
	cloneErr       error
	lockErr        error
	launchErr      error
	powerOffErr    error
	deleteErr      error
	cloneProgress  func() hypervisor.Progress
	launchProgress func() hypervisor.Progress

	clonedFrom string
	lockType   hypervisor.LockType
}

func (m *mockMachine) ID() string   { return m.id }
func (m *mockMachine) Name() string { return m.name }

func (m *mockMachine) State(context.Context) (hypervisor.MachineState, error) {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.h.record("State")
	return m.state, m.stateErr
}

func (m *mockMachine) FindSnapshot(_ context.Context, name string) (hypervisor.Snapshot, error) {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.h.record("FindSnapshot")
	snap, ok := m.snapshots[name]
	if !ok {
		return nil, hypervisor.ErrNotFound
	}
	return mockSnapshot{name: name, machine: snap}, nil
}

func (m *mockMachine) CloneTo(_ context.Context, target hypervisor.Machine, opts hypervisor.CloneOptions) (hypervisor.Progress, error) {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.h.record("CloneTo")
	if m.cloneErr != nil {
		return nil, m.cloneErr
	}
	if !opts.Linked {
		return nil, errors.New("mock only supports linked clones")
	}
	target.(*mockMachine).clonedFrom = m.name
	return m.cloneProgress(), nil
}

func (m *mockMachine) Lock(_ context.Context, _ hypervisor.Session, lt hypervisor.LockType) error {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.h.record("Lock")
	m.lockType = lt
	return m.lockErr
}

func (m *mockMachine) LaunchProcess(context.Context, hypervisor.Session, hypervisor.LaunchMode) (hypervisor.Progress, error) {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.h.record("LaunchProcess")
	if m.launchErr != nil {
		return nil, m.launchErr
	}
	m.state = hypervisor.StateRunning
	return m.launchProgress(), nil
}

func (m *mockMachine) PowerOff(context.Context) error {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.h.record("PowerOff")
	if m.powerOffErr != nil {
		return m.powerOffErr
	}
	m.state = hypervisor.StatePoweredOff
	return nil
}

func (m *mockMachine) UnregisterAndDelete(context.Context) error {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.h.record("UnregisterAndDelete")
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.h.registered, m.name)
	delete(m.h.machines, m.name)
	return nil
}

type mockSnapshot struct {
	name    string
	machine *mockMachine
}

func (s mockSnapshot) Name() string { return s.name }

func (s mockSnapshot) Machine(context.Context) (hypervisor.Machine, error) {
	return s.machine, nil
}

// mockLock is the hypervisor session; it also serves as the console and
// every device.
type mockLock struct {
	h *mockHypervisor

	consoleErr  error
	mouseErr    error
	keyboardErr error
	screenErr   error
	unlockErr   error
}

func (l *mockLock) Console(context.Context) (hypervisor.Console, error) {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	l.h.record("Console")
	if l.consoleErr != nil {
		return nil, l.consoleErr
	}
	return l, nil
}

func (l *mockLock) Unlock(context.Context) error {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	l.h.record("Unlock")
	return l.unlockErr
}

func (l *mockLock) Mouse(context.Context) (hypervisor.Mouse, error) {
	if l.mouseErr != nil {
		return nil, l.mouseErr
	}
	return mockDevice{}, nil
}

func (l *mockLock) Keyboard(context.Context) (hypervisor.Keyboard, error) {
	if l.keyboardErr != nil {
		return nil, l.keyboardErr
	}
	return mockDevice{}, nil
}

func (l *mockLock) Screen(context.Context) (hypervisor.Screen, error) {
	if l.screenErr != nil {
		return nil, l.screenErr
	}
	return mockDevice{}, nil
}

func (l *mockLock) Guest(context.Context) (hypervisor.Guest, error) {
	return mockDevice{}, nil
}

type mockDevice struct{}

func (mockDevice) PutEvent(context.Context, int, int, int, hypervisor.ButtonMask) error {
	return nil
}

func (mockDevice) PutEventAbsolute(context.Context, int, int, int, hypervisor.ButtonMask) error {
	return nil
}

func (mockDevice) PutScancodes(context.Context, []int) error { return nil }

func (mockDevice) Screenshot(context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (mockDevice) Run(_ context.Context, spec hypervisor.ProcessSpec) (*hypervisor.ProcessResult, error) {
	return &hypervisor.ProcessResult{Stdout: spec.CommandLine[0]}, nil
}

// blockingProgress never completes on its own.
type blockingProgress struct{}

func (blockingProgress) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
