package server

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/jbweber/marionette/internal/hypervisor"
)

// fakeHypervisor serves machines from a map and records every device call.
type fakeHypervisor struct {
	mu       sync.Mutex
	machines map[string]*fakeMachine
	scancode [][]int
	events   []hypervisor.ButtonMask
	mouseErr error
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{machines: map[string]*fakeMachine{}}
}

func (h *fakeHypervisor) add(name string, state hypervisor.MachineState) *fakeMachine {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := &fakeMachine{h: h, name: name, state: state}
	h.machines[name] = m
	return m
}

func (h *fakeHypervisor) machine(name string) (*fakeMachine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.machines[name]
	return m, ok
}

func (h *fakeHypervisor) FindMachine(_ context.Context, id string) (hypervisor.Machine, error) {
	if m, ok := h.machine(id); ok {
		return m, nil
	}
	return nil, hypervisor.ErrNotFound
}

func (h *fakeHypervisor) CreateMachine(_ context.Context, name string) (hypervisor.Machine, error) {
	return h.add(name, hypervisor.StateUnregistered), nil
}

func (h *fakeHypervisor) RegisterMachine(_ context.Context, m hypervisor.Machine) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m.(*fakeMachine).state = hypervisor.StatePoweredOff
	return nil
}

func (h *fakeHypervisor) NewSession(context.Context) (hypervisor.Session, error) {
	return fakeLock{h: h}, nil
}

type fakeMachine struct {
	h      *fakeHypervisor
	name   string
	state  hypervisor.MachineState
	locked bool
}

func (m *fakeMachine) ID() string   { return "uuid-" + m.name }
func (m *fakeMachine) Name() string { return m.name }

func (m *fakeMachine) State(context.Context) (hypervisor.MachineState, error) {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	return m.state, nil
}

func (m *fakeMachine) FindSnapshot(context.Context, string) (hypervisor.Snapshot, error) {
	return nil, hypervisor.ErrNotFound
}

func (m *fakeMachine) CloneTo(context.Context, hypervisor.Machine, hypervisor.CloneOptions) (hypervisor.Progress, error) {
	return hypervisor.Done{}, nil
}

func (m *fakeMachine) Lock(context.Context, hypervisor.Session, hypervisor.LockType) error {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.locked = true
	return nil
}

func (m *fakeMachine) LaunchProcess(context.Context, hypervisor.Session, hypervisor.LaunchMode) (hypervisor.Progress, error) {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.state = hypervisor.StateRunning
	return hypervisor.Done{}, nil
}

func (m *fakeMachine) PowerOff(context.Context) error {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.state = hypervisor.StatePoweredOff
	return nil
}

func (m *fakeMachine) UnregisterAndDelete(context.Context) error {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	delete(m.h.machines, m.name)
	return nil
}

// fakeLock is the session, the console and every device.
type fakeLock struct {
	h *fakeHypervisor
}

func (l fakeLock) Console(context.Context) (hypervisor.Console, error) { return l, nil }
func (l fakeLock) Unlock(context.Context) error                       { return nil }

func (l fakeLock) Mouse(context.Context) (hypervisor.Mouse, error)       { return l, nil }
func (l fakeLock) Keyboard(context.Context) (hypervisor.Keyboard, error) { return l, nil }
func (l fakeLock) Screen(context.Context) (hypervisor.Screen, error) {
	return nil, errors.New("no display")
}
func (l fakeLock) Guest(context.Context) (hypervisor.Guest, error) { return l, nil }

func (l fakeLock) PutEvent(_ context.Context, _, _, _ int, b hypervisor.ButtonMask) error {
	return l.event(b)
}

func (l fakeLock) PutEventAbsolute(_ context.Context, _, _, _ int, b hypervisor.ButtonMask) error {
	return l.event(b)
}

func (l fakeLock) event(b hypervisor.ButtonMask) error {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	if l.h.mouseErr != nil {
		return l.h.mouseErr
	}
	l.h.events = append(l.h.events, b)
	return nil
}

func (l fakeLock) PutScancodes(_ context.Context, codes []int) error {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	l.h.scancode = append(l.h.scancode, codes)
	return nil
}

func (l fakeLock) Screenshot(context.Context) (image.Image, error) {
	return nil, errors.New("no display")
}

func (l fakeLock) Run(_ context.Context, spec hypervisor.ProcessSpec) (*hypervisor.ProcessResult, error) {
	return &hypervisor.ProcessResult{ExitCode: 3, Stdout: spec.CommandLine[0]}, nil
}
