package hypervisor

import (
	"context"
	"strings"
)

// ButtonMask is the set of pressed mouse buttons sent with every pointer event.
type ButtonMask uint8

const (
	ButtonLeft   ButtonMask = 0x01
	ButtonRight  ButtonMask = 0x02
	ButtonMiddle ButtonMask = 0x04
)

// Has reports whether every bit of b is set in m.
func (m ButtonMask) Has(b ButtonMask) bool {
	return m&b == b
}

func (m ButtonMask) String() string {
	if m == 0 {
		return "none"
	}
	var names []string
	if m.Has(ButtonLeft) {
		names = append(names, "left")
	}
	if m.Has(ButtonRight) {
		names = append(names, "right")
	}
	if m.Has(ButtonMiddle) {
		names = append(names, "middle")
	}
	return strings.Join(names, "|")
}

// ProcessSpec describes a process to start inside the guest.
type ProcessSpec struct {
	// CommandLine is the executable followed by its arguments.
	CommandLine []string `json:"commandLine" yaml:"commandLine"`
	Env         []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ProcessResult is the outcome of a guest process.
type ProcessResult struct {
	ExitCode int    `json:"exitCode" yaml:"exitCode"`
	Stdout   string `json:"stdout" yaml:"stdout"`
	Stderr   string `json:"stderr" yaml:"stderr"`
}

// Done is a Progress that has already completed with err.
type Done struct {
	Err error
}

// Wait returns the stored error immediately.
func (d Done) Wait(context.Context) error {
	return d.Err
}
