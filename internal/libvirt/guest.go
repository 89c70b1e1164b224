package libvirt

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jbweber/marionette/internal/hypervisor"
)

type guest struct {
	m        *machine
	interval time.Duration
}

var _ hypervisor.Guest = (*guest)(nil)

func (g *guest) ping() error {
	if err := g.m.agent("guest-ping", nil, nil); err != nil {
		return fmt.Errorf("guest agent of %s not available: %w", g.m.name, err)
	}
	return nil
}

type guestExecArgs struct {
	Path          string   `json:"path"`
	Arg           []string `json:"arg,omitempty"`
	Env           []string `json:"env,omitempty"`
	CaptureOutput bool     `json:"capture-output"`
}

type guestExecStatus struct {
	Exited   bool   `json:"exited"`
	ExitCode int    `json:"exitcode"`
	OutData  string `json:"out-data"`
	ErrData  string `json:"err-data"`
}

// Run starts spec through the guest agent and polls until it exits.
func (g *guest) Run(ctx context.Context, spec hypervisor.ProcessSpec) (*hypervisor.ProcessResult, error) {
	if len(spec.CommandLine) == 0 {
		return nil, fmt.Errorf("empty command line")
	}

	var started struct {
		PID int `json:"pid"`
	}
	err := g.m.agent("guest-exec", guestExecArgs{
		Path:          spec.CommandLine[0],
		Arg:           spec.CommandLine[1:],
		Env:           spec.Env,
		CaptureOutput: true,
	}, &started)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		var status guestExecStatus
		if err := g.m.agent("guest-exec-status", map[string]int{"pid": started.PID}, &status); err != nil {
			return nil, err
		}
		if status.Exited {
			return processResult(status)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("guest process %d did not exit: %w", started.PID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func processResult(status guestExecStatus) (*hypervisor.ProcessResult, error) {
	stdout, err := base64.StdEncoding.DecodeString(status.OutData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode guest stdout: %w", err)
	}
	stderr, err := base64.StdEncoding.DecodeString(status.ErrData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode guest stderr: %w", err)
	}
	return &hypervisor.ProcessResult{
		ExitCode: status.ExitCode,
		Stdout:   string(stdout),
		Stderr:   string(stderr),
	}, nil
}
