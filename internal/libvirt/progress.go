package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/marionette/internal/hypervisor"
)

// asyncProgress completes when a background operation calls finish.
type asyncProgress struct {
	done chan struct{}
	err  error
}

func newAsyncProgress() *asyncProgress {
	return &asyncProgress{done: make(chan struct{})}
}

func (p *asyncProgress) finish(err error) {
	p.err = err
	close(p.done)
}

// Wait blocks until the operation finishes or ctx is done. Abandoning the
// wait does not stop the operation.
func (p *asyncProgress) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return fmt.Errorf("operation did not complete: %w", ctx.Err())
	}
}

// launchProgress polls the domain state until it is running.
type launchProgress struct {
	m        *machine
	interval time.Duration
}

func (p *launchProgress) Wait(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		state, _, err := p.m.hv.lv.DomainGetState(p.m.dom, 0)
		if err != nil {
			return fmt.Errorf("failed to check launch state: %w", err)
		}
		switch libvirt.DomainState(state) {
		case libvirt.DomainRunning:
			return nil
		case libvirt.DomainShutoff, libvirt.DomainCrashed:
			return fmt.Errorf("domain %s stopped while launching (%s)", p.m.name, machineState(libvirt.DomainState(state)))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("launch of %s did not complete: %w", p.m.name, ctx.Err())
		case <-ticker.C:
		}
	}
}

var (
	_ hypervisor.Progress = (*asyncProgress)(nil)
	_ hypervisor.Progress = (*launchProgress)(nil)
)
