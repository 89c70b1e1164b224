package libvirt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jbweber/marionette/internal/hypervisor"
)

// lockSession holds a machine's session lock file.
type lockSession struct {
	hv       *Hypervisor
	machine  *machine
	fl       *flock.Flock
	lockType hypervisor.LockType
}

var _ hypervisor.Session = (*lockSession)(nil)

// Console returns the device access of the locked machine.
func (s *lockSession) Console(ctx context.Context) (hypervisor.Console, error) {
	if s.machine == nil {
		return nil, fmt.Errorf("session is not locked to a machine")
	}
	return &console{m: s.machine}, nil
}

// Unlock releases the lock file. Unlocking an unlocked session is a no-op.
func (s *lockSession) Unlock(ctx context.Context) error {
	if s.fl == nil {
		return nil
	}
	if err := s.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", s.machine.name, err)
	}
	s.machine.log().Debug("Session lock released")
	s.fl = nil
	s.machine = nil
	return nil
}

// console hands out devices backed by the QEMU monitor and guest agent.
type console struct {
	m *machine

	mu      sync.Mutex
	display displaySize
}

var _ hypervisor.Console = (*console)(nil)

// displaySize caches the guest resolution used to scale absolute pointer
// coordinates.
type displaySize struct {
	width, height int
	at            time.Time
}

// displaySizeTTL bounds how long a resolution is trusted; guests change
// mode while booting.
const displaySizeTTL = 2 * time.Second

func (c *console) Mouse(ctx context.Context) (hypervisor.Mouse, error) {
	return &mouse{m: c.m, size: c.size}, nil
}

func (c *console) Keyboard(ctx context.Context) (hypervisor.Keyboard, error) {
	return &keyboard{m: c.m}, nil
}

func (c *console) Screen(ctx context.Context) (hypervisor.Screen, error) {
	return &screen{m: c.m, observe: c.observe}, nil
}

// Guest requires a responding QEMU guest agent.
func (c *console) Guest(ctx context.Context) (hypervisor.Guest, error) {
	g := &guest{m: c.m, interval: c.m.hv.pollInterval}
	if err := g.ping(); err != nil {
		return nil, err
	}
	return g, nil
}

// size returns the current display resolution, taking a screenshot when
// the cached value is stale.
func (c *console) size(ctx context.Context) (int, int, error) {
	c.mu.Lock()
	d := c.display
	c.mu.Unlock()
	if d.width > 0 && time.Since(d.at) < displaySizeTTL {
		return d.width, d.height, nil
	}

	img, err := (&screen{m: c.m, observe: c.observe}).Screenshot(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to determine display size: %w", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

func (c *console) observe(width, height int) {
	c.mu.Lock()
	c.display = displaySize{width: width, height: height, at: time.Now()}
	c.mu.Unlock()
}
