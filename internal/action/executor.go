package action

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/marionette/internal/calibration"
	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/keyboard"
)

// SmoothMoveTick is the interval between intermediate pointer events of a
// smooth mouse move.
const SmoothMoveTick = 50 * time.Millisecond

// Button bits as sent by clients in mousePress and mouseRelease. They map
// onto the device mask in order: BUTTON1 to bit 0, BUTTON2 to bit 1 and
// BUTTON3 to bit 2.
const (
	ClientButton1 = 16 // left
	ClientButton2 = 8  // right
	ClientButton3 = 4  // middle
)

var clientButtons = []struct {
	client int
	device hypervisor.ButtonMask
}{
	{ClientButton1, hypervisor.ButtonLeft},
	{ClientButton2, hypervisor.ButtonRight},
	{ClientButton3, hypervisor.ButtonMiddle},
}

// DeviceButtons converts a client button mask to the device mask.
func DeviceButtons(client int) (hypervisor.ButtonMask, error) {
	var mask hypervisor.ButtonMask
	rest := client
	for _, b := range clientButtons {
		if client&b.client != 0 {
			mask |= b.device
			rest &^= b.client
		}
	}
	if rest != 0 {
		return 0, fmt.Errorf("%w: unknown mouse button bits %#x", ErrInvalidArgument, rest)
	}
	return mask, nil
}

// Target is the controlled machine an Executor drives. *session.Session
// implements it.
type Target interface {
	Mouse() hypervisor.Mouse
	Keyboard() hypervisor.Keyboard
	Screen() hypervisor.Screen
	// Buttons returns the mirrored set of pressed mouse buttons.
	Buttons() hypervisor.ButtonMask
	// SetButtons records the mask carried by the last injected event.
	SetButtons(hypervisor.ButtonMask)
}

// Result is the outcome of one action in isolated execution.
type Result struct {
	Success bool   `json:"success" yaml:"success"`
	Result  any    `json:"result,omitempty" yaml:"result,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// step is a translated action: the device calls it performs.
type step func(ctx context.Context, t Target) (any, error)

// Executor runs actions against a Target. It holds no per-target state and
// may be shared between targets; batches for the same target must not run
// concurrently.
type Executor struct {
	layout *keyboard.Layout
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor returns an Executor that translates keys with layout.
func NewExecutor(layout *keyboard.Layout) *Executor {
	return &Executor{
		layout: layout,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Layout returns the keyboard layout used for translation.
func (e *Executor) Layout() *keyboard.Layout {
	return e.layout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs actions in order. The first failure, in translation or in a
// device call, aborts the batch. The result is the output of the last
// action that produced one.
func (e *Executor) Execute(ctx context.Context, t Target, actions []Action) (any, error) {
	var last any
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{"index": i + 1, "total": len(actions)}).Debugf("execute %s", String(a))

		s, err := e.translate(a)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.Name(), err)
		}
		out, err := s(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.Name(), err)
		}
		if out != nil {
			last = out
		}
	}
	return last, nil
}

// ExecuteIsolated parses and runs raw actions in order, capturing parse and
// translation failures in the matching result slot and moving on. A failing
// device call still aborts the batch; the results gathered so far are
// returned with the error.
func (e *Executor) ExecuteIsolated(ctx context.Context, t Target, raw [][]any) ([]Result, error) {
	results := make([]Result, 0, len(raw))
	for i, r := range raw {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		a, err := Parse(r)
		if err == nil {
			logrus.WithFields(logrus.Fields{"index": i + 1, "total": len(raw)}).Debugf("execute %s", String(a))
			var s step
			s, err = e.translate(a)
			if err == nil {
				out, runErr := s(ctx, t)
				if runErr != nil {
					return results, fmt.Errorf("action %d (%s): %w", i, a.Name(), runErr)
				}
				results = append(results, Result{Success: true, Result: out})
				continue
			}
		}

		logrus.WithError(err).WithField("index", i+1).Debug("action rejected")
		results = append(results, Result{Success: false, Error: err.Error()})
	}
	return results, nil
}

func deviceErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrDeviceInjection, name, err)
}

// translate resolves an action to its device calls. Everything that can be
// checked without touching the device is checked here.
func (e *Executor) translate(a Action) (step, error) {
	switch a := a.(type) {
	case MouseMove:
		return func(ctx context.Context, t Target) (any, error) {
			return nil, deviceErr(a.Name(), t.Mouse().PutEventAbsolute(ctx, a.X, a.Y, 0, t.Buttons()))
		}, nil

	case SmoothMouseMove:
		return func(ctx context.Context, t Target) (any, error) {
			return nil, e.smoothMove(ctx, t, a)
		}, nil

	case MousePress:
		mask, err := DeviceButtons(a.Buttons)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, t Target) (any, error) {
			return nil, putButtons(ctx, t, t.Buttons()|mask)
		}, nil

	case MouseRelease:
		mask, err := DeviceButtons(a.Buttons)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, t Target) (any, error) {
			return nil, putButtons(ctx, t, t.Buttons()&^mask)
		}, nil

	case MouseWheel:
		return func(ctx context.Context, t Target) (any, error) {
			return nil, deviceErr(a.Name(), t.Mouse().PutEvent(ctx, 0, 0, a.Delta, t.Buttons()))
		}, nil

	case SendScancodes:
		return scancodes(a.Name(), a.Codes), nil

	case KeyPress:
		codes, err := e.layout.Resolve(keyboard.Press, a.KeyCode)
		if err != nil {
			return nil, err
		}
		return scancodes(a.Name(), codes), nil

	case KeyRelease:
		codes, err := e.layout.Resolve(keyboard.Release, a.KeyCode)
		if err != nil {
			return nil, err
		}
		return scancodes(a.Name(), codes), nil

	case Type:
		codes, err := e.layout.Type(a.Text)
		if err != nil {
			return nil, err
		}
		return scancodes(a.Name(), codes), nil

	case Pause:
		return func(ctx context.Context, _ Target) (any, error) {
			return nil, e.sleep(ctx, a.Duration)
		}, nil

	case Calibrate:
		if a.Width <= 0 || a.Height <= 0 {
			return nil, fmt.Errorf("%w: calibrate size must be positive, got %dx%d", ErrInvalidArgument, a.Width, a.Height)
		}
		return func(ctx context.Context, t Target) (any, error) {
			screen := t.Screen()
			if screen == nil {
				return nil, deviceErr(a.Name(), errors.New("screen capture not available"))
			}
			img, err := screen.Screenshot(ctx)
			if err != nil {
				return nil, deviceErr(a.Name(), err)
			}
			p, err := calibration.Locate(img, a.Width, a.Height)
			if err != nil {
				return nil, err
			}
			return p, nil
		}, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
}

func scancodes(name string, codes []int) step {
	return func(ctx context.Context, t Target) (any, error) {
		if len(codes) == 0 {
			return nil, nil
		}
		return nil, deviceErr(name, t.Keyboard().PutScancodes(ctx, codes))
	}
}

// putButtons injects a button event carrying next and records it as the
// mirrored state once the device accepted it.
func putButtons(ctx context.Context, t Target, next hypervisor.ButtonMask) error {
	if err := t.Mouse().PutEvent(ctx, 0, 0, 0, next); err != nil {
		return deviceErr("mouseButton", err)
	}
	t.SetButtons(next)
	return nil
}

// smoothMove jumps to the start point, then moves toward the end point on
// every tick, positioned by the fraction of the duration already elapsed.
// The last event is always exactly the end point.
func (e *Executor) smoothMove(ctx context.Context, t Target, a SmoothMouseMove) error {
	mouse := t.Mouse()
	move := func(x, y int) error {
		return deviceErr(a.Name(), mouse.PutEventAbsolute(ctx, x, y, 0, t.Buttons()))
	}

	if err := move(a.FromX, a.FromY); err != nil {
		return err
	}

	start := e.now()
	for {
		elapsed := e.now().Sub(start)
		if elapsed >= a.Duration {
			break
		}
		f := float64(a.Duration-elapsed) / float64(a.Duration)
		x := interpolate(f, a.FromX, a.ToX)
		y := interpolate(f, a.FromY, a.ToY)
		if err := move(x, y); err != nil {
			return err
		}
		if err := e.sleep(ctx, SmoothMoveTick); err != nil {
			return err
		}
	}

	return move(a.ToX, a.ToY)
}

// interpolate weighs from by f and to by 1-f, rounding half up.
func interpolate(f float64, from, to int) int {
	return int(math.Floor(f*float64(from) + (1-f)*float64(to) + 0.5))
}
