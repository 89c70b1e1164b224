// Package action parses and executes batches of input actions against a
// controlled machine.
//
// An action on the wire is an array whose first element is the action name
// and whose remaining elements are its positional arguments, for example
// ["mouseMove", 10, 20]. Parse turns that form into one of the concrete
// action types below. The set of actions is closed.
package action

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrUnknownAction is returned for an action name that is not supported.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidArgument is returned when an action has the wrong number or
	// type of arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeviceInjection wraps failures of the underlying device calls.
	ErrDeviceInjection = errors.New("device injection failed")
)

// Action is one symbolic input instruction.
type Action interface {
	// Name is the wire name of the action.
	Name() string
	// Args returns the positional arguments in wire order.
	Args() []any

	sealed()
}

// MouseMove moves the pointer to an absolute position.
type MouseMove struct {
	X, Y int
}

// SmoothMouseMove moves the pointer from one position to another over a
// duration, interpolating in fixed ticks.
type SmoothMouseMove struct {
	FromX, FromY int
	ToX, ToY     int
	Duration     time.Duration
}

// MousePress presses the buttons in Buttons (client mask bits).
type MousePress struct {
	Buttons int
}

// MouseRelease releases the buttons in Buttons (client mask bits).
type MouseRelease struct {
	Buttons int
}

// MouseWheel scrolls by Delta notches.
type MouseWheel struct {
	Delta int
}

// SendScancodes injects raw scancodes unmodified.
type SendScancodes struct {
	Codes []int
}

// KeyPress presses the key with the given DOM key code.
type KeyPress struct {
	KeyCode int
}

// KeyRelease releases the key with the given DOM key code.
type KeyRelease struct {
	KeyCode int
}

// Type types text using the active keyboard layout.
type Type struct {
	Text string
}

// Pause waits before the next action.
type Pause struct {
	Duration time.Duration
}

// Calibrate locates a width x height calibration rectangle on screen.
type Calibrate struct {
	Width, Height int
}

func (MouseMove) Name() string { return "mouseMove" }
func (SmoothMouseMove) Name() string { return "smoothMouseMove" }
func (MousePress) Name() string { return "mousePress" }
func (MouseRelease) Name() string { return "mouseRelease" }
func (MouseWheel) Name() string { return "mouseWheel" }
func (SendScancodes) Name() string { return "keyboardSendScancodes" }
func (KeyPress) Name() string { return "keyPress" }
func (KeyRelease) Name() string { return "keyRelease" }
func (Type) Name() string { return "type" }
func (Pause) Name() string { return "pause" }
func (Calibrate) Name() string { return "calibrate" }

func (a MouseMove) Args() []any { return []any{a.X, a.Y} }
func (a SmoothMouseMove) Args() []any {
	return []any{a.FromX, a.FromY, a.ToX, a.ToY, a.Duration.Milliseconds()}
}
func (a MousePress) Args() []any { return []any{a.Buttons} }
func (a MouseRelease) Args() []any { return []any{a.Buttons} }
func (a MouseWheel) Args() []any { return []any{a.Delta} }
func (a SendScancodes) Args() []any {
	codes := make([]any, len(a.Codes))
	for i, c := range a.Codes {
		codes[i] = c
	}
	return []any{codes}
}
func (a KeyPress) Args() []any { return []any{a.KeyCode} }
func (a KeyRelease) Args() []any { return []any{a.KeyCode} }
func (a Type) Args() []any { return []any{a.Text} }
func (a Pause) Args() []any { return []any{a.Duration.Milliseconds()} }
func (a Calibrate) Args() []any { return []any{a.Width, a.Height} }

func (MouseMove) sealed() {}
func (SmoothMouseMove) sealed() {}
func (MousePress) sealed() {}
func (MouseRelease) sealed() {}
func (MouseWheel) sealed() {}
func (SendScancodes) sealed() {}
func (KeyPress) sealed() {}
func (KeyRelease) sealed() {}
func (Type) sealed() {}
func (Pause) sealed() {}
func (Calibrate) sealed() {}

// String renders an action the way it appears on the wire.
func String(a Action) string {
	parts := []string{a.Name()}
	for _, arg := range a.Args() {
		parts = append(parts, fmt.Sprint(arg))
	}
	return strings.Join(parts, " ")
}

// arity is the number of arguments each action takes.
var arity = map[string]int{
	"mouseMove":             2,
	"smoothMouseMove":       5,
	"mousePress":            1,
	"mouseRelease":          1,
	"mouseWheel":            1,
	"keyboardSendScancodes": 1,
	"keyPress":              1,
	"keyRelease":            1,
	"type":                  1,
	"pause":                 1,
	"calibrate":             2,
}

// Names returns the supported action names.
func Names() []string {
	return []string{
		"mouseMove", "smoothMouseMove", "mousePress", "mouseRelease", "mouseWheel",
		"keyboardSendScancodes", "keyPress", "keyRelease", "type", "pause", "calibrate",
	}
}

// Parse converts the wire form [name, args...] into an Action.
func Parse(raw []any) (Action, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty action", ErrInvalidArgument)
	}
	name, ok := raw[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: action name must be a string, got %T", ErrInvalidArgument, raw[0])
	}
	n, ok := arity[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	args := raw[1:]
	if len(args) != n {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidArgument, name, n, len(args))
	}

	p := argParser{name: name, args: args}
	var a Action
	switch name {
	case "mouseMove":
		a = MouseMove{X: p.intArg(0), Y: p.intArg(1)}
	case "smoothMouseMove":
		a = SmoothMouseMove{
			FromX: p.intArg(0), FromY: p.intArg(1),
			ToX: p.intArg(2), ToY: p.intArg(3),
			Duration: p.millisArg(4),
		}
	case "mousePress":
		a = MousePress{Buttons: p.intArg(0)}
	case "mouseRelease":
		a = MouseRelease{Buttons: p.intArg(0)}
	case "mouseWheel":
		a = MouseWheel{Delta: p.intArg(0)}
	case "keyboardSendScancodes":
		a = SendScancodes{Codes: p.intsArg(0)}
	case "keyPress":
		a = KeyPress{KeyCode: p.intArg(0)}
	case "keyRelease":
		a = KeyRelease{KeyCode: p.intArg(0)}
	case "type":
		a = Type{Text: p.stringArg(0)}
	case "pause":
		a = Pause{Duration: p.millisArg(0)}
	case "calibrate":
		a = Calibrate{Width: p.intArg(0), Height: p.intArg(1)}
	}
	if p.err != nil {
		return nil, p.err
	}
	return a, nil
}

// ParseBatch parses every entry of a batch. It stops at the first invalid
// entry and reports its index.
func ParseBatch(raw [][]any) ([]Action, error) {
	actions := make([]Action, 0, len(raw))
	for i, r := range raw {
		a, err := Parse(r)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// argParser converts decoded JSON or YAML values. The first failure sticks.
type argParser struct {
	name string
	args []any
	err  error
}

func (p *argParser) fail(i int, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s argument %d must be %s, got %T", ErrInvalidArgument, p.name, i+1, want, p.args[i])
	}
}

func (p *argParser) intArg(i int) int {
	v, ok := toInt(p.args[i])
	if !ok {
		p.fail(i, "an integer")
	}
	return v
}

func (p *argParser) millisArg(i int) time.Duration {
	v := p.intArg(i)
	if v < 0 && p.err == nil {
		p.err = fmt.Errorf("%w: %s duration must not be negative", ErrInvalidArgument, p.name)
	}
	return time.Duration(v) * time.Millisecond
}

func (p *argParser) stringArg(i int) string {
	s, ok := p.args[i].(string)
	if !ok {
		p.fail(i, "a string")
	}
	return s
}

func (p *argParser) intsArg(i int) []int {
	list, ok := p.args[i].([]any)
	if !ok {
		if codes, ok := p.args[i].([]int); ok {
			return codes
		}
		p.fail(i, "a list of integers")
		return nil
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		v, ok := toInt(item)
		if !ok {
			p.fail(i, "a list of integers")
			return nil
		}
		out = append(out, v)
	}
	return out
}

// toInt accepts the integer representations produced by encoding/json
// (float64) and yaml.v3 (int).
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
