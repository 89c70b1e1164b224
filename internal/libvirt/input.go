package libvirt

import (
	"context"
	"fmt"
	"sync"

	"github.com/jbweber/marionette/internal/hypervisor"
)

// absMax is the upper bound of QEMU's absolute pointer axes.
const absMax = 0x7fff

type inputEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type inputMove struct {
	Axis  string `json:"axis"`
	Value int    `json:"value"`
}

type inputButton struct {
	Down   bool   `json:"down"`
	Button string `json:"button"`
}

type inputKey struct {
	Down bool     `json:"down"`
	Key  keyValue `json:"key"`
}

// keyValue is a QEMU KeyValue: a qnum ("number", int) or a QKeyCode
// ("qcode", string).
type keyValue struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// pauseSequence is the set 1 make code of Pause. It has no break code and
// no qnum; QEMU takes it as the "pause" qcode.
var pauseSequence = []int{0xE1, 0x1D, 0x45, 0xE1, 0x9D, 0xC5}

type inputArgs struct {
	Events []inputEvent `json:"events"`
}

func (m *machine) sendInput(events []inputEvent) error {
	if len(events) == 0 {
		return nil
	}
	return m.monitor("input-send-event", inputArgs{Events: events}, nil)
}

// mouse turns full button masks into the press/release edges QEMU expects.
type mouse struct {
	m    *machine
	size func(ctx context.Context) (int, int, error)

	mu      sync.Mutex
	pressed hypervisor.ButtonMask
}

var _ hypervisor.Mouse = (*mouse)(nil)

func (mo *mouse) PutEvent(ctx context.Context, dx, dy, dz int, buttons hypervisor.ButtonMask) error {
	var events []inputEvent
	if dx != 0 {
		events = append(events, inputEvent{Type: "rel", Data: inputMove{Axis: "x", Value: dx}})
	}
	if dy != 0 {
		events = append(events, inputEvent{Type: "rel", Data: inputMove{Axis: "y", Value: dy}})
	}
	return mo.send(events, dz, buttons)
}

func (mo *mouse) PutEventAbsolute(ctx context.Context, x, y, dz int, buttons hypervisor.ButtonMask) error {
	w, h, err := mo.size(ctx)
	if err != nil {
		return err
	}
	events := []inputEvent{
		{Type: "abs", Data: inputMove{Axis: "x", Value: scaleAbs(x, w)}},
		{Type: "abs", Data: inputMove{Axis: "y", Value: scaleAbs(y, h)}},
	}
	return mo.send(events, dz, buttons)
}

func (mo *mouse) send(events []inputEvent, dz int, buttons hypervisor.ButtonMask) error {
	mo.mu.Lock()
	defer mo.mu.Unlock()

	events = append(events, buttonEdges(mo.pressed, buttons)...)
	events = append(events, wheelEvents(dz)...)
	// Every call injects one event, even when nothing changes.
	if len(events) == 0 {
		events = append(events, inputEvent{Type: "rel", Data: inputMove{Axis: "x", Value: 0}})
	}
	if err := mo.m.sendInput(events); err != nil {
		return err
	}
	mo.pressed = buttons
	return nil
}

var buttonNames = []struct {
	mask hypervisor.ButtonMask
	name string
}{
	{hypervisor.ButtonLeft, "left"},
	{hypervisor.ButtonRight, "right"},
	{hypervisor.ButtonMiddle, "middle"},
}

func buttonEdges(from, to hypervisor.ButtonMask) []inputEvent {
	var events []inputEvent
	for _, b := range buttonNames {
		if from.Has(b.mask) == to.Has(b.mask) {
			continue
		}
		events = append(events, inputEvent{Type: "btn", Data: inputButton{Down: to.Has(b.mask), Button: b.name}})
	}
	return events
}

// wheelEvents emits one wheel click per unit of dz. Positive dz scrolls
// down.
func wheelEvents(dz int) []inputEvent {
	button := "wheel-down"
	if dz < 0 {
		button = "wheel-up"
		dz = -dz
	}
	var events []inputEvent
	for i := 0; i < dz; i++ {
		events = append(events,
			inputEvent{Type: "btn", Data: inputButton{Down: true, Button: button}},
			inputEvent{Type: "btn", Data: inputButton{Down: false, Button: button}},
		)
	}
	return events
}

// scaleAbs maps a pixel coordinate on an axis of the given length onto
// 0..absMax.
func scaleAbs(v, length int) int {
	if length <= 1 || v <= 0 {
		return 0
	}
	if v >= length-1 {
		return absMax
	}
	return v * absMax / (length - 1)
}

type keyboard struct {
	m *machine
}

var _ hypervisor.Keyboard = (*keyboard)(nil)

// PutScancodes sends XT set 1 codes as QEMU "qnum" key events, in order.
func (k *keyboard) PutScancodes(ctx context.Context, codes []int) error {
	events, err := qnumEvents(codes)
	if err != nil {
		return err
	}
	return k.m.sendInput(events)
}

// qnumEvents converts set 1 scancodes to key events. An 0xE0 prefix folds
// into bit 7 of the qnum; bit 7 of the code itself marks a release. The
// Pause sequence becomes a press and release of the "pause" qcode.
func qnumEvents(codes []int) ([]inputEvent, error) {
	events := make([]inputEvent, 0, len(codes))
	for i := 0; i < len(codes); i++ {
		code := codes[i]
		extended := false
		if code == 0xE0 {
			i++
			if i == len(codes) {
				return nil, fmt.Errorf("scancode sequence ends with a 0xE0 prefix")
			}
			code = codes[i]
			extended = true
		}
		if code == 0xE1 {
			if !extended && hasPrefix(codes[i:], pauseSequence) {
				pause := keyValue{Type: "qcode", Data: "pause"}
				events = append(events,
					inputEvent{Type: "key", Data: inputKey{Down: true, Key: pause}},
					inputEvent{Type: "key", Data: inputKey{Down: false, Key: pause}},
				)
				i += len(pauseSequence) - 1
				continue
			}
			return nil, fmt.Errorf("unsupported 0xE1 scancode sequence")
		}
		if code < 0 || code > 0xff {
			return nil, fmt.Errorf("invalid scancode %#x", code)
		}

		qnum := code & 0x7f
		if extended {
			qnum |= 0x80
		}
		events = append(events, inputEvent{
			Type: "key",
			Data: inputKey{Down: code&0x80 == 0, Key: keyValue{Type: "number", Data: qnum}},
		})
	}
	return events, nil
}

func hasPrefix(codes, prefix []int) bool {
	if len(codes) < len(prefix) {
		return false
	}
	for i, c := range prefix {
		if codes[i] != c {
			return false
		}
	}
	return true
}
