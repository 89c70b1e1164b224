// Package keyboard translates logical keys and printable text into XT
// (set 1) scancode sequences.
//
// Logical keys are identified by the DOM keyCode a browser reports for the
// key. A Layout maps those codes, and the characters it can type, onto
// physical key positions. Layouts are built once at package init and are
// read-only afterwards, so a *Layout is safe for concurrent use.
package keyboard

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownKeyCode is returned when a key code has no entry in a layout.
	ErrUnknownKeyCode = errors.New("unknown key code")

	// ErrUnknownCharacter is returned when text contains a character the
	// layout cannot type.
	ErrUnknownCharacter = errors.New("unknown character")

	// ErrUnknownLayout is returned by Lookup for unregistered layout names.
	ErrUnknownLayout = errors.New("unknown keyboard layout")
)

// DefaultLayout is used when no layout is configured.
const DefaultLayout = "us"

// Direction selects the press or release table of a layout.
type Direction int

const (
	Press Direction = iota
	Release
)

func (d Direction) String() string {
	if d == Release {
		return "release"
	}
	return "press"
}

// stroke is how one character is produced: a physical key plus modifiers.
type stroke struct {
	key   int
	shift bool
	altGr bool
}

// Layout is an immutable key table for one keyboard layout.
type Layout struct {
	Name        string
	Description string

	press   map[int][]int
	release map[int][]int
	chars   map[rune]stroke
}

// Resolve returns the scancodes for pressing or releasing the key
// identified by keyCode.
func (l *Layout) Resolve(dir Direction, keyCode int) ([]int, error) {
	table := l.press
	if dir == Release {
		table = l.release
	}
	codes, ok := table[keyCode]
	if !ok {
		return nil, fmt.Errorf("%w: %d (layout %s)", ErrUnknownKeyCode, keyCode, l.Name)
	}
	out := make([]int, len(codes))
	copy(out, codes)
	return out, nil
}

// Type returns one flat scancode sequence that types text. Each character
// is pressed and released in turn, wrapped in its modifier presses.
func (l *Layout) Type(text string) ([]int, error) {
	var out []int
	for _, r := range text {
		st, ok := l.chars[r]
		if !ok {
			return nil, fmt.Errorf("%w: %q (layout %s)", ErrUnknownCharacter, r, l.Name)
		}
		if st.altGr {
			out = append(out, scAltGr...)
		}
		if st.shift {
			out = append(out, scLShift...)
		}
		out = append(out, st.key, st.key|0x80)
		if st.shift {
			out = append(out, breakCodes(scLShift)...)
		}
		if st.altGr {
			out = append(out, breakCodes(scAltGr)...)
		}
	}
	return out, nil
}

// KeyCount returns the number of key codes the layout resolves.
func (l *Layout) KeyCount() int {
	return len(l.press)
}

// CharCount returns the number of characters the layout can type.
func (l *Layout) CharCount() int {
	return len(l.chars)
}

var layouts = map[string]*Layout{}

func register(l *Layout) {
	layouts[l.Name] = l
}

// Lookup returns the layout registered under name.
func Lookup(name string) (*Layout, error) {
	l, ok := layouts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownLayout, name, Names())
	}
	return l, nil
}

// Names returns the registered layout names in sorted order.
func Names() []string {
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builder assembles a Layout from the shared non-character keys plus the
// layout's own letter rows and character table.
type builder struct {
	l *Layout
}

func newBuilder(name, description string) *builder {
	b := &builder{l: &Layout{
		Name:        name,
		Description: description,
		press:       map[int][]int{},
		release:     map[int][]int{},
		chars:       map[rune]stroke{},
	}}
	b.commonKeys()
	return b
}

func (b *builder) key(keyCode int, codes []int) {
	b.l.press[keyCode] = codes
	b.l.release[keyCode] = breakCodes(codes)
}

func (b *builder) char(r rune, key int, shift, altGr bool) {
	b.l.chars[r] = stroke{key: key, shift: shift, altGr: altGr}
}

// row registers unshifted characters on consecutive keys starting at first.
// A space in chars skips that key.
func (b *builder) row(first int, chars string) {
	for i, r := range []rune(chars) {
		if r != ' ' {
			b.char(r, first+i, false, false)
		}
	}
}

func (b *builder) shiftRow(first int, chars string) {
	for i, r := range []rune(chars) {
		if r != ' ' {
			b.char(r, first+i, true, false)
		}
	}
}

func (b *builder) altGrRow(first int, chars string) {
	for i, r := range []rune(chars) {
		if r != ' ' {
			b.char(r, first+i, false, true)
		}
	}
}

// letters registers a row of letter keys: the DOM key code of each letter,
// its lowercase character, and its shifted uppercase character.
func (b *builder) letters(first int, row string) {
	for i, r := range row {
		pos := first + i
		b.key(kcA+int(r-'a'), []int{pos})
		b.char(r, pos, false, false)
		b.char(r-'a'+'A', pos, true, false)
	}
}

func (b *builder) commonKeys() {
	b.key(kcBackspace, scBackspace)
	b.key(kcTab, scTab)
	b.key(kcEnter, scEnter)
	b.key(kcShift, scLShift)
	b.key(kcCtrl, scLCtrl)
	b.key(kcAlt, scLAlt)
	b.key(kcCapsLock, scCapsLock)
	b.key(kcEscape, scEscape)
	b.key(kcSpace, scSpace)
	b.key(kcPageUp, scPageUp)
	b.key(kcPageDown, scPageDown)
	b.key(kcEnd, scEnd)
	b.key(kcHome, scHome)
	b.key(kcLeft, scLeft)
	b.key(kcUp, scUp)
	b.key(kcRight, scRight)
	b.key(kcDown, scDown)
	b.key(kcInsert, scInsert)
	b.key(kcDelete, scDelete)
	b.key(kcLWin, scLWin)
	b.key(kcRWin, scRWin)
	b.key(kcMenu, scMenu)
	b.key(kcMultiply, scKPMul)
	b.key(kcAdd, scKPPlus)
	b.key(kcSubtract, scKPMinus)
	b.key(kcDecimal, scKPDot)
	b.key(kcDivide, scKPDiv)
	b.key(kcNumLock, scNumLock)
	b.key(kcScrollLock, scScroll)
	b.key(kcAltGr, scAltGr)

	b.l.press[kcPause] = scPause
	b.l.release[kcPause] = []int{}

	// Digit row: keyCode 48 is '0', which sits after '9'.
	b.key(kc0, []int{pos0})
	for d := 1; d <= 9; d++ {
		b.key(kc0+d, []int{pos1 + d - 1})
	}
	for d := 0; d < 10; d++ {
		b.key(kcNumpad0+d, []int{numpad[d]})
	}
	for i, code := range functionKeys {
		b.key(kcF1+i, []int{code})
	}

	b.key(kcSemicolon, []int{posSemicolon})
	b.key(kcEqual, []int{posEqual})
	b.key(kcComma, []int{posComma})
	b.key(kcMinus, []int{posMinus})
	b.key(kcPeriod, []int{posPeriod})
	b.key(kcSlash, []int{posSlash})
	b.key(kcBacktick, []int{posBacktick})
	b.key(kcLBracket, []int{posLBracket})
	b.key(kcBackslash, []int{posBackslash})
	b.key(kcRBracket, []int{posRBracket})
	b.key(kcQuote, []int{posQuote})

	b.char(' ', scSpace[0], false, false)
	b.char('\n', scEnter[0], false, false)
	b.char('\t', scTab[0], false, false)
}

func (b *builder) build() *Layout {
	return b.l
}
