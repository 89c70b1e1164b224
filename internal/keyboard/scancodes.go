package keyboard

// XT set 1 make codes by physical key position (US names). Extended keys
// are prefixed with 0xE0.
var (
	scEscape    = []int{0x01}
	scBackspace = []int{0x0E}
	scTab       = []int{0x0F}
	scEnter     = []int{0x1C}
	scLCtrl     = []int{0x1D}
	scLShift    = []int{0x2A}
	scRShift    = []int{0x36}
	scLAlt      = []int{0x38}
	scSpace     = []int{0x39}
	scCapsLock  = []int{0x3A}
	scNumLock   = []int{0x45}
	scScroll    = []int{0x46}
	scKPMul     = []int{0x37}
	scKPMinus   = []int{0x4A}
	scKPPlus    = []int{0x4E}
	scKPDot     = []int{0x53}
	scOEM102    = []int{0x56}

	scRCtrl    = []int{0xE0, 0x1D}
	scAltGr    = []int{0xE0, 0x38}
	scHome     = []int{0xE0, 0x47}
	scUp       = []int{0xE0, 0x48}
	scPageUp   = []int{0xE0, 0x49}
	scLeft     = []int{0xE0, 0x4B}
	scRight    = []int{0xE0, 0x4D}
	scEnd      = []int{0xE0, 0x4F}
	scDown     = []int{0xE0, 0x50}
	scPageDown = []int{0xE0, 0x51}
	scInsert   = []int{0xE0, 0x52}
	scDelete   = []int{0xE0, 0x53}
	scLWin     = []int{0xE0, 0x5B}
	scRWin     = []int{0xE0, 0x5C}
	scMenu     = []int{0xE0, 0x5D}
	scKPDiv    = []int{0xE0, 0x35}

	// Pause has no break code.
	scPause = []int{0xE1, 0x1D, 0x45, 0xE1, 0x9D, 0xC5}
)

// Physical key positions on the main block, named after the US legends.
const (
	pos1 = 0x02 + iota
	pos2
	pos3
	pos4
	pos5
	pos6
	pos7
	pos8
	pos9
	pos0
	posMinus
	posEqual
)

const (
	posQ = 0x10 + iota
	posW
	posE
	posR
	posT
	posY
	posU
	posI
	posO
	posP
	posLBracket
	posRBracket
)

const (
	posA = 0x1E + iota
	posS
	posD
	posF
	posG
	posH
	posJ
	posK
	posL
	posSemicolon
	posQuote
	posBacktick
)

const (
	posBackslash = 0x2B + iota
	posZ
	posX
	posC
	posV
	posB
	posN
	posM
	posComma
	posPeriod
	posSlash
)

// DOM keyCode values sent by browsers for the keys the layouts know about.
const (
	kcBackspace  = 8
	kcTab        = 9
	kcEnter      = 13
	kcShift      = 16
	kcCtrl       = 17
	kcAlt        = 18
	kcPause      = 19
	kcCapsLock   = 20
	kcEscape     = 27
	kcSpace      = 32
	kcPageUp     = 33
	kcPageDown   = 34
	kcEnd        = 35
	kcHome       = 36
	kcLeft       = 37
	kcUp         = 38
	kcRight      = 39
	kcDown       = 40
	kcInsert     = 45
	kcDelete     = 46
	kc0          = 48
	kcA          = 65
	kcLWin       = 91
	kcRWin       = 92
	kcMenu       = 93
	kcNumpad0    = 96
	kcMultiply   = 106
	kcAdd        = 107
	kcSubtract   = 109
	kcDecimal    = 110
	kcDivide     = 111
	kcF1         = 112
	kcNumLock    = 144
	kcScrollLock = 145
	kcSemicolon  = 186
	kcEqual      = 187
	kcComma      = 188
	kcMinus      = 189
	kcPeriod     = 190
	kcSlash      = 191
	kcBacktick   = 192
	kcLBracket   = 219
	kcBackslash  = 220
	kcRBracket   = 221
	kcQuote      = 222
	kcAltGr      = 225
)

// numpad make codes for 0..9.
var numpad = [10]int{0x52, 0x4F, 0x50, 0x51, 0x4B, 0x4C, 0x4D, 0x47, 0x48, 0x49}

// function key make codes for F1..F12.
var functionKeys = [12]int{0x3B, 0x3C, 0x3D, 0x3E, 0x3F, 0x40, 0x41, 0x42, 0x43, 0x44, 0x57, 0x58}

// breakCodes returns the release sequence for a make sequence: every code
// gets the 0x80 bit, extended prefixes are kept.
func breakCodes(codes []int) []int {
	out := make([]int, 0, len(codes))
	for _, c := range codes {
		if c == 0xE0 {
			out = append(out, c)
			continue
		}
		out = append(out, c|0x80)
	}
	return out
}
