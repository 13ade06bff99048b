// Package keymap defines the fixed vocabulary shared by the configuration,
// the decision engine and the platform taps: physical key positions, the
// four modifiers and the modifier flag bits carried on key events.
//
// Key codes are platform specific. macOS uses virtual key codes, Linux uses
// evdev codes. The per-platform tables live in keycodes_*.go.
package keymap

import (
	"fmt"
	"strings"
)

// Hand is the hand a key position belongs to.
type Hand int

const (
	HandNone Hand = iota
	HandLeft
	HandRight
)

// Opposite returns the other hand. HandNone has no opposite.
func (h Hand) Opposite() Hand {
	switch h {
	case HandLeft:
		return HandRight
	case HandRight:
		return HandLeft
	default:
		return HandNone
	}
}

func (h Hand) String() string {
	switch h {
	case HandLeft:
		return "left"
	case HandRight:
		return "right"
	default:
		return "none"
	}
}

// Position is one of the ten home-row-adjacent key slots.
type Position int

const (
	PositionNone Position = iota
	LeftPinky
	LeftRing
	LeftMiddle
	LeftIndex
	LeftIndexInner
	RightIndexInner
	RightIndex
	RightMiddle
	RightRing
	RightPinky
)

// Positions lists every valid position from left pinky to right pinky.
var Positions = []Position{
	LeftPinky, LeftRing, LeftMiddle, LeftIndex, LeftIndexInner,
	RightIndexInner, RightIndex, RightMiddle, RightRing, RightPinky,
}

var positionNames = map[Position]string{
	LeftPinky:       "left_pinky",
	LeftRing:        "left_ring",
	LeftMiddle:      "left_middle",
	LeftIndex:       "left_index",
	LeftIndexInner:  "left_index_inner",
	RightIndexInner: "right_index_inner",
	RightIndex:      "right_index",
	RightMiddle:     "right_middle",
	RightRing:       "right_ring",
	RightPinky:      "right_pinky",
}

// Hand returns the hand that types this position.
func (p Position) Hand() Hand {
	switch p {
	case LeftPinky, LeftRing, LeftMiddle, LeftIndex, LeftIndexInner:
		return HandLeft
	case RightIndexInner, RightIndex, RightMiddle, RightRing, RightPinky:
		return HandRight
	default:
		return HandNone
	}
}

// Valid reports whether p is one of the ten named positions.
func (p Position) Valid() bool {
	_, ok := positionNames[p]
	return ok
}

func (p Position) String() string {
	if name, ok := positionNames[p]; ok {
		return name
	}
	return "none"
}

// DisplayName returns a human readable name such as "Left Index (Inner)".
func (p Position) DisplayName() string {
	if !p.Valid() {
		return "None"
	}
	parts := strings.Split(p.String(), "_")
	inner := len(parts) == 3
	for i, part := range parts[:2] {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	name := parts[0] + " " + parts[1]
	if inner {
		name += " (Inner)"
	}
	return name
}

// MarshalText implements encoding.TextMarshaler.
func (p Position) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("keymap: invalid position %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Both snake_case and
// camelCase spellings are accepted.
func (p *Position) UnmarshalText(text []byte) error {
	pos, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*p = pos
	return nil
}

// ParsePosition parses a position name such as "left_pinky" or "leftPinky".
func ParsePosition(s string) (Position, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	for pos, name := range positionNames {
		if strings.ReplaceAll(name, "_", "") == norm {
			return pos, nil
		}
	}
	return PositionNone, fmt.Errorf("keymap: unknown position %q", s)
}

// Flags is a set of modifier bits carried on a key event. The bit layout
// follows the macOS event flags so darwin events need no translation.
type Flags uint64

const (
	FlagShift   Flags = 1 << 17
	FlagControl Flags = 1 << 18
	FlagOption  Flags = 1 << 19
	FlagCommand Flags = 1 << 20
)

// PhysicalModifierMask covers the flags that indicate a held modifier key.
const PhysicalModifierMask = FlagShift | FlagControl | FlagOption | FlagCommand

// Has reports whether every bit in o is set.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

func (f Flags) String() string {
	var names []string
	for _, m := range Modifiers {
		if f.Has(m.Flag()) {
			names = append(names, m.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

// Modifier is one of the four modifiers a binding can act as when held.
type Modifier int

const (
	ModifierNone Modifier = iota
	Shift
	Control
	Option
	Command
)

// Modifiers lists the assignable modifiers.
var Modifiers = []Modifier{Shift, Control, Option, Command}

func (m Modifier) String() string {
	switch m {
	case Shift:
		return "shift"
	case Control:
		return "control"
	case Option:
		return "option"
	case Command:
		return "command"
	default:
		return "none"
	}
}

// Symbol returns the conventional glyph for the modifier.
func (m Modifier) Symbol() string {
	switch m {
	case Shift:
		return "⇧"
	case Control:
		return "⌃"
	case Option:
		return "⌥"
	case Command:
		return "⌘"
	default:
		return ""
	}
}

// Flag returns the event flag bit for the modifier.
func (m Modifier) Flag() Flags {
	switch m {
	case Shift:
		return FlagShift
	case Control:
		return FlagControl
	case Option:
		return FlagOption
	case Command:
		return FlagCommand
	default:
		return 0
	}
}

// LeftKeyCode returns the key code of the left-hand physical modifier key.
func (m Modifier) LeftKeyCode() uint16 {
	switch m {
	case Shift:
		return KeyLeftShift
	case Control:
		return KeyLeftControl
	case Option:
		return KeyLeftOption
	case Command:
		return KeyLeftCommand
	default:
		return 0
	}
}

// RightKeyCode returns the key code of the right-hand physical modifier key.
func (m Modifier) RightKeyCode() uint16 {
	switch m {
	case Shift:
		return KeyRightShift
	case Control:
		return KeyRightControl
	case Option:
		return KeyRightOption
	case Command:
		return KeyRightCommand
	default:
		return 0
	}
}

// KeyCodeFor returns the modifier key code matching the hand.
func (m Modifier) KeyCodeFor(h Hand) uint16 {
	if h == HandRight {
		return m.RightKeyCode()
	}
	return m.LeftKeyCode()
}

// ModifierForKeyCode maps a physical modifier key code back to its modifier.
func ModifierForKeyCode(code uint16) (Modifier, bool) {
	for _, m := range Modifiers {
		if code == m.LeftKeyCode() || code == m.RightKeyCode() {
			return m, true
		}
	}
	return ModifierNone, false
}

// MarshalText implements encoding.TextMarshaler.
func (m Modifier) MarshalText() ([]byte, error) {
	if m == ModifierNone {
		return []byte(""), nil
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Modifier) UnmarshalText(text []byte) error {
	mod, err := ParseModifier(string(text))
	if err != nil {
		return err
	}
	*m = mod
	return nil
}

// ParseModifier parses a modifier name. Common aliases (ctrl, alt, cmd,
// super, meta) are accepted; "" and "none" yield ModifierNone.
func ParseModifier(s string) (Modifier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ModifierNone, nil
	case "shift":
		return Shift, nil
	case "control", "ctrl":
		return Control, nil
	case "option", "alt":
		return Option, nil
	case "command", "cmd", "super", "meta":
		return Command, nil
	default:
		return ModifierNone, fmt.Errorf("keymap: unknown modifier %q", s)
	}
}
