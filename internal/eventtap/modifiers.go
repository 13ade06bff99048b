package eventtap

import "hrm/internal/keymap"

// modifierState is the modifier bookkeeping of a tap that re-emits events
// on a virtual keyboard. A physical and a synthetic press of the same
// modifier key share one press count, so the virtual key goes up only when
// the last holder lets go.
type modifierState struct {
	presses  map[uint16]int
	physical map[uint16]bool
}

func newModifierState() *modifierState {
	return &modifierState{
		presses:  make(map[uint16]int),
		physical: make(map[uint16]bool),
	}
}

// press counts a press (down) or release of a modifier key on the virtual
// keyboard and reports whether the virtual key changes state. A release
// with no press outstanding is ignored.
func (s *modifierState) press(code uint16, down bool) bool {
	n := s.presses[code]
	if down {
		s.presses[code] = n + 1
		return n == 0
	}
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(s.presses, code)
		return true
	}
	s.presses[code] = n - 1
	return false
}

// setPhysical records a modifier key on the grabbed keyboards and returns
// the resulting physical flags.
func (s *modifierState) setPhysical(code uint16, down bool) keymap.Flags {
	if down {
		s.physical[code] = true
	} else {
		delete(s.physical, code)
	}
	return s.physicalFlags()
}

// physicalFlags is the union of the modifiers held on the grabbed
// keyboards. Left and right keys of one modifier count separately.
func (s *modifierState) physicalFlags() keymap.Flags {
	var flags keymap.Flags
	for code := range s.physical {
		if mod, ok := keymap.ModifierForKeyCode(code); ok {
			flags |= mod.Flag()
		}
	}
	return flags
}
