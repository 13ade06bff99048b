package eventtap

import (
	"errors"

	"hrm/internal/config"
	"hrm/internal/keymap"
)

// Synthesizer builds the events that carry out the engine's decisions and
// posts them, tagged with SyntheticMarker. Every method returns the number
// of events the poster accepted.
type Synthesizer struct {
	poster Poster
}

// NewSynthesizer returns a synthesizer posting through p.
func NewSynthesizer(p Poster) *Synthesizer {
	return &Synthesizer{poster: p}
}

// Tap posts a key-down and key-up for keyCode carrying flags. The key-up is
// posted even when the key-down fails so the key cannot stick.
func (s *Synthesizer) Tap(keyCode uint16, flags keymap.Flags) (int, error) {
	down, errDown := s.post(Event{Type: KeyDown, KeyCode: keyCode, Flags: flags})
	up, errUp := s.post(Event{Type: KeyUp, KeyCode: keyCode, Flags: flags})
	return down + up, errors.Join(errDown, errUp)
}

// FlagsChanged posts a press (down) or release of b's modifier, using the
// modifier key on the same side of the keyboard as b. flags is the complete
// modifier state after the change, which may still carry b's modifier when
// another binding holds it too.
func (s *Synthesizer) FlagsChanged(b config.KeyBinding, down bool, flags keymap.Flags) (int, error) {
	return s.post(Event{
		Type:    FlagsChanged,
		KeyCode: b.Modifier.KeyCodeFor(b.Hand()),
		Flags:   flags,
		Down:    down,
	})
}

// Replay posts a buffered event with flags added to its own.
func (s *Synthesizer) Replay(ev *Event, flags keymap.Flags) (int, error) {
	c := *ev
	c.Flags |= flags
	return s.post(c)
}

func (s *Synthesizer) post(ev Event) (int, error) {
	ev.Marker = SyntheticMarker
	if err := s.poster.Post(ev); err != nil {
		return 0, err
	}
	return 1, nil
}

// IsSynthetic reports whether ev was posted by a Synthesizer.
func IsSynthetic(ev *Event) bool {
	return ev.Marker == SyntheticMarker
}
