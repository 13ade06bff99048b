// Package eventtap connects the tap/hold engine to the operating system's
// keyboard event stream. A platform Tap delivers every key event to the
// Manager on one locked OS thread; the Manager feeds the engine and turns
// its decisions back into events through the Synthesizer.
package eventtap

import (
	"errors"
	"fmt"

	"hrm/internal/engine"
	"hrm/internal/keymap"
)

var (
	// ErrTapUnavailable is returned when no event tap can be created on this
	// platform or device set.
	ErrTapUnavailable = errors.New("eventtap: event tap unavailable")

	// ErrPermissionDenied is returned when the OS refuses the tap for lack
	// of accessibility or input-device permission.
	ErrPermissionDenied = errors.New("eventtap: permission denied")

	// ErrClosed is returned by Post after Close.
	ErrClosed = errors.New("eventtap: tap closed")
)

// SyntheticMarker tags every event this process posts. On macOS it is
// written to the kCGEventSourceUserData field so the tap can recognise its
// own output when it comes back around.
const SyntheticMarker int64 = 0xDEADBEEF

// EventType is the kind of keyboard event.
type EventType int

const (
	KeyDown EventType = iota
	KeyUp
	FlagsChanged
	// TapDisabled is delivered when the OS switched the tap off, after a
	// callback timeout or user input.
	TapDisabled
)

func (t EventType) String() string {
	switch t {
	case KeyDown:
		return "key_down"
	case KeyUp:
		return "key_up"
	case FlagsChanged:
		return "flags_changed"
	case TapDisabled:
		return "tap_disabled"
	default:
		return fmt.Sprintf("event_type(%d)", int(t))
	}
}

// Event is a platform-neutral keyboard event.
type Event struct {
	Type    EventType
	KeyCode uint16
	Flags   keymap.Flags
	Marker  int64
	Repeat  bool

	// Down reports, for FlagsChanged, whether the modifier key went down.
	Down bool
}

// Copy implements engine.Event.
func (e *Event) Copy() engine.Event {
	c := *e
	return &c
}

func (e *Event) String() string {
	return fmt.Sprintf("%s code=%d flags=%s", e.Type, e.KeyCode, e.Flags)
}

// Verdict is the handler's decision for a delivered event.
type Verdict int

const (
	// Pass returns the event to the OS, with any flag changes the handler
	// made.
	Pass Verdict = iota
	// Drop removes the event from the stream.
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "pass"
}

// Handler processes one event. It runs on the tap's thread and must not
// block. It may modify ev.Flags before returning Pass.
type Handler func(ev *Event) Verdict

// Poster injects events into the OS stream.
type Poster interface {
	Post(ev Event) error
}

// Tap is an OS-level keyboard interception point.
//
// Open and Run are called on the same goroutine, which is locked to its OS
// thread. Close may be called from any goroutine and makes Run return.
type Tap interface {
	Poster

	// Open creates the tap and installs h. It fails with ErrTapUnavailable
	// or ErrPermissionDenied.
	Open(h Handler) error

	// Run delivers events to the handler until Close.
	Run() error

	// Enable re-enables a tap the OS disabled.
	Enable() error

	Close() error
}
