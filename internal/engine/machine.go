package engine

import (
	"time"

	"hrm/internal/config"
	"hrm/internal/keymap"
)

// State is the tap-hold state of a single key.
type State int

const (
	StateIdle State = iota
	StateUndecided
	StateHold
	StateTap
	StateQuickTapWindow
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUndecided:
		return "undecided"
	case StateHold:
		return "hold"
	case StateTap:
		return "tap"
	case StateQuickTapWindow:
		return "quick_tap_window"
	default:
		return "unknown"
	}
}

// Action is the outcome of feeding an input to a Machine.
type Action int

const (
	ActionNone Action = iota
	ActionResolvedHold
	ActionResolvedTap
	ActionHoldRelease
)

func (a Action) String() string {
	switch a {
	case ActionResolvedHold:
		return "hold"
	case ActionResolvedTap:
		return "tap"
	case ActionHoldRelease:
		return "hold_release"
	default:
		return "none"
	}
}

// MachineOptions are the resolved timing and filtering settings of one key.
type MachineOptions struct {
	// QuickTapTerm is the window after a tap in which a second press taps
	// immediately. Zero disables it.
	QuickTapTerm time.Duration

	// RequirePriorIdle is the minimum quiet time before a press may become
	// a hold. Zero disables it.
	RequirePriorIdle time.Duration

	// HandFiltering rejects holds chorded with keys of the same hand.
	HandFiltering bool

	// HoldTriggerOnRelease moves the hand check from the other key's press
	// to its release.
	HoldTriggerOnRelease bool
}

// OptionsFor resolves the effective options of a binding.
func OptionsFor(cfg *config.Configuration, b config.KeyBinding) MachineOptions {
	return MachineOptions{
		QuickTapTerm:         cfg.QuickTapTerm(b),
		RequirePriorIdle:     cfg.RequirePriorIdle(b),
		HandFiltering:        cfg.EffectiveBilateralFiltering(b),
		HoldTriggerOnRelease: cfg.HoldTriggerOnRelease,
	}
}

// Machine classifies the presses of one mod-tap key. It never reads a clock:
// every input carries its own timestamp, and a zero timestamp means "never".
type Machine struct {
	binding config.KeyBinding
	opts    MachineOptions

	state              State
	pressTimestamp     time.Duration
	lastTapTimestamp   time.Duration
	lastEventTimestamp time.Duration
}

// NewMachine creates an idle machine for the binding.
func NewMachine(b config.KeyBinding, opts MachineOptions) *Machine {
	return &Machine{binding: b, opts: opts}
}

func (m *Machine) Binding() config.KeyBinding      { return m.binding }
func (m *Machine) Options() MachineOptions         { return m.opts }
func (m *Machine) State() State                    { return m.state }
func (m *Machine) Undecided() bool                 { return m.state == StateUndecided }
func (m *Machine) PressTimestamp() time.Duration   { return m.pressTimestamp }
func (m *Machine) LastTapTimestamp() time.Duration { return m.lastTapTimestamp }

// LastEventTimestamp is the time of the most recent activity on any other key.
func (m *Machine) LastEventTimestamp() time.Duration { return m.lastEventTimestamp }

// ForceUndecided puts the machine back into undecided, as if pressed at ts.
func (m *Machine) ForceUndecided(ts time.Duration) {
	m.state = StateUndecided
	m.pressTimestamp = ts
}

// Press handles a key-down of this key.
func (m *Machine) Press(ts time.Duration) Action {
	// Auto-repeat.
	if m.state == StateHold || m.state == StateUndecided {
		return ActionNone
	}

	if m.state == StateQuickTapWindow && m.opts.QuickTapTerm > 0 {
		if ts-m.lastTapTimestamp <= m.opts.QuickTapTerm {
			m.state = StateTap
			m.pressTimestamp = ts
			return ActionResolvedTap
		}
	}

	if m.opts.RequirePriorIdle > 0 && m.lastEventTimestamp > 0 {
		if ts-m.lastEventTimestamp < m.opts.RequirePriorIdle {
			m.state = StateTap
			m.pressTimestamp = ts
			return ActionResolvedTap
		}
	}

	m.state = StateUndecided
	m.pressTimestamp = ts
	return ActionNone
}

// Release handles a key-up of this key. An undecided release is always a
// tap; there is no duration threshold.
func (m *Machine) Release(ts time.Duration) Action {
	switch m.state {
	case StateUndecided, StateTap:
		m.resolveAsTap(ts)
		return ActionResolvedTap
	case StateHold:
		m.state = StateIdle
		return ActionHoldRelease
	default:
		m.state = StateIdle
		return ActionNone
	}
}

// OtherKeyDown handles a press of a different key at position pos.
func (m *Machine) OtherKeyDown(pos keymap.Position, ts time.Duration) Action {
	if m.state != StateUndecided {
		return ActionNone
	}
	if !m.opts.HoldTriggerOnRelease && m.sameHand(pos) {
		m.resolveAsTap(ts)
		return ActionResolvedTap
	}
	// Wait for the other key's release.
	return ActionNone
}

// OtherKeyUp handles a release of a different key at position pos.
func (m *Machine) OtherKeyUp(pos keymap.Position, ts time.Duration) Action {
	if m.state != StateUndecided {
		return ActionNone
	}
	if m.opts.HoldTriggerOnRelease && m.sameHand(pos) {
		return ActionNone
	}
	m.state = StateHold
	return ActionResolvedHold
}

// RecordOtherEvent notes activity on another key for the idle gate.
func (m *Machine) RecordOtherEvent(ts time.Duration) {
	m.lastEventTimestamp = ts
}

// sameHand reports whether hand filtering treats pos as a same-hand key.
// Keys without a known position never filter.
func (m *Machine) sameHand(pos keymap.Position) bool {
	if !m.opts.HandFiltering || !pos.Valid() {
		return false
	}
	return pos.Hand() == m.binding.Hand()
}

func (m *Machine) resolveAsTap(ts time.Duration) {
	m.lastTapTimestamp = ts
	if m.opts.QuickTapTerm > 0 {
		m.state = StateQuickTapWindow
	} else {
		m.state = StateIdle
	}
}
