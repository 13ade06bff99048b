// Package engine decides whether each press of a mod-tap key is a tap or a
// hold. It keeps one Machine per mod-tap binding, arbitrates between keys
// that are pressed together and holds back ordinary keys while a decision
// is pending, so that a late hold still applies to them.
//
// The engine is not safe for concurrent use. All calls must come from the
// single goroutine that owns the event tap, or be serialized by the caller.
package engine

import (
	"time"

	"hrm/internal/config"
	"hrm/internal/keymap"
)

// Result tells the event tap what to do with the event it delivered.
type Result int

const (
	PassThrough Result = iota
	Suppress
)

func (r Result) String() string {
	if r == Suppress {
		return "suppress"
	}
	return "pass_through"
}

// Delegate receives resolved actions. Each call reports the modifier flags
// the engine holds after the action took effect.
type Delegate interface {
	HoldStarted(b config.KeyBinding, active keymap.Flags)
	HoldEnded(b config.KeyBinding, active keymap.Flags)
	TapResolved(b config.KeyBinding, active keymap.Flags)
	FlushBuffered(events []BufferedEvent, active keymap.Flags)
}

type nopDelegate struct{}

func (nopDelegate) HoldStarted(config.KeyBinding, keymap.Flags) {}
func (nopDelegate) HoldEnded(config.KeyBinding, keymap.Flags)   {}
func (nopDelegate) TapResolved(config.KeyBinding, keymap.Flags) {}
func (nopDelegate) FlushBuffered([]BufferedEvent, keymap.Flags) {}

// Engine arbitrates between the machines of every mod-tap binding.
type Engine struct {
	cfg      *config.Configuration
	machines []*Machine
	byCode   map[uint16]*Machine
	buffer   Buffer
	delegate Delegate

	// Keys that bypassed disambiguation on press; their repeats and release
	// bypass it too.
	passedThrough map[uint16]struct{}

	// Modifier flags currently synthesized by held machines.
	active keymap.Flags
}

// New creates an engine for cfg. A nil delegate discards all actions.
func New(cfg *config.Configuration, d Delegate) *Engine {
	e := &Engine{}
	e.SetDelegate(d)
	e.UpdateConfiguration(cfg)
	return e
}

// SetDelegate replaces the action receiver.
func (e *Engine) SetDelegate(d Delegate) {
	if d == nil {
		d = nopDelegate{}
	}
	e.delegate = d
}

// UpdateConfiguration swaps in a new configuration snapshot. All in-flight
// state is discarded: machines are rebuilt and buffered events dropped.
func (e *Engine) UpdateConfiguration(cfg *config.Configuration) {
	if cfg == nil {
		cfg = config.DefaultConfiguration()
	}
	e.cfg = cfg
	e.buffer = Buffer{}
	e.passedThrough = make(map[uint16]struct{})
	e.active = 0

	e.machines = e.machines[:0]
	e.byCode = make(map[uint16]*Machine)
	for _, b := range cfg.KeyBindings {
		if !b.ModTap() {
			continue
		}
		m := NewMachine(b, OptionsFor(cfg, b))
		e.machines = append(e.machines, m)
		e.byCode[b.KeyCode] = m
	}
}

// Reset returns every machine to idle without changing the configuration.
func (e *Engine) Reset() {
	e.UpdateConfiguration(e.cfg)
}

// Configuration returns the snapshot in use.
func (e *Engine) Configuration() *config.Configuration { return e.cfg }

// ActiveFlags returns the modifier flags synthesized by held keys.
func (e *Engine) ActiveFlags() keymap.Flags { return e.active }

// Machine returns the machine for a key code.
func (e *Engine) Machine(keyCode uint16) (*Machine, bool) {
	m, ok := e.byCode[keyCode]
	return m, ok
}

// Machines returns the machines in configuration order.
func (e *Engine) Machines() []*Machine {
	return append([]*Machine(nil), e.machines...)
}

// Held returns the bindings currently resolved as hold.
func (e *Engine) Held() []config.KeyBinding {
	var held []config.KeyBinding
	for _, m := range e.machines {
		if m.state == StateHold {
			held = append(held, m.binding)
		}
	}
	return held
}

// Undecided reports whether any machine is waiting for a decision.
func (e *Engine) Undecided() bool {
	for _, m := range e.machines {
		if m.Undecided() {
			return true
		}
	}
	return false
}

// Buffered returns the number of events held back.
func (e *Engine) Buffered() int { return e.buffer.Len() }

// PassedThrough reports whether keyCode bypassed disambiguation on its
// current press.
func (e *Engine) PassedThrough(keyCode uint16) bool {
	_, ok := e.passedThrough[keyCode]
	return ok
}

// HandleKeyDown processes a physical key-down. flags are the modifier flags
// carried by the event and ev is the event itself, copied if buffered.
func (e *Engine) HandleKeyDown(keyCode uint16, flags keymap.Flags, ev Event, ts time.Duration) Result {
	machine, ok := e.byCode[keyCode]
	if !ok {
		return e.otherKeyDown(keyCode, ev, ts)
	}

	if e.PassedThrough(keyCode) {
		return PassThrough
	}

	// Auto-repeat of a key that is pending or held.
	if machine.Undecided() || machine.State() == StateHold {
		return Suppress
	}

	// A physically held modifier that we did not synthesize combines with
	// this key directly.
	if real := flags & keymap.PhysicalModifierMask &^ e.active; real != 0 {
		e.passedThrough[keyCode] = struct{}{}
		machine.Press(ts)
		e.recordOthers(keyCode, ts)
		return PassThrough
	}

	// Let keys already pending react to this press before it starts its
	// own decision. A pending shift key can resolve here.
	pos := e.cfg.Position(keyCode)
	for _, m := range e.machines {
		if m != machine && m.Undecided() {
			e.dispatch(m.OtherKeyDown(pos, ts), m)
		}
	}

	action := machine.Press(ts)
	e.recordOthers(keyCode, ts)

	if action == ActionResolvedTap {
		if e.Undecided() {
			// A pending decision elsewhere must resolve before this key
			// emits anything.
			machine.ForceUndecided(ts)
			return Suppress
		}
		e.passedThrough[keyCode] = struct{}{}
		return PassThrough
	}

	e.dispatch(action, machine)
	return Suppress
}

func (e *Engine) otherKeyDown(keyCode uint16, ev Event, ts time.Duration) Result {
	for _, m := range e.machines {
		m.RecordOtherEvent(ts)
	}

	pos := e.cfg.Position(keyCode)
	resolved := false
	for _, m := range e.machines {
		if !m.Undecided() {
			continue
		}
		if action := m.OtherKeyDown(pos, ts); action != ActionNone {
			e.dispatch(action, m)
			resolved = true
		}
	}

	if e.Undecided() {
		e.hold(keyCode, true, ev, ts)
		return Suppress
	}
	if resolved {
		e.flush()
	}
	return PassThrough
}

// HandleKeyUp processes a physical key-up.
func (e *Engine) HandleKeyUp(keyCode uint16, ev Event, ts time.Duration) Result {
	machine, ok := e.byCode[keyCode]
	if !ok {
		return e.otherKeyUp(keyCode, ev, ts)
	}

	if e.PassedThrough(keyCode) {
		delete(e.passedThrough, keyCode)
		machine.Release(ts)
		return PassThrough
	}

	action := machine.Release(ts)

	// Resolve the other pending keys before this key's own action so a
	// hold is active when this tap is emitted. Only keys pressed before
	// this one can be its modifier: A↓ B↓ B↑ holds A, A↓ B↓ A↑ is a roll.
	pos := e.cfg.Position(keyCode)
	for _, m := range e.machines {
		if m == machine || !m.Undecided() {
			continue
		}
		if m.PressTimestamp() < machine.PressTimestamp() {
			e.dispatch(m.OtherKeyUp(pos, ts), m)
		}
	}

	e.dispatch(action, machine)

	if !e.Undecided() && !e.buffer.Empty() {
		e.flush()
	}
	return Suppress
}

func (e *Engine) otherKeyUp(keyCode uint16, ev Event, ts time.Duration) Result {
	pos := e.cfg.Position(keyCode)
	resolved := false
	for _, m := range e.machines {
		if !m.Undecided() {
			continue
		}
		if action := m.OtherKeyUp(pos, ts); action != ActionNone {
			e.dispatch(action, m)
			resolved = true
		}
	}

	if e.Undecided() {
		e.hold(keyCode, false, ev, ts)
		return Suppress
	}
	if resolved {
		e.flush()
	}
	return PassThrough
}

func (e *Engine) recordOthers(keyCode uint16, ts time.Duration) {
	for _, m := range e.machines {
		if m.binding.KeyCode != keyCode {
			m.RecordOtherEvent(ts)
		}
	}
}

func (e *Engine) hold(keyCode uint16, down bool, ev Event, ts time.Duration) {
	if ev != nil {
		ev = ev.Copy()
	}
	e.buffer.Append(BufferedEvent{Event: ev, KeyCode: keyCode, Down: down, Timestamp: ts})
}

func (e *Engine) dispatch(action Action, m *Machine) {
	switch action {
	case ActionResolvedHold:
		e.active = e.heldFlags()
		e.delegate.HoldStarted(m.binding, e.active)
		if !e.Undecided() {
			e.flush()
		}
	case ActionResolvedTap:
		e.delegate.TapResolved(m.binding, e.active)
		if !e.Undecided() {
			e.flush()
		}
	case ActionHoldRelease:
		e.active = e.heldFlags()
		e.delegate.HoldEnded(m.binding, e.active)
	}
}

// heldFlags is the union of the modifiers of all held machines, so two
// bindings sharing a modifier do not clear each other on release.
func (e *Engine) heldFlags() keymap.Flags {
	var flags keymap.Flags
	for _, m := range e.machines {
		if m.state == StateHold {
			flags |= m.binding.Modifier.Flag()
		}
	}
	return flags
}

func (e *Engine) flush() {
	events := e.buffer.Drain()
	if len(events) > 0 {
		e.delegate.FlushBuffered(events, e.active)
	}
}
