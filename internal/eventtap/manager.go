package eventtap

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"hrm/internal/config"
	"hrm/internal/engine"
	"hrm/internal/keymap"
	"hrm/internal/logging"
	"hrm/internal/metrics"
)

// Manager owns the event tap and the engine behind it.
//
// The tap runs on a dedicated goroutine locked to its OS thread. Every
// event is handled there; configuration changes from other goroutines are
// handed over under mu.
type Manager struct {
	tap    Tap
	synth  *Synthesizer
	logger *logging.Logger
	stats  *metrics.HRMMetrics
	crash  *logging.CrashHandler
	clock  func() time.Duration

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	running   atomic.Bool
	done      chan struct{}

	// mu guards the engine and suppressed.
	mu         sync.Mutex
	engine     *engine.Engine
	suppressed map[uint16]struct{}

	crashContext map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(s *metrics.HRMMetrics) ManagerOption {
	return func(m *Manager) { m.stats = s }
}

// WithCrashHandler sets the handler that records panics in the event
// callback.
func WithCrashHandler(h *logging.CrashHandler) ManagerOption {
	return func(m *Manager) { m.crash = h }
}

// WithClock replaces the monotonic clock that timestamps events.
func WithClock(clock func() time.Duration) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a stopped manager for tap. A nil cfg means the
// default configuration.
func NewManager(tap Tap, cfg *config.Configuration, opts ...ManagerOption) *Manager {
	m := &Manager{
		tap:          tap,
		synth:        NewSynthesizer(tap),
		suppressed:   make(map[uint16]struct{}),
		crashContext: map[string]string{"op": "handle_event"},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Default().WithComponent("eventtap")
	}
	if m.stats == nil {
		m.stats = metrics.GetMetrics()
	}
	if m.crash == nil {
		m.crash = logging.DefaultCrashHandler()
	}
	if m.clock == nil {
		start := time.Now()
		m.clock = func() time.Duration { return time.Since(start) }
	}
	if cfg != nil {
		cfg = cfg.Clone()
	}
	m.engine = engine.New(cfg, m)
	return m
}

// Start opens the tap and begins intercepting. It is a no-op when already
// running.
func (m *Manager) Start() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.Running() {
		return nil
	}
	if m.running.Load() {
		m.reap()
	}

	opened := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(done)
		defer m.crash.RecoverGoroutine("eventtap")

		if err := m.tap.Open(m.handle); err != nil {
			opened <- err
			return
		}
		opened <- nil

		if err := m.tap.Run(); err != nil {
			m.logger.Error("event tap stopped", "error", err)
		}
		m.stats.TapRunning.SetBool(false)
	}()

	var err error
	select {
	case err = <-opened:
	case <-done:
		// Open panicked.
		select {
		case err = <-opened:
		default:
			err = ErrTapUnavailable
		}
	}
	if err != nil {
		<-done
		return fmt.Errorf("open event tap: %w", err)
	}

	m.done = done
	m.running.Store(true)
	m.stats.TapRunning.SetBool(true)
	m.logger.Info("event tap started")
	return nil
}

// Stop releases any modifiers the engine is holding, closes the tap and
// waits for its thread to exit. It is a no-op when not running.
func (m *Manager) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.running.Load() {
		return nil
	}

	m.mu.Lock()
	m.releaseHeld()
	m.engine.Reset()
	m.suppressed = make(map[uint16]struct{})
	m.mu.Unlock()

	err := m.tap.Close()
	<-m.done
	m.running.Store(false)
	m.stats.TapRunning.SetBool(false)
	m.stats.HeldModifiers.Set(0)
	m.stats.BufferedEvents.Set(0)
	m.logger.Info("event tap stopped")

	if err != nil {
		return fmt.Errorf("close event tap: %w", err)
	}
	return nil
}

// reap cleans up after a tap thread that exited without Stop, closing the
// old tap before it is opened again. lifecycle must be held.
func (m *Manager) reap() {
	m.mu.Lock()
	m.engine.Reset()
	m.suppressed = make(map[uint16]struct{})
	m.mu.Unlock()

	if err := m.tap.Close(); err != nil {
		m.logger.Debug("close exited event tap", "error", err)
	}
	m.running.Store(false)
	m.stats.HeldModifiers.Set(0)
	m.stats.BufferedEvents.Set(0)
}

// Exited reports whether the tap thread ended on its own: Start succeeded,
// Stop was not called and the thread is gone.
func (m *Manager) Exited() bool {
	return m.running.Load() && !m.Running()
}

// Running reports whether the tap thread is alive.
func (m *Manager) Running() bool {
	if !m.running.Load() {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Done is closed when the tap thread exits, including when the tap fails
// on its own.
func (m *Manager) Done() <-chan struct{} {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

// UpdateConfiguration hands a new configuration to the engine. Held
// modifiers are released first and pending decisions are discarded.
func (m *Manager) UpdateConfiguration(cfg *config.Configuration) {
	if cfg != nil {
		cfg = cfg.Clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseHeld()
	m.engine.UpdateConfiguration(cfg)
	m.suppressed = make(map[uint16]struct{})
	m.stats.HeldModifiers.Set(0)
	m.stats.BufferedEvents.Set(0)
}

// Configuration returns the configuration in use.
func (m *Manager) Configuration() *config.Configuration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Configuration().Clone()
}

// Suppressed reports whether the current press of keyCode was removed
// from the event stream.
func (m *Manager) Suppressed(keyCode uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.suppressed[keyCode]
	return ok
}

// ActiveFlags returns the modifier flags currently synthesized.
func (m *Manager) ActiveFlags() keymap.Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.ActiveFlags()
}

// handle is the tap callback. A panic below it is recorded and the event
// passes through.
func (m *Manager) handle(ev *Event) Verdict {
	verdict := Pass
	if m.crash.Recover(m.crashContext, func() { verdict = m.process(ev) }) {
		m.stats.HandlerPanicsTotal.Inc()
		return Pass
	}
	return verdict
}

func (m *Manager) process(ev *Event) Verdict {
	switch {
	case ev.Type == TapDisabled:
		m.stats.TapReenabledTotal.Inc()
		if err := m.tap.Enable(); err != nil {
			m.logger.Error("re-enable event tap", "error", err)
		} else {
			m.logger.Debug("event tap re-enabled")
		}
		return Pass
	case IsSynthetic(ev):
		m.stats.SyntheticSeenTotal.Inc()
		return Pass
	case ev.Type == FlagsChanged:
		return Pass
	}

	timer := m.stats.HandleDuration.Timer()
	defer timer.Stop()

	m.stats.EventsTotal.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.clock()
	var result engine.Result
	if ev.Type == KeyDown {
		result = m.engine.HandleKeyDown(ev.KeyCode, ev.Flags, ev, ts)
	} else {
		result = m.engine.HandleKeyUp(ev.KeyCode, ev, ts)
	}
	m.stats.BufferedEvents.Set(int64(m.engine.Buffered()))

	if result == engine.Suppress {
		m.stats.SuppressedTotal.Inc()
		if ev.Type == KeyDown {
			m.suppressed[ev.KeyCode] = struct{}{}
		} else {
			delete(m.suppressed, ev.KeyCode)
		}
		return Drop
	}

	if ev.Type == KeyUp {
		delete(m.suppressed, ev.KeyCode)
	} else if !ev.Repeat {
		if b, ok := m.engine.Configuration().Binding(ev.KeyCode); ok && b.ModTap() {
			m.stats.RecordPassThrough(b.KeyCode, b.Label)
		}
	}

	m.stats.PassThroughTotal.Inc()
	ev.Flags |= m.engine.ActiveFlags()
	return Pass
}

// releaseHeld posts modifier releases for every held binding. mu must be
// held.
func (m *Manager) releaseHeld() {
	active := m.engine.ActiveFlags()
	for _, b := range m.engine.Held() {
		active &^= b.Modifier.Flag()
		m.post(m.synth.FlagsChanged(b, false, active))
	}
}

// post records the outcome of one synthesizer call.
func (m *Manager) post(posted int, err error) {
	m.stats.PostedEventsTotal.Add(uint64(posted))
	if err != nil {
		m.stats.PostErrorsTotal.Inc()
		m.logger.Warn("post synthetic event", "error", err)
	}
}

// HoldStarted implements engine.Delegate.
func (m *Manager) HoldStarted(b config.KeyBinding, active keymap.Flags) {
	m.stats.RecordHold(b.KeyCode, b.Label)
	m.stats.HeldModifiers.Set(int64(len(m.engine.Held())))
	m.logger.Debug("hold", "label", b.Label, "modifier", b.Modifier.String())
	m.post(m.synth.FlagsChanged(b, true, active))
}

// HoldEnded implements engine.Delegate.
func (m *Manager) HoldEnded(b config.KeyBinding, active keymap.Flags) {
	m.stats.HeldModifiers.Set(int64(len(m.engine.Held())))
	m.logger.Debug("hold released", "label", b.Label, "modifier", b.Modifier.String())
	m.post(m.synth.FlagsChanged(b, false, active))
}

// TapResolved implements engine.Delegate.
func (m *Manager) TapResolved(b config.KeyBinding, active keymap.Flags) {
	m.stats.RecordTap(b.KeyCode, b.Label)
	m.logger.Debug("tap", "label", b.Label, "flags", active.String())
	m.post(m.synth.Tap(b.KeyCode, active))
}

// FlushBuffered implements engine.Delegate.
func (m *Manager) FlushBuffered(events []engine.BufferedEvent, active keymap.Flags) {
	m.stats.FlushedEventsTotal.Add(uint64(len(events)))
	m.logger.Debug("flush", "buffered", len(events), "flags", active.String())
	for _, be := range events {
		ev, ok := be.Event.(*Event)
		if !ok {
			typ := KeyUp
			if be.Down {
				typ = KeyDown
			}
			ev = &Event{Type: typ, KeyCode: be.KeyCode}
		}
		m.post(m.synth.Replay(ev, active))
	}
}
