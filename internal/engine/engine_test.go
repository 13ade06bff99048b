package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrm/internal/config"
	"hrm/internal/keymap"
)

type fakeEvent struct {
	code   uint16
	copied bool
}

func (f *fakeEvent) Copy() Event {
	return &fakeEvent{code: f.code, copied: true}
}

type recordingDelegate struct {
	log     []string
	holds   []string
	taps    []string
	ends    []string
	flushes [][]BufferedEvent
	flags   []keymap.Flags
}

func (d *recordingDelegate) HoldStarted(b config.KeyBinding, active keymap.Flags) {
	d.holds = append(d.holds, b.Label)
	d.log = append(d.log, "hold "+b.Label)
	d.flags = append(d.flags, active)
}

func (d *recordingDelegate) HoldEnded(b config.KeyBinding, active keymap.Flags) {
	d.ends = append(d.ends, b.Label)
	d.log = append(d.log, "release "+b.Label)
	d.flags = append(d.flags, active)
}

func (d *recordingDelegate) TapResolved(b config.KeyBinding, active keymap.Flags) {
	d.taps = append(d.taps, b.Label)
	d.log = append(d.log, "tap "+b.Label)
	d.flags = append(d.flags, active)
}

func (d *recordingDelegate) FlushBuffered(events []BufferedEvent, active keymap.Flags) {
	d.flushes = append(d.flushes, events)
	d.log = append(d.log, "flush")
	d.flags = append(d.flags, active)
}

// testConfig disables the idle gate and hand filtering so chords resolve on
// timing alone.
func testConfig() *config.Configuration {
	cfg := config.DefaultConfiguration()
	cfg.RequirePriorIdleMs = 0
	cfg.BilateralFiltering = false
	return cfg
}

func newTestEngine(cfg *config.Configuration) (*Engine, *recordingDelegate) {
	if cfg == nil {
		cfg = testConfig()
	}
	d := &recordingDelegate{}
	return New(cfg, d), d
}

func down(e *Engine, code uint16, at int) Result {
	return e.HandleKeyDown(code, 0, &fakeEvent{code: code}, ms(at))
}

func up(e *Engine, code uint16, at int) Result {
	return e.HandleKeyUp(code, &fakeEvent{code: code}, ms(at))
}

func TestEngineBasicTap(t *testing.T) {
	e, d := newTestEngine(nil)

	assert.Equal(t, Suppress, down(e, keymap.KeyA, 1000))
	assert.Equal(t, Suppress, up(e, keymap.KeyA, 1100))
	assert.Equal(t, []string{"A"}, d.taps)
	assert.Empty(t, d.holds)
}

func TestEngineNonModKeyPassesThrough(t *testing.T) {
	e, d := newTestEngine(nil)

	assert.Equal(t, PassThrough, down(e, keymap.KeyE, 1000))
	assert.Equal(t, PassThrough, up(e, keymap.KeyE, 1050))
	assert.Empty(t, d.log)
}

func TestEngineBuffersWhileUndecided(t *testing.T) {
	e, d := newTestEngine(nil)

	assert.Equal(t, Suppress, down(e, keymap.KeyA, 1000))
	assert.Equal(t, Suppress, down(e, keymap.KeyE, 1050))
	assert.Equal(t, 1, e.Buffered())

	// The release of E resolves A as hold and flushes the buffered press.
	assert.Equal(t, PassThrough, up(e, keymap.KeyE, 1080))
	assert.Equal(t, []string{"A"}, d.holds)
	require.Len(t, d.flushes, 1)
	require.Len(t, d.flushes[0], 1)

	flushed := d.flushes[0][0]
	assert.Equal(t, keymap.KeyE, flushed.KeyCode)
	assert.True(t, flushed.Down)
	assert.Equal(t, ms(1050), flushed.Timestamp)
	assert.True(t, flushed.Event.(*fakeEvent).copied, "buffered events are copies")
	assert.Equal(t, []string{"hold A", "flush"}, d.log)
	assert.Equal(t, keymap.FlagControl, d.flags[1], "flush carries the held modifier")
}

func TestEngineFlushPreservesOrder(t *testing.T) {
	e, d := newTestEngine(nil)

	down(e, keymap.KeyA, 1000)
	assert.Equal(t, Suppress, down(e, keymap.KeyE, 1010))
	assert.Equal(t, Suppress, down(e, keymap.KeyG, 1020))
	assert.Equal(t, Suppress, down(e, keymap.KeyH, 1030))
	assert.Equal(t, 3, e.Buffered())

	up(e, keymap.KeyE, 1040)
	require.Len(t, d.flushes, 1)

	var codes []uint16
	for _, ev := range d.flushes[0] {
		codes = append(codes, ev.KeyCode)
	}
	assert.Equal(t, []uint16{keymap.KeyE, keymap.KeyG, keymap.KeyH}, codes)
	assert.Zero(t, e.Buffered())
}

func TestEngineBuffersReleaseWhileUndecided(t *testing.T) {
	e, d := newTestEngine(nil)

	// E is already down when A is pressed; its release is the other key-up
	// that resolves A.
	down(e, keymap.KeyE, 900)
	down(e, keymap.KeyA, 1000)
	assert.Equal(t, PassThrough, up(e, keymap.KeyE, 1050))
	assert.Equal(t, []string{"A"}, d.holds)
	assert.Empty(t, d.flushes)
}

func TestEngineRollProducesTwoTaps(t *testing.T) {
	e, d := newTestEngine(nil)

	down(e, keymap.KeyA, 1000)
	down(e, keymap.KeyS, 1030)

	up(e, keymap.KeyA, 1060)
	assert.Equal(t, []string{"A"}, d.taps)

	up(e, keymap.KeyS, 1090)
	assert.Equal(t, []string{"A", "S"}, d.taps)
	assert.Empty(t, d.holds)
}

func TestEngineShiftPattern(t *testing.T) {
	e, d := newTestEngine(nil)

	assert.Equal(t, Suppress, down(e, keymap.KeyF, 1000))
	assert.Equal(t, Suppress, down(e, keymap.KeyD, 1050))

	up(e, keymap.KeyD, 1080)
	assert.Equal(t, []string{"hold F", "tap D"}, d.log)
	assert.Equal(t, keymap.FlagShift, d.flags[1], "tap sees the shift")

	up(e, keymap.KeyF, 1200)
	assert.Equal(t, []string{"F"}, d.ends)
	assert.Zero(t, e.ActiveFlags())
}

func TestEngineRequirePriorIdlePassesThroughOnce(t *testing.T) {
	cfg := testConfig()
	cfg.RequirePriorIdleMs = 150
	e, d := newTestEngine(cfg)

	down(e, keymap.KeyE, 900)
	up(e, keymap.KeyE, 950)

	assert.Equal(t, PassThrough, down(e, keymap.KeyS, 1000))
	assert.True(t, e.PassedThrough(keymap.KeyS))
	assert.Equal(t, PassThrough, up(e, keymap.KeyS, 1050))
	assert.False(t, e.PassedThrough(keymap.KeyS))
	assert.Empty(t, d.taps, "the raw event is the only output")
}

func TestEngineRequirePriorIdleWaitsForUndecided(t *testing.T) {
	cfg := testConfig()
	cfg.RequirePriorIdleMs = 150
	e, d := newTestEngine(cfg)

	down(e, keymap.KeyE, 900)
	up(e, keymap.KeyE, 950)

	assert.Equal(t, Suppress, down(e, keymap.KeyJ, 1200))

	// The idle gate would tap A right away, but J is still pending.
	assert.Equal(t, Suppress, down(e, keymap.KeyA, 1250))
	assert.Empty(t, d.taps)
	m, _ := e.Machine(keymap.KeyA)
	assert.Equal(t, StateUndecided, m.State())

	up(e, keymap.KeyA, 1280)
	assert.Equal(t, []string{"hold J", "tap A"}, d.log)
}

func TestEngineRegularKeysPassWhileHeld(t *testing.T) {
	e, d := newTestEngine(nil)

	down(e, keymap.KeyA, 1000)
	assert.Equal(t, Suppress, down(e, keymap.KeyE, 1050))
	up(e, keymap.KeyE, 1080)
	require.Equal(t, []string{"A"}, d.holds)

	assert.Equal(t, PassThrough, down(e, keymap.KeyE, 1120))
	assert.Equal(t, PassThrough, up(e, keymap.KeyE, 1150))
}

func TestEngineAutoRepeatSuppressed(t *testing.T) {
	e, d := newTestEngine(nil)

	down(e, keymap.KeyA, 1000)
	assert.Equal(t, Suppress, down(e, keymap.KeyA, 1030), "repeat while undecided")
	m, _ := e.Machine(keymap.KeyA)
	assert.Equal(t, ms(1000), m.PressTimestamp())

	down(e, keymap.KeyE, 1050)
	up(e, keymap.KeyE, 1080)
	require.Len(t, d.holds, 1)

	assert.Equal(t, Suppress, down(e, keymap.KeyA, 1250), "repeat while held")
	assert.Len(t, d.holds, 1)
	assert.Empty(t, d.taps)
	assert.Equal(t, StateHold, m.State())
}

func TestEngineQuickTapRepeat(t *testing.T) {
	cfg := testConfig()
	cfg.QuickTapTermMs = 200
	e, d := newTestEngine(cfg)

	assert.Equal(t, Suppress, down(e, keymap.KeyA, 1000))
	up(e, keymap.KeyA, 1080)
	require.Len(t, d.taps, 1)

	assert.Equal(t, PassThrough, down(e, keymap.KeyA, 1150))
	assert.Equal(t, PassThrough, down(e, keymap.KeyA, 1200))
	assert.Equal(t, PassThrough, down(e, keymap.KeyA, 1250))
	assert.Equal(t, PassThrough, up(e, keymap.KeyA, 1300))
	assert.Len(t, d.taps, 1)
}

func TestEngineQuickTapExpired(t *testing.T) {
	e, d := newTestEngine(nil)

	down(e, keymap.KeyA, 1000)
	up(e, keymap.KeyA, 1050)

	assert.Equal(t, Suppress, down(e, keymap.KeyA, 1400))
	m, _ := e.Machine(keymap.KeyA)
	assert.Equal(t, StateUndecided, m.State())
	up(e, keymap.KeyA, 1450)
	assert.Equal(t, []string{"A", "A"}, d.taps)
}

func TestEnginePhysicalModifierPassesThrough(t *testing.T) {
	e, d := newTestEngine(nil)

	assert.Equal(t, PassThrough, e.HandleKeyDown(keymap.KeyA, keymap.FlagShift, nil, ms(1000)))
	assert.True(t, e.PassedThrough(keymap.KeyA))
	assert.Equal(t, PassThrough, e.HandleKeyUp(keymap.KeyA, nil, ms(1050)))
	assert.Empty(t, d.log)
}

func TestEngineSynthesizedModifierIsNotPhysical(t *testing.T) {
	e, d := newTestEngine(nil)

	// Hold F as shift.
	down(e, keymap.KeyF, 1000)
	down(e, keymap.KeyE, 1010)
	up(e, keymap.KeyE, 1020)
	require.Equal(t, keymap.FlagShift, e.ActiveFlags())

	// A arrives carrying the synthesized shift and must still be decided.
	assert.Equal(t, Suppress, e.HandleKeyDown(keymap.KeyA, keymap.FlagShift, nil, ms(1100)))
	assert.False(t, e.PassedThrough(keymap.KeyA))
	up(e, keymap.KeyA, 1150)
	assert.Equal(t, []string{"A"}, d.taps)
}

func TestEngineBilateralFiltering(t *testing.T) {
	cfg := testConfig()
	cfg.BilateralFiltering = true

	t.Run("same hand taps", func(t *testing.T) {
		e, d := newTestEngine(cfg)
		down(e, keymap.KeyF, 1000)
		assert.Equal(t, Suppress, down(e, keymap.KeyD, 1030))
		assert.Equal(t, []string{"tap F"}, d.log)

		up(e, keymap.KeyF, 1060)
		up(e, keymap.KeyD, 1090)
		assert.Equal(t, []string{"F", "D"}, d.taps)
		assert.Empty(t, d.holds)
	})

	t.Run("opposite hand holds", func(t *testing.T) {
		e, d := newTestEngine(cfg)
		down(e, keymap.KeyF, 1000)
		down(e, keymap.KeyJ, 1030)
		up(e, keymap.KeyJ, 1060)
		assert.Equal(t, []string{"hold F", "tap J"}, d.log)
	})

	t.Run("unknown position never filters", func(t *testing.T) {
		e, d := newTestEngine(cfg)
		down(e, keymap.KeyF, 1000)
		assert.Equal(t, Suppress, down(e, keymap.KeyE, 1030))
		up(e, keymap.KeyE, 1060)
		assert.Equal(t, []string{"hold F", "flush"}, d.log)
	})

	t.Run("disabled binding still has a hand", func(t *testing.T) {
		e, d := newTestEngine(cfg)
		down(e, keymap.KeyF, 1000)
		// G is plain but sits on the left hand.
		assert.Equal(t, PassThrough, down(e, keymap.KeyG, 1030))
		assert.Equal(t, []string{"tap F"}, d.log)
	})
}

func TestEngineHoldTriggerOnRelease(t *testing.T) {
	cfg := testConfig()
	cfg.BilateralFiltering = true
	cfg.HoldTriggerOnRelease = true

	t.Run("same hand defers", func(t *testing.T) {
		e, d := newTestEngine(cfg)
		down(e, keymap.KeyF, 1000)
		down(e, keymap.KeyD, 1030)
		assert.Empty(t, d.log)

		up(e, keymap.KeyD, 1060)
		m, _ := e.Machine(keymap.KeyF)
		assert.Equal(t, StateUndecided, m.State())

		up(e, keymap.KeyF, 1090)
		assert.Empty(t, d.holds)
		assert.ElementsMatch(t, []string{"F", "D"}, d.taps)
	})

	t.Run("opposite hand holds on release", func(t *testing.T) {
		e, d := newTestEngine(cfg)
		down(e, keymap.KeyF, 1000)
		down(e, keymap.KeyJ, 1030)
		up(e, keymap.KeyJ, 1060)
		assert.Equal(t, []string{"hold F", "tap J"}, d.log)
	})
}

func TestEngineSharedModifierFlags(t *testing.T) {
	e, d := newTestEngine(nil)

	// F and J are both shift.
	down(e, keymap.KeyF, 1000)
	down(e, keymap.KeyJ, 1010)
	down(e, keymap.KeyE, 1020)
	up(e, keymap.KeyE, 1030)
	require.Equal(t, []string{"F", "J"}, d.holds)
	assert.Equal(t, keymap.FlagShift, e.ActiveFlags())

	up(e, keymap.KeyF, 1100)
	assert.Equal(t, keymap.FlagShift, e.ActiveFlags(), "J still holds shift")

	up(e, keymap.KeyJ, 1200)
	assert.Zero(t, e.ActiveFlags())
}

func TestEngineHoldRoundTripTogglesOneFlag(t *testing.T) {
	e, _ := newTestEngine(nil)

	// Hold D as command.
	down(e, keymap.KeyD, 1000)
	down(e, keymap.KeyE, 1010)
	up(e, keymap.KeyE, 1020)
	require.Equal(t, keymap.FlagCommand, e.ActiveFlags())

	// Hold L as option on top.
	down(e, keymap.KeyL, 1100)
	down(e, keymap.KeyE, 1110)
	up(e, keymap.KeyE, 1120)
	require.Equal(t, keymap.FlagCommand|keymap.FlagOption, e.ActiveFlags())

	up(e, keymap.KeyL, 1200)
	assert.Equal(t, keymap.FlagCommand, e.ActiveFlags())
	up(e, keymap.KeyD, 1300)
	assert.Zero(t, e.ActiveFlags())
}

func TestEngineUpdateConfiguration(t *testing.T) {
	e, d := newTestEngine(nil)

	down(e, keymap.KeyA, 1000)
	down(e, keymap.KeyE, 1010)
	require.Equal(t, 1, e.Buffered())

	cfg := testConfig()
	for i := range cfg.KeyBindings {
		cfg.KeyBindings[i].Enabled = false
	}
	e.UpdateConfiguration(cfg)

	assert.Zero(t, e.Buffered(), "pending events are discarded")
	assert.Empty(t, e.Machines())
	assert.Equal(t, PassThrough, down(e, keymap.KeyA, 2000))
	assert.Empty(t, d.log)
}

func TestEngineUnconfiguredModifierlessBindingIsPlain(t *testing.T) {
	cfg := testConfig()
	cfg.KeyBindings[0].Modifier = keymap.ModifierNone
	e, d := newTestEngine(cfg)

	_, ok := e.Machine(keymap.KeyA)
	assert.False(t, ok)
	assert.Equal(t, PassThrough, down(e, keymap.KeyA, 1000))
	assert.Empty(t, d.log)
}

func TestEngineNilDelegate(t *testing.T) {
	e := New(testConfig(), nil)
	down(e, keymap.KeyA, 1000)
	down(e, keymap.KeyE, 1010)
	assert.NotPanics(t, func() { up(e, keymap.KeyE, 1020) })
	assert.Len(t, e.Held(), 1)
}

func TestEngineReset(t *testing.T) {
	e, _ := newTestEngine(nil)
	down(e, keymap.KeyA, 1000)
	down(e, keymap.KeyE, 1010)
	up(e, keymap.KeyE, 1020)
	require.NotZero(t, e.ActiveFlags())

	e.Reset()
	assert.Zero(t, e.ActiveFlags())
	assert.False(t, e.Undecided())
	assert.Empty(t, e.Held())
}

func TestBufferDrainKeepsOrder(t *testing.T) {
	var b Buffer
	assert.True(t, b.Empty())

	for i, code := range []uint16{11, 12, 11} {
		b.Append(BufferedEvent{KeyCode: code, Down: i < 2, Timestamp: ms(i)})
	}
	require.Equal(t, 3, b.Len())

	events := b.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, []uint16{11, 12, 11}, []uint16{events[0].KeyCode, events[1].KeyCode, events[2].KeyCode})
	assert.False(t, events[2].Down)
	assert.True(t, b.Empty())
	assert.Empty(t, b.Drain())
}
