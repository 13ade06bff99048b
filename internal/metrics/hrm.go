package metrics

import (
	"sort"
	"sync"
	"time"
)

// HRMMetrics holds the metrics recorded by the event tap and the app.
type HRMMetrics struct {
	registry *Registry

	// Counters
	EventsTotal        *Counter
	PassThroughTotal   *Counter
	SuppressedTotal    *Counter
	SyntheticSeenTotal *Counter
	TapsTotal          *Counter
	HoldsTotal         *Counter
	FlushedEventsTotal *Counter
	PostedEventsTotal  *Counter
	PostErrorsTotal    *Counter
	TapReenabledTotal  *Counter
	TapExitsTotal      *Counter
	HandlerPanicsTotal *Counter
	ConfigReloadsTotal *Counter
	ConfigErrorsTotal  *Counter

	// Gauges
	TapRunning     *Gauge
	HeldModifiers  *Gauge
	BufferedEvents *Gauge
	UptimeSeconds  *Gauge

	// Histograms
	HandleDuration *Histogram

	keys *KeyTally
}

var startTime = time.Now()

// NewHRMMetrics creates and registers all hrm metrics.
func NewHRMMetrics(registry *Registry) *HRMMetrics {
	if registry == nil {
		registry = Default()
	}

	return &HRMMetrics{
		registry: registry,

		EventsTotal: registry.RegisterCounter(
			"events_total",
			"Key events delivered by the event tap",
			nil,
		),
		PassThroughTotal: registry.RegisterCounter(
			"events_passed_total",
			"Key events returned to the OS unchanged or with modifier flags added",
			nil,
		),
		SuppressedTotal: registry.RegisterCounter(
			"events_suppressed_total",
			"Key events dropped by the engine",
			nil,
		),
		SyntheticSeenTotal: registry.RegisterCounter(
			"synthetic_events_seen_total",
			"Events carrying our own marker that were passed through untouched",
			nil,
		),
		TapsTotal: registry.RegisterCounter(
			"taps_total",
			"Mod-tap presses resolved as taps",
			nil,
		),
		HoldsTotal: registry.RegisterCounter(
			"holds_total",
			"Mod-tap presses resolved as holds",
			nil,
		),
		FlushedEventsTotal: registry.RegisterCounter(
			"flushed_events_total",
			"Buffered key events replayed after a decision",
			nil,
		),
		PostedEventsTotal: registry.RegisterCounter(
			"posted_events_total",
			"Synthetic events posted",
			nil,
		),
		PostErrorsTotal: registry.RegisterCounter(
			"post_errors_total",
			"Synthetic events that could not be posted",
			nil,
		),
		TapReenabledTotal: registry.RegisterCounter(
			"tap_reenabled_total",
			"Times the OS disabled the event tap and it was re-enabled",
			nil,
		),
		TapExitsTotal: registry.RegisterCounter(
			"tap_exits_total",
			"Times the event tap stopped without being asked to",
			nil,
		),
		HandlerPanicsTotal: registry.RegisterCounter(
			"handler_panics_total",
			"Panics recovered in the event callback",
			nil,
		),
		ConfigReloadsTotal: registry.RegisterCounter(
			"config_reloads_total",
			"Configurations applied after a file change",
			nil,
		),
		ConfigErrorsTotal: registry.RegisterCounter(
			"config_errors_total",
			"Configuration files rejected on load or reload",
			nil,
		),

		TapRunning: registry.RegisterGauge(
			"tap_running",
			"1 while the event tap is installed",
			nil,
		),
		HeldModifiers: registry.RegisterGauge(
			"held_modifiers",
			"Modifiers currently synthesized by held keys",
			nil,
		),
		BufferedEvents: registry.RegisterGauge(
			"buffered_events",
			"Key events held back awaiting a decision",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Seconds since the process started",
			nil,
		),

		HandleDuration: registry.RegisterHistogram(
			"handle_duration_seconds",
			"Time spent deciding one key event",
			nil,
			LatencyBuckets,
		),

		keys: NewKeyTally(),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *HRMMetrics) Registry() *Registry { return m.registry }

// Keys returns the per-key tally.
func (m *HRMMetrics) Keys() *KeyTally { return m.keys }

// RecordTap records a resolved tap of a key.
func (m *HRMMetrics) RecordTap(keyCode uint16, label string) {
	m.TapsTotal.Inc()
	m.keys.add(keyCode, label, KeyCounts{Taps: 1})
}

// RecordHold records a resolved hold of a key.
func (m *HRMMetrics) RecordHold(keyCode uint16, label string) {
	m.HoldsTotal.Inc()
	m.keys.add(keyCode, label, KeyCounts{Holds: 1})
}

// RecordPassThrough records a mod-tap press that bypassed disambiguation.
func (m *HRMMetrics) RecordPassThrough(keyCode uint16, label string) {
	m.keys.add(keyCode, label, KeyCounts{PassThrough: 1})
}

// UpdateUptime updates the uptime metric.
func (m *HRMMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *HRMMetrics) Snapshot() map[string]any {
	m.UpdateUptime()
	return map[string]any{
		"events_total":            m.EventsTotal.Value(),
		"events_passed_total":     m.PassThroughTotal.Value(),
		"events_suppressed_total": m.SuppressedTotal.Value(),
		"taps_total":              m.TapsTotal.Value(),
		"holds_total":             m.HoldsTotal.Value(),
		"flushed_events_total":    m.FlushedEventsTotal.Value(),
		"tap_reenabled_total":     m.TapReenabledTotal.Value(),
		"tap_exits_total":         m.TapExitsTotal.Value(),
		"tap_running":             m.TapRunning.Value(),
		"uptime_seconds":          m.UptimeSeconds.Value(),
		"handle_avg_seconds":      m.HandleDuration.Mean(),
	}
}

// KeyCounts are the outcomes recorded for one key.
type KeyCounts struct {
	KeyCode     uint16
	Label       string
	Taps        uint64
	Holds       uint64
	PassThrough uint64
}

// KeyTally accumulates per-key outcomes between drains.
type KeyTally struct {
	mu     sync.Mutex
	counts map[uint16]*KeyCounts
}

// NewKeyTally creates an empty tally.
func NewKeyTally() *KeyTally {
	return &KeyTally{counts: make(map[uint16]*KeyCounts)}
}

func (t *KeyTally) add(keyCode uint16, label string, delta KeyCounts) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counts[keyCode]
	if !ok {
		c = &KeyCounts{KeyCode: keyCode}
		t.counts[keyCode] = c
	}
	c.Label = label
	c.Taps += delta.Taps
	c.Holds += delta.Holds
	c.PassThrough += delta.PassThrough
}

// Drain returns the counts accumulated since the last drain, ordered by key
// code, and starts a new tally.
func (t *KeyTally) Drain() []KeyCounts {
	t.mu.Lock()
	counts := t.counts
	t.counts = make(map[uint16]*KeyCounts)
	t.mu.Unlock()

	out := make([]KeyCounts, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyCode < out[j].KeyCode })
	return out
}

var defaultHRMMetrics *HRMMetrics

// GetMetrics returns the global hrm metrics instance.
func GetMetrics() *HRMMetrics {
	if defaultHRMMetrics == nil {
		defaultHRMMetrics = NewHRMMetrics(Default())
	}
	return defaultHRMMetrics
}
