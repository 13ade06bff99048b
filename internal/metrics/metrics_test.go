package metrics

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("test")
	c := r.RegisterCounter("events_total", "events", nil)
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("counter = %d, want 5", c.Value())
	}
	if c.Name() != "test_events_total" {
		t.Errorf("name = %s", c.Name())
	}
	if r.RegisterCounter("events_total", "events", nil) != c {
		t.Error("registering twice should return the existing counter")
	}

	g := r.RegisterGauge("running", "running", nil)
	g.SetBool(true)
	if g.Value() != 1 {
		t.Errorf("gauge = %d, want 1", g.Value())
	}
	g.Dec()
	if g.Value() != 0 {
		t.Errorf("gauge = %d, want 0", g.Value())
	}
}

func TestLabelledMetricsAreDistinct(t *testing.T) {
	r := NewRegistry("test")
	a := r.RegisterCounter("taps_total", "taps", Labels{"key": "a"})
	b := r.RegisterCounter("taps_total", "taps", Labels{"key": "b"})
	if a == b {
		t.Fatal("different labels must give different counters")
	}

	a.Inc()
	if v := r.GetCounter("taps_total", Labels{"key": "a"}).Value(); v != 1 {
		t.Errorf("a = %d, want 1", v)
	}
	if v := r.GetCounter("taps_total", Labels{"key": "b"}).Value(); v != 0 {
		t.Errorf("b = %d, want 0", v)
	}

	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	if n := strings.Count(out, "# TYPE test_taps_total counter"); n != 1 {
		t.Errorf("TYPE line written %d times", n)
	}
	for _, line := range []string{`test_taps_total{key="a"} 1`, `test_taps_total{key="b"} 0`} {
		if !strings.Contains(out, line) {
			t.Errorf("output missing %s:\n%s", line, out)
		}
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("latency", "latency", nil, []float64{0.1, 1})
	for _, v := range []float64{0.05, 0.1, 0.5, 5} {
		h.Observe(v)
	}

	if h.Count() != 4 {
		t.Errorf("count = %d, want 4", h.Count())
	}
	if math.Abs(h.Mean()-1.4125) > 1e-9 {
		t.Errorf("mean = %v, want 1.4125", h.Mean())
	}

	h.mu.Lock()
	cumulative := h.cumulativeLocked()
	h.mu.Unlock()
	want := []uint64{2, 3, 4}
	if len(cumulative) != len(want) {
		t.Fatalf("cumulative = %v, want %v", cumulative, want)
	}
	for i := range want {
		if cumulative[i] != want[i] {
			t.Errorf("cumulative = %v, want %v", cumulative, want)
			break
		}
	}
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("op", "op", nil, nil)
	timer := h.Timer()
	time.Sleep(time.Millisecond)
	if d := timer.Stop(); d < time.Millisecond {
		t.Errorf("timer measured %v", d)
	}
	if h.Count() != 1 {
		t.Errorf("count = %d, want 1", h.Count())
	}
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("hrm")
	r.RegisterCounter("taps_total", "taps", nil).Add(3)

	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "hrm_taps_total 3") {
		t.Errorf("prometheus output: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	r.HTTPHandler().ServeHTTP(rec, req)

	var out map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if v := out["hrm_taps_total"]["value"]; v != float64(3) {
		t.Errorf("hrm_taps_total = %v, want 3", v)
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry("")
	c := r.RegisterCounter("c", "c", nil)
	h := r.RegisterHistogram("h", "h", nil, nil)
	c.Inc()
	h.Observe(1)

	r.Reset()
	if c.Value() != 0 || h.Count() != 0 {
		t.Errorf("after reset: counter %d, histogram count %d", c.Value(), h.Count())
	}
	if v := r.Snapshot()["c"]; v != uint64(0) {
		t.Errorf("snapshot c = %v", v)
	}
}

func TestKeyTally(t *testing.T) {
	m := NewHRMMetrics(NewRegistry("test"))
	m.RecordTap(3, "F")
	m.RecordTap(3, "F")
	m.RecordHold(3, "F")
	m.RecordPassThrough(0, "A")

	if m.TapsTotal.Value() != 2 || m.HoldsTotal.Value() != 1 {
		t.Errorf("taps %d holds %d", m.TapsTotal.Value(), m.HoldsTotal.Value())
	}

	counts := m.Keys().Drain()
	want := []KeyCounts{
		{KeyCode: 0, Label: "A", PassThrough: 1},
		{KeyCode: 3, Label: "F", Taps: 2, Holds: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("drained %d keys, want %d", len(counts), len(want))
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("key %d = %+v, want %+v", i, counts[i], want[i])
		}
	}

	if rest := m.Keys().Drain(); len(rest) != 0 {
		t.Errorf("second drain returned %v", rest)
	}
}
