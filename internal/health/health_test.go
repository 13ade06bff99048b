package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func healthy(context.Context) CheckResult   { return CheckResult{Status: StatusHealthy} }
func degraded(context.Context) CheckResult  { return CheckResult{Status: StatusDegraded} }
func unhealthy(context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		register func(c *Checker)
		want     Status
	}{
		{"no components", func(c *Checker) {}, StatusHealthy},
		{"all healthy", func(c *Checker) {
			c.Register("a", true, healthy)
			c.Register("b", false, healthy)
		}, StatusHealthy},
		{"non-critical failure degrades", func(c *Checker) {
			c.Register("a", true, healthy)
			c.Register("b", false, unhealthy)
		}, StatusDegraded},
		{"critical failure", func(c *Checker) {
			c.Register("a", true, unhealthy)
			c.Register("b", false, healthy)
		}, StatusUnhealthy},
		{"degraded component", func(c *Checker) {
			c.Register("a", true, degraded)
		}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(nil)
			tt.register(c)
			c.Check(context.Background())
			if got := c.OverallStatus(); got != tt.want {
				t.Errorf("OverallStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUncheckedCriticalIsUnknown(t *testing.T) {
	c := NewChecker(nil)
	c.Register("tap", true, healthy)
	if got := c.OverallStatus(); got != StatusUnknown {
		t.Errorf("OverallStatus() = %s, want unknown", got)
	}
}

func TestRegisterReplaces(t *testing.T) {
	c := NewChecker(nil)
	c.Register("tap", true, unhealthy)
	c.Register("tap", true, healthy)

	results := c.Check(context.Background())
	if len(results) != 1 || results["tap"].Status != StatusHealthy {
		t.Errorf("results = %+v", results)
	}
}

func TestCheckRecoversPanic(t *testing.T) {
	c := NewChecker(nil)
	c.Register("boom", false, func(context.Context) CheckResult { panic("oops") })

	r := c.Check(context.Background())["boom"]
	if r.Status != StatusUnhealthy || r.Error != "oops" {
		t.Errorf("result = %+v", r)
	}
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker(nil)
	c.Register("slow", false, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := c.Check(ctx)["slow"]
	if r.Status != StatusUnhealthy || r.Message != "check timed out" {
		t.Errorf("result = %+v", r)
	}
}

func TestPingAndFuncCheck(t *testing.T) {
	ok := PingCheck("stats store", func(context.Context) error { return nil })(context.Background())
	if ok.Status != StatusHealthy || ok.Message != "stats store ok" {
		t.Errorf("ping ok = %+v", ok)
	}
	bad := PingCheck("stats store", func(context.Context) error { return errors.New("locked") })(context.Background())
	if bad.Status != StatusUnhealthy || bad.Error != "locked" {
		t.Errorf("ping failure = %+v", bad)
	}
	if r := FuncCheck(func() error { return nil })(context.Background()); r.Status != StatusHealthy {
		t.Errorf("func check = %+v", r)
	}
}

func TestHandlers(t *testing.T) {
	ready := false
	c := NewChecker(func() bool { return ready })
	c.Register("tap", true, healthy)
	mux := http.NewServeMux()
	c.Mount(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}
	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d", rec.Code)
	}
	ready = true
	if rec := get("/readyz"); rec.Code != http.StatusOK {
		t.Errorf("/readyz when ready = %d", rec.Code)
	}

	rec := get("/health?full=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("/health = %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusHealthy || !resp.Ready || resp.Components["tap"].Status != StatusHealthy {
		t.Errorf("response = %+v", resp)
	}

	c.Register("tap", true, unhealthy)
	if rec := get("/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health unhealthy = %d", rec.Code)
	}
}
