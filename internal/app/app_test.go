package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrm/internal/config"
	"hrm/internal/eventtap"
	"hrm/internal/health"
	"hrm/internal/instance"
	"hrm/internal/keymap"
	"hrm/internal/logging"
	"hrm/internal/metrics"
	"hrm/internal/permissions"
	"hrm/internal/store"
	"hrm/internal/update"
)

type message struct {
	title, body string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []message
}

func (n *recordingNotifier) Notify(_ context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, message{title, body})
	return nil
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		out = append(out, m.title)
	}
	return out
}

func grantedResult() permissions.Result {
	return permissions.Result{Status: permissions.StatusGranted}
}

type fixture struct {
	app      *App
	tap      *eventtap.SimulatedTap
	notifier *recordingNotifier
	opts     Options
	day      time.Time
}

func newFixture(t *testing.T, modify func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		tap:      eventtap.NewSimulatedTap(),
		notifier: &recordingNotifier{},
		day:      day,
	}
	f.opts = Options{
		ConfigPath:    filepath.Join(dir, "config", "config.toml"),
		StatsPath:     filepath.Join(dir, "data", "stats.db"),
		LockPath:      filepath.Join(dir, "data", "hrm.lock"),
		FlushInterval: time.Hour,
		RestartDelay:  10 * time.Millisecond,
		Version:       "1.0.0",
		Logger:        logging.Discard(),
		Metrics:       metrics.NewHRMMetrics(metrics.NewRegistry("test")),
		Crash: logging.NewCrashHandler(&logging.CrashHandlerConfig{
			CrashDir: filepath.Join(dir, "crashes"),
			Logger:   logging.Discard(),
		}),
		Notifier:     f.notifier,
		Tap:          f.tap,
		Check:        grantedResult,
		Prompt:       grantedResult,
		WaitForGrant: func(context.Context) (permissions.Result, error) { return grantedResult(), nil },
		Now:          func() time.Time { return day },
		DisableWatch: true,
	}
	if modify != nil {
		modify(&f.opts)
	}
	f.app = New(f.opts)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.app.Start(context.Background()))
	t.Cleanup(func() { f.app.Shutdown("test") })
}

func saveConfig(t *testing.T, path string, cfg *config.Configuration) {
	t.Helper()
	require.NoError(t, config.NewStore(path).Save(cfg))
}

func TestAppStartsWithDefaults(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	st := f.app.Status()
	assert.True(t, st.Enabled)
	assert.True(t, st.Intercepting)
	assert.False(t, st.WaitingForPermission)
	assert.Equal(t, f.opts.ConfigPath, st.ConfigPath)
	assert.Equal(t, f.opts.StatsPath, st.StatsPath)
	assert.Empty(t, st.MetricsAddr)

	// Start again is a no-op.
	require.NoError(t, f.app.Start(context.Background()))
}

func TestAppSingleInstance(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	second := New(f.opts)
	err := second.Start(context.Background())
	assert.ErrorIs(t, err, instance.ErrAlreadyRunning)
	assert.False(t, second.Status().Intercepting)

	require.NoError(t, f.app.Shutdown("test"))
	require.NoError(t, second.Start(context.Background()))
	assert.NoError(t, second.Shutdown("test"))
}

func TestAppDisabledConfiguration(t *testing.T) {
	f := newFixture(t, nil)
	cfg := config.DefaultConfiguration()
	cfg.Enabled = false
	saveConfig(t, f.opts.ConfigPath, cfg)

	f.start(t)
	assert.False(t, f.app.Manager().Running())

	cfg.Enabled = true
	saveConfig(t, f.opts.ConfigPath, cfg)
	require.NoError(t, f.app.Reload())
	assert.True(t, f.app.Manager().Running())

	cfg.Enabled = false
	saveConfig(t, f.opts.ConfigPath, cfg)
	require.NoError(t, f.app.Reload())
	assert.False(t, f.app.Manager().Running())
}

func TestAppReloadAppliesConfiguration(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	cfg := config.DefaultConfiguration()
	cfg.QuickTapTermMs = 90
	saveConfig(t, f.opts.ConfigPath, cfg)

	require.NoError(t, f.app.Reload())
	assert.Equal(t, 90, f.app.Manager().Configuration().QuickTapTermMs)
	assert.Equal(t, uint64(1), f.opts.Metrics.ConfigReloadsTotal.Value())
}

func TestAppReloadInvalidKeepsConfiguration(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(f.opts.ConfigPath), 0700))
	require.NoError(t, os.WriteFile(f.opts.ConfigPath, []byte("quick_tap_term_ms = \"soon\"\n"), 0600))

	assert.Error(t, f.app.Reload())
	assert.Equal(t, config.DefaultQuickTapTermMs, f.app.Manager().Configuration().QuickTapTermMs)
	assert.True(t, f.app.Manager().Running())
	assert.GreaterOrEqual(t, f.opts.Metrics.ConfigErrorsTotal.Value(), uint64(1))
}

func TestAppWatchesConfigFile(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DisableWatch = false })
	f.start(t)

	cfg := config.DefaultConfiguration()
	cfg.Enabled = false
	saveConfig(t, f.opts.ConfigPath, cfg)

	assert.Eventually(t, func() bool {
		return !f.app.Manager().Running()
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAppWaitsForPermission(t *testing.T) {
	grant := make(chan struct{})
	f := newFixture(t, func(o *Options) {
		denied := permissions.Result{Status: permissions.StatusDenied, Message: "no access", Guidance: "grant it"}
		var mu sync.Mutex
		granted := false
		check := func() permissions.Result {
			mu.Lock()
			defer mu.Unlock()
			if granted {
				return grantedResult()
			}
			return denied
		}
		o.Check = check
		o.Prompt = check
		o.WaitForGrant = func(ctx context.Context) (permissions.Result, error) {
			select {
			case <-grant:
				mu.Lock()
				granted = true
				mu.Unlock()
				return grantedResult(), nil
			case <-ctx.Done():
				return denied, ctx.Err()
			}
		}
	})
	f.start(t)

	assert.False(t, f.app.Manager().Running())
	assert.True(t, f.app.Status().WaitingForPermission)
	assert.Contains(t, f.notifier.titles(), "hrm needs permission")

	close(grant)
	assert.Eventually(t, func() bool {
		return f.app.Manager().Running()
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.app.Status().WaitingForPermission)
}

func TestAppPermissionNeverGranted(t *testing.T) {
	denied := func() permissions.Result {
		return permissions.Result{Status: permissions.StatusDenied}
	}
	f := newFixture(t, func(o *Options) {
		o.Check = denied
		o.Prompt = denied
		o.WaitForGrant = func(context.Context) (permissions.Result, error) {
			return denied(), permissions.ErrNotGranted
		}
	})
	f.start(t)

	assert.Eventually(t, func() bool {
		return !f.app.Status().WaitingForPermission
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.app.Manager().Running())
}

func TestAppFlushesKeyStatistics(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.tap.Inject(eventtap.Event{Type: eventtap.KeyDown, KeyCode: keymap.KeyA})
	f.tap.Inject(eventtap.Event{Type: eventtap.KeyUp, KeyCode: keymap.KeyA})
	f.tap.Inject(eventtap.Event{Type: eventtap.KeyDown, KeyCode: keymap.KeyG})
	f.tap.Inject(eventtap.Event{Type: eventtap.KeyUp, KeyCode: keymap.KeyG})

	require.NoError(t, f.app.Flush())
	require.NoError(t, f.app.Shutdown("done"))

	db, err := store.Open(f.opts.StatsPath)
	require.NoError(t, err)
	defer db.Close()

	stats, err := db.KeyStats(f.day, f.day)
	require.NoError(t, err)
	byLabel := map[string]store.KeyStat{}
	for _, s := range stats {
		byLabel[s.Label] = s
	}
	assert.Equal(t, uint64(1), byLabel["A"].Taps)
	assert.NotContains(t, byLabel, "G")

	runs, err := db.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "1.0.0", runs[0].Version)
	assert.Equal(t, "done", runs[0].Reason)
	assert.NotNil(t, runs[0].StoppedAt)
}

func TestAppStatisticsDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.StatsPath = "-" })
	f.start(t)

	assert.Empty(t, f.app.Status().StatsPath)
	assert.NoError(t, f.app.Flush())
}

func TestAppServesMetrics(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MetricsAddr = "127.0.0.1:0" })
	f.start(t)

	addr := f.app.Status().MetricsAddr
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_tap_running 1")

	ready, err := http.Get("http://" + addr + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestAppHealth(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	results := f.app.Health().Check(context.Background())
	assert.Equal(t, health.StatusHealthy, results["event_tap"].Status)
	assert.Equal(t, health.StatusHealthy, results["stats_store"].Status)
	assert.Equal(t, health.StatusHealthy, results["permissions"].Status)
	assert.Equal(t, health.StatusHealthy, f.app.Health().OverallStatus())

	f.app.Manager().Stop()
	results = f.app.Health().Check(context.Background())
	assert.Equal(t, health.StatusUnhealthy, results["event_tap"].Status)
	assert.Equal(t, health.StatusUnhealthy, f.app.Health().OverallStatus())
	assert.False(t, f.app.Health().Ready())
}

func TestAppNotifiesAboutUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v9.0.0"}`))
	}))
	defer srv.Close()

	f := newFixture(t, func(o *Options) {
		o.CheckUpdates = true
		o.Updater = &update.Checker{URL: srv.URL, Current: "1.0.0", Client: srv.Client(), Logger: logging.Discard()}
	})
	f.start(t)

	assert.Eventually(t, func() bool {
		return f.app.Status().LatestVersion == "9.0.0"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.notifier.titles(), "hrm update available")
}

func TestAppRestartsExitedTap(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	require.True(t, f.app.Manager().Running())

	f.tap.Exit(errors.New("all keyboards lost"))

	assert.Eventually(t, func() bool {
		return f.opts.Metrics.TapExitsTotal.Value() == 1 && f.app.Manager().Running()
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.app.Status().Intercepting)
}

func TestAppDisabledTapIsNotRestarted(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	cfg := config.DefaultConfiguration()
	cfg.Enabled = false
	f.app.Apply(cfg)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, f.app.Manager().Running())
	assert.Equal(t, uint64(0), f.opts.Metrics.TapExitsTotal.Value())
}

func TestAppApplyAfterShutdownDoesNotIntercept(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	require.NoError(t, f.app.Shutdown("signal"))

	f.app.Apply(config.DefaultConfiguration())
	assert.False(t, f.app.Manager().Running())
	assert.NoError(t, f.app.Reload())
	assert.False(t, f.app.Manager().Running())
}

func TestAppShutdownReleasesTap(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	require.NoError(t, f.app.Shutdown("signal"))
	assert.False(t, f.app.Manager().Running())
	assert.False(t, f.app.Status().Intercepting)

	// Second shutdown is a no-op.
	assert.NoError(t, f.app.Shutdown("signal"))
}
