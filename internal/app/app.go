// Package app wires configuration, the event tap and the supporting
// services into the running hrm daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hrm/internal/config"
	"hrm/internal/eventtap"
	"hrm/internal/health"
	"hrm/internal/instance"
	"hrm/internal/logging"
	"hrm/internal/metrics"
	"hrm/internal/notify"
	"hrm/internal/permissions"
	"hrm/internal/store"
	"hrm/internal/update"
)

// Defaults for Options.
const (
	DefaultFlushInterval  = time.Minute
	DefaultStatsRetention = 365 * 24 * time.Hour
	DefaultRestartDelay   = 2 * time.Second
	maxRestartDelay       = 30 * time.Second
)

// Options configures an App. Zero values select production behaviour.
type Options struct {
	// ConfigPath is the configuration file. Empty uses config.ConfigPath.
	ConfigPath string

	// StatsPath is the statistics database. Empty uses config.StatsPath;
	// "-" disables statistics.
	StatsPath string

	// LockPath guards against a second daemon. Empty uses hrm.lock in the
	// platform data directory; "-" disables the lock.
	LockPath string

	// StatsRetention is how long daily statistics are kept.
	StatsRetention time.Duration

	// FlushInterval is how often per-key counters are written to the store.
	FlushInterval time.Duration

	// RestartDelay is the first wait before reopening a tap that stopped on
	// its own. It doubles on each failed attempt.
	RestartDelay time.Duration

	// MetricsAddr, when set, serves the metrics registry over HTTP.
	MetricsAddr string

	// DisableWatch turns off reloading on configuration file changes.
	DisableWatch bool

	// CheckUpdates looks for a newer release at startup.
	CheckUpdates bool

	// Version is the running version, recorded with each run.
	Version string

	Logger   *logging.Logger
	Metrics  *metrics.HRMMetrics
	Crash    *logging.CrashHandler
	Notifier notify.Notifier
	Updater  *update.Checker

	// Tap is the event source. Nil uses the platform tap.
	Tap eventtap.Tap

	// Check reports permissions before interception starts; Prompt is used
	// for the first check so the OS can show its dialog. WaitForGrant is
	// called when access is missing.
	Check        func() permissions.Result
	Prompt       func() permissions.Result
	WaitForGrant func(ctx context.Context) (permissions.Result, error)

	// Now is the wall clock for statistics days and run records.
	Now func() time.Time
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Enabled              bool
	Intercepting         bool
	WaitingForPermission bool
	ConfigPath           string
	StatsPath            string
	MetricsAddr          string
	LatestVersion        string
}

// App is the hrm daemon.
type App struct {
	opts    Options
	logger  *logging.Logger
	stats   *metrics.HRMMetrics
	cfgs    *config.Store
	manager *eventtap.Manager
	health  *health.Checker
	watcher *config.Watcher

	// runMu orders interception starts against Shutdown.
	runMu sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	enabled  bool
	waiting  bool
	latest   string
	lock     *instance.Lock
	db       *store.Store
	runID    int64
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates an App. Nothing is started until Start.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.GetMetrics()
	}
	if opts.Crash == nil {
		opts.Crash = logging.DefaultCrashHandler()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.New(opts.Logger)
	}
	if opts.Tap == nil {
		opts.Tap = eventtap.NewPlatformTap()
	}
	if opts.Check == nil {
		opts.Check = permissions.Check
	}
	if opts.Prompt == nil {
		opts.Prompt = permissions.Prompt
	}
	if opts.WaitForGrant == nil {
		opts.WaitForGrant = func(ctx context.Context) (permissions.Result, error) {
			return permissions.WaitForGrant(ctx, permissions.DefaultInterval, permissions.DefaultAttempts)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StatsPath == "" {
		opts.StatsPath = config.StatsPath()
	}
	if opts.LockPath == "" {
		opts.LockPath = filepath.Join(config.PlatformDataDir(), "hrm.lock")
	}
	if opts.StatsRetention <= 0 {
		opts.StatsRetention = DefaultStatsRetention
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.CheckUpdates && opts.Updater == nil {
		opts.Updater = update.NewChecker(opts.Version)
	}

	a := &App{
		opts:   opts,
		logger: opts.Logger.WithComponent("app"),
		stats:  opts.Metrics,
		cfgs:   config.NewStore(opts.ConfigPath),
		manager: eventtap.NewManager(opts.Tap, nil,
			eventtap.WithLogger(opts.Logger.WithComponent("eventtap")),
			eventtap.WithMetrics(opts.Metrics),
			eventtap.WithCrashHandler(opts.Crash),
		),
	}
	a.health = health.NewChecker(a.manager.Running)
	a.health.Register("event_tap", true, a.checkTap)
	a.health.Register("stats_store", false, a.checkStats)
	a.health.Register("permissions", false, a.checkPermissions)
	return a
}

// Health returns the health checker served next to the metrics.
func (a *App) Health() *health.Checker { return a.health }

// Manager returns the hook manager.
func (a *App) Manager() *eventtap.Manager { return a.manager }

// ConfigStore returns the configuration store.
func (a *App) ConfigStore() *config.Store { return a.cfgs }

// Start loads the configuration, opens the statistics store, starts the
// background services and begins interception when enabled and permitted.
// A missing permission is not an error: interception starts once access
// is granted.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	if a.opts.LockPath != "-" {
		lock, err := instance.Acquire(a.opts.LockPath)
		if err != nil {
			a.mu.Unlock()
			return err
		}
		a.lock = lock
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true
	a.mu.Unlock()

	cfg, err := a.cfgs.Load()
	if err != nil {
		a.logger.Warn("configuration invalid", "path", a.cfgs.Path(), "error", err)
		a.stats.ConfigErrorsTotal.Inc()
	}

	if err := a.openStats(); err != nil {
		a.logger.Warn("statistics disabled", "error", err)
	}

	if err := a.startMetricsServer(); err != nil {
		a.Shutdown("startup failed")
		return err
	}

	if !a.opts.DisableWatch {
		a.startWatcher()
	}

	a.wg.Add(1)
	go a.flushLoop()

	if a.opts.Updater != nil {
		a.wg.Add(1)
		go a.checkForUpdate()
	}

	a.Apply(cfg)
	a.logger.Info("hrm started", "version", a.opts.Version, "config", a.cfgs.Path())
	return nil
}

// Run starts the app and blocks until ctx is done, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Shutdown("stopped")
}

// Apply installs cfg and starts or stops interception to match its
// Enabled flag. It does nothing once Shutdown has begun.
func (a *App) Apply(cfg *config.Configuration) {
	if !a.running() {
		return
	}
	if cfg == nil {
		cfg = config.DefaultConfiguration()
	}
	a.manager.UpdateConfiguration(cfg)

	a.mu.Lock()
	a.enabled = cfg.Enabled
	a.mu.Unlock()

	if cfg.Enabled {
		a.startInterception()
		return
	}
	if a.manager.Running() {
		if err := a.manager.Stop(); err != nil {
			a.logger.Warn("stop interception", "error", err)
		}
	}
	a.logger.Info("interception disabled")
}

// Reload re-reads the configuration file and applies it. An invalid file
// keeps the current configuration. Interception is retried either way.
func (a *App) Reload() error {
	cfg, err := a.cfgs.Read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.DefaultConfiguration()
	case err != nil:
		a.stats.ConfigErrorsTotal.Inc()
		a.logger.Warn("reload failed, keeping current configuration", "error", err)
		a.mu.Lock()
		enabled := a.enabled
		a.mu.Unlock()
		if enabled {
			a.startInterception()
		}
		return fmt.Errorf("reload config: %w", err)
	}
	a.stats.ConfigReloadsTotal.Inc()
	a.Apply(cfg)
	if err := a.opts.Logger.Reopen(); err != nil {
		a.logger.Warn("reopen log file", "error", err)
	}
	return nil
}

func (a *App) running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// startInterception starts the manager if access is granted, otherwise
// tells the user and waits for the grant in the background.
func (a *App) startInterception() {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if !a.running() || a.manager.Running() {
		return
	}

	a.mu.Lock()
	if a.waiting {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	r := a.opts.Prompt()
	if !r.Granted() && r.Status != permissions.StatusUnknown {
		a.awaitPermission(r)
		return
	}

	if err := a.manager.Start(); err != nil {
		a.logger.Error("start interception", "error", err)
		if errors.Is(err, eventtap.ErrPermissionDenied) {
			a.awaitPermission(a.opts.Check())
		}
		return
	}
	a.logger.Info("interception started")

	a.wg.Add(1)
	go a.superviseTap(a.manager.Done())
}

// superviseTap restarts interception when the tap thread exits without
// being stopped, for example when every keyboard is unplugged.
func (a *App) superviseTap(done <-chan struct{}) {
	defer a.wg.Done()
	defer a.opts.Crash.RecoverGoroutine("supervise")

	select {
	case <-a.ctx.Done():
		return
	case <-done:
	}
	if !a.manager.Exited() {
		return
	}
	a.stats.TapExitsTotal.Inc()
	a.logger.Error("event tap exited, restarting")

	delay := a.opts.RestartDelay
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(delay):
		}

		a.mu.Lock()
		enabled := a.enabled
		a.mu.Unlock()
		if !enabled || a.manager.Running() {
			return
		}
		a.startInterception()

		a.mu.Lock()
		waiting := a.waiting
		a.mu.Unlock()
		if a.manager.Running() || waiting {
			return
		}
		delay = min(delay*2, maxRestartDelay)
		a.logger.Warn("event tap restart failed", "retry_in", delay.String())
	}
}

func (a *App) awaitPermission(r permissions.Result) {
	a.mu.Lock()
	if a.waiting || a.ctx == nil {
		a.mu.Unlock()
		return
	}
	a.waiting = true
	ctx := a.ctx
	a.mu.Unlock()

	a.logger.Warn("permission required", "detail", r.Message, "guidance", r.Guidance)
	a.notify("hrm needs permission", joinNonEmpty(r.Message, r.Guidance))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.opts.Crash.RecoverGoroutine("permissions")

		res, err := a.opts.WaitForGrant(ctx)

		a.mu.Lock()
		a.waiting = false
		enabled := a.enabled
		a.mu.Unlock()

		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("permission not granted", "detail", res.Message, "error", err)
			}
			return
		}
		a.logger.Info("permission granted")
		if enabled {
			a.startInterception()
		}
	}()
}

func (a *App) openStats() error {
	if a.opts.StatsPath == "-" {
		return nil
	}
	db, err := store.Open(a.opts.StatsPath)
	if err != nil {
		return err
	}

	now := a.opts.Now()
	if n, err := db.Prune(now.Add(-a.opts.StatsRetention)); err != nil {
		a.logger.Warn("prune statistics", "error", err)
	} else if n > 0 {
		a.logger.Debug("pruned statistics", "rows", n)
	}

	id, err := db.StartRun(a.opts.Version, now)
	if err != nil {
		db.Close()
		return err
	}

	a.mu.Lock()
	a.db = db
	a.runID = id
	a.mu.Unlock()
	return nil
}

// Flush writes the per-key counters gathered since the last flush.
func (a *App) Flush() error {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db == nil {
		return nil
	}

	counts := a.stats.Keys().Drain()
	if len(counts) == 0 {
		return nil
	}
	deltas := make([]store.KeyDelta, len(counts))
	for i, c := range counts {
		deltas[i] = store.KeyDelta{
			KeyCode:     c.KeyCode,
			Label:       c.Label,
			Taps:        c.Taps,
			Holds:       c.Holds,
			PassThrough: c.PassThrough,
		}
	}
	if err := db.AddKeyCounts(a.opts.Now(), deltas); err != nil {
		return fmt.Errorf("flush statistics: %w", err)
	}
	return nil
}

func (a *App) flushLoop() {
	defer a.wg.Done()
	defer a.opts.Crash.RecoverGoroutine("flush")

	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if err := a.Flush(); err != nil {
				a.logger.Warn("flush failed", "error", err)
			}
			a.stats.UpdateUptime()
		}
	}
}

func (a *App) startWatcher() {
	dir := filepath.Dir(a.cfgs.Path())
	if err := os.MkdirAll(dir, 0700); err != nil {
		a.logger.Warn("config directory unavailable, not watching", "error", err)
		return
	}

	w := config.NewWatcher(a.cfgs)
	w.OnChange(func(cfg *config.Configuration) {
		a.stats.ConfigReloadsTotal.Inc()
		a.logger.Info("configuration changed", "enabled", cfg.Enabled)
		a.Apply(cfg)
	})
	if err := w.Start(); err != nil {
		a.logger.Warn("watch configuration", "error", err)
		return
	}
	a.watcher = w

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				return
			case err := <-w.Errors():
				a.stats.ConfigErrorsTotal.Inc()
				a.logger.Warn("configuration not applied", "error", err)
			}
		}
	}()
}

func (a *App) startMetricsServer() error {
	if a.opts.MetricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.opts.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen on metrics address: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.stats.Registry().HTTPHandler())
	a.health.Mount(mux)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.mu.Lock()
	a.server = srv
	a.listener = ln
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *App) checkForUpdate() {
	defer a.wg.Done()
	defer a.opts.Crash.RecoverGoroutine("update")

	latest := a.opts.Updater.Check(a.ctx)
	if latest == "" {
		return
	}
	a.mu.Lock()
	a.latest = latest
	a.mu.Unlock()
	a.notify("hrm update available", fmt.Sprintf("Version %s is available (running %s).", latest, a.opts.Version))
}

func (a *App) notify(title, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.opts.Notifier.Notify(ctx, title, body); err != nil {
		a.logger.Debug("notification failed", "error", err)
	}
}

// Status reports the current state.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		Enabled:              a.enabled,
		Intercepting:         a.manager.Running(),
		WaitingForPermission: a.waiting,
		ConfigPath:           a.cfgs.Path(),
		LatestVersion:        a.latest,
	}
	if a.db != nil {
		s.StatsPath = a.opts.StatsPath
	}
	if a.listener != nil {
		s.MetricsAddr = a.listener.Addr().String()
	}
	return s
}

// Shutdown stops interception, flushes statistics and releases every
// resource. reason is recorded with the run.
func (a *App) Shutdown(reason string) error {
	a.runMu.Lock()
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		a.runMu.Unlock()
		return nil
	}
	a.started = false
	a.mu.Unlock()

	// No reload or permission grant may restart the tap past this point.
	a.cancel()
	if a.watcher != nil {
		a.watcher.Close()
		a.watcher = nil
	}

	var errs []error
	if err := a.manager.Stop(); err != nil {
		errs = append(errs, err)
	}
	a.runMu.Unlock()

	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.listener = nil
	a.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
		cancel()
	}

	a.wg.Wait()

	if err := a.Flush(); err != nil {
		errs = append(errs, err)
	}

	a.mu.Lock()
	db, runID := a.db, a.runID
	a.db = nil
	a.mu.Unlock()
	if db != nil {
		if err := db.EndRun(runID, a.opts.Now(), reason); err != nil {
			errs = append(errs, err)
		}
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.mu.Lock()
	lock := a.lock
	a.lock = nil
	a.mu.Unlock()
	if err := lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	a.logger.Info("hrm stopped", "reason", reason)
	return errors.Join(errs...)
}

func (a *App) checkTap(context.Context) health.CheckResult {
	st := a.Status()
	switch {
	case !st.Enabled:
		return health.CheckResult{Status: health.StatusHealthy, Message: "interception disabled"}
	case st.Intercepting:
		return health.CheckResult{Status: health.StatusHealthy, Message: "intercepting"}
	case st.WaitingForPermission:
		return health.CheckResult{Status: health.StatusDegraded, Message: "waiting for keyboard access"}
	default:
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "enabled but not intercepting"}
	}
}

func (a *App) checkStats(ctx context.Context) health.CheckResult {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db == nil {
		return health.CheckResult{Status: health.StatusHealthy, Message: "statistics disabled"}
	}
	return health.PingCheck("stats store", db.Ping)(ctx)
}

func (a *App) checkPermissions(context.Context) health.CheckResult {
	r := a.opts.Check()
	res := health.CheckResult{Message: r.Message}
	switch r.Status {
	case permissions.StatusGranted:
		res.Status = health.StatusHealthy
	case permissions.StatusDenied:
		res.Status = health.StatusDegraded
		res.Details = map[string]any{"guidance": r.Guidance}
	default:
		res.Status = health.StatusUnknown
	}
	return res
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
