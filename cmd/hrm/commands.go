package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"hrm/internal/app"
	"hrm/internal/buildinfo"
	"hrm/internal/config"
	"hrm/internal/logging"
	"hrm/internal/permissions"
	"hrm/internal/store"
)

func cmdRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file")
	statsPath := fs.String("stats", "", `Statistics database, "-" to disable`)
	metricsAddr := fs.String("metrics", "", "Serve metrics on this address")
	noUpdate := fs.Bool("no-update-check", false, "Do not check for updates")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text, json")
	logFile := fs.String("log-file", "", "Also write logs to this file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	info := buildinfo.Get()
	logger, err := setupLogging(*logLevel, *logFormat, *logFile, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Close()

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		Version:   info.Version,
		Component: "hrm",
		Logger:    logger,
	})
	logging.SetDefaultCrashHandler(crash)
	if err := crash.CleanupOldCrashReports(30 * 24 * time.Hour); err != nil {
		logger.Debug("clean up crash reports", "error", err)
	}

	a := app.New(app.Options{
		ConfigPath:   *configPath,
		StatsPath:    *statsPath,
		MetricsAddr:  *metricsAddr,
		CheckUpdates: !*noUpdate && info.Release(),
		Version:      info.Version,
		Logger:       logger,
		Crash:        crash,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	st := a.Status()
	fmt.Fprintf(stdout, "hrm %s running (config: %s)\n", info.Version, st.ConfigPath)
	if st.MetricsAddr != "" {
		fmt.Fprintf(stdout, "Metrics: http://%s/metrics\n", st.MetricsAddr)
	}
	if st.WaitingForPermission {
		fmt.Fprintln(stdout, "Waiting for keyboard access; run 'hrm check' for details.")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var reason string
	for reason == "" {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			logger.Info("reloading configuration")
			if err := a.Reload(); err != nil {
				logger.Warn("reload failed", "error", err)
			}
			continue
		}
		reason = sig.String()
	}

	cancel()
	if err := a.Shutdown(reason); err != nil {
		fmt.Fprintf(stderr, "Error during shutdown: %v\n", err)
		return 1
	}
	return 0
}

func setupLogging(level, format, file string, stderr io.Writer) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	var err error
	if cfg.Level, err = logging.ParseLevel(level); err != nil {
		return nil, err
	}
	if cfg.Format, err = logging.ParseFormat(format); err != nil {
		return nil, err
	}
	cfg.Output = "stderr"
	if file != "" {
		cfg.Output = "both"
		cfg.FilePath = file
	}
	if stderr != os.Stderr && file == "" {
		cfg.Writer = stderr
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

func cmdCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	prompt := fs.Bool("prompt", false, "Ask the OS to show its permission dialog")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var r permissions.Result
	if *prompt {
		r = permissions.Prompt()
	} else {
		r = permissions.Check()
	}
	return printPermission(stdout, r)
}

func printPermission(w io.Writer, r permissions.Result) int {
	fmt.Fprintf(w, "Keyboard access: %s\n", r.Status)
	if r.Message != "" {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	if r.Guidance != "" {
		fmt.Fprintf(w, "\n%s\n", r.Guidance)
	}
	if r.Granted() {
		return 0
	}
	return 1
}

func cmdConfig(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: hrm config <init|show|validate|path> [options]")
		return 1
	}

	action, rest := args[0], args[1:]
	fs := flag.NewFlagSet("config "+action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file")
	force := false
	if action == "init" {
		fs.BoolVar(&force, "force", false, "Overwrite an existing file")
	}
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	if fs.NArg() > 0 && *configPath == "" {
		*configPath = fs.Arg(0)
	}
	cs := config.NewStore(*configPath)

	switch action {
	case "path":
		fmt.Fprintln(stdout, cs.Path())
		return 0

	case "init":
		if cs.Exists() && !force {
			fmt.Fprintf(stderr, "Configuration already exists: %s (use -force to overwrite)\n", cs.Path())
			return 1
		}
		if err := cs.Save(config.DefaultConfiguration()); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Wrote default configuration to %s\n", cs.Path())
		return 0

	case "show":
		cfg, err := cs.Load()
		if err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
		}
		data, err := config.Encode(cfg, cs.Format())
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		stdout.Write(data)
		return 0

	case "validate":
		if _, err := cs.Read(); err != nil {
			fmt.Fprintf(stderr, "Invalid: %s\n", cs.Path())
			var verrs config.ValidationErrors
			if errors.As(err, &verrs) {
				for _, e := range verrs {
					fmt.Fprintf(stderr, "  - %s\n", e.Error())
				}
			} else {
				fmt.Fprintf(stderr, "  %v\n", err)
			}
			return 1
		}
		fmt.Fprintf(stdout, "Valid: %s\n", cs.Path())
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func cmdStats(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	statsPath := fs.String("stats", config.StatsPath(), "Statistics database")
	days := fs.Int("days", 7, "Number of days to include")
	runs := fs.Int("runs", 0, "Also list the most recent runs")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *days < 1 {
		fmt.Fprintln(stderr, "Error: -days must be at least 1")
		return 1
	}

	if _, err := os.Stat(*statsPath); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No statistics recorded yet.")
		return 0
	}

	db, err := store.Open(*statsPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	since := time.Now().AddDate(0, 0, -(*days - 1))
	sum, err := db.Summary(since)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printSummary(stdout, sum, *days)

	if *runs > 0 {
		list, err := db.Runs(*runs)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		printRuns(stdout, list)
	}
	return 0
}

func printSummary(w io.Writer, sum *store.Summary, days int) {
	if len(sum.Keys) == 0 {
		fmt.Fprintf(w, "No key activity in the last %d days.\n", days)
		return
	}

	fmt.Fprintf(w, "Key activity since %s\n\n", sum.Since)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTAPS\tHOLDS\tPASSED\tHOLD %")
	for _, k := range sum.Keys {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.1f\n", k.Label, k.Taps, k.Holds, k.PassThrough, k.HoldRatio()*100)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t\n", sum.Taps, sum.Holds, sum.PassThrough)
	tw.Flush()
}

func printRuns(w io.Writer, runs []store.Run) {
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tVERSION\tREASON")
	for _, r := range runs {
		duration := "running"
		if r.StoppedAt != nil {
			duration = r.StoppedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.StartedAt.Local().Format(time.DateTime), duration, r.Version, r.Reason)
	}
	tw.Flush()
}

func cmdVersion(stdout io.Writer) int {
	fmt.Fprintln(stdout, buildinfo.Get().String())
	return 0
}
