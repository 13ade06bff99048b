// Package logging sets up log/slog for hrm: text or JSON output to stderr,
// a rotated file, or both.
//
// Keystroke attributes (key codes, labels) are replaced with a placeholder
// unless Config.RedactKeys is turned off, so a debug log never doubles as a
// key logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(s)]; ok {
		return l, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// LevelString is the inverse of ParseLevel.
func LevelString(l Level) string {
	return strings.ToLower(l.String())
}

// Format selects the slog handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json". Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %q", s)
}

// Config holds the logging configuration.
type Config struct {
	Level  Level
	Format Format

	// Output is "stdout", "stderr", "file" or "both" (stderr and file).
	Output string

	// FilePath and the rotation limits apply when Output includes a file.
	// MaxSize is in megabytes, MaxAge in days.
	FilePath   string
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool

	AddSource bool

	// RedactKeys hides attributes that identify what was typed.
	RedactKeys bool

	Component string

	// Writer replaces Output entirely. Tests use it.
	Writer io.Writer
}

// DefaultConfig logs info and above to stderr with keystrokes redacted.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    10,
		MaxAge:     14,
		MaxBackups: 3,
		Compress:   true,
		RedactKeys: true,
		Component:  "hrm",
	}
}

func defaultLogPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", "hrm", "hrm.log")
	case "windows":
		dir := os.Getenv("LOCALAPPDATA")
		if dir == "" {
			dir = os.Getenv("APPDATA")
		}
		return filepath.Join(dir, "hrm", "logs", "hrm.log")
	}
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, "hrm", "hrm.log")
}

// Logger is a slog.Logger that owns its log file, if any.
type Logger struct {
	*slog.Logger
	config *Config

	mu      sync.Mutex
	rotator *FileRotator
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the process-wide logger, creating a stderr logger on
// first use.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		l, err := New(DefaultConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: DefaultConfig()}
		}
		defaultLogger = l
	}
	return defaultLogger
}

// SetDefault installs l as the process-wide logger and as slog's default.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	slog.SetDefault(l.Logger)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), config: &Config{}}
}

// New builds a logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{config: cfg}
	w, err := l.output()
	if err != nil {
		return nil, fmt.Errorf("setup log output: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactor(cfg.RedactKeys),
	}
	var h slog.Handler
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	if cfg.Component != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	l.Logger = slog.New(h)
	return l, nil
}

func (l *Logger) output() (io.Writer, error) {
	if l.config.Writer != nil {
		return l.config.Writer, nil
	}

	output := strings.ToLower(l.config.Output)
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "file", "both":
		r, err := NewFileRotator(l.config)
		if err != nil {
			return nil, err
		}
		l.rotator = r
		if output == "file" {
			return r, nil
		}
		return io.MultiWriter(os.Stderr, r), nil
	}
	return os.Stderr, nil
}

var credentialWords = []string{
	"password", "secret", "token", "credential",
	"auth", "cookie", "api_key", "apikey", "bearer",
}

// shouldRedact reports whether key looks like it carries a credential.
func shouldRedact(key string) bool {
	key = strings.ToLower(key)
	for _, w := range credentialWords {
		if strings.Contains(key, w) {
			return true
		}
	}
	return false
}

func isKeystroke(key string) bool {
	switch strings.ToLower(key) {
	case "key_code", "keycode", "label", "keys", "char":
		return true
	}
	return false
}

func redactor(keys bool) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		if shouldRedact(a.Key) || (keys && isKeystroke(a.Key)) {
			a.Value = slog.StringValue("[REDACTED]")
		}
		return a
	}
}

// Config returns the configuration the logger was built from.
func (l *Logger) Config() *Config { return l.config }

// WithComponent returns a logger tagged with another component name. It
// shares the parent's file; closing either closes it.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		config:  l.config,
		rotator: l.rotator,
	}
}

func (l *Logger) withRotator(fn func(*FileRotator) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	return fn(l.rotator)
}

// Close closes the log file, if any.
func (l *Logger) Close() error { return l.withRotator((*FileRotator).Close) }

// Reopen starts a fresh log file. hrm calls it on SIGHUP.
func (l *Logger) Reopen() error { return l.withRotator((*FileRotator).Rotate) }

// Sync flushes the log file to disk.
func (l *Logger) Sync() error { return l.withRotator((*FileRotator).Sync) }
