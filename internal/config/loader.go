package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from the file extension. Unknown
// extensions are treated as TOML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Decode parses a configuration document. Global settings missing from the
// document keep their default values. A document without key bindings gets
// the default layout.
func Decode(data []byte, format Format) (*Configuration, error) {
	cfg := DefaultConfiguration()
	cfg.KeyBindings = nil

	var err error
	switch format {
	case FormatTOML:
		_, err = toml.Decode(string(data), cfg)
	case FormatJSON:
		err = json.Unmarshal(data, cfg)
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalid, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalid, format, err)
	}

	if cfg.KeyBindings == nil {
		cfg.KeyBindings = DefaultKeyBindings()
	}
	if cfg.Version == 0 {
		cfg.Version = Version
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode serializes the configuration in the given format. JSON is
// pretty-printed.
func Encode(cfg *Configuration, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode YAML: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Watcher watches the configuration file and reports every new valid
// configuration written to it.
type Watcher struct {
	store    *Store
	debounce time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange []func(*Configuration)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
	timer    *time.Timer
}

// NewWatcher creates a watcher for the store's file.
func NewWatcher(store *Store) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:    store,
		debounce: 100 * time.Millisecond,
		errChan:  make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnChange registers a callback invoked with each reloaded configuration.
// Callbacks run on the watcher goroutine.
func (w *Watcher) OnChange(cb func(*Configuration)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, cb)
	w.mu.Unlock()
}

// Start begins watching. The directory is watched rather than the file so
// editors that replace the file on save are handled.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(w.store.Path())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.watchLoop(watcher)
	return nil
}

func (w *Watcher) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.store.Path()) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, w.reload)
			w.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

// Reload reads the file now and notifies listeners if it is valid.
func (w *Watcher) Reload() error {
	cfg, err := w.store.Read()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	w.mu.Lock()
	callbacks := slices.Clone(w.onChange)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg.Clone())
	}
	return nil
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	if err := w.Reload(); err != nil {
		w.sendError(err)
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errChan <- err:
	default:
	}
}

// Errors returns a channel for receiving errors that occur during watching.
func (w *Watcher) Errors() <-chan error {
	return w.errChan
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
