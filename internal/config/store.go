package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists a Configuration to a single file. The format follows the
// file extension.
type Store struct {
	path string
}

// NewStore returns a store for path. An empty path uses ConfigPath.
func NewStore(path string) *Store {
	if path == "" {
		path = ConfigPath()
	}
	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// Format returns the encoding used for the store's file.
func (s *Store) Format() Format {
	return FormatForPath(s.path)
}

// Exists reports whether the configuration file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read parses the file strictly. It fails if the file is missing,
// unreadable or invalid.
func (s *Store) Read() (*Configuration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := ValidateDocument(data, s.Format()); err != nil {
		return nil, err
	}
	return Decode(data, s.Format())
}

// Load returns the stored configuration. It never fails to produce one: a
// missing file yields the defaults with a nil error, and an unreadable or
// invalid file yields the defaults together with the reason.
func (s *Store) Load() (*Configuration, error) {
	cfg, err := s.Read()
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfiguration(), nil
	}
	return DefaultConfiguration(), fmt.Errorf("using defaults: %w", err)
}

// Save writes the configuration atomically: it is encoded to a temporary
// file in the same directory, synced, then renamed over the target.
func (s *Store) Save(cfg *Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := Encode(cfg, s.Format())
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
