package instance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireWritesPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "hrm.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	pid, ok := Owner(path)
	if !ok || pid != os.Getpid() {
		t.Errorf("Owner = %d, %v; want %d", pid, ok, os.Getpid())
	}
	if l.Path() != path {
		t.Errorf("Path() = %s", l.Path())
	}
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrm.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := Acquire(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Acquire: expected ErrAlreadyRunning, got %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat: %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestReleaseTwice(t *testing.T) {
	l, err := Acquire(filepath.Join(t.TempDir(), "hrm.lock"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}

	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release: %v", err)
	}
}

func TestOwnerMissingOrGarbage(t *testing.T) {
	dir := t.TempDir()
	if _, ok := Owner(filepath.Join(dir, "missing")); ok {
		t.Error("missing file has no owner")
	}

	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("not a pid"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, ok := Owner(garbage); ok {
		t.Error("garbage file has no owner")
	}
}
