// Package permissions checks whether the process may intercept the
// keyboard and waits for the user to grant access.
package permissions

import (
	"context"
	"errors"
	"time"
)

// ErrNotGranted is returned by WaitForGrant when access was still missing
// after the last attempt.
var ErrNotGranted = errors.New("permissions: access not granted")

// Default polling schedule for WaitForGrant.
const (
	DefaultInterval = time.Second
	DefaultAttempts = 60
)

// Status is the outcome of a permission check.
type Status int

const (
	StatusUnknown Status = iota
	StatusGranted
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Result describes the permission state and what to do about it.
type Result struct {
	Status   Status
	Message  string
	Guidance string
}

// Granted reports whether interception is allowed.
func (r Result) Granted() bool { return r.Status == StatusGranted }

// check is replaced in tests.
var check = platformCheck

// Check reports the current permission state without side effects.
func Check() Result {
	return check()
}

// Prompt asks the OS to show its permission dialog where one exists and
// returns the current state.
func Prompt() Result {
	return platformPrompt()
}

// WaitForGrant polls Check every interval until access is granted, attempts
// run out, or ctx is done. Non-positive arguments select the defaults.
func WaitForGrant(ctx context.Context, interval time.Duration, attempts int) (Result, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	r := check()
	if r.Granted() {
		return r, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ticker.C:
		}
		if r = check(); r.Granted() {
			return r, nil
		}
	}
	return r, ErrNotGranted
}
