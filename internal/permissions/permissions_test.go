package permissions

import (
	"context"
	"errors"
	"testing"
	"time"
)

func stubCheck(t *testing.T, results ...Result) *int {
	t.Helper()
	calls := 0
	orig := check
	check = func() Result {
		r := results[len(results)-1]
		if calls < len(results) {
			r = results[calls]
		}
		calls++
		return r
	}
	t.Cleanup(func() { check = orig })
	return &calls
}

var (
	granted = Result{Status: StatusGranted}
	denied  = Result{Status: StatusDenied, Message: "no access"}
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusGranted, "granted"},
		{StatusDenied, "denied"},
		{StatusUnknown, "unknown"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestWaitForGrantImmediate(t *testing.T) {
	calls := stubCheck(t, granted)

	r, err := WaitForGrant(context.Background(), time.Millisecond, 5)
	if err != nil {
		t.Fatalf("WaitForGrant: %v", err)
	}
	if !r.Granted() {
		t.Errorf("expected granted, got %v", r.Status)
	}
	if *calls != 1 {
		t.Errorf("check called %d times, want 1", *calls)
	}
}

func TestWaitForGrantEventually(t *testing.T) {
	calls := stubCheck(t, denied, denied, granted)

	r, err := WaitForGrant(context.Background(), time.Millisecond, 5)
	if err != nil {
		t.Fatalf("WaitForGrant: %v", err)
	}
	if !r.Granted() {
		t.Errorf("expected granted, got %v", r.Status)
	}
	if *calls != 3 {
		t.Errorf("check called %d times, want 3", *calls)
	}
}

func TestWaitForGrantGivesUp(t *testing.T) {
	calls := stubCheck(t, denied)

	r, err := WaitForGrant(context.Background(), time.Millisecond, 3)
	if !errors.Is(err, ErrNotGranted) {
		t.Fatalf("expected ErrNotGranted, got %v", err)
	}
	if r.Status != StatusDenied || r.Message != "no access" {
		t.Errorf("unexpected result %+v", r)
	}
	// Initial check plus one per attempt.
	if *calls != 4 {
		t.Errorf("check called %d times, want 4", *calls)
	}
}

func TestWaitForGrantCanceled(t *testing.T) {
	stubCheck(t, denied)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := WaitForGrant(ctx, time.Hour, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCheckUsesPlatformCheck(t *testing.T) {
	r := Check()
	switch r.Status {
	case StatusGranted, StatusDenied, StatusUnknown:
	default:
		t.Fatalf("unexpected status %v", r.Status)
	}
	if r.Message == "" {
		t.Error("check result should explain itself")
	}
	if r.Status == StatusDenied && r.Guidance == "" {
		t.Error("denied result without guidance")
	}
}
