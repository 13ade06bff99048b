//go:build !darwin && !linux

package eventtap

import "fmt"

type unsupportedTap struct{}

// NewPlatformTap returns the tap for this platform. There is none here:
// Open always fails with ErrTapUnavailable.
func NewPlatformTap() Tap {
	return unsupportedTap{}
}

func (unsupportedTap) Open(Handler) error {
	return fmt.Errorf("%w: unsupported platform", ErrTapUnavailable)
}

func (unsupportedTap) Run() error       { return ErrClosed }
func (unsupportedTap) Enable() error    { return nil }
func (unsupportedTap) Close() error     { return nil }
func (unsupportedTap) Post(Event) error { return ErrClosed }
