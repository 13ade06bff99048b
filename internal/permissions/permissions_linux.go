//go:build linux

package permissions

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	uinputPath    = "/dev/uinput"
	inputDevGlob  = "/dev/input/event*"
	linuxGuidance = "Add your user to the input group (sudo usermod -aG input $USER), " +
		"allow it to use uinput with a udev rule such as " +
		`KERNEL=="uinput", GROUP="input", MODE="0660", OPTIONS+="static_node=uinput", ` +
		"then log out and back in."
)

// Paths checkd, replaced in tests.
var (
	uinputDevice = uinputPath
	inputDevices = inputDevGlob
)

func platformCheck() Result {
	var missing []string

	if err := unix.Access(uinputDevice, unix.R_OK|unix.W_OK); err != nil {
		missing = append(missing, fmt.Sprintf("%s (%v)", uinputDevice, err))
	}

	events, _ := filepath.Glob(inputDevices)
	readable := 0
	for _, path := range events {
		if unix.Access(path, unix.R_OK) == nil {
			readable++
		}
	}
	switch {
	case len(events) == 0:
		missing = append(missing, "no input devices under "+filepath.Dir(inputDevices))
	case readable == 0:
		missing = append(missing, fmt.Sprintf("read access to %s", inputDevices))
	}

	if len(missing) == 0 {
		return Result{
			Status:  StatusGranted,
			Message: fmt.Sprintf("uinput writable, %d input devices readable", readable),
		}
	}
	return Result{
		Status:   StatusDenied,
		Message:  "missing " + strings.Join(missing, "; "),
		Guidance: linuxGuidance,
	}
}

// There is no permission dialog on Linux.
func platformPrompt() Result {
	return platformCheck()
}
