//go:build linux

package eventtap

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"syscall"

	"github.com/holoplot/go-evdev"

	"hrm/internal/keymap"
)

// VirtualDeviceName names the uinput keyboard that carries passed-through
// and synthetic events. Devices with this name are never grabbed.
const VirtualDeviceName = "hrm virtual keyboard"

const (
	evValueUp     = 0
	evValueDown   = 1
	evValueRepeat = 2
)

// EvdevTap grabs every physical keyboard exclusively and re-emits the
// events it lets through on a uinput device.
type EvdevTap struct {
	mu      sync.Mutex
	handler Handler
	devices []*evdev.InputDevice
	virtual *evdev.InputDevice
	events  chan evdev.InputEvent
	closed  chan struct{}
	readers sync.WaitGroup

	// Modifier keys of the grabbed keyboards and of the virtual one.
	modifiers *modifierState
}

// NewPlatformTap returns the tap for this platform.
func NewPlatformTap() Tap {
	return &EvdevTap{}
}

func (t *EvdevTap) Open(h Handler) error {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return fmt.Errorf("%w: list input devices: %v", ErrTapUnavailable, err)
	}

	var keyboards []*evdev.InputDevice
	var denied bool
	for _, p := range paths {
		if p.Name == VirtualDeviceName {
			continue
		}
		dev, err := evdev.Open(p.Path)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				denied = true
			}
			continue
		}
		if !isKeyboard(dev) {
			dev.Close()
			continue
		}
		keyboards = append(keyboards, dev)
	}

	if len(keyboards) == 0 {
		if denied {
			return fmt.Errorf("%w: cannot open /dev/input devices", ErrPermissionDenied)
		}
		return fmt.Errorf("%w: no keyboards found", ErrTapUnavailable)
	}

	virtual, err := evdev.CreateDevice(VirtualDeviceName, evdev.InputID{
		BusType: 0x06, // BUS_VIRTUAL
		Vendor:  0x1,
		Product: 0x1,
		Version: 1,
	}, map[evdev.EvType][]evdev.EvCode{
		evdev.EV_KEY: keyboardCodes(),
	})
	if err != nil {
		closeAll(keyboards)
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: cannot open /dev/uinput", ErrPermissionDenied)
		}
		return fmt.Errorf("%w: create uinput device: %v", ErrTapUnavailable, err)
	}

	for i, dev := range keyboards {
		if err := dev.Grab(); err != nil {
			for _, grabbed := range keyboards[:i] {
				grabbed.Ungrab()
			}
			closeAll(keyboards)
			virtual.Close()
			return fmt.Errorf("%w: grab %s: %v", ErrTapUnavailable, dev.Path(), err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
	t.devices = keyboards
	t.virtual = virtual
	t.events = make(chan evdev.InputEvent, 256)
	t.closed = make(chan struct{})
	t.modifiers = newModifierState()
	return nil
}

func isKeyboard(dev *evdev.InputDevice) bool {
	var hasA, hasSpace bool
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		switch code {
		case evdev.KEY_A:
			hasA = true
		case evdev.KEY_SPACE:
			hasSpace = true
		}
	}
	return hasA && hasSpace
}

// keyboardCodes lists the key codes the virtual keyboard can emit.
func keyboardCodes() []evdev.EvCode {
	codes := make([]evdev.EvCode, 0, 255)
	for c := evdev.EvCode(1); c < 256; c++ {
		codes = append(codes, c)
	}
	return codes
}

func closeAll(devs []*evdev.InputDevice) {
	for _, d := range devs {
		d.Close()
	}
}

// Run reads all grabbed keyboards and handles their key events on the
// calling goroutine.
func (t *EvdevTap) Run() error {
	t.mu.Lock()
	devices, events, closed := t.devices, t.events, t.closed
	t.mu.Unlock()
	if closed == nil {
		return ErrClosed
	}

	errs := make(chan error, len(devices))
	for _, dev := range devices {
		t.readers.Add(1)
		go t.read(dev, events, closed, errs)
	}

	for {
		select {
		case <-closed:
			return nil
		case err := <-errs:
			// Losing one keyboard (unplugged) is fine while another remains.
			if t.live() == 0 {
				return fmt.Errorf("all keyboards lost: %w", err)
			}
		case ie := <-events:
			t.deliver(ie)
		}
	}
}

func (t *EvdevTap) read(dev *evdev.InputDevice, events chan<- evdev.InputEvent, closed <-chan struct{}, errs chan<- error) {
	defer t.readers.Done()
	for {
		ie, err := dev.ReadOne()
		if err != nil {
			select {
			case <-closed:
			default:
				t.drop(dev)
				errs <- fmt.Errorf("read %s: %w", dev.Path(), err)
			}
			return
		}
		if ie.Type != evdev.EV_KEY {
			continue
		}
		select {
		case events <- *ie:
		case <-closed:
			return
		}
	}
}

func (t *EvdevTap) live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.devices)
}

func (t *EvdevTap) drop(dev *evdev.InputDevice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, d := range t.devices {
		if d == dev {
			t.devices = append(t.devices[:i], t.devices[i+1:]...)
			d.Close()
			return
		}
	}
}

func (t *EvdevTap) deliver(ie evdev.InputEvent) {
	code := uint16(ie.Code)
	ev := Event{KeyCode: code}

	t.mu.Lock()
	mods := t.modifiers
	t.mu.Unlock()
	if mods == nil {
		return
	}

	if _, ok := keymap.ModifierForKeyCode(code); ok {
		if ie.Value == evValueRepeat {
			return
		}
		ev.Type = FlagsChanged
		ev.Down = ie.Value == evValueDown
		t.mu.Lock()
		ev.Flags = mods.setPhysical(code, ev.Down)
		t.mu.Unlock()
	} else {
		switch ie.Value {
		case evValueUp:
			ev.Type = KeyUp
		case evValueRepeat:
			ev.Type = KeyDown
			ev.Repeat = true
		default:
			ev.Type = KeyDown
		}
		t.mu.Lock()
		ev.Flags = mods.physicalFlags()
		t.mu.Unlock()
	}

	if t.handler(&ev) == Pass {
		t.write(ev)
	}
}

// Post writes a synthetic event to the virtual keyboard. Modifier state on
// Linux lives in the virtual device, so key events ignore ev.Flags and a
// FlagsChanged presses or releases its modifier key.
func (t *EvdevTap) Post(ev Event) error {
	return t.write(ev)
}

func (t *EvdevTap) write(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	virtual := t.virtual
	if virtual == nil {
		return ErrClosed
	}

	var value int32
	switch ev.Type {
	case KeyDown:
		value = evValueDown
		if ev.Repeat {
			value = evValueRepeat
		}
	case KeyUp:
		value = evValueUp
	case FlagsChanged:
		if _, ok := keymap.ModifierForKeyCode(ev.KeyCode); !ok {
			return fmt.Errorf("flags changed for non-modifier key %d", ev.KeyCode)
		}
		if !t.modifiers.press(ev.KeyCode, ev.Down) {
			return nil
		}
		value = evValueUp
		if ev.Down {
			value = evValueDown
		}
	default:
		return nil
	}

	if err := virtual.WriteOne(&evdev.InputEvent{
		Type:  evdev.EV_KEY,
		Code:  evdev.EvCode(ev.KeyCode),
		Value: value,
	}); err != nil {
		return err
	}
	return virtual.WriteOne(&evdev.InputEvent{
		Type:  evdev.EV_SYN,
		Code:  evdev.SYN_REPORT,
		Value: 0,
	})
}

// Enable is a no-op: the kernel never disables a grab.
func (t *EvdevTap) Enable() error { return nil }

func (t *EvdevTap) Close() error {
	t.mu.Lock()
	if t.closed == nil {
		t.mu.Unlock()
		return nil
	}
	close(t.closed)
	t.closed = nil
	devices := t.devices
	virtual := t.virtual
	t.devices = nil
	t.virtual = nil
	t.mu.Unlock()

	var errs []string
	for _, dev := range devices {
		dev.Ungrab()
		// Closing the fd unblocks ReadOne.
		if err := dev.Close(); err != nil && !errors.Is(err, syscall.EBADF) {
			errs = append(errs, err.Error())
		}
	}
	t.readers.Wait()
	if virtual != nil {
		if err := virtual.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close event tap: %s", strings.Join(errs, "; "))
	}
	return nil
}
