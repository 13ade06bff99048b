//go:build darwin

package eventtap

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation

#include <ApplicationServices/ApplicationServices.h>
#include "tap_darwin.h"

// Implemented in Go (tap_darwin_exports.go). Returns 1 to pass the event.
extern int hrmTapCallback(hrm_event *ev);

static CFMachPortRef hrmTap = NULL;
static CFRunLoopSourceRef hrmSource = NULL;
static CFRunLoopRef hrmRunLoop = NULL;
static volatile int hrmStopRequested = 0;

static CGEventRef hrmEventCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
    (void)proxy;
    (void)refcon;

    hrm_event ev = {0};
    switch (type) {
    case kCGEventTapDisabledByTimeout:
    case kCGEventTapDisabledByUserInput:
        ev.type = 3;
        hrmTapCallback(&ev);
        return event;
    case kCGEventKeyDown:
        ev.type = 0;
        break;
    case kCGEventKeyUp:
        ev.type = 1;
        break;
    case kCGEventFlagsChanged:
        ev.type = 2;
        break;
    default:
        return event;
    }

    ev.keycode = (uint16_t)CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
    ev.flags = (uint64_t)CGEventGetFlags(event);
    ev.marker = CGEventGetIntegerValueField(event, kCGEventSourceUserData);
    ev.repeat = (int)CGEventGetIntegerValueField(event, kCGKeyboardEventAutorepeat);

    uint64_t before = ev.flags;
    if (!hrmTapCallback(&ev)) {
        return NULL;
    }
    if (ev.flags != before) {
        CGEventSetFlags(event, (CGEventFlags)ev.flags);
    }
    return event;
}

static int hrmTapOpen(void) {
    if (hrmTap != NULL) {
        return 1;
    }

    CGEventMask mask = CGEventMaskBit(kCGEventKeyDown) |
                       CGEventMaskBit(kCGEventKeyUp) |
                       CGEventMaskBit(kCGEventFlagsChanged);

    hrmTap = CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionDefault,
        mask,
        hrmEventCallback,
        NULL
    );
    if (hrmTap == NULL) {
        return -1;
    }

    hrmSource = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, hrmTap, 0);
    if (hrmSource == NULL) {
        CFRelease(hrmTap);
        hrmTap = NULL;
        return -2;
    }

    hrmStopRequested = 0;
    hrmRunLoop = CFRunLoopGetCurrent();
    CFRetain(hrmRunLoop);
    CFRunLoopAddSource(hrmRunLoop, hrmSource, kCFRunLoopCommonModes);
    CGEventTapEnable(hrmTap, true);
    return 0;
}

// Runs in slices so a stop requested before the loop started is not lost.
static void hrmTapRun(void) {
    while (!hrmStopRequested) {
        CFRunLoopRunInMode(kCFRunLoopDefaultMode, 0.5, false);
    }
}

static void hrmTapEnable(void) {
    if (hrmTap != NULL) {
        CGEventTapEnable(hrmTap, true);
    }
}

static void hrmTapStop(void) {
    hrmStopRequested = 1;
    if (hrmRunLoop != NULL) {
        CFRunLoopStop(hrmRunLoop);
    }
}

static void hrmTapRelease(void) {
    if (hrmTap != NULL) {
        CGEventTapEnable(hrmTap, false);
    }
    if (hrmSource != NULL) {
        if (hrmRunLoop != NULL) {
            CFRunLoopRemoveSource(hrmRunLoop, hrmSource, kCFRunLoopCommonModes);
        }
        CFRelease(hrmSource);
        hrmSource = NULL;
    }
    if (hrmTap != NULL) {
        CFRelease(hrmTap);
        hrmTap = NULL;
    }
    if (hrmRunLoop != NULL) {
        CFRelease(hrmRunLoop);
        hrmRunLoop = NULL;
    }
}

static int hrmTapPost(int type, uint16_t keycode, uint64_t flags, int64_t marker, int down, int repeat) {
    bool keyDown = type == 0 || (type == 2 && down);
    CGEventRef e = CGEventCreateKeyboardEvent(NULL, (CGKeyCode)keycode, keyDown);
    if (e == NULL) {
        return -1;
    }
    if (type == 2) {
        CGEventSetType(e, kCGEventFlagsChanged);
    }
    if (repeat) {
        CGEventSetIntegerValueField(e, kCGKeyboardEventAutorepeat, 1);
    }
    CGEventSetFlags(e, (CGEventFlags)flags);
    CGEventSetIntegerValueField(e, kCGEventSourceUserData, marker);
    CGEventPost(kCGHIDEventTap, e);
    CFRelease(e);
    return 0;
}

static int hrmAccessibilityTrusted(void) {
    return AXIsProcessTrusted() ? 1 : 0;
}
*/
import "C"

import (
	"fmt"
	"sync"

	"hrm/internal/keymap"
)

// CGEventTap is the macOS tap: a session-level CGEventTap on the calling
// thread's run loop. Only one can be open per process.
type CGEventTap struct {
	mu      sync.Mutex
	handler Handler
	open    bool
}

var (
	currentTapMu sync.RWMutex
	currentTap   *CGEventTap
)

// NewPlatformTap returns the tap for this platform.
func NewPlatformTap() Tap {
	return &CGEventTap{}
}

func (t *CGEventTap) Open(h Handler) error {
	currentTapMu.Lock()
	defer currentTapMu.Unlock()

	if currentTap != nil {
		return fmt.Errorf("%w: another event tap is open", ErrTapUnavailable)
	}

	switch rc := C.hrmTapOpen(); rc {
	case 0:
	case -1:
		if C.hrmAccessibilityTrusted() == 0 {
			return fmt.Errorf("%w: accessibility access not granted", ErrPermissionDenied)
		}
		return fmt.Errorf("%w: CGEventTapCreate failed", ErrTapUnavailable)
	default:
		return fmt.Errorf("%w: run loop source (code %d)", ErrTapUnavailable, int(rc))
	}

	t.mu.Lock()
	t.handler = h
	t.open = true
	t.mu.Unlock()
	currentTap = t
	return nil
}

func (t *CGEventTap) Run() error {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return ErrClosed
	}

	C.hrmTapRun()
	C.hrmTapRelease()

	currentTapMu.Lock()
	if currentTap == t {
		currentTap = nil
	}
	currentTapMu.Unlock()
	return nil
}

func (t *CGEventTap) Enable() error {
	C.hrmTapEnable()
	return nil
}

func (t *CGEventTap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	C.hrmTapStop()
	return nil
}

func (t *CGEventTap) Post(ev Event) error {
	var typ C.int
	switch ev.Type {
	case KeyDown:
		typ = 0
	case KeyUp:
		typ = 1
	case FlagsChanged:
		typ = 2
	default:
		return nil
	}

	if rc := C.hrmTapPost(typ, C.uint16_t(ev.KeyCode), C.uint64_t(ev.Flags), C.int64_t(ev.Marker),
		cBool(ev.Down), cBool(ev.Repeat)); rc != 0 {
		return fmt.Errorf("post %s: CGEventCreateKeyboardEvent failed", ev.Type)
	}
	return nil
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

// dispatch converts a C event and runs the handler. It returns whether the
// event passes.
func (t *CGEventTap) dispatch(cev *C.hrm_event) bool {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return true
	}

	ev := Event{
		Type:    EventType(cev._type),
		KeyCode: uint16(cev.keycode),
		Flags:   keymap.Flags(cev.flags),
		Marker:  int64(cev.marker),
		Repeat:  cev.repeat != 0,
	}
	if h(&ev) == Drop {
		return false
	}
	cev.flags = C.uint64_t(ev.Flags)
	return true
}
