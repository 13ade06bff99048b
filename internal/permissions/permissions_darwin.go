//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation

#include <ApplicationServices/ApplicationServices.h>

static int hrmIsTrusted(int prompt) {
    if (!prompt) {
        return AXIsProcessTrusted() ? 1 : 0;
    }
    const void *keys[] = { kAXTrustedCheckOptionPrompt };
    const void *values[] = { kCFBooleanTrue };
    CFDictionaryRef options = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
        &kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
    Boolean trusted = AXIsProcessTrustedWithOptions(options);
    CFRelease(options);
    return trusted ? 1 : 0;
}
*/
import "C"

const accessibilityGuidance = "Open System Settings > Privacy & Security > Accessibility and enable hrm (or the terminal running it)."

func platformCheck() Result {
	return accessibilityResult(C.hrmIsTrusted(0) != 0)
}

func platformPrompt() Result {
	return accessibilityResult(C.hrmIsTrusted(1) != 0)
}

func accessibilityResult(trusted bool) Result {
	if trusted {
		return Result{Status: StatusGranted, Message: "accessibility access granted"}
	}
	return Result{
		Status:   StatusDenied,
		Message:  "accessibility access required to intercept keyboard events",
		Guidance: accessibilityGuidance,
	}
}
