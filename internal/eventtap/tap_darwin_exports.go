//go:build darwin

package eventtap

// #include "tap_darwin.h"
import "C"

//export hrmTapCallback
func hrmTapCallback(ev *C.hrm_event) C.int {
	currentTapMu.RLock()
	t := currentTap
	currentTapMu.RUnlock()

	if t == nil || t.dispatch(ev) {
		return 1
	}
	return 0
}
