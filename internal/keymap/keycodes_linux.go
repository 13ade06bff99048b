//go:build linux

package keymap

// Linux evdev key codes (linux/input-event-codes.h).
const (
	KeyA         uint16 = 30
	KeyS         uint16 = 31
	KeyD         uint16 = 32
	KeyF         uint16 = 33
	KeyG         uint16 = 34
	KeyH         uint16 = 35
	KeyE         uint16 = 18
	KeyJ         uint16 = 36
	KeyK         uint16 = 37
	KeyL         uint16 = 38
	KeySemicolon uint16 = 39

	KeyLeftShift    uint16 = 42
	KeyRightShift   uint16 = 54
	KeyLeftControl  uint16 = 29
	KeyRightControl uint16 = 97
	KeyLeftOption   uint16 = 56  // KEY_LEFTALT
	KeyRightOption  uint16 = 100 // KEY_RIGHTALT
	KeyLeftCommand  uint16 = 125 // KEY_LEFTMETA
	KeyRightCommand uint16 = 126 // KEY_RIGHTMETA
)
