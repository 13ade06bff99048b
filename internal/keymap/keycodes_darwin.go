//go:build darwin

package keymap

// macOS virtual key codes (Carbon kVK_*).
const (
	KeyA         uint16 = 0x00
	KeyS         uint16 = 0x01
	KeyD         uint16 = 0x02
	KeyF         uint16 = 0x03
	KeyH         uint16 = 0x04
	KeyG         uint16 = 0x05
	KeyE         uint16 = 0x0E
	KeyJ         uint16 = 0x26
	KeyK         uint16 = 0x28
	KeyL         uint16 = 0x25
	KeySemicolon uint16 = 0x29

	KeyLeftShift    uint16 = 0x38
	KeyRightShift   uint16 = 0x3C
	KeyLeftControl  uint16 = 0x3B
	KeyRightControl uint16 = 0x3E
	KeyLeftOption   uint16 = 0x3A
	KeyRightOption  uint16 = 0x3D
	KeyLeftCommand  uint16 = 0x37
	KeyRightCommand uint16 = 0x36
)
