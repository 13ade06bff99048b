package config

import (
	"os"
	"path/filepath"
	"runtime"

	"hrm/internal/keymap"
)

// Default global settings.
const (
	DefaultQuickTapTermMs     = 150
	DefaultRequirePriorIdleMs = 150
)

// DefaultConfiguration returns the built-in configuration used when no file
// exists or the file cannot be used.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Version:              Version,
		Enabled:              true,
		QuickTapTermMs:       DefaultQuickTapTermMs,
		RequirePriorIdleMs:   DefaultRequirePriorIdleMs,
		BilateralFiltering:   true,
		HoldTriggerOnRelease: false,
		KeyBindings:          DefaultKeyBindings(),
	}
}

// DefaultKeyBindings returns the home-row layout: control, option, command
// and shift from the pinky inwards on both hands, with G and H plain.
func DefaultKeyBindings() []KeyBinding {
	return []KeyBinding{
		{KeyCode: keymap.KeyA, Label: "A", Modifier: keymap.Control, Enabled: true, Position: keymap.LeftPinky},
		{KeyCode: keymap.KeyS, Label: "S", Modifier: keymap.Option, Enabled: true, Position: keymap.LeftRing},
		{KeyCode: keymap.KeyD, Label: "D", Modifier: keymap.Command, Enabled: true, Position: keymap.LeftMiddle},
		{KeyCode: keymap.KeyF, Label: "F", Modifier: keymap.Shift, Enabled: true, Position: keymap.LeftIndex},
		{KeyCode: keymap.KeyG, Label: "G", Enabled: false, Position: keymap.LeftIndexInner},
		{KeyCode: keymap.KeyH, Label: "H", Enabled: false, Position: keymap.RightIndexInner},
		{KeyCode: keymap.KeyJ, Label: "J", Modifier: keymap.Shift, Enabled: true, Position: keymap.RightIndex},
		{KeyCode: keymap.KeyK, Label: "K", Modifier: keymap.Command, Enabled: true, Position: keymap.RightMiddle},
		{KeyCode: keymap.KeyL, Label: "L", Modifier: keymap.Option, Enabled: true, Position: keymap.RightRing},
		{KeyCode: keymap.KeySemicolon, Label: ";", Modifier: keymap.Control, Enabled: true, Position: keymap.RightPinky},
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/hrm/
//   - Linux:   ~/.config/hrm/
//   - Windows: %APPDATA%\hrm\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformDataDir returns the platform-specific data directory.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

func homeDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return home
}

func macOSDataDir() string {
	return filepath.Join(homeDir(), "Library", "Application Support", "hrm")
}

// Linux paths follow the XDG Base Directory Specification.

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hrm")
	}
	return filepath.Join(homeDir(), ".config", "hrm")
}

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "hrm")
	}
	return filepath.Join(homeDir(), ".local", "share", "hrm")
}

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "hrm")
	}
	return filepath.Join(homeDir(), "AppData", "Roaming", "hrm")
}

func fallbackDataDir() string {
	return filepath.Join(homeDir(), ".hrm")
}
