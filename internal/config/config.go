// Package config handles the tap-hold configuration: global defaults, the
// ordered list of key bindings, persistence and hot reloading.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"hrm/internal/keymap"
)

// Version is the current configuration schema version.
const Version = 1

// ErrInvalid is wrapped by every error caused by a malformed configuration.
var ErrInvalid = errors.New("invalid configuration")

// KeyBinding is one configured dual-purpose key. Identity is the key code.
type KeyBinding struct {
	// KeyCode is the platform key code of the physical key.
	KeyCode uint16 `toml:"key_code" json:"key_code" yaml:"key_code"`

	// Label is the character printed on the key.
	Label string `toml:"label" json:"label" yaml:"label"`

	// Modifier is the modifier the key acts as when held.
	// ModifierNone makes the key plain pass-through.
	Modifier keymap.Modifier `toml:"modifier,omitempty" json:"modifier,omitempty" yaml:"modifier,omitempty"`

	// Enabled turns tap-hold handling for this key on or off.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Position is the physical slot of the key, which decides its hand.
	Position keymap.Position `toml:"position" json:"position" yaml:"position"`

	// Per-key overrides. Nil uses the global value.
	QuickTapTermMs     *int  `toml:"quick_tap_term_ms,omitempty" json:"quick_tap_term_ms,omitempty" yaml:"quick_tap_term_ms,omitempty"`
	RequirePriorIdleMs *int  `toml:"require_prior_idle_ms,omitempty" json:"require_prior_idle_ms,omitempty" yaml:"require_prior_idle_ms,omitempty"`
	BilateralFiltering *bool `toml:"bilateral_filtering,omitempty" json:"bilateral_filtering,omitempty" yaml:"bilateral_filtering,omitempty"`
}

// ModTap reports whether the binding runs through the tap-hold state machine.
func (b KeyBinding) ModTap() bool {
	return b.Enabled && b.Modifier != keymap.ModifierNone
}

// Hand returns the hand of the binding's position.
func (b KeyBinding) Hand() keymap.Hand {
	return b.Position.Hand()
}

func (b KeyBinding) clone() KeyBinding {
	c := b
	if b.QuickTapTermMs != nil {
		v := *b.QuickTapTermMs
		c.QuickTapTermMs = &v
	}
	if b.RequirePriorIdleMs != nil {
		v := *b.RequirePriorIdleMs
		c.RequirePriorIdleMs = &v
	}
	if b.BilateralFiltering != nil {
		v := *b.BilateralFiltering
		c.BilateralFiltering = &v
	}
	return c
}

// Configuration holds the global tap-hold settings and the key bindings.
// The engine treats a Configuration as an immutable snapshot; callers hand
// it a Clone and never mutate it afterwards.
type Configuration struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Enabled turns interception on or off as a whole.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// QuickTapTermMs is the window after a tap during which a second press
	// of the same key taps immediately. Zero disables quick tap.
	QuickTapTermMs int `toml:"quick_tap_term_ms" json:"quick_tap_term_ms" yaml:"quick_tap_term_ms"`

	// RequirePriorIdleMs is the quiet period required before a press may
	// become a hold. Zero disables the idle gate.
	RequirePriorIdleMs int `toml:"require_prior_idle_ms" json:"require_prior_idle_ms" yaml:"require_prior_idle_ms"`

	// BilateralFiltering restricts holds to chords spanning both hands.
	BilateralFiltering bool `toml:"bilateral_filtering" json:"bilateral_filtering" yaml:"bilateral_filtering"`

	// HoldTriggerOnRelease applies the hand filter when the other key is
	// released instead of when it is pressed.
	HoldTriggerOnRelease bool `toml:"hold_trigger_on_release" json:"hold_trigger_on_release" yaml:"hold_trigger_on_release"`

	// KeyBindings is the ordered list of configured keys.
	KeyBindings []KeyBinding `toml:"key_bindings" json:"key_bindings" yaml:"key_bindings"`
}

// EffectiveQuickTapTermMs resolves the per-key override over the global value.
func (c *Configuration) EffectiveQuickTapTermMs(b KeyBinding) int {
	if b.QuickTapTermMs != nil {
		return *b.QuickTapTermMs
	}
	return c.QuickTapTermMs
}

// EffectiveRequirePriorIdleMs resolves the per-key override over the global value.
func (c *Configuration) EffectiveRequirePriorIdleMs(b KeyBinding) int {
	if b.RequirePriorIdleMs != nil {
		return *b.RequirePriorIdleMs
	}
	return c.RequirePriorIdleMs
}

// EffectiveBilateralFiltering resolves the per-key override over the global value.
func (c *Configuration) EffectiveBilateralFiltering(b KeyBinding) bool {
	if b.BilateralFiltering != nil {
		return *b.BilateralFiltering
	}
	return c.BilateralFiltering
}

// QuickTapTerm is EffectiveQuickTapTermMs as a duration.
func (c *Configuration) QuickTapTerm(b KeyBinding) time.Duration {
	return time.Duration(c.EffectiveQuickTapTermMs(b)) * time.Millisecond
}

// RequirePriorIdle is EffectiveRequirePriorIdleMs as a duration.
func (c *Configuration) RequirePriorIdle(b KeyBinding) time.Duration {
	return time.Duration(c.EffectiveRequirePriorIdleMs(b)) * time.Millisecond
}

// Binding returns the enabled binding for a key code.
func (c *Configuration) Binding(keyCode uint16) (KeyBinding, bool) {
	for _, b := range c.KeyBindings {
		if b.KeyCode == keyCode && b.Enabled {
			return b, true
		}
	}
	return KeyBinding{}, false
}

// Position returns the position of any binding with the key code, enabled
// or not. Keys outside the configuration have PositionNone.
func (c *Configuration) Position(keyCode uint16) keymap.Position {
	for _, b := range c.KeyBindings {
		if b.KeyCode == keyCode {
			return b.Position
		}
	}
	return keymap.PositionNone
}

// ModTapBindings returns the bindings that run through the state machine,
// in configuration order.
func (c *Configuration) ModTapBindings() []KeyBinding {
	var out []KeyBinding
	for _, b := range c.KeyBindings {
		if b.ModTap() {
			out = append(out, b)
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Configuration) Clone() *Configuration {
	clone := *c
	clone.KeyBindings = make([]KeyBinding, len(c.KeyBindings))
	for i, b := range c.KeyBindings {
		clone.KeyBindings[i] = b.clone()
	}
	return &clone
}

// Validate checks the configuration for errors.
func (c *Configuration) Validate() error {
	return ValidateConfiguration(c)
}

// ConfigPath returns the configuration file path. HRM_CONFIG overrides the
// platform default.
func ConfigPath() string {
	if p := os.Getenv("HRM_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// StatsPath returns the default path of the per-key statistics database.
func StatsPath() string {
	return filepath.Join(PlatformDataDir(), "stats.db")
}
