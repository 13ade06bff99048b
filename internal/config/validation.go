package config

import (
	"fmt"
	"strings"
)

// Limits for the timing settings.
const (
	MaxQuickTapTermMs     = 1000
	MaxRequirePriorIdleMs = 1000
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is match ErrInvalid.
func (e ValidationErrors) Unwrap() error {
	return ErrInvalid
}

// ValidateConfiguration performs comprehensive validation of the configuration.
func ValidateConfiguration(c *Configuration) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateTerm("quick_tap_term_ms", c.QuickTapTermMs, MaxQuickTapTermMs)...)
	errs = append(errs, validateTerm("require_prior_idle_ms", c.RequirePriorIdleMs, MaxRequirePriorIdleMs)...)

	if bindingErrs := validateBindings(c.KeyBindings); len(bindingErrs) > 0 {
		errs = append(errs, bindingErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTerm(field string, ms, max int) ValidationErrors {
	if ms < 0 || ms > max {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("must be between 0 and %d, got %d", max, ms),
		}}
	}
	return nil
}

func validateBindings(bindings []KeyBinding) ValidationErrors {
	var errs ValidationErrors

	seen := make(map[uint16]int, len(bindings))
	for i, b := range bindings {
		field := fmt.Sprintf("key_bindings[%d]", i)

		if prev, dup := seen[b.KeyCode]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".key_code",
				Message: fmt.Sprintf("key code %d already bound by key_bindings[%d]", b.KeyCode, prev),
			})
		} else {
			seen[b.KeyCode] = i
		}

		if strings.TrimSpace(b.Label) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".label",
				Message: "label cannot be empty",
			})
		}

		if !b.Position.Valid() {
			errs = append(errs, ValidationError{
				Field:   field + ".position",
				Message: "position is required",
			})
		}

		if b.QuickTapTermMs != nil {
			errs = append(errs, validateTerm(field+".quick_tap_term_ms", *b.QuickTapTermMs, MaxQuickTapTermMs)...)
		}
		if b.RequirePriorIdleMs != nil {
			errs = append(errs, validateTerm(field+".require_prior_idle_ms", *b.RequirePriorIdleMs, MaxRequirePriorIdleMs)...)
		}
	}

	return errs
}
