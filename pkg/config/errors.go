// Package config loads the disaster manager settings from a cfg file
// (Klipper style) or an OctoPrint config.yaml, validates them and
// supports reloading at runtime.
package config

import (
	"fmt"

	"disaster-manager-go/pkg/errors"
)

// ConfigError is the error type returned by this package. It is a HostError
// so callers can test it with errors.IsConfig.
type ConfigError = errors.HostError

// NewConfigError creates a validation error for section/option.
func NewConfigError(section, option, message string) *ConfigError {
	return errors.New(errors.ErrConfigValidation, message).SetSection(section).SetOption(option)
}

// ErrMissingOption returns an error for a required but missing option.
func ErrMissingOption(section, option string) *ConfigError {
	return errors.New(errors.ErrConfigOption, fmt.Sprintf("option '%s' in section '%s' must be specified", option, section)).
		SetSection(section).SetOption(option)
}

// ErrMissingSection returns an error for a missing section.
func ErrMissingSection(section string) *ConfigError {
	return errors.ConfigSectionError(section)
}

// ErrInvalidValue returns an error for a value that does not parse.
func ErrInvalidValue(section, option, value, expected string, cause error) *ConfigError {
	return errors.ConfigTypeError(section, option, value, expected, cause)
}

// ErrOutOfRange returns an error for a value outside the allowed range.
func ErrOutOfRange(section, option string, value float64, constraint string) *ConfigError {
	return errors.ConfigValidationError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}

// ErrInvalidChoice returns an error for an invalid choice value.
func ErrInvalidChoice(section, option, value string, choices []string) *ConfigError {
	return errors.ConfigValidationError(section, option, fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices))
}
