// Error taxonomy for the filament odometer and jam guard
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"
	ErrConfigFile       ErrorCode = "CONFIG_FILE"

	// G-code errors
	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"
	ErrToolSelect        ErrorCode = "TOOL_SELECT"

	// Sensor errors
	ErrSensorTool        ErrorCode = "SENSOR_TOOL"
	ErrSensorUnavailable ErrorCode = "SENSOR_UNAVAILABLE"
	ErrSensorKind        ErrorCode = "SENSOR_KIND"

	// Lifecycle and transport errors
	ErrState   ErrorCode = "STATE"
	ErrHistory ErrorCode = "HISTORY"
	ErrRuntime ErrorCode = "RUNTIME"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Line is the line number in a config or G-code file (if available)
	Line int

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	where := e.Section
	if e.Option != "" {
		where = e.Option
	}
	if e.Line > 0 {
		return fmt.Sprintf("[%s:%s] line %d: %s", e.Code, where, e.Line, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Code, where, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// ConfigFileError wraps a failure to read or decode a settings file.
func ConfigFileError(path string, err error) *HostError {
	return Wrap(err, ErrConfigFile, fmt.Sprintf("cannot load %s: %v", path, err)).
		SetContext("config_path", path)
}

// G-code errors

// GCodeParseError creates an error for G-code parsing failure
func GCodeParseError(line string, reason string) *HostError {
	return New(ErrGCodeParse, fmt.Sprintf("failed to parse G-code: %s (reason: %s)", line, reason))
}

// GCodeInvalidParameterError creates an error for invalid G-code parameter
func GCodeInvalidParameterError(command, param, value string, reason string) *HostError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("G-code command '%s': invalid parameter '%s=%s' (%s)", command, param, value, reason))
}

// ToolSelectError reports a T<n> outside the configured tool range.
func ToolSelectError(tool, toolCount int) *HostError {
	return New(ErrToolSelect, fmt.Sprintf("tool %d out of range [0, %d)", tool, toolCount)).
		SetContext("tool", tool).
		SetContext("tool_count", toolCount)
}

// Sensor errors

// SensorToolError reports a sensor sample for a tool that does not exist.
func SensorToolError(tool, toolCount int) *HostError {
	return New(ErrSensorTool, fmt.Sprintf("sensor sample for tool %d out of range [0, %d)", tool, toolCount)).
		SetContext("tool", tool)
}

// SensorUnavailableError reports a sensor source that cannot be opened or read.
func SensorUnavailableError(source string, err error) *HostError {
	return Wrap(err, ErrSensorUnavailable, fmt.Sprintf("sensor %s unavailable: %v", source, err)).
		SetSection(source)
}

// Runtime errors

// StateError creates an error for an unknown printer state
func StateError(state string) *HostError {
	return New(ErrState, fmt.Sprintf("unknown printer state %q", state))
}

// HistoryError wraps a failure of the print history store
func HistoryError(operation string, err error) *HostError {
	return Wrap(err, ErrHistory, fmt.Sprintf("history %s failed: %v", operation, err))
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// PanicError converts a recovered panic value into a HostError
func PanicError(r interface{}) *HostError {
	switch x := r.(type) {
	case nil:
		return nil
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case runtime.Error:
		return RuntimeError(x.Error())
	case error:
		return Wrap(x, ErrRuntime, x.Error())
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// CodeOf returns the code of the first HostError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Code
	}
	return ""
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType) ||
		Is(err, ErrConfigFile)
}

// IsGCode checks if error is a G-code error
func IsGCode(err error) bool {
	return Is(err, ErrGCodeParse) ||
		Is(err, ErrGCodeInvalidParam) ||
		Is(err, ErrToolSelect)
}

// IsSensor checks if error is a sensor error
func IsSensor(err error) bool {
	return Is(err, ErrSensorTool) ||
		Is(err, ErrSensorUnavailable) ||
		Is(err, ErrSensorKind)
}
