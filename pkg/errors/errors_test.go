package errors

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestHostErrorFormat(t *testing.T) {
	err := ConfigValidationError("disaster_manager", "tool_count", "must be >= 1")
	msg := err.Error()
	if !strings.HasPrefix(msg, "[CONFIG_VALIDATION:tool_count]") {
		t.Errorf("unexpected message %q", msg)
	}

	lined := GCodeParseError("G1 E", "empty value").SetLine(12)
	if !strings.Contains(lined.Error(), "line 12") {
		t.Errorf("line number missing from %q", lined.Error())
	}
}

func TestIsFollowsWrapChain(t *testing.T) {
	base := ToolSelectError(3, 2)
	wrapped := fmt.Errorf("handle line: %w", base)

	if !Is(wrapped, ErrToolSelect) {
		t.Error("expected wrapped tool error to match")
	}
	if !IsGCode(wrapped) {
		t.Error("tool select should count as a G-code error")
	}
	if IsConfig(wrapped) {
		t.Error("tool select is not a config error")
	}
	if Is(nil, ErrToolSelect) {
		t.Error("nil must not match")
	}
	if CodeOf(io.EOF) != "" {
		t.Error("plain errors have no code")
	}
}

func TestWrapUnwrap(t *testing.T) {
	err := ConfigFileError("settings.yaml", io.ErrUnexpectedEOF)
	if err.Unwrap() != io.ErrUnexpectedEOF {
		t.Error("cause not preserved")
	}
	if err.Context["config_path"] != "settings.yaml" {
		t.Errorf("context = %v", err.Context)
	}
	if !IsConfig(err) {
		t.Error("expected config error")
	}
}

func TestSensorErrors(t *testing.T) {
	if !IsSensor(SensorToolError(5, 1)) {
		t.Error("expected sensor error")
	}
	if !IsSensor(SensorUnavailableError("gpio17", io.EOF)) {
		t.Error("expected sensor error")
	}
}

func TestPanicError(t *testing.T) {
	var got *HostError
	func() {
		defer func() { got = PanicError(recover()) }()
		panic("boom")
	}()
	if got == nil || got.Code != ErrRuntime || !strings.Contains(got.Message, "boom") {
		t.Errorf("unexpected %v", got)
	}
	if PanicError(nil) != nil {
		t.Error("nil panic value should yield nil")
	}
}
