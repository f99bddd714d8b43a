package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"disaster-manager-go/pkg/errors"
)

// SectionName is the cfg section holding the disaster manager options.
const SectionName = "disaster_manager"

// Settings are the runtime options of the odometer and jam guard.
type Settings struct {
	// EnableFilamentCounter turns extrusion tracking on when a print starts.
	EnableFilamentCounter bool `json:"enable_filament_counter"`

	// G90ExtruderCompat makes G90 switch the extruder to absolute mode too.
	G90ExtruderCompat bool `json:"g90_extruder_compat"`

	// PauseOnJam runs the jam check after each extrusion and asks the host
	// to pause when filament stops moving.
	PauseOnJam bool `json:"pause_on_jam"`

	// JamThresholdMM is the gcode-minus-sensor drift that counts as stuck.
	JamThresholdMM float64 `json:"jam_threshold_mm"`

	// ToolCount is the number of extruders tracked.
	ToolCount int `json:"tool_count"`

	// SensorTimeout marks sensor data stale when no sample arrived for that
	// long. Zero disables staleness.
	SensorTimeout time.Duration `json:"sensor_timeout"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		EnableFilamentCounter: true,
		JamThresholdMM:        10,
		ToolCount:             1,
	}
}

// Validate checks the settings for values the odometer cannot run with.
func (s Settings) Validate() error {
	if s.ToolCount < 1 {
		return NewConfigError(SectionName, "tool_count", fmt.Sprintf("must be at least 1, got %d", s.ToolCount))
	}
	if !finite(s.JamThresholdMM) {
		return NewConfigError(SectionName, "jam_threshold_mm", fmt.Sprintf("must be a finite number, got %v", s.JamThresholdMM))
	}
	if s.JamThresholdMM < 0 {
		return NewConfigError(SectionName, "jam_threshold_mm", fmt.Sprintf("must not be negative, got %v", s.JamThresholdMM))
	}
	if s.SensorTimeout < 0 {
		return NewConfigError(SectionName, "sensor_timeout", fmt.Sprintf("must not be negative, got %v", s.SensorTimeout))
	}
	return nil
}

// FromSection reads settings from a [disaster_manager] section. Missing
// options keep their defaults.
func FromSection(sec *Section) (Settings, error) {
	s := DefaultSettings()
	var err error
	minTools := 1
	zero := 0.0

	if s.EnableFilamentCounter, err = sec.GetBool("enable_filament_counter", s.EnableFilamentCounter); err != nil {
		return Settings{}, err
	}
	if s.G90ExtruderCompat, err = sec.GetBool("g90_extruder_compat", s.G90ExtruderCompat); err != nil {
		return Settings{}, err
	}
	if s.PauseOnJam, err = sec.GetBool("pause_on_jam", s.PauseOnJam); err != nil {
		return Settings{}, err
	}
	if s.JamThresholdMM, err = sec.GetFloatWithBounds("jam_threshold_mm", FloatBounds{MinVal: &zero}, s.JamThresholdMM); err != nil {
		return Settings{}, err
	}
	if s.ToolCount, err = sec.GetIntWithBounds("tool_count", &minTools, nil, s.ToolCount); err != nil {
		return Settings{}, err
	}
	if s.SensorTimeout, err = sec.GetDuration("sensor_timeout", s.SensorTimeout); err != nil {
		return Settings{}, err
	}
	return s, s.Validate()
}

// FromConfig reads settings from a parsed cfg. A file without the section
// yields the defaults.
func FromConfig(cfg *Config) (Settings, error) {
	sec := cfg.GetSectionOptional(SectionName)
	if sec == nil {
		return DefaultSettings(), nil
	}
	s, err := FromSection(sec)
	if err != nil {
		return Settings{}, err
	}
	if err := cfg.CheckUnusedOptions(SectionName); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads settings from path. Files ending in .yaml or .yml are
// read as OctoPrint config.yaml, everything else as cfg.
func LoadSettings(path string) (Settings, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	}
	cfg, err := Load(path)
	if err != nil {
		return Settings{}, errors.ConfigFileError(path, err)
	}
	return FromConfig(cfg)
}
