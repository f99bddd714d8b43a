package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"disaster-manager-go/pkg/errors"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if !s.EnableFilamentCounter || s.PauseOnJam || s.G90ExtruderCompat {
		t.Errorf("unexpected flags %+v", s)
	}
	if s.JamThresholdMM != 10 || s.ToolCount != 1 {
		t.Errorf("unexpected defaults %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		option string
	}{
		{"no tools", func(s *Settings) { s.ToolCount = 0 }, "tool_count"},
		{"negative threshold", func(s *Settings) { s.JamThresholdMM = -1 }, "jam_threshold_mm"},
		{"negative timeout", func(s *Settings) { s.SensorTimeout = -time.Second }, "sensor_timeout"},
		{"nan threshold", func(s *Settings) { s.JamThresholdMM = math.NaN() }, "jam_threshold_mm"},
		{"infinite threshold", func(s *Settings) { s.JamThresholdMM = math.Inf(1) }, "jam_threshold_mm"},
	}
	for _, tt := range tests {
		s := DefaultSettings()
		tt.mutate(&s)
		err := s.Validate()
		if !errors.Is(err, errors.ErrConfigValidation) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
			continue
		}
		if err.(*errors.HostError).Option != tt.option {
			t.Errorf("%s: option = %q", tt.name, err.(*errors.HostError).Option)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := LoadString(`
[disaster_manager]
g90_extruder_compat: true
pause_on_jam: true
jam_threshold_mm: 7
tool_count: 4
sensor_timeout: 2
`)
	if err != nil {
		t.Fatal(err)
	}
	s, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	want := Settings{
		EnableFilamentCounter: true,
		G90ExtruderCompat:     true,
		PauseOnJam:            true,
		JamThresholdMM:        7,
		ToolCount:             4,
		SensorTimeout:         2 * time.Second,
	}
	if s != want {
		t.Errorf("got %+v, want %+v", s, want)
	}
}

func TestFromConfigRejects(t *testing.T) {
	for _, body := range []string{
		"[disaster_manager]\ntool_count: 0\n",
		"[disaster_manager]\njam_threshold_mm: -3\n",
		"[disaster_manager]\npause_on_jam: sometimes\n",
		"[disaster_manager]\nthreshold: 5\n",
		"[disaster_manager]\njam_threshold_mm: nan\n",
		"[disaster_manager]\njam_threshold_mm: +Inf\n",
		"[disaster_manager]\nsensor_timeout: NaN\n",
	} {
		cfg, err := LoadString(body)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := FromConfig(cfg); !errors.IsConfig(err) {
			t.Errorf("%q: expected config error, got %v", body, err)
		}
	}
}

func TestFromConfigWithoutSection(t *testing.T) {
	cfg, _ := LoadString("[printer]\nkinematics: none\n")
	s, err := FromConfig(cfg)
	if err != nil || s != DefaultSettings() {
		t.Errorf("got %+v, %v", s, err)
	}
}

func TestParseYAML(t *testing.T) {
	s, err := ParseYAML([]byte(`
feature:
  g90InfluencesExtruder: true
plugins:
  disastermanager:
    pauseOnJam: true
    threshold: 4.5
    toolCount: 2
    sensorTimeout: 0.5
  other:
    key: value
`))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	if !s.G90ExtruderCompat || !s.PauseOnJam || !s.EnableFilamentCounter {
		t.Errorf("flags %+v", s)
	}
	if s.JamThresholdMM != 4.5 || s.ToolCount != 2 || s.SensorTimeout != 500*time.Millisecond {
		t.Errorf("values %+v", s)
	}

	empty, err := ParseYAML(nil)
	if err != nil || empty != DefaultSettings() {
		t.Errorf("empty document: %+v, %v", empty, err)
	}

	for _, body := range []string{
		"plugins:\n  disastermanager:\n    toolCount: 0\n",
		"plugins:\n  disastermanager:\n    threshold: .nan\n",
		"plugins:\n  disastermanager:\n    threshold: .inf\n",
		"plugins:\n  disastermanager:\n    sensorTimeout: .nan\n",
	} {
		if _, err := ParseYAML([]byte(body)); !errors.Is(err, errors.ErrConfigValidation) {
			t.Errorf("%q: expected validation error, got %v", body, err)
		}
	}
}

func TestSettingsYAMLRoundTrip(t *testing.T) {
	in := Settings{EnableFilamentCounter: false, G90ExtruderCompat: true, PauseOnJam: true, JamThresholdMM: 3, ToolCount: 2}
	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := ParseYAML(data)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestLoadSettingsByExtension(t *testing.T) {
	dir := t.TempDir()
	y := filepath.Join(dir, "config.yaml")
	os.WriteFile(y, []byte("plugins:\n  disastermanager:\n    toolCount: 3\n"), 0o644)
	c := filepath.Join(dir, "printer.cfg")
	os.WriteFile(c, []byte("[disaster_manager]\ntool_count: 5\n"), 0o644)

	if s, err := LoadSettings(y); err != nil || s.ToolCount != 3 {
		t.Errorf("yaml: %+v, %v", s, err)
	}
	if s, err := LoadSettings(c); err != nil || s.ToolCount != 5 {
		t.Errorf("cfg: %+v, %v", s, err)
	}
	if _, err := LoadSettings(filepath.Join(dir, "missing.cfg")); !errors.Is(err, errors.ErrConfigFile) {
		t.Errorf("expected file error, got %v", err)
	}
}
