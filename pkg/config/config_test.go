package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"disaster-manager-go/pkg/errors"
)

func TestLoadString(t *testing.T) {
	data := `
# printer.cfg excerpt
[printer]
kinematics: cartesian

[disaster_manager]
enable_filament_counter: true
pause_on_jam = yes      ; inline comment
jam_threshold_mm: 12.5
tool_count: 2
sensor_timeout: 1500ms
`
	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	if !cfg.HasSection("printer") || !cfg.HasSection(SectionName) {
		t.Fatalf("sections = %v", cfg.GetSectionNames())
	}
	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}

	sec, err := cfg.GetSection(SectionName)
	if err != nil {
		t.Fatalf("GetSection failed: %v", err)
	}
	on, err := sec.GetBool("pause_on_jam")
	if err != nil || !on {
		t.Errorf("pause_on_jam = %v, %v", on, err)
	}
	d, err := sec.GetDuration("sensor_timeout")
	if err != nil || d != 1500*time.Millisecond {
		t.Errorf("sensor_timeout = %v, %v", d, err)
	}
}

func TestSaveConfigBlockIsParsed(t *testing.T) {
	cfg, err := LoadString("#*# [disaster_manager]\n#*# tool_count = 3\n")
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := cfg.GetSection(SectionName)
	n, err := sec.GetInt("tool_count")
	if err != nil || n != 3 {
		t.Errorf("tool_count = %d, %v", n, err)
	}
}

func TestMalformedLine(t *testing.T) {
	if _, err := LoadString("[disaster_manager]\njust words\n"); err == nil {
		t.Error("expected error for line without separator")
	}
	if _, err := LoadString("[]\n"); err == nil {
		t.Error("expected error for empty header")
	}
}

func TestGetSectionMissing(t *testing.T) {
	cfg := New()
	_, err := cfg.GetSection("nope")
	if !errors.Is(err, errors.ErrConfigSection) {
		t.Errorf("expected section error, got %v", err)
	}
}

func TestSectionTypedGetters(t *testing.T) {
	sec := newSection("s", map[string]string{
		"Count":  "4",
		"ratio":  "0.5",
		"flag":   "maybe",
		"mode":   "Delta",
		"broken": "x1",
		"nan":    "NaN",
		"inf":    "-inf",
	})

	if n, err := sec.GetInt("count"); err != nil || n != 4 {
		t.Errorf("GetInt = %d, %v", n, err)
	}
	if _, err := sec.GetInt("broken"); !errors.Is(err, errors.ErrConfigType) {
		t.Errorf("expected type error, got %v", err)
	}
	if _, err := sec.GetBool("flag"); err == nil {
		t.Error("expected bool error")
	}
	if v, err := sec.GetFloat("missing", 2.5); err != nil || v != 2.5 {
		t.Errorf("fallback = %v, %v", v, err)
	}
	if _, err := sec.GetFloat("missing"); !errors.Is(err, errors.ErrConfigOption) {
		t.Errorf("expected missing option error, got %v", err)
	}
	for _, opt := range []string{"nan", "inf"} {
		if _, err := sec.GetFloat(opt); !errors.Is(err, errors.ErrConfigType) {
			t.Errorf("%s: expected type error, got %v", opt, err)
		}
		if _, err := sec.GetDuration(opt); !errors.Is(err, errors.ErrConfigType) {
			t.Errorf("%s: expected duration type error, got %v", opt, err)
		}
	}
	if c, err := sec.GetChoice("mode", []string{"delta", "absolute"}); err != nil || c != "delta" {
		t.Errorf("GetChoice = %q, %v", c, err)
	}

	above := 1.0
	if _, err := sec.GetFloatWithBounds("ratio", FloatBounds{Above: &above}); !errors.Is(err, errors.ErrConfigValidation) {
		t.Errorf("expected bounds error, got %v", err)
	}
	max := 3
	if _, err := sec.GetIntWithBounds("count", nil, &max); err == nil {
		t.Error("expected max bound error")
	}
}

func TestUnusedOptions(t *testing.T) {
	sec := newSection("s", map[string]string{"a": "1", "b": "2"})
	sec.Get("a")
	unused := sec.GetUnusedOptions()
	if len(unused) != 1 || unused[0] != "b" {
		t.Errorf("unused = %v", unused)
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "extra.cfg"), []byte("[disaster_manager]\ntool_count: 2\n"), 0o644)
	main := filepath.Join(dir, "printer.cfg")
	os.WriteFile(main, []byte("[include extra.cfg]\n[printer]\nkinematics: none\n"), 0o644)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.HasSection(SectionName) {
		t.Error("included section missing")
	}
}

func TestLoadRecursiveInclude(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "a.cfg")
	os.WriteFile(main, []byte("[include a.cfg]\n"), 0o644)
	if _, err := Load(main); err == nil {
		t.Error("expected recursive include error")
	}
}

func TestLoadStringRejectsInclude(t *testing.T) {
	if _, err := LoadString("[include other.cfg]\n"); err == nil {
		t.Error("expected include to be rejected")
	}
}
