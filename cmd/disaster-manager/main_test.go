package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disaster-manager-go/pkg/config"
	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/sensor"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	type testCase struct {
		description string
		name        string
		data        string
		wantTools   int
		wantEncoder bool
		wantCode    errors.ErrorCode
	}
	cases := []testCase{
		{
			description: "cfg with encoder",
			name:        "printer.cfg",
			data: "[disaster_manager]\ntool_count: 2\npause_on_jam: true\n\n" +
				"[filament_encoder]\npin: 17\nmm_per_pulse: 2.88\n",
			wantTools:   2,
			wantEncoder: true,
		},
		{
			description: "cfg without sections",
			name:        "printer.cfg",
			data:        "[printer]\nkinematics: cartesian\n",
			wantTools:   1,
		},
		{
			description: "yaml settings",
			name:        "config.yaml",
			data:        "plugins:\n  disastermanager:\n    toolCount: 3\n",
			wantTools:   3,
		},
		{
			description: "encoder tool beyond tool count",
			name:        "printer.cfg",
			data: "[disaster_manager]\ntool_count: 2\n\n" +
				"[filament_encoder]\npin: 17\ntool: 2\n",
			wantCode: errors.ErrConfigValidation,
		},
		{
			description: "invalid tool count",
			name:        "printer.cfg",
			data:        "[disaster_manager]\ntool_count: 0\n",
			wantCode:    errors.ErrConfigValidation,
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.description, func(t *testing.T) {
			path := writeFile(t, testCase.name, testCase.data)
			loaded, err := loadConfig(path)
			if testCase.wantCode != "" {
				require.Error(t, err, testCase.description)
				if code := errors.CodeOf(err); code != "" {
					assert.Equal(t, testCase.wantCode, code, testCase.description)
				}
				return
			}
			require.NoError(t, err, testCase.description)
			assert.Equal(t, testCase.wantTools, loaded.Settings.ToolCount, testCase.description)
			assert.Equal(t, testCase.wantEncoder, loaded.Encoder != nil, testCase.description)
		})
	}

	loaded, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), loaded.Settings)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Equal(t, errors.ErrConfigFile, errors.CodeOf(err))
}

func TestLoadConfigEncoder(t *testing.T) {
	path := writeFile(t, "printer.cfg", "[filament_encoder]\npin: 5\nedge: both\ntool: 1\nmm_per_pulse: 0.5\ndebounce: 3ms\n")
	loaded, err := loadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.Encoder)
	assert.Equal(t, sensor.EncoderConfig{
		Pin:        5,
		Edge:       sensor.EdgeBoth,
		Tool:       1,
		MMPerPulse: 0.5,
		Debounce:   3 * time.Millisecond,
	}, *loaded.Encoder)
}

func TestReplay(t *testing.T) {
	gcode := strings.Join([]string{
		"; sliced",
		"M82",
		"G92 E0",
		"G1 X10 E5",
		"G1 X20 E12.5",
		"T1",
		"M83",
		"G1 E3",
		"G1 E-1",
		"T7",
		"T0",
	}, "\n")
	s := config.DefaultSettings()
	s.ToolCount = 2
	rep, err := replay(strings.NewReader(gcode), s)
	require.NoError(t, err)
	assert.Equal(t, 11, rep.Lines)
	assert.Equal(t, 2, rep.ToolChanges)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, []float64{12.5, 2}, rep.GCode)
	assert.Equal(t, 0, rep.FinalTool)

	var buf bytes.Buffer
	printReport(&buf, "part.gcode", rep)
	out := buf.String()
	assert.Contains(t, out, "part.gcode: 11 lines, 2 tool changes, 1 rejected tool selects")
	assert.Contains(t, out, "T0")
	assert.Contains(t, out, "12.5 mm")
	assert.Contains(t, out, "14.5 mm")
}

func TestRunUsage(t *testing.T) {
	assert.Equal(t, 0, run([]string{"--help"}))
	assert.Equal(t, 1, run([]string{"bogus"}))
	assert.Equal(t, 1, run([]string{"check-config"}), "missing required --config")

	path := writeFile(t, "printer.cfg", "[disaster_manager]\ntool_count: 2\n")
	assert.Equal(t, 0, run([]string{"check-config", "-c", path}))
}
