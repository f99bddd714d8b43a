package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"disaster-manager-go/pkg/errors"
)

// octoprintFile is the subset of an OctoPrint config.yaml we read. Pointer
// fields distinguish "absent" from zero values.
type octoprintFile struct {
	Feature struct {
		G90InfluencesExtruder *bool `yaml:"g90InfluencesExtruder"`
	} `yaml:"feature"`
	Plugins struct {
		DisasterManager pluginSettings `yaml:"disastermanager"`
	} `yaml:"plugins"`
}

type pluginSettings struct {
	EnableFilamentCounter *bool    `yaml:"enableFilamentCounter"`
	PauseOnJam            *bool    `yaml:"pauseOnJam"`
	Threshold             *float64 `yaml:"threshold"`
	ToolCount             *int     `yaml:"toolCount"`
	SensorTimeout         *float64 `yaml:"sensorTimeout"`
}

// LoadYAML reads settings from an OctoPrint style config.yaml.
func LoadYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.ConfigFileError(path, err)
	}
	s, err := ParseYAML(data)
	if err != nil {
		if errors.IsConfig(err) {
			return Settings{}, err
		}
		return Settings{}, errors.ConfigFileError(path, err)
	}
	return s, nil
}

// ParseYAML decodes config.yaml content. Unknown keys are ignored since the
// file is shared with the host and its other plugins.
func ParseYAML(data []byte) (Settings, error) {
	var doc octoprintFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return Settings{}, err
	}

	s := DefaultSettings()
	if v := doc.Feature.G90InfluencesExtruder; v != nil {
		s.G90ExtruderCompat = *v
	}
	p := doc.Plugins.DisasterManager
	if p.EnableFilamentCounter != nil {
		s.EnableFilamentCounter = *p.EnableFilamentCounter
	}
	if p.PauseOnJam != nil {
		s.PauseOnJam = *p.PauseOnJam
	}
	if p.Threshold != nil {
		s.JamThresholdMM = *p.Threshold
	}
	if p.ToolCount != nil {
		s.ToolCount = *p.ToolCount
	}
	if p.SensorTimeout != nil {
		if !finite(*p.SensorTimeout) {
			return Settings{}, NewConfigError(SectionName, "sensor_timeout", fmt.Sprintf("must be a finite number, got %v", *p.SensorTimeout))
		}
		s.SensorTimeout = time.Duration(*p.SensorTimeout * float64(time.Second))
	}
	return s, s.Validate()
}

// MarshalYAML renders settings as the plugin block of a config.yaml.
func (s Settings) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{
		"feature": map[string]interface{}{
			"g90InfluencesExtruder": s.G90ExtruderCompat,
		},
		"plugins": map[string]interface{}{
			"disastermanager": map[string]interface{}{
				"enableFilamentCounter": s.EnableFilamentCounter,
				"pauseOnJam":            s.PauseOnJam,
				"threshold":             s.JamThresholdMM,
				"toolCount":             s.ToolCount,
				"sensorTimeout":         s.SensorTimeout.Seconds(),
			},
		},
	}
	return out, nil
}
