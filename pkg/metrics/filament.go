// Filament odometer metrics
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strconv"
	"strings"
)

// Print state values exported by disaster_print_state.
var printStateCodes = map[string]float64{
	"OPERATIONAL": 0,
	"PRINTING":    1,
	"PAUSED":      2,
	"CANCELLING":  3,
	"ERROR":       4,
}

// FilamentMetrics holds all metrics exported by the disaster manager.
type FilamentMetrics struct {
	registry *Registry

	GCodeExtrusion  *Gauge
	SensorExtrusion *Gauge
	Drift           *Gauge
	ActiveTool      *Gauge
	Tracking        *Gauge
	PrintState      *Gauge

	GCodeLines     *Counter
	SensorSamples  *Counter
	Jams           *Counter
	PauseRequests  *Counter
	Errors         *Counter
	GCodeHandleDur *Histogram
}

// NewFilamentMetrics creates and registers every metric.
func NewFilamentMetrics() *FilamentMetrics {
	fm := &FilamentMetrics{
		registry: NewRegistry(),

		GCodeExtrusion:  NewGauge("disaster_gcode_extrusion_mm", "Filament commanded by G-code per tool"),
		SensorExtrusion: NewGauge("disaster_sensor_extrusion_mm", "Filament measured by the sensor per tool"),
		Drift:           NewGauge("disaster_drift_mm", "G-code minus sensor extrusion per tool"),
		ActiveTool:      NewGauge("disaster_active_tool", "Index of the active tool"),
		Tracking:        NewGauge("disaster_tracking_enabled", "1 while G-code extrusion is being tracked"),
		PrintState:      NewGauge("disaster_print_state", "Host print state (0 operational, 1 printing, 2 paused, 3 cancelling, 4 error, -1 other)"),

		GCodeLines:     NewCounter("disaster_gcode_lines_total", "G-code lines seen by command"),
		SensorSamples:  NewCounter("disaster_sensor_samples_total", "Sensor samples recorded per tool"),
		Jams:           NewCounter("disaster_jams_total", "Jam checks that reported stuck filament"),
		PauseRequests:  NewCounter("disaster_pause_requests_total", "Pause requests sent to the host"),
		Errors:         NewCounter("disaster_errors_total", "Errors by code"),
		GCodeHandleDur: NewHistogram("disaster_gcode_handle_seconds", "Time spent handling one G-code line", DefaultBuckets()),
	}
	fm.registry.MustRegister(
		fm.GCodeExtrusion, fm.SensorExtrusion, fm.Drift,
		fm.ActiveTool, fm.Tracking, fm.PrintState,
		fm.GCodeLines, fm.SensorSamples, fm.Jams,
		fm.PauseRequests, fm.Errors, fm.GCodeHandleDur,
	)
	return fm
}

// Registry returns the underlying registry.
func (fm *FilamentMetrics) Registry() *Registry { return fm.registry }

// Gather renders all metrics in Prometheus text format.
func (fm *FilamentMetrics) Gather() string { return fm.registry.Gather() }

func toolLabel(tool int) Labels { return Labels{"tool": strconv.Itoa(tool)} }

// ObserveTotals publishes per-tool totals and the drift between them.
func (fm *FilamentMetrics) ObserveTotals(gcode, sensor []float64) {
	for i, g := range gcode {
		var s float64
		if i < len(sensor) {
			s = sensor[i]
		}
		l := toolLabel(i)
		fm.GCodeExtrusion.Set(l, g)
		fm.SensorExtrusion.Set(l, s)
		fm.Drift.Set(l, g-s)
	}
}

// SetActiveTool records the active tool index.
func (fm *FilamentMetrics) SetActiveTool(tool int) {
	fm.ActiveTool.Set(nil, float64(tool))
}

// SetTracking records whether extrusion tracking is on.
func (fm *FilamentMetrics) SetTracking(on bool) {
	fm.Tracking.SetBool(nil, on)
}

// SetPrintState records the host print state. Unknown states export -1.
func (fm *FilamentMetrics) SetPrintState(state string) {
	v, ok := printStateCodes[state]
	if !ok {
		v = -1
	}
	fm.PrintState.Set(nil, v)
}

// trackedCommands are counted under their own name. Tool selects share
// "T" and anything else is "other", which keeps the label set fixed.
var trackedCommands = map[string]bool{
	"G0": true, "G1": true, "G90": true, "G91": true, "G92": true, "M82": true, "M83": true,
}

func commandLabel(command string) string {
	command = strings.ToUpper(command)
	if trackedCommands[command] {
		return command
	}
	if len(command) > 1 && command[0] == 'T' && strings.Trim(command[1:], "0123456789") == "" {
		return "T"
	}
	return "other"
}

// GCodeLine counts one handled G-code command.
func (fm *FilamentMetrics) GCodeLine(command string) {
	fm.GCodeLines.Inc(Labels{"command": commandLabel(command)})
}

// SensorSample counts one recorded sample.
func (fm *FilamentMetrics) SensorSample(tool int) {
	fm.SensorSamples.Inc(toolLabel(tool))
}

// JamDetected counts a stuck verdict.
func (fm *FilamentMetrics) JamDetected(tool int) {
	fm.Jams.Inc(toolLabel(tool))
}

// PauseRequested counts a pause request.
func (fm *FilamentMetrics) PauseRequested() {
	fm.PauseRequests.Inc(nil)
}

// Error counts an error by its code.
func (fm *FilamentMetrics) Error(code string) {
	fm.Errors.Inc(Labels{"code": code})
}
