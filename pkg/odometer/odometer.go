// Package odometer tracks per-tool filament extrusion from G-code and from
// a filament sensor, and compares the two to detect jams.
package odometer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/gcode"
	"disaster-manager-go/pkg/sensor"
)

// MovementStatus is the verdict of a jam check.
type MovementStatus int

const (
	// MovementUnknown means the active tool has no recent sensor data.
	MovementUnknown MovementStatus = iota
	MovementOK
	MovementStuck
)

func (s MovementStatus) String() string {
	switch s {
	case MovementOK:
		return "ok"
	case MovementStuck:
		return "stuck"
	}
	return "insufficient_data"
}

// JamCheck is the result of CheckFilamentMovement for the active tool.
type JamCheck struct {
	Status    MovementStatus
	Tool      int
	GCode     float64
	Sensor    float64
	Drift     float64
	Threshold float64
}

// Options configure a new Odometer.
type Options struct {
	ToolCount         int
	G90ExtruderCompat bool
	// SensorTimeout, when positive, makes sensor data older than this count
	// as missing in jam checks.
	SensorTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Odometer owns the extrusion state. It is safe for concurrent use; the
// G-code path and the sensor path may call it from different goroutines.
type Odometer struct {
	mu sync.Mutex
	st ExtrusionState

	// absolute sensor counters are turned into deltas against these
	sensorBase []float64
	hasBase    []bool
	lastSample []time.Time
	timeout    time.Duration
	now        func() time.Time
}

// New creates an odometer with every total at zero, tool 0 active and
// absolute extrusion mode.
func New(opts Options) (*Odometer, error) {
	if opts.ToolCount < 1 {
		return nil, errors.ConfigValidationError("disaster_manager", "tool_count", fmt.Sprintf("must be at least 1, got %d", opts.ToolCount))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Odometer{
		st:         newExtrusionState(opts.ToolCount, opts.G90ExtruderCompat),
		sensorBase: make([]float64, opts.ToolCount),
		hasBase:    make([]bool, opts.ToolCount),
		lastSample: make([]time.Time, opts.ToolCount),
		timeout:    opts.SensorTimeout,
		now:        now,
	}, nil
}

// Parse applies one command. A rejected tool select returns an
// ErrToolSelect error and leaves the state unchanged.
func (o *Odometer) Parse(cmd gcode.Command) (Effect, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.apply(cmd)
}

// ParseLine tokenizes and applies one raw G-code line.
func (o *Odometer) ParseLine(line string) (Effect, error) {
	cmd, ok := gcode.ParseLine(line)
	if !ok {
		o.mu.Lock()
		defer o.mu.Unlock()
		return Effect{Kind: NoEffect, Tool: o.st.ActiveTool, Mode: o.st.Mode}, nil
	}
	return o.Parse(cmd)
}

// RecordSensorReading adds a sensor sample to the tool's sensor total. The
// first Absolute sample after construction or a reset only sets the
// baseline.
func (o *Odometer) RecordSensorReading(tool int, value float64, kind sensor.Kind) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.New(errors.ErrSensorKind, fmt.Sprintf("non-finite sensor value %v", value))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if tool < 0 || tool >= len(o.st.SensorExtrusion) {
		return errors.SensorToolError(tool, len(o.st.SensorExtrusion))
	}
	switch kind {
	case sensor.Delta:
		o.st.SensorExtrusion[tool] += value
	case sensor.Absolute:
		if o.hasBase[tool] {
			o.st.SensorExtrusion[tool] += value - o.sensorBase[tool]
		}
		o.sensorBase[tool] = value
		o.hasBase[tool] = true
	default:
		return errors.New(errors.ErrSensorKind, fmt.Sprintf("unknown sample kind %v", kind))
	}
	o.lastSample[tool] = o.now()
	return nil
}

// Record is RecordSensorReading for a Sample.
func (o *Odometer) Record(s sensor.Sample) error {
	return o.RecordSensorReading(s.Tool, s.Value, s.Kind)
}

// GetExtrusionGCode returns a copy of the per-tool G-code totals.
func (o *Odometer) GetExtrusionGCode() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.st.GCodeExtrusion...)
}

// GetExtrusionSensor returns a copy of the per-tool sensor totals.
func (o *Odometer) GetExtrusionSensor() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.st.SensorExtrusion...)
}

// GetCurrentTool returns the active tool index.
func (o *Odometer) GetCurrentTool() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.ActiveTool
}

// CheckFilamentMovement compares G-code and sensor totals of the active
// tool. Drift above threshold is MovementStuck.
func (o *Odometer) CheckFilamentMovement(threshold float64) JamCheck {
	o.mu.Lock()
	defer o.mu.Unlock()

	tool := o.st.ActiveTool
	res := JamCheck{
		Tool:      tool,
		GCode:     o.st.GCodeExtrusion[tool],
		Sensor:    o.st.SensorExtrusion[tool],
		Threshold: threshold,
	}
	res.Drift = res.GCode - res.Sensor

	last := o.lastSample[tool]
	switch {
	case last.IsZero(), o.timeout > 0 && o.now().Sub(last) > o.timeout:
		res.Status = MovementUnknown
	case res.Drift > threshold:
		res.Status = MovementStuck
	default:
		res.Status = MovementOK
	}
	return res
}

// Reset zeroes every total and baseline. Coordinate mode, the compat flag
// and the active tool are kept.
func (o *Odometer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.st.GCodeExtrusion {
		o.st.GCodeExtrusion[i] = 0
		o.st.SensorExtrusion[i] = 0
		o.st.LastPosition[i] = 0
		o.sensorBase[i] = 0
		o.hasBase[i] = false
		o.lastSample[i] = time.Time{}
	}
}

// ResetExtrudedLength zeroes the position baselines only, so the next
// absolute E value counts from zero. Totals are kept.
func (o *Odometer) ResetExtrudedLength() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.st.LastPosition {
		o.st.LastPosition[i] = 0
		o.hasBase[i] = false
	}
}

// SetG90ExtruderCompat changes how the next G90 is interpreted.
func (o *Odometer) SetG90ExtruderCompat(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.st.G90ExtruderCompat = enabled
}

// SetSensorTimeout changes the staleness limit for jam checks.
func (o *Odometer) SetSensorTimeout(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeout = d
}

// ToolCount returns the number of tracked tools.
func (o *Odometer) ToolCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.st.GCodeExtrusion)
}

// SetToolCount grows or shrinks the per-tool state. Existing totals are
// kept. Shrinking below the active tool is rejected.
func (o *Odometer) SetToolCount(n int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n < 1 {
		return errors.ConfigValidationError("disaster_manager", "tool_count", fmt.Sprintf("must be at least 1, got %d", n))
	}
	if o.st.ActiveTool >= n {
		return errors.ConfigValidationError("disaster_manager", "tool_count",
			fmt.Sprintf("tool %d is active, cannot shrink to %d tools", o.st.ActiveTool, n))
	}
	o.st.GCodeExtrusion = resize(o.st.GCodeExtrusion, n)
	o.st.SensorExtrusion = resize(o.st.SensorExtrusion, n)
	o.st.LastPosition = resize(o.st.LastPosition, n)
	o.sensorBase = resize(o.sensorBase, n)
	o.hasBase = resize(o.hasBase, n)
	o.lastSample = resize(o.lastSample, n)
	return nil
}

func resize[T any](s []T, n int) []T {
	if n <= len(s) {
		return s[:n:n]
	}
	return append(s, make([]T, n-len(s))...)
}

// Snapshot is a consistent copy of the odometer state.
type Snapshot struct {
	ExtrusionState
	LastSample []time.Time
}

// Snapshot copies the full state under the lock.
func (o *Odometer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		ExtrusionState: o.st.clone(),
		LastSample:     append([]time.Time(nil), o.lastSample...),
	}
}
