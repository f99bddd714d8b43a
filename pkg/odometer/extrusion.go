package odometer

import (
	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/gcode"
)

// CoordinateMode is the extruder coordinate interpretation.
type CoordinateMode int

const (
	AbsoluteExtrusion CoordinateMode = iota
	RelativeExtrusion
)

func (m CoordinateMode) String() string {
	if m == RelativeExtrusion {
		return "relative"
	}
	return "absolute"
}

// ExtrusionState is the mutable tracking state. All per-tool slices have one
// entry per configured tool.
type ExtrusionState struct {
	GCodeExtrusion    []float64
	SensorExtrusion   []float64
	ActiveTool        int
	Mode              CoordinateMode
	G90ExtruderCompat bool
	// LastPosition is the last absolute extruder coordinate per tool.
	LastPosition []float64
}

func newExtrusionState(tools int, compat bool) ExtrusionState {
	return ExtrusionState{
		GCodeExtrusion:    make([]float64, tools),
		SensorExtrusion:   make([]float64, tools),
		LastPosition:      make([]float64, tools),
		Mode:              AbsoluteExtrusion,
		G90ExtruderCompat: compat,
	}
}

// EffectKind classifies what a command did to the state.
type EffectKind int

const (
	NoEffect EffectKind = iota
	Extruded
	Rebased
	ModeChanged
	ToolChanged
)

func (k EffectKind) String() string {
	switch k {
	case Extruded:
		return "extruded"
	case Rebased:
		return "rebased"
	case ModeChanged:
		return "mode_changed"
	case ToolChanged:
		return "tool_changed"
	}
	return "none"
}

// Effect is the outcome of applying one command.
type Effect struct {
	Kind  EffectKind
	Tool  int
	Delta float64 // only for Extruded
	Mode  CoordinateMode
}

// apply interprets one command against st. Unknown commands and recognised
// commands with a missing or malformed E value leave st unchanged. The only
// error is a tool select outside the configured range.
func (st *ExtrusionState) apply(cmd gcode.Command) (Effect, error) {
	tool := st.ActiveTool
	none := Effect{Kind: NoEffect, Tool: tool, Mode: st.Mode}

	switch cmd.Name {
	case "G0", "G1":
		e, ok := cmd.Float("E")
		if !ok {
			return none, nil
		}
		var delta float64
		if st.Mode == RelativeExtrusion {
			delta = e
			st.LastPosition[tool] += e
		} else {
			delta = e - st.LastPosition[tool]
			st.LastPosition[tool] = e
		}
		st.GCodeExtrusion[tool] += delta
		return Effect{Kind: Extruded, Tool: tool, Delta: delta, Mode: st.Mode}, nil

	case "G92":
		if cmd.Has("E") {
			e, ok := cmd.Float("E")
			if !ok {
				return none, nil
			}
			st.LastPosition[tool] = e
		} else if len(cmd.Args) == 0 {
			// bare G92 zeroes every axis
			st.LastPosition[tool] = 0
		} else {
			return none, nil
		}
		return Effect{Kind: Rebased, Tool: tool, Mode: st.Mode}, nil

	case "G90":
		if !st.G90ExtruderCompat {
			return none, nil
		}
		return st.setMode(AbsoluteExtrusion), nil
	case "G91":
		return st.setMode(RelativeExtrusion), nil
	case "M82":
		return st.setMode(AbsoluteExtrusion), nil
	case "M83":
		return st.setMode(RelativeExtrusion), nil
	}

	if n, ok := cmd.Tool(); ok {
		if n < 0 || n >= len(st.GCodeExtrusion) {
			return none, errors.ToolSelectError(n, len(st.GCodeExtrusion))
		}
		st.ActiveTool = n
		return Effect{Kind: ToolChanged, Tool: n, Mode: st.Mode}, nil
	}
	return none, nil
}

func (st *ExtrusionState) setMode(m CoordinateMode) Effect {
	st.Mode = m
	return Effect{Kind: ModeChanged, Tool: st.ActiveTool, Mode: m}
}

// clone deep-copies the state.
func (st *ExtrusionState) clone() ExtrusionState {
	out := *st
	out.GCodeExtrusion = append([]float64(nil), st.GCodeExtrusion...)
	out.SensorExtrusion = append([]float64(nil), st.SensorExtrusion...)
	out.LastPosition = append([]float64(nil), st.LastPosition...)
	return out
}
