package odometer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"disaster-manager-go/pkg/gcode"
)

func TestApplyEffects(t *testing.T) {
	cases := []struct {
		description string
		line        string
		kind        EffectKind
		delta       float64
		mode        CoordinateMode
	}{
		{description: "absolute move", line: "G1 X1 E4", kind: Extruded, delta: 4, mode: AbsoluteExtrusion},
		{description: "travel", line: "G0 X10 Y10", kind: NoEffect, mode: AbsoluteExtrusion},
		{description: "rebase", line: "G92 E1", kind: Rebased, mode: AbsoluteExtrusion},
		{description: "retract from rebased", line: "G1 E0.2", kind: Extruded, delta: -0.8, mode: AbsoluteExtrusion},
		{description: "relative", line: "M83", kind: ModeChanged, mode: RelativeExtrusion},
		{description: "relative move", line: "G1 E-2", kind: Extruded, delta: -2, mode: RelativeExtrusion},
		{description: "g90 without compat", line: "G90", kind: NoEffect, mode: RelativeExtrusion},
		{description: "absolute", line: "M82", kind: ModeChanged, mode: AbsoluteExtrusion},
		{description: "tool", line: "T1", kind: ToolChanged, mode: AbsoluteExtrusion},
		{description: "unknown", line: "M600", kind: NoEffect, mode: AbsoluteExtrusion},
	}

	st := newExtrusionState(2, false)
	for _, testCase := range cases {
		cmd, ok := gcode.ParseLine(testCase.line)
		assert.True(t, ok, testCase.description)
		eff, err := st.apply(cmd)
		assert.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.kind, eff.Kind, testCase.description)
		assert.InDelta(t, testCase.delta, eff.Delta, 1e-9, testCase.description)
		assert.Equal(t, testCase.mode, eff.Mode, testCase.description)
	}
	assert.Equal(t, 1, st.ActiveTool)
	assert.InDelta(t, 1.2, st.GCodeExtrusion[0], 1e-9)
}

func TestApplyCommandBuiltFromHostParams(t *testing.T) {
	st := newExtrusionState(1, true)
	_, err := st.apply(gcode.New("g90", nil))
	assert.NoError(t, err)
	eff, err := st.apply(gcode.New("G1", map[string]string{"e": "2.5"}))
	assert.NoError(t, err)
	assert.Equal(t, Extruded, eff.Kind)
	assert.InDelta(t, 2.5, st.GCodeExtrusion[0], 1e-9)
}

func TestToolSelectOutOfRange(t *testing.T) {
	st := newExtrusionState(1, false)
	cmd, _ := gcode.ParseLine("T-1")
	_, err := st.apply(cmd)
	assert.Error(t, err)
	assert.Equal(t, 0, st.ActiveTool)
}

func TestCloneIsDeep(t *testing.T) {
	st := newExtrusionState(1, false)
	c := st.clone()
	c.GCodeExtrusion[0] = 5
	assert.Equal(t, 0.0, st.GCodeExtrusion[0])
}
