package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"disaster-manager-go/pkg/guard"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	panelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hdrDimBold  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true)

	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	transStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))  // yellow
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15")) // bright white
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))  // red
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // dim
)

const (
	colTool   = 6
	colMM     = 12
	colSample = 18
	colGap    = 2
)

func stateStyleFor(state string) lipgloss.Style {
	switch state {
	case "PRINTING":
		return activeStyle
	case "PAUSED", "CANCELLING", "STARTING":
		return transStyle
	case "OPERATIONAL":
		return idleStyle
	case "ERROR", "CLOSED_WITH_ERROR":
		return errorStyle
	}
	return staleStyle
}

func movementStyleFor(movement string) lipgloss.Style {
	switch movement {
	case "ok":
		return activeStyle
	case "stuck":
		return errorStyle
	}
	return staleStyle
}

// driftStyleFor grades drift against the jam threshold: green below half,
// yellow up to the threshold, red above it.
func driftStyleFor(drift, threshold float64) lipgloss.Style {
	switch {
	case threshold <= 0 || drift <= threshold/2:
		return activeStyle
	case drift <= threshold:
		return transStyle
	}
	return errorStyle
}

func mm(v float64) string {
	return humanize.CommafWithDigits(v, 2) + " mm"
}

func pad(s string, w int) string {
	if n := lipgloss.Width(s); n < w {
		return s + strings.Repeat(" ", w-n)
	}
	return s
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("disaster-top"))
	b.WriteString(dimStyle.Render("  " + m.url))
	b.WriteString("\n\n")

	if m.status == nil {
		if m.err != nil {
			b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		} else {
			b.WriteString(dimStyle.Render("waiting for status..."))
		}
		b.WriteString("\n\n")
		b.WriteString(m.renderHelp())
		return b.String()
	}

	st := m.status
	b.WriteString(m.renderSummary(st))
	b.WriteString("\n\n")
	b.WriteString(m.renderTools(st))
	b.WriteString("\n")
	b.WriteString(m.renderPauses())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	} else if m.flashMsg != "" {
		b.WriteString(transStyle.Render(m.flashMsg) + "\n")
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderSummary(st *guard.Status) string {
	tracking := staleStyle.Render("off")
	if st.Tracking {
		tracking = activeStyle.Render("on")
	}
	movement := movementStyleFor(st.Movement).Render(st.Movement)
	if st.Jammed {
		movement += errorStyle.Render(" (jam latched)")
	}
	lines := []string{
		fmt.Sprintf("state %s  tracking %s  tool T%d  mode %s",
			stateStyleFor(st.State).Render(st.State), tracking, st.ActiveTool, st.Mode),
		fmt.Sprintf("movement %s  threshold %s  pause on jam %v",
			movement, mm(st.Settings.JamThresholdMM), st.Settings.PauseOnJam),
	}
	if st.JobID != "" {
		lines = append(lines, dimStyle.Render("job "+st.JobID))
	}
	if !m.updated.IsZero() {
		lines = append(lines, dimStyle.Render("updated "+humanize.RelTime(m.updated, m.now(), "ago", "from now")))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderTools(st *guard.Status) string {
	var b strings.Builder
	b.WriteString(panelStyle.Render("TOOLS") + "\n")
	hdr := pad("TOOL", colTool+colGap) + pad("GCODE", colMM+colGap) +
		pad("SENSOR", colMM+colGap) + pad("DRIFT", colMM+colGap) + "LAST SAMPLE"
	b.WriteString(hdrDimBold.Render(hdr) + "\n")

	now := m.now()
	for _, t := range st.Tools {
		name := fmt.Sprintf("T%d", t.Tool)
		if t.Tool == st.ActiveTool {
			name = "*" + name
		}
		sample := staleStyle.Render("never")
		if t.LastSample != nil {
			age := now.Sub(*t.LastSample)
			style := activeStyle
			if timeout := st.Settings.SensorTimeout; timeout > 0 && age > timeout {
				style = staleStyle
			} else if age > 5*time.Second {
				style = transStyle
			}
			sample = style.Render(humanize.RelTime(*t.LastSample, now, "ago", "from now"))
		}
		b.WriteString(pad(name, colTool+colGap))
		b.WriteString(pad(mm(t.GCode), colMM+colGap))
		b.WriteString(pad(mm(t.Sensor), colMM+colGap))
		b.WriteString(pad(driftStyleFor(t.Drift, st.Settings.JamThresholdMM).Render(mm(t.Drift)), colMM+colGap))
		b.WriteString(pad(sample, colSample))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderPauses() string {
	var b strings.Builder
	b.WriteString(panelStyle.Render("PAUSE REQUESTS") + "\n")
	if len(m.pauses) == 0 {
		b.WriteString(dimStyle.Render("none") + "\n")
		return b.String()
	}
	now := m.now()
	for _, p := range m.pauses {
		b.WriteString(errorStyle.Render(fmt.Sprintf("T%d drift %s", p.Tool, mm(p.Drift))))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  %s", humanize.RelTime(p.Time, now, "ago", "from now"), shortID(p.EpisodeID))))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderHelp() string {
	return helpStyle.Render("q quit  r reset odometer  c clear pauses")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
