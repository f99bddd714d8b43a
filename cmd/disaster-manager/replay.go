package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"disaster-manager-go/pkg/config"
	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/odometer"
)

// ReplayCmd counts G-code extrusion in a file without a printer.
// Usage: disaster-manager replay [-c printer.cfg] [--tools N] file.gcode
type ReplayCmd struct {
	Config    string `short:"c" long:"config" description:"take tool count and G90 handling from this file"`
	Tools     int    `short:"t" long:"tools" description:"number of extruders (overrides the config)"`
	G90Compat bool   `long:"g90-compat" description:"G90 also switches the extruder to absolute"`

	Args struct {
		File string `positional-arg-name:"file" description:"G-code file, - for stdin" required:"true"`
	} `positional-args:"yes"`
}

// ReplayReport summarises one replay.
type ReplayReport struct {
	Lines       int
	ToolChanges int
	Rejected    int
	GCode       []float64
	FinalTool   int
}

func (c *ReplayCmd) Execute(_ []string) error {
	loaded, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	s := loaded.Settings
	if c.Tools > 0 {
		s.ToolCount = c.Tools
	}
	if c.G90Compat {
		s.G90ExtruderCompat = true
	}

	in := io.Reader(os.Stdin)
	if c.Args.File != "-" {
		f, err := os.Open(c.Args.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	rep, err := replay(in, s)
	if err != nil {
		return err
	}
	printReport(os.Stdout, c.Args.File, rep)
	return nil
}

// replay feeds every line of r through a fresh odometer.
func replay(r io.Reader, s config.Settings) (ReplayReport, error) {
	odo, err := odometer.New(odometer.Options{ToolCount: s.ToolCount, G90ExtruderCompat: s.G90ExtruderCompat})
	if err != nil {
		return ReplayReport{}, err
	}
	var rep ReplayReport
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		rep.Lines++
		eff, err := odo.ParseLine(sc.Text())
		switch {
		case errors.CodeOf(err) == errors.ErrToolSelect:
			rep.Rejected++
		case err != nil:
			return rep, err
		case eff.Kind == odometer.ToolChanged:
			rep.ToolChanges++
		}
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("read g-code: %w", err)
	}
	rep.GCode = odo.GetExtrusionGCode()
	rep.FinalTool = odo.GetCurrentTool()
	return rep, nil
}

func printReport(w io.Writer, name string, rep ReplayReport) {
	fmt.Fprintf(w, "%s: %s lines, %d tool changes", name, humanize.Comma(int64(rep.Lines)), rep.ToolChanges)
	if rep.Rejected > 0 {
		fmt.Fprintf(w, ", %d rejected tool selects", rep.Rejected)
	}
	fmt.Fprintln(w)
	var total float64
	for tool, mm := range rep.GCode {
		total += mm
		fmt.Fprintf(w, "  T%d  %12s mm  (%s)\n", tool, humanize.CommafWithDigits(mm, 2), humanize.SIWithDigits(mm/1000, 2, "m"))
	}
	fmt.Fprintf(w, "  all %12s mm  (%s)\n", humanize.CommafWithDigits(total, 2), humanize.SIWithDigits(total/1000, 2, "m"))
}
