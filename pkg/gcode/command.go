// Package gcode tokenizes G-code lines into a command name and its
// parameters.
package gcode

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Command is one tokenized G-code line.
type Command struct {
	// Name is the upper-cased command word, e.g. "G1", "M83", "T1".
	Name string
	// Args maps upper-cased parameter letters (or KEY= names) to raw text.
	Args map[string]string
	// Raw is the line as received.
	Raw string
}

// New builds a command from an already split name and parameters.
func New(name string, args map[string]string) Command {
	cmd := Command{Name: strings.ToUpper(strings.TrimSpace(name)), Args: make(map[string]string, len(args))}
	for k, v := range args {
		cmd.Args[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return cmd
}

// ParseLine tokenizes a line. ok is false for blank and comment-only lines.
// Parameters are single letters followed by a value ("E1.5") or KEY=value
// pairs as used by extended commands.
func ParseLine(line string) (cmd Command, ok bool) {
	ln := line
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = reParenComment.ReplaceAllString(ln, " ")
	fields := strings.Fields(ln)
	if len(fields) == 0 {
		return Command{}, false
	}
	// line numbers ("N123 G1 ...") and checksums are transport framing
	if n := strings.ToUpper(fields[0]); len(n) > 1 && n[0] == 'N' && isDigits(n[1:]) {
		fields = fields[1:]
		if len(fields) == 0 {
			return Command{}, false
		}
	}

	cmd = Command{Name: strings.ToUpper(fields[0]), Args: make(map[string]string, len(fields)-1), Raw: line}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "*") {
			break
		}
		if k, v, found := strings.Cut(f, "="); found {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				cmd.Args[k] = strings.TrimSpace(v)
			}
			continue
		}
		cmd.Args[strings.ToUpper(f[:1])] = f[1:]
	}
	return cmd, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Has reports whether the parameter is present, with or without a value.
func (c Command) Has(key string) bool {
	_, ok := c.Args[strings.ToUpper(key)]
	return ok
}

// Float returns a numeric parameter. ok is false when the parameter is
// missing, empty or not a finite number.
func (c Command) Float(key string) (v float64, ok bool) {
	raw, present := c.Args[strings.ToUpper(key)]
	if !present || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Tool returns n for a tool-select command "T<n>". ok is false for any other
// command, including a bare "T" or a non-numeric suffix.
func (c Command) Tool() (n int, ok bool) {
	if len(c.Name) < 2 || c.Name[0] != 'T' {
		return 0, false
	}
	n, err := strconv.Atoi(c.Name[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// String renders the command back into a single line.
func (c Command) String() string {
	if c.Raw != "" {
		return strings.TrimSpace(c.Raw)
	}
	var sb strings.Builder
	sb.WriteString(c.Name)
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte(' ')
		sb.WriteString(k)
		if len(k) > 1 {
			sb.WriteByte('=')
		}
		sb.WriteString(c.Args[k])
	}
	return sb.String()
}
