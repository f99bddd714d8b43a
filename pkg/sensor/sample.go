// Package sensor defines filament sensor samples and the sources that
// produce them.
package sensor

import (
	"fmt"
	"strings"
	"time"
)

// Kind tells how a sample value relates to previous samples.
type Kind int

const (
	// Delta samples carry the filament length moved since the previous sample.
	Delta Kind = iota
	// Absolute samples carry a running length counter kept by the sensor.
	Absolute
)

func (k Kind) String() string {
	switch k {
	case Delta:
		return "delta"
	case Absolute:
		return "absolute"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts "delta" and "absolute" in any case. Empty means Delta.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delta":
		return Delta, nil
	case "absolute", "abs":
		return Absolute, nil
	}
	return 0, fmt.Errorf("unknown sensor sample kind %q", s)
}

// Sample is one length reading for a tool, in millimetres of filament.
type Sample struct {
	Tool  int
	Value float64
	Kind  Kind
	Time  time.Time
}
