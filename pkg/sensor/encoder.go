package sensor

import (
	"context"
	"fmt"
	"time"

	"disaster-manager-go/pkg/config"
	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/log"
)

// EncoderSection is the cfg section describing a filament encoder.
const EncoderSection = "filament_encoder"

// EdgeWaiter reports input edges. *Pin implements it.
type EdgeWaiter interface {
	Wait(timeout time.Duration) (level int, ok bool, err error)
}

// EncoderConfig describes a pulse encoder on the filament path.
type EncoderConfig struct {
	Pin        int
	Edge       Edge
	Tool       int
	MMPerPulse float64
	// Debounce drops edges closer together than this.
	Debounce time.Duration
	// PollTimeout bounds each wait so Run notices cancellation.
	PollTimeout time.Duration
}

// EncoderConfigFromSection reads a [filament_encoder] section.
func EncoderConfigFromSection(sec *config.Section) (EncoderConfig, error) {
	var (
		cfg  EncoderConfig
		err  error
		zero = 0
		tiny = 1e-6
	)
	if cfg.Pin, err = sec.GetIntWithBounds("pin", &zero, nil); err != nil {
		return cfg, err
	}
	if cfg.Tool, err = sec.GetIntWithBounds("tool", &zero, nil, 0); err != nil {
		return cfg, err
	}
	if cfg.MMPerPulse, err = sec.GetFloatWithBounds("mm_per_pulse", config.FloatBounds{MinVal: &tiny}, 1.0); err != nil {
		return cfg, err
	}
	if cfg.Debounce, err = sec.GetDuration("debounce", 2*time.Millisecond); err != nil {
		return cfg, err
	}
	edge, err := sec.GetChoice("edge", []string{"rising", "falling", "both"}, "rising")
	if err != nil {
		return cfg, err
	}
	cfg.Edge = Edge(edge)
	return cfg, nil
}

// EncoderSource turns encoder pulses into Delta samples.
type EncoderSource struct {
	cfg    EncoderConfig
	in     EdgeWaiter
	log    *log.Logger
	now    func() time.Time
	last   time.Time
	pulses uint64
}

// NewEncoderSource wraps an edge input.
func NewEncoderSource(in EdgeWaiter, cfg EncoderConfig) (*EncoderSource, error) {
	if cfg.MMPerPulse <= 0 {
		return nil, errors.ConfigValidationError(EncoderSection, "mm_per_pulse",
			fmt.Sprintf("must be positive, got %v", cfg.MMPerPulse))
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 200 * time.Millisecond
	}
	return &EncoderSource{
		cfg: cfg,
		in:  in,
		log: log.GetLogger("sensor").With(log.Fields{"tool": cfg.Tool}),
		now: time.Now,
	}, nil
}

// Pulses returns the number of accepted edges.
func (e *EncoderSource) Pulses() uint64 { return e.pulses }

// Run waits for edges until ctx is done and hands one sample per accepted
// edge to sink. A failing input ends Run with a SENSOR_UNAVAILABLE error;
// sink errors are logged and skipped.
func (e *EncoderSource) Run(ctx context.Context, sink func(Sample) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, ok, err := e.in.Wait(e.cfg.PollTimeout)
		if err != nil {
			return errors.SensorUnavailableError(fmt.Sprintf("gpio%d", e.cfg.Pin), err)
		}
		if !ok {
			continue
		}
		t := e.now()
		if e.cfg.Debounce > 0 && !e.last.IsZero() && t.Sub(e.last) < e.cfg.Debounce {
			continue
		}
		e.last = t
		e.pulses++
		if err := sink(Sample{Tool: e.cfg.Tool, Value: e.cfg.MMPerPulse, Kind: Delta, Time: t}); err != nil {
			e.log.WithError(err).Warn("sample rejected")
		}
	}
}
