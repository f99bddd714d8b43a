// Package guard connects the odometer to the print host. It follows the
// printer lifecycle to decide when extrusion is tracked, runs the jam check
// and hands pause requests to the host without blocking the G-code path.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"disaster-manager-go/pkg/config"
	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/gcode"
	"disaster-manager-go/pkg/history"
	"disaster-manager-go/pkg/log"
	"disaster-manager-go/pkg/metrics"
	"disaster-manager-go/pkg/odometer"
	"disaster-manager-go/pkg/sensor"
)

// Host print states the controller reacts to. Anything else counts as
// "not printing".
const (
	StatePrinting    = "PRINTING"
	StatePaused      = "PAUSED"
	StateOperational = "OPERATIONAL"
)

// PauseRequest asks the host to pause the running print.
type PauseRequest struct {
	EpisodeID string    `json:"episode_id"`
	JobID     string    `json:"job_id,omitempty"`
	Tool      int       `json:"tool"`
	GCode     float64   `json:"gcode"`
	Sensor    float64   `json:"sensor"`
	Drift     float64   `json:"drift"`
	Threshold float64   `json:"threshold"`
	Time      time.Time `json:"time"`
}

// PauseSink delivers pause requests to the host.
type PauseSink interface {
	RequestPause(ctx context.Context, req PauseRequest) error
}

// PauseSinkFunc adapts a function to PauseSink.
type PauseSinkFunc func(ctx context.Context, req PauseRequest) error

func (f PauseSinkFunc) RequestPause(ctx context.Context, req PauseRequest) error {
	return f(ctx, req)
}

// Recorder persists jobs and jams. *history.Store implements it.
type Recorder interface {
	StartJob(ctx context.Context, tools int) (history.Job, error)
	FinishJob(ctx context.Context, id, status string, gcode, sensor []float64) error
	RecordJam(ctx context.Context, jobID string, jam history.Jam) error
}

// Options configure a Controller. Every field is optional.
type Options struct {
	Logger   *log.Logger
	Metrics  *metrics.FilamentMetrics
	Recorder Recorder
	// QueueSize is the pause channel capacity. Default 8.
	QueueSize int
	Now       func() time.Time
}

// Outcome describes what HandleGCode did with a command.
type Outcome struct {
	Tracked bool
	Effect  odometer.Effect
	// Check is set when the jam check ran.
	Check *odometer.JamCheck
	// Pause is set when this command raised a pause request.
	Pause *PauseRequest
}

// Controller owns the tracking switch and the jam latch.
type Controller struct {
	mu sync.Mutex
	// lifecycle orders state transitions, history calls included.
	lifecycle sync.Mutex

	odo      *odometer.Odometer
	settings config.Settings
	state    string
	tracking bool
	latched  bool
	episode  string
	jobID    string

	pauses   chan PauseRequest
	log      *log.Logger
	metrics  *metrics.FilamentMetrics
	recorder Recorder
	now      func() time.Time
}

// New creates a controller around odo. The odometer is brought in line with
// settings first.
func New(odo *odometer.Odometer, settings config.Settings, opts Options) (*Controller, error) {
	if opts.Logger == nil {
		opts.Logger = log.GetLogger("guard")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		odo:      odo,
		state:    StateOperational,
		pauses:   make(chan PauseRequest, opts.QueueSize),
		log:      opts.Logger,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		now:      opts.Now,
	}
	if err := c.ApplySettings(settings); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.SetPrintState(c.state)
		c.metrics.SetTracking(false)
		c.metrics.SetActiveTool(odo.GetCurrentTool())
	}
	return c, nil
}

// Odometer returns the wrapped odometer.
func (c *Controller) Odometer() *odometer.Odometer { return c.odo }

// Settings returns the settings in effect.
func (c *Controller) Settings() config.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// ApplySettings validates and applies new settings. On error the previous
// settings stay in effect. EnableFilamentCounter is read again at the next
// print start.
func (c *Controller) ApplySettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.odo.SetToolCount(s.ToolCount); err != nil {
		return err
	}
	c.odo.SetG90ExtruderCompat(s.G90ExtruderCompat)
	c.odo.SetSensorTimeout(s.SensorTimeout)
	c.settings = s
	c.log.WithFields(log.Fields{
		"tools":        s.ToolCount,
		"g90_compat":   s.G90ExtruderCompat,
		"pause_on_jam": s.PauseOnJam,
		"threshold_mm": s.JamThresholdMM,
	}).Debug("settings applied")
	return nil
}

// HandleStateChange follows a host print state transition.
func (c *Controller) HandleStateChange(stateID, stateString string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	prev := c.state
	if stateID == prev {
		c.mu.Unlock()
		return
	}
	c.state = stateID

	var (
		startJob      bool
		finishJob     string
		gcodeMM, sens []float64
	)
	if c.jobID != "" {
		gcodeMM, sens = c.odo.GetExtrusionGCode(), c.odo.GetExtrusionSensor()
	}
	switch {
	case stateID == StatePrinting && prev == StatePaused:
		c.odo.ResetExtrudedLength()
		c.clearLatch()
		c.tracking = c.settings.EnableFilamentCounter
	case stateID == StatePrinting:
		c.odo.Reset()
		c.clearLatch()
		c.tracking = c.settings.EnableFilamentCounter
		startJob = true
		finishJob = c.jobID
	case stateID == StatePaused:
		c.tracking = false
	default:
		c.tracking = false
		finishJob = c.jobID
	}
	if finishJob != "" {
		c.jobID = ""
	}
	tracking := c.tracking
	tools := c.settings.ToolCount
	c.mu.Unlock()

	c.log.WithFields(log.Fields{"from": prev, "to": stateID}).Debugf("printer state: %s", stateString)
	c.log.Debug("odometer: %s", onOff(tracking))
	if c.metrics != nil {
		c.metrics.SetPrintState(stateID)
		c.metrics.SetTracking(tracking)
	}

	// a new print while a job is open closes the old one first
	if finishJob != "" {
		c.finishJob(finishJob, jobStatus(stateID, startJob), gcodeMM, sens)
	}
	if startJob {
		c.startJob(tools)
	}
}

func (c *Controller) clearLatch() {
	c.latched = false
	c.episode = ""
}

func (c *Controller) startJob(tools int) {
	if c.recorder == nil {
		return
	}
	job, err := c.recorder.StartJob(context.Background(), tools)
	if err != nil {
		c.countError(err)
		c.log.WithError(err).Warn("history: start job failed")
		return
	}
	c.mu.Lock()
	c.jobID = job.ID
	c.mu.Unlock()
}

func (c *Controller) finishJob(id, status string, gcodeMM, sensorMM []float64) {
	if c.recorder == nil {
		return
	}
	err := c.recorder.FinishJob(context.Background(), id, status, gcodeMM, sensorMM)
	if err != nil {
		c.countError(err)
		c.log.WithError(err).Warn("history: finish job failed")
	}
}

// jobStatus maps the state that ended a job to a history status.
func jobStatus(state string, restarted bool) string {
	switch {
	case restarted:
		return history.StatusCancelled
	case state == StateOperational:
		return history.StatusCompleted
	case state == "CANCELLING" || state == "CANCELLED":
		return history.StatusCancelled
	}
	return history.StatusError
}

// HandleGCode feeds one sent command to the odometer while tracking is on.
// A rejected tool select is returned as an error; the stream goes on.
func (c *Controller) HandleGCode(cmd gcode.Command) (Outcome, error) {
	if c.metrics != nil {
		defer c.metrics.GCodeHandleDur.Timer(nil)()
		c.metrics.GCodeLine(cmd.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tracking {
		return Outcome{}, nil
	}
	out := Outcome{Tracked: true}
	eff, err := c.odo.Parse(cmd)
	out.Effect = eff
	if err != nil {
		c.countError(err)
		c.log.WithError(err).Warnf("rejected %s", cmd)
		return out, err
	}
	if c.metrics != nil {
		c.metrics.SetActiveTool(eff.Tool)
		c.metrics.ObserveTotals(c.odo.GetExtrusionGCode(), c.odo.GetExtrusionSensor())
	}

	if !c.settings.PauseOnJam || c.latched {
		return out, nil
	}
	check := c.odo.CheckFilamentMovement(c.settings.JamThresholdMM)
	out.Check = &check
	if check.Status != odometer.MovementStuck {
		return out, nil
	}
	out.Pause = c.raisePause(check)
	return out, nil
}

// raisePause latches the episode and queues a pause request. Caller holds mu.
func (c *Controller) raisePause(check odometer.JamCheck) *PauseRequest {
	c.latched = true
	c.episode = uuid.NewString()
	req := PauseRequest{
		EpisodeID: c.episode,
		JobID:     c.jobID,
		Tool:      check.Tool,
		GCode:     check.GCode,
		Sensor:    check.Sensor,
		Drift:     check.Drift,
		Threshold: check.Threshold,
		Time:      c.now(),
	}

	c.logDiagnostics()
	c.log.WithFields(log.Fields{
		"episode": req.EpisodeID,
		"tool":    req.Tool,
		"drift":   req.Drift,
	}).Info("filament stuck, pausing print")
	if c.metrics != nil {
		c.metrics.JamDetected(check.Tool)
	}

	select {
	case c.pauses <- req:
		if c.metrics != nil {
			c.metrics.PauseRequested()
		}
	default:
		c.countError(errors.RuntimeError("pause queue full"))
		c.log.WithField("episode", req.EpisodeID).Error("pause queue full, request dropped")
	}
	return &req
}

// ToolFigures is the per-tool gcode and sensor comparison.
type ToolFigures struct {
	Tool   int     `json:"tool"`
	GCode  float64 `json:"gcode"`
	Sensor float64 `json:"sensor"`
	Drift  float64 `json:"drift"`
}

// Diagnostics returns per-tool figures for min(tool count, len(gcode))
// tools.
func (c *Controller) Diagnostics() []ToolFigures {
	return figures(c.odo.ToolCount(), c.odo.GetExtrusionGCode(), c.odo.GetExtrusionSensor())
}

func figures(tools int, gcodeMM, sensorMM []float64) []ToolFigures {
	n := min(tools, len(gcodeMM))
	out := make([]ToolFigures, 0, n)
	for i := 0; i < n; i++ {
		f := ToolFigures{Tool: i, GCode: gcodeMM[i]}
		if i < len(sensorMM) {
			f.Sensor = sensorMM[i]
		}
		f.Drift = f.GCode - f.Sensor
		out = append(out, f)
	}
	return out
}

func (c *Controller) logDiagnostics() {
	for _, f := range c.Diagnostics() {
		c.log.Info("filament used based on gcode: %.2f mm (tool%d)", f.GCode, f.Tool)
		c.log.Info("filament used based on sensor: %.2f mm (tool%d)", f.Sensor, f.Tool)
	}
}

// HandleSensorSample records a sensor reading and reports whether it was
// applied. Samples are dropped while tracking is off so manual extrusion is
// not counted on either side.
func (c *Controller) HandleSensorSample(s sensor.Sample) (bool, error) {
	c.mu.Lock()
	tracking := c.tracking
	c.mu.Unlock()
	if !tracking {
		return false, nil
	}
	if err := c.odo.Record(s); err != nil {
		c.countError(err)
		return false, err
	}
	if c.metrics != nil {
		c.metrics.SensorSample(s.Tool)
		c.metrics.ObserveTotals(c.odo.GetExtrusionGCode(), c.odo.GetExtrusionSensor())
	}
	return true, nil
}

// Reset zeroes the odometer and clears the jam latch.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.odo.Reset()
	c.clearLatch()
	if c.metrics != nil {
		c.metrics.ObserveTotals(c.odo.GetExtrusionGCode(), c.odo.GetExtrusionSensor())
	}
}

// Status is a point-in-time view of the controller for the host link and
// the monitor.
type Status struct {
	State      string          `json:"state"`
	Tracking   bool            `json:"tracking"`
	ActiveTool int             `json:"active_tool"`
	Mode       string          `json:"mode"`
	Movement   string          `json:"movement"`
	Jammed     bool            `json:"jammed"`
	EpisodeID  string          `json:"episode_id,omitempty"`
	JobID      string          `json:"job_id,omitempty"`
	Tools      []ToolStatus    `json:"tools"`
	Settings   config.Settings `json:"settings"`
}

// ToolStatus is ToolFigures plus the time of the last sensor sample.
type ToolStatus struct {
	ToolFigures
	LastSample *time.Time `json:"last_sample,omitempty"`
}

// Status reports the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.odo.Snapshot()
	st := Status{
		State:      c.state,
		Tracking:   c.tracking,
		ActiveTool: snap.ActiveTool,
		Mode:       snap.Mode.String(),
		Movement:   c.odo.CheckFilamentMovement(c.settings.JamThresholdMM).Status.String(),
		Jammed:     c.latched,
		EpisodeID:  c.episode,
		JobID:      c.jobID,
		Settings:   c.settings,
	}
	for _, f := range figures(len(snap.GCodeExtrusion), snap.GCodeExtrusion, snap.SensorExtrusion) {
		ts := ToolStatus{ToolFigures: f}
		if i := f.Tool; i < len(snap.LastSample) && !snap.LastSample[i].IsZero() {
			t := snap.LastSample[i]
			ts.LastSample = &t
		}
		st.Tools = append(st.Tools, ts)
	}
	return st
}

// PauseRequests exposes the pause queue for callers that dispatch it
// themselves instead of using Run.
func (c *Controller) PauseRequests() <-chan PauseRequest { return c.pauses }

// Run dispatches queued pause requests to sink until ctx is done. Jams are
// written to history here, off the G-code path.
func (c *Controller) Run(ctx context.Context, sink PauseSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.pauses:
			c.dispatch(ctx, sink, req)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, sink PauseSink, req PauseRequest) {
	if c.recorder != nil && req.JobID != "" {
		jam := history.Jam{
			EpisodeID: req.EpisodeID,
			JobID:     req.JobID,
			Tool:      req.Tool,
			GCode:     req.GCode,
			Sensor:    req.Sensor,
			Drift:     req.Drift,
			Threshold: req.Threshold,
			Time:      req.Time,
		}
		if err := c.recorder.RecordJam(ctx, req.JobID, jam); err != nil {
			c.countError(err)
			c.log.WithError(err).Warn("history: record jam failed")
		}
	}
	if sink == nil {
		return
	}
	if err := sink.RequestPause(ctx, req); err != nil {
		c.countError(err)
		c.log.WithError(err).WithField("episode", req.EpisodeID).Error("pause request failed")
	}
}

func (c *Controller) countError(err error) {
	if c.metrics == nil {
		return
	}
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrRuntime
	}
	c.metrics.Error(string(code))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
