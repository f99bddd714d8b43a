// Package hostlink exposes the odometer to a print host over JSON-RPC 2.0,
// on a WebSocket or plain HTTP POST. The host reports sent G-code, printer
// state changes and sensor samples; the server pushes pause requests and
// status updates back.
package hostlink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"disaster-manager-go/pkg/config"
	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/gcode"
	"disaster-manager-go/pkg/guard"
	"disaster-manager-go/pkg/history"
	"disaster-manager-go/pkg/log"
	"disaster-manager-go/pkg/sensor"
)

// Version is reported by server.info.
const Version = "0.3.0"

// Controller is the odometer side of the link. *guard.Controller implements
// it.
type Controller interface {
	HandleGCode(cmd gcode.Command) (guard.Outcome, error)
	HandleStateChange(stateID, stateString string)
	HandleSensorSample(s sensor.Sample) (bool, error)
	ApplySettings(s config.Settings) error
	Settings() config.Settings
	Status() guard.Status
	Reset()
}

// HistoryReader serves the history endpoints. *history.Store implements it.
type HistoryReader interface {
	ListJobs(ctx context.Context, limit int) ([]history.Job, error)
	Totals(ctx context.Context) (history.Totals, error)
}

// Config holds server configuration.
type Config struct {
	// HTTP address to listen on (e.g., ":7130")
	Addr string

	Controller Controller

	// History is optional; without it the history endpoints return 404.
	History HistoryReader

	Logger *log.Logger

	// StatusInterval is the notify_status_update period. Default 250ms.
	StatusInterval time.Duration
}

// Server is the host link API server.
type Server struct {
	ctrl    Controller
	history HistoryReader
	log     *log.Logger

	httpServer *http.Server
	addr       string
	interval   time.Duration

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// clients that asked for status updates
	subscriptions map[int64]struct{}
	subMu         sync.RWMutex

	running   atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	startTime time.Time
}

// New creates a host link server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.GetLogger("hostlink")
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 250 * time.Millisecond
	}
	s := &Server{
		ctrl:          cfg.Controller,
		history:       cfg.History,
		log:           cfg.Logger,
		addr:          cfg.Addr,
		interval:      cfg.StatusInterval,
		wsClients:     make(map[int64]*WSClient),
		subscriptions: make(map[int64]struct{}),
		stop:          make(chan struct{}),
		startTime:     time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		// the host plugin connects from the same machine or LAN
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/odometer/status", s.handleStatus)
	mux.HandleFunc("/history/jobs", s.handleHistoryJobs)
	mux.HandleFunc("/history/totals", s.handleHistoryTotals)
	return corsMiddleware(mux)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running.Store(true)
	s.log.Info("host link listening on %s", s.addr)

	go s.statusBroadcastLoop()

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop closes every client and the listener.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.stop) })

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Running reports whether Start is serving.
func (s *Server) Running() bool { return s.running.Load() }

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	return len(s.wsClients)
}

// RequestPause implements guard.PauseSink by sending notify_pause_request
// to every connected client.
func (s *Server) RequestPause(ctx context.Context, req guard.PauseRequest) error {
	n := s.broadcast(notification{
		JSONRPC: "2.0",
		Method:  "notify_pause_request",
		Params:  []any{req},
	})
	if n == 0 {
		return errors.RuntimeError("no host connected to receive pause request").
			SetContext("episode", req.EpisodeID)
	}
	s.log.WithFields(log.Fields{"episode": req.EpisodeID, "clients": n}).Info("pause request sent")
	return nil
}

func (s *Server) broadcast(msg any) int {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, c := range s.wsClients {
		c.Send(msg)
	}
	return len(s.wsClients)
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// rpcError carries a JSON-RPC error code through dispatch.
type rpcError struct {
	code int
	err  error
}

func (e *rpcError) Error() string { return e.err.Error() }
func (e *rpcError) Unwrap() error { return e.err }

func invalidParams(format string, args ...any) error {
	return &rpcError{code: codeInvalidParams, err: fmt.Errorf(format, args...)}
}

func toRPCError(err error) *jsonRPCError {
	out := &jsonRPCError{Code: codeServerError, Message: err.Error()}
	if re, ok := err.(*rpcError); ok {
		out.Code = re.code
	}
	if code := errors.CodeOf(err); code != "" {
		out.Data = map[string]any{"code": code}
	}
	return out
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: codeParseError, Message: "Parse error"}})
		return
	}

	result, err := s.dispatchMethod(req.Method, req.Params, nil)
	if err != nil {
		writeJSON(w, http.StatusOK, jsonRPCResponse{JSONRPC: "2.0", Error: toRPCError(err), ID: req.ID})
		return
	}
	writeJSON(w, http.StatusOK, jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// dispatchMethod routes a method call to the appropriate handler. client is
// nil for HTTP requests.
func (s *Server) dispatchMethod(method string, params json.RawMessage, client *WSClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo(), nil
	case "server.connection.identify":
		return s.methodIdentify(params, client)
	case "gcode.sent":
		return s.methodGCodeSent(params)
	case "printer.state_changed":
		return s.methodStateChanged(params)
	case "sensor.sample":
		return s.methodSensorSample(params)
	case "odometer.status":
		return s.ctrl.Status(), nil
	case "odometer.reset":
		s.ctrl.Reset()
		return s.ctrl.Status(), nil
	case "odometer.subscribe":
		return s.methodSubscribe(client)
	case "settings.update":
		return s.methodSettingsUpdate(params)
	}
	return nil, &rpcError{code: codeMethodNotFound, err: fmt.Errorf("method not found: %s", method)}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return invalidParams("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("bad params: %v", err)
	}
	return nil
}

func (s *Server) methodServerInfo() map[string]any {
	hostname, _ := os.Hostname()
	return map[string]any{
		"version":         Version,
		"hostname":        hostname,
		"websocket_count": s.ClientCount(),
		"uptime":          time.Since(s.startTime).Seconds(),
	}
}

func (s *Server) methodIdentify(raw json.RawMessage, client *WSClient) (any, error) {
	var p struct {
		ClientName string `json:"client_name"`
		Version    string `json:"version"`
	}
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}
	if p.ClientName == "" {
		p.ClientName = "unknown"
	}
	var id int64
	if client != nil {
		id = client.id
		client.setName(p.ClientName)
	}
	s.log.WithFields(log.Fields{"client": p.ClientName, "version": p.Version, "id": id}).Info("client identified")
	return map[string]any{"connection_id": id}, nil
}

type gcodeParams struct {
	Line    string         `json:"line"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

func (p gcodeParams) command() (gcode.Command, bool, error) {
	if p.Line != "" {
		cmd, ok := gcode.ParseLine(p.Line)
		return cmd, ok, nil
	}
	if p.Command == "" {
		return gcode.Command{}, false, invalidParams("need line or command")
	}
	args := make(map[string]string, len(p.Params))
	for k, v := range p.Params {
		switch v := v.(type) {
		case string:
			args[k] = v
		case float64:
			args[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			args[k] = ""
		default:
			args[k] = fmt.Sprint(v)
		}
	}
	return gcode.New(p.Command, args), true, nil
}

func (s *Server) methodGCodeSent(raw json.RawMessage) (any, error) {
	var p gcodeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	cmd, ok, err := p.command()
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"tracked": false, "effect": "none"}, nil
	}
	out, err := s.ctrl.HandleGCode(cmd)
	if err != nil {
		return nil, err
	}
	res := map[string]any{
		"tracked": out.Tracked,
		"effect":  out.Effect.Kind.String(),
		"tool":    out.Effect.Tool,
		"delta":   out.Effect.Delta,
		"mode":    out.Effect.Mode.String(),
	}
	if out.Check != nil {
		res["movement"] = out.Check.Status.String()
		res["drift"] = out.Check.Drift
	}
	if out.Pause != nil {
		res["pause"] = out.Pause
	}
	return res, nil
}

func (s *Server) methodStateChanged(raw json.RawMessage) (any, error) {
	var p struct {
		StateID     string `json:"state_id"`
		StateString string `json:"state_string"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.StateID == "" {
		return nil, invalidParams("missing state_id")
	}
	s.ctrl.HandleStateChange(p.StateID, p.StateString)
	return s.ctrl.Status(), nil
}

func (s *Server) methodSensorSample(raw json.RawMessage) (any, error) {
	var p struct {
		Tool  int     `json:"tool"`
		Value float64 `json:"value"`
		Mode  string  `json:"mode"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	kind, err := sensor.ParseKind(p.Mode)
	if err != nil {
		return nil, &rpcError{code: codeInvalidParams, err: err}
	}
	applied, err := s.ctrl.HandleSensorSample(sensor.Sample{Tool: p.Tool, Value: p.Value, Kind: kind, Time: time.Now()})
	if err != nil {
		return nil, err
	}
	return map[string]any{"recorded": applied}, nil
}

// settingsPatch overlays the running settings; absent keys keep their value.
type settingsPatch struct {
	EnableFilamentCounter *bool    `json:"enable_filament_counter"`
	G90ExtruderCompat     *bool    `json:"g90_extruder_compat"`
	PauseOnJam            *bool    `json:"pause_on_jam"`
	JamThresholdMM        *float64 `json:"jam_threshold_mm"`
	ToolCount             *int     `json:"tool_count"`
	SensorTimeout         *float64 `json:"sensor_timeout"` // seconds
}

func (p settingsPatch) apply(s config.Settings) config.Settings {
	if p.EnableFilamentCounter != nil {
		s.EnableFilamentCounter = *p.EnableFilamentCounter
	}
	if p.G90ExtruderCompat != nil {
		s.G90ExtruderCompat = *p.G90ExtruderCompat
	}
	if p.PauseOnJam != nil {
		s.PauseOnJam = *p.PauseOnJam
	}
	if p.JamThresholdMM != nil {
		s.JamThresholdMM = *p.JamThresholdMM
	}
	if p.ToolCount != nil {
		s.ToolCount = *p.ToolCount
	}
	if p.SensorTimeout != nil {
		s.SensorTimeout = time.Duration(*p.SensorTimeout * float64(time.Second))
	}
	return s
}

func (s *Server) methodSettingsUpdate(raw json.RawMessage) (any, error) {
	var p settingsPatch
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	next := p.apply(s.ctrl.Settings())
	if err := s.ctrl.ApplySettings(next); err != nil {
		return nil, err
	}
	s.log.Info("settings updated by host")
	return s.ctrl.Settings(), nil
}

func (s *Server) methodSubscribe(client *WSClient) (any, error) {
	if client == nil {
		return nil, fmt.Errorf("subscription requires WebSocket connection")
	}
	s.subMu.Lock()
	s.subscriptions[client.id] = struct{}{}
	s.subMu.Unlock()
	return s.ctrl.Status(), nil
}

// REST endpoint handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"result": s.methodServerInfo()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": s.ctrl.Status()})
}

func (s *Server) handleHistoryJobs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", l))
			return
		}
		limit = n
	}
	jobs, err := s.history.ListJobs(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []history.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"count": len(jobs), "jobs": jobs}})
}

func (s *Server) handleHistoryTotals(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	totals, err := s.history.Totals(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"job_totals": totals}})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": toRPCError(err)})
}

// statusBroadcastLoop pushes status to subscribed clients until Stop.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.broadcastStatusUpdates()
		}
	}
}

func (s *Server) broadcastStatusUpdates() {
	s.subMu.RLock()
	ids := make([]int64, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	s.subMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	msg := notification{
		JSONRPC: "2.0",
		Method:  "notify_status_update",
		Params:  []any{s.ctrl.Status(), time.Since(s.startTime).Seconds()},
	}
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, id := range ids {
		if client, ok := s.wsClients[id]; ok {
			client.Send(msg)
		}
	}
}
