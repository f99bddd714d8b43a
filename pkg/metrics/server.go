// Prometheus scrape endpoint with liveness and readiness checks
//
// /metrics renders the filament metrics, /health reports what the jam guard
// is doing right now and /ready tells an orchestrator whether the service
// is connected enough to protect a print.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Gatherer renders metrics in Prometheus text format.
type Gatherer interface {
	Gather() string
}

// Health is the guard summary served on /health.
type Health struct {
	State      string `json:"state"`
	Tracking   bool   `json:"tracking"`
	Jammed     bool   `json:"jammed"`
	ActiveTool int    `json:"active_tool"`
	JobID      string `json:"job_id,omitempty"`
	// HostClients is the number of connected host link clients.
	HostClients int `json:"host_clients"`
}

// ServerConfig configures the metrics server.
type ServerConfig struct {
	// Addr to listen on, e.g. ":9130".
	Addr string

	// Optional basic auth for /metrics.
	Username string
	Password string

	// Health is polled for each /health request. Optional.
	Health func() Health

	// Ready returns nil once the service can pause a print. Optional; a
	// server without it is ready as soon as it listens.
	Ready func() error
}

// Server serves the metrics and health endpoints.
type Server struct {
	cfg     ServerConfig
	source  Gatherer
	http    *http.Server
	serving atomic.Bool
	started atomic.Int64 // unix nanos
}

// NewServer creates a server for source. The zero Addr means ":9130".
func NewServer(source Gatherer, cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9130"
	}
	s := &Server{cfg: cfg, source: source}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes without listening.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	return mux
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.started.Store(time.Now().UnixNano())
	s.serving.Store(true)
	defer s.serving.Store(false)
	if err := s.http.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ListenAndServe binds cfg.Addr and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops the listener and waits for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serving.Store(false)
	return s.http.Shutdown(ctx)
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) uptime() time.Duration {
	if !s.serving.Load() {
		return 0
	}
	return time.Since(time.Unix(0, s.started.Load()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="Disaster Manager"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := s.source.Gather()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodHead {
		return
	}
	w.Write([]byte(body))
}

// authorized checks basic auth when credentials are configured.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1
	return userOK && passOK
}

// handleHealth is the liveness check; it answers 200 whenever the process
// can serve, with the guard summary when one is wired.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptime_seconds"`
		Guard  *Health `json:"guard,omitempty"`
	}{Status: "ok", Uptime: s.uptime().Seconds()}
	if s.cfg.Health != nil {
		h := s.cfg.Health()
		resp.Guard = &h
		if h.Jammed {
			resp.Status = "jammed"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReady answers 503 until the server listens and the Ready check
// passes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var reason string
	switch {
	case !s.serving.Load():
		reason = "metrics listener not started"
	case s.cfg.Ready != nil:
		if err := s.cfg.Ready(); err != nil {
			reason = err.Error()
		}
	}
	if reason != "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
