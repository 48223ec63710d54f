// Package api is the HTTP bridge: target inspection, ad-hoc query
// execution over the pipelined clients, health endpoints and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlwire/sqlwire/internal/client"
	"github.com/sqlwire/sqlwire/internal/config"
	"github.com/sqlwire/sqlwire/internal/health"
	"github.com/sqlwire/sqlwire/internal/metrics"
	"github.com/sqlwire/sqlwire/internal/registry"
)

// Server is the REST API and metrics server.
type Server struct {
	registry    *registry.Registry
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
}

// NewServer creates a new API server.
func NewServer(r *registry.Registry, hc *health.Checker, m *metrics.Collector, lc config.ListenConfig) *Server {
	return &Server{
		registry:    r,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		listenCfg:   lc,
	}
}

// routes builds the HTTP route table.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	// Targets
	r.HandleFunc("/targets", s.listTargets).Methods("GET")
	r.HandleFunc("/targets/{id}", s.getTarget).Methods("GET")
	r.HandleFunc("/targets/{id}/query", s.queryTarget).Methods("POST")
	r.HandleFunc("/targets/{id}/database", s.selectDatabase).Methods("POST")

	// Pause/Resume
	r.HandleFunc("/targets/{id}/pause", s.pauseTarget).Methods("POST")
	r.HandleFunc("/targets/{id}/resume", s.resumeTarget).Methods("POST")

	// Server status
	r.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// Start starts the HTTP API server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.listenCfg.APIBind, s.listenCfg.APIPort)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
	}

	log.Printf("[api] REST API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Target Handlers ---

type targetResponse struct {
	ID     string               `json:"id"`
	Config config.TargetConfig  `json:"config"`
	State  string               `json:"state,omitempty"`
	Health *health.TargetHealth `json:"health,omitempty"`
	Paused bool                 `json:"paused"`
}

func (s *Server) targetResponse(id string, tc config.TargetConfig) targetResponse {
	tr := targetResponse{
		ID:     id,
		Config: tc.Redacted(),
		Paused: s.registry.IsPaused(id),
	}
	h := s.healthCheck.GetStatus(id)
	tr.Health = &h
	return tr
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets := s.registry.List()

	result := make([]targetResponse, 0, len(targets))
	for id, tc := range targets {
		result = append(result, s.targetResponse(id, tc))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tc, err := s.registry.Resolve(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	writeJSON(w, http.StatusOK, s.targetResponse(id, tc))
}

// --- Query Handlers ---

type queryRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type queryResponse struct {
	AffectedRows uint64   `json:"affected_rows,omitempty"`
	LastInsertID uint64   `json:"last_insert_id,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	DurationMS   float64  `json:"duration_ms"`
}

func (s *Server) queryTarget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if s.registry.IsPaused(id) {
		writeError(w, http.StatusServiceUnavailable, "target is paused")
		return
	}

	cl, err := s.registry.Client(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, "sql is required")
		return
	}

	params := make([]any, len(req.Params))
	for i, p := range req.Params {
		params[i] = coerceParam(p)
	}

	start := time.Now()
	reply, err := cl.Submit(r.Context(), req.SQL, params...)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := queryResponse{DurationMS: float64(time.Since(start).Microseconds()) / 1000}
	if reply.Result != nil {
		resp.AffectedRows = reply.Result.AffectedRows
		resp.LastInsertID = reply.Result.LastInsertID
	}
	if reply.Resultset != nil {
		resp.Columns = columnNames(reply.Resultset)
		resp.Rows = reply.Resultset.Rows
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) selectDatabase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	cl, err := s.registry.Client(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	var req struct {
		Database string `json:"database"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Database == "" {
		writeError(w, http.StatusBadRequest, "database is required")
		return
	}

	if _, err := cl.SelectDatabase(r.Context(), req.Database); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": req.Database})
}

func columnNames(rs *client.Resultset) []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// coerceParam converts JSON values into wire-friendly parameter types:
// integral numbers become int64, everything else stays as decoded.
func coerceParam(v any) any {
	if num, ok := v.(json.Number); ok {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
		return num.String()
	}
	return v
}

// --- Pause/Resume Handlers ---

func (s *Server) pauseTarget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.registry.Pause(id) {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	log.Printf("[api] target %s paused", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused", "target": id})
}

func (s *Server) resumeTarget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.registry.Resume(id) {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	log.Printf("[api] target %s resumed", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "target": id})
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":  boolToStatus(allHealthy),
		"targets": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	// Ready if at least one target is healthy or there are no targets
	targets := s.registry.List()
	if len(targets) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for id := range targets {
		if s.healthCheck.IsHealthy(id) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status Handler ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()
	targets := s.registry.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_targets":    len(targets),
		"listen": map[string]interface{}{
			"api_bind": s.listenCfg.APIBind,
			"api_port": s.listenCfg.APIPort,
		},
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
