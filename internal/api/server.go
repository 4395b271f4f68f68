// Package api implements the HTTP surface the UI collaborator consumes:
// status and tool snapshots, lifecycle controls, the fan-out search,
// and a WebSocket stream of manager events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"spyglass/internal/buildinfo"
	"spyglass/internal/events"
	"spyglass/internal/manager"
	"spyglass/internal/sources"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	mgr     *manager.Manager
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the API server. Events published on bus are
// relayed to WebSocket subscribers of /v1/events.
func NewServer(address string, port int, mgr *manager.Manager, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		mgr:     mgr,
		bus:     bus,
		logger:  logger,
	}
}

// routes builds the request mux. Split out so tests can drive the
// handlers through httptest without binding a port.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/search", s.handleSearch)

	mux.HandleFunc("POST /v1/sources/{kind}/start", s.handleStart)
	mux.HandleFunc("POST /v1/sources/{kind}/stop", s.handleStop)
	mux.HandleFunc("POST /v1/sources/{kind}/tools/{tool}", s.handleCallTool)

	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.withLogging(s.routes()),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: /v1/events holds its connection open.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// parseKind resolves the {kind} path segment, writing a 404 on failure.
func (s *Server) parseKind(w http.ResponseWriter, r *http.Request) (sources.Kind, bool) {
	kind, err := sources.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.mgr.Statuses(), s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.mgr.Tools(), s.logger)
}

// searchResponse is the envelope for /v1/search.
type searchResponse struct {
	RequestID string           `json:"request_id"`
	Query     string           `json:"query"`
	Results   []sources.Result `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	results, err := s.mgr.SearchAcrossSources(r.Context(), query)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []sources.Result{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, searchResponse{
		RequestID: uuid.NewString(),
		Query:     query,
		Results:   results,
	}, s.logger)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.parseKind(w, r)
	if !ok {
		return
	}

	if err := s.mgr.StartServer(r.Context(), kind); err != nil {
		// The status already records the failure; surface it too.
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.mgr.Status(kind), s.logger)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.parseKind(w, r)
	if !ok {
		return
	}

	if err := s.mgr.StopServer(r.Context(), kind); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.mgr.Status(kind), s.logger)
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.parseKind(w, r)
	if !ok {
		return
	}
	tool := r.PathValue("tool")

	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("decode arguments: %v", err))
		return
	}

	result, err := s.mgr.CallTool(r.Context(), kind, tool, args)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "ok", "uptime": buildinfo.Uptime().String()}, s.logger)
}
