// Package server exposes the esgmap HTTP API: the mapping endpoint, corpus
// status, health probes, and the Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenledger/esgmap/internal/health"
	"github.com/greenledger/esgmap/internal/mapping"
	"github.com/greenledger/esgmap/internal/observe"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

// maxBodyBytes caps the request body size. Mapping inputs are report
// excerpts of at most a few thousand runes, so 1 MiB is generous.
const maxBodyBytes = 1 << 20

// Mapper is the slice of [mapping.Orchestrator] the server depends on.
type Mapper interface {
	Map(ctx context.Context, req mapping.Request) (*mapping.Response, error)
}

// StatsFunc reports corpus statistics for GET /v1/corpus/status. The server
// takes a function rather than an index type so that both the in-memory and
// the Postgres backend can serve the endpoint.
type StatsFunc func(ctx context.Context) (vecindex.Stats, error)

// Server assembles the HTTP API handlers. Construct with [New], then mount
// the result of [Server.Handler].
type Server struct {
	mapper  Mapper
	stats   StatsFunc
	health  *health.Handler
	metrics *observe.Metrics
}

// Option is a functional option for New.
type Option func(*Server)

// WithHealth registers /healthz and /readyz from the given handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics instance used by the HTTP middleware.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server over the given mapper and corpus stats source.
func New(mapper Mapper, stats StatsFunc, opts ...Option) *Server {
	s := &Server{
		mapper: mapper,
		stats:  stats,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the root handler with all routes mounted and the
// observability middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/map", s.handleMap)
	mux.HandleFunc("GET /v1/corpus/status", s.handleCorpusStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`

	// Violations lists the per-field constraint failures of a 400 response.
	Violations []string `json:"violations,omitempty"`
}

// handleMap serves POST /v1/map. Caller mistakes map to 400 with the full
// violation list, pipeline-down conditions to 503, everything else to 200.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	var req mapping.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	resp, err := s.mapper.Map(r.Context(), req)
	if err != nil {
		log := observe.Logger(r.Context())
		var verr *mapping.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:      "invalid request",
				Violations: verr.Violations,
			})
		case errors.Is(err, mapping.ErrMappingUnavailable):
			log.Error("mapping unavailable", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "mapping temporarily unavailable"})
		case r.Context().Err() != nil:
			// Client went away; nothing useful to write.
			log.Debug("mapping request cancelled", "err", err)
		default:
			log.Error("mapping failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCorpusStatus serves GET /v1/corpus/status with document count,
// embedding dimension, embedding model, and corpus version.
func (s *Server) handleCorpusStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("corpus status failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "corpus unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
