package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fluxvault/fluxd/internal/flux"
	"github.com/fluxvault/fluxd/internal/logger"
	"github.com/fluxvault/fluxd/internal/state"
	"github.com/fluxvault/fluxd/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// PlanExecutor runs a validated rebalance plan. The daemon implements this;
// the server never talks to the manager's rebalance path directly.
type PlanExecutor interface {
	ExecutePlan(plan types.RebalancePlan) (types.RebalanceSnapshot, error)
}

// Server exposes the operator API: manager status, tracked positions, audit
// history and plan submission.
type Server struct {
	router   *mux.Router
	addr     string
	manager  *flux.Manager
	executor PlanExecutor
}

// NewServer creates the operator API server.
func NewServer(addr string, manager *flux.Manager, executor PlanExecutor) *Server {
	if addr == "" {
		addr = ":8080"
	}

	server := &Server{
		router:   mux.NewRouter(),
		addr:     addr,
		manager:  manager,
		executor: executor,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/snapshots", s.handleSnapshots).Methods("GET")
	api.HandleFunc("/reviews", s.handleReviews).Methods("GET")
	api.HandleFunc("/rebalance", s.handleRebalance).Methods("POST")

	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// Start starts the web server. Blocks until the listener fails.
func (s *Server) Start() error {
	webLogger.Info().Str("addr", s.addr).Msg("Starting web server")

	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := true
	if state.DB == nil || state.DB.Ping() != nil {
		dbHealthy = false
	}

	status := http.StatusOK
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSONResponse(w, status, map[string]interface{}{
		"status":    map[bool]string{true: "ok", false: "degraded"}[dbHealthy],
		"database":  dbHealthy,
		"paused":    s.manager.IsPaused(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"paused":         s.manager.IsPaused(),
		"metric":         s.manager.Metric().String(),
		"high_watermark": s.manager.HighWatermark().String(),
		"pending_fee":    s.manager.PendingFee().String(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"positions": s.manager.TrackedPositions(),
	})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	snapshots, err := state.GetRecentRebalanceSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to load rebalance snapshots")
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
	})
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	reviews, err := state.GetRecentPerformanceReviews(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to load performance reviews")
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to load reviews")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"reviews": reviews,
	})
}

// handleRebalance accepts a JSON rebalance plan and hands it to the executor.
// The response carries the persisted snapshot, failed batches included.
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "plan execution is not enabled")
		return
	}

	var plan types.RebalancePlan
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&plan); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid plan payload: "+err.Error())
		return
	}
	if len(plan.Actions) == 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "plan contains no actions")
		return
	}

	snapshot, err := s.executor.ExecutePlan(plan)
	if err != nil {
		webLogger.Error().Err(err).Msg("Plan execution failed")
		s.writeJSONResponse(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    err.Error(),
			"snapshot": snapshot,
		})
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"snapshot": snapshot,
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, map[string]string{"error": message})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
