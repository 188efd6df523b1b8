package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"entropic/internal/allocator"
	"entropic/internal/config"
	"entropic/internal/db"
	"entropic/internal/engine"
)

// Server is the HTTP API server that connects the allocator, the analytics
// engine, and the database.
type Server struct {
	cfg *config.Config
	db  *db.DB
	mu  sync.RWMutex

	// Frontier sweep cache (TTL 5 min): the sweep runs dozens of solver
	// invocations, and UIs tend to re-request it on every tab switch.
	frontierCacheMu   sync.RWMutex
	frontierCache     []engine.FrontierPoint
	frontierCacheKey  string
	frontierCacheTime time.Time
}

const frontierCacheTTL = 5 * time.Minute

// NewServer creates a Server with the given config and database.
// database may be nil, which disables the history endpoints.
func NewServer(cfg *config.Config, database *db.DB) *Server {
	return &Server{cfg: cfg, db: database}
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleSetConfig)
	mux.HandleFunc("POST /api/allocate", s.handleAllocate)
	mux.HandleFunc("POST /api/allocate/frontier", s.handleFrontier)
	mux.HandleFunc("POST /api/allocate/compare", s.handleCompare)
	mux.HandleFunc("GET /api/history", s.handleGetHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleGetHistoryByID)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	mux.HandleFunc("POST /api/history/clear", s.handleClearHistory)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeAllocatorError maps allocator failures onto HTTP status codes:
// rejected input is the caller's fault, non-convergence is not.
func writeAllocatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, allocator.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, allocator.ErrNotConverged):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// newAllocator builds a fresh solver instance from the current config.
// One instance per request keeps calls independent under concurrency.
func (s *Server) newAllocator() *allocator.Allocator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &allocator.Allocator{
		Floor:         s.cfg.Floor,
		MaxIterations: s.cfg.MaxIterations,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result := map[string]interface{}{
		"ok":      true,
		"history": s.db != nil,
	}
	if s.db != nil {
		result["runs"] = s.db.CountRuns()
	}
	writeJSON(w, result)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, s.cfg)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, 400, "invalid json")
		return
	}

	s.mu.Lock()
	if v, ok := patch["floor"]; ok {
		json.Unmarshal(v, &s.cfg.Floor)
	}
	if v, ok := patch["max_iterations"]; ok {
		json.Unmarshal(v, &s.cfg.MaxIterations)
	}
	if v, ok := patch["frontier_points"]; ok {
		json.Unmarshal(v, &s.cfg.FrontierPoints)
	}
	if v, ok := patch["history_limit"]; ok {
		json.Unmarshal(v, &s.cfg.HistoryLimit)
	}
	if v, ok := patch["suggestion_threshold_pct"]; ok {
		json.Unmarshal(v, &s.cfg.SuggestionThresholdPct)
	}

	// Validate bounds
	if s.cfg.Floor <= 0 || s.cfg.Floor > 0.1 {
		s.cfg.Floor = config.Default().Floor
	}
	if s.cfg.MaxIterations < 1 {
		s.cfg.MaxIterations = 1
	} else if s.cfg.MaxIterations > 100000 {
		s.cfg.MaxIterations = 100000
	}
	if s.cfg.FrontierPoints < 2 {
		s.cfg.FrontierPoints = 2
	} else if s.cfg.FrontierPoints > 200 {
		s.cfg.FrontierPoints = 200
	}
	if s.cfg.HistoryLimit < 1 {
		s.cfg.HistoryLimit = 1
	} else if s.cfg.HistoryLimit > 1000 {
		s.cfg.HistoryLimit = 1000
	}
	if s.cfg.SuggestionThresholdPct < 0 {
		s.cfg.SuggestionThresholdPct = 0
	} else if s.cfg.SuggestionThresholdPct > 100 {
		s.cfg.SuggestionThresholdPct = 100
	}
	cfg := *s.cfg
	s.mu.Unlock()

	if s.db != nil {
		s.db.SaveConfig(&cfg)
	}
	// Solver settings changed; cached sweeps no longer reflect them.
	s.frontierCacheMu.Lock()
	s.frontierCache = nil
	s.frontierCacheKey = ""
	s.frontierCacheMu.Unlock()

	writeJSON(w, &cfg)
}

type allocateRequest struct {
	ExpectedReturns []float64 `json:"expected_returns"`
	Label           string    `json:"label"`
	Save            bool      `json:"save"`
}

type allocateResponse struct {
	*engine.AllocationReport
	RunID      int64 `json:"run_id,omitempty"`
	DurationMs int64 `json:"duration_ms"`
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}

	start := time.Now()
	weights, err := s.newAllocator().Allocate(req.ExpectedReturns)
	if err != nil {
		writeAllocatorError(w, err)
		return
	}
	durationMs := time.Since(start).Milliseconds()

	report := engine.Analyze(req.ExpectedReturns, weights)
	resp := allocateResponse{AllocationReport: report, DurationMs: durationMs}

	if req.Save && s.db != nil {
		runID := s.db.InsertRun(req.Label, len(weights), report.Entropy, report.PortfolioReturn, durationMs, req)
		s.db.InsertWeights(runID, req.ExpectedReturns, weights)
		resp.RunID = runID
	}

	writeJSON(w, resp)
}

type frontierRequest struct {
	ExpectedReturns []float64 `json:"expected_returns"`
	Points          int       `json:"points"`
}

func (s *Server) handleFrontier(w http.ResponseWriter, r *http.Request) {
	var req frontierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}

	points := req.Points
	if points <= 0 {
		s.mu.RLock()
		points = s.cfg.FrontierPoints
		s.mu.RUnlock()
	}

	cacheKey := fmt.Sprintf("%v_%d", req.ExpectedReturns, points)
	s.frontierCacheMu.RLock()
	if s.frontierCacheKey == cacheKey && time.Since(s.frontierCacheTime) < frontierCacheTTL {
		cached := s.frontierCache
		s.frontierCacheMu.RUnlock()
		writeJSON(w, map[string]interface{}{"points": cached, "cached": true})
		return
	}
	s.frontierCacheMu.RUnlock()

	frontier, err := engine.ComputeFrontier(r.Context(), s.newAllocator(), req.ExpectedReturns, points)
	if err != nil {
		writeAllocatorError(w, err)
		return
	}

	s.frontierCacheMu.Lock()
	s.frontierCache = frontier
	s.frontierCacheKey = cacheKey
	s.frontierCacheTime = time.Now()
	s.frontierCacheMu.Unlock()

	writeJSON(w, map[string]interface{}{"points": frontier, "cached": false})
}

type compareRequest struct {
	ExpectedReturns []float64 `json:"expected_returns"`
	CurrentWeights  []float64 `json:"current_weights"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if len(req.CurrentWeights) != len(req.ExpectedReturns) {
		writeError(w, 400, fmt.Sprintf("current_weights has %d entries, expected_returns has %d", len(req.CurrentWeights), len(req.ExpectedReturns)))
		return
	}
	sum := 0.0
	for _, v := range req.CurrentWeights {
		if v < 0 {
			writeError(w, 400, "current_weights must be non-negative")
			return
		}
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		writeError(w, 400, fmt.Sprintf("current_weights sum to %g, want 1", sum))
		return
	}

	weights, err := s.newAllocator().Allocate(req.ExpectedReturns)
	if err != nil {
		writeAllocatorError(w, err)
		return
	}

	report := engine.Analyze(req.ExpectedReturns, weights)
	s.mu.RLock()
	threshold := s.cfg.SuggestionThresholdPct
	s.mu.RUnlock()

	writeJSON(w, map[string]interface{}{
		"report":      report,
		"suggestions": engine.Suggestions(report, req.CurrentWeights, threshold),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, 503, "history not available")
		return
	}
	s.mu.RLock()
	limit := s.cfg.HistoryLimit
	s.mu.RUnlock()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, s.db.GetRuns(limit))
}

func (s *Server) handleGetHistoryByID(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, 503, "history not available")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid id")
		return
	}
	record := s.db.GetRunByID(id)
	if record == nil {
		writeError(w, 404, "run not found")
		return
	}
	mu, weights := s.db.GetWeights(id)
	writeJSON(w, map[string]interface{}{
		"run":              record,
		"expected_returns": mu,
		"weights":          weights,
	})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, 503, "history not available")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid id")
		return
	}
	if err := s.db.DeleteRun(id); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, 503, "history not available")
		return
	}
	var req struct {
		OlderThanDays int `json:"older_than_days"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	removed, err := s.db.ClearRuns(req.OlderThanDays)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"removed": removed})
}
