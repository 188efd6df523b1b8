package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"entropic/internal/config"
	"entropic/internal/engine"
)

// History endpoints are backed by internal/db and covered there; with a nil
// database they must answer 503 rather than panic.

func newTestServer() *Server {
	return NewServer(config.Default(), nil)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleGetConfig_ReturnsConfig(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/config status = %d, want 200", rec.Code)
	}
	var out config.Config
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if out.MaxIterations != 500 || out.Floor != 1e-4 {
		t.Errorf("config = %+v", out)
	}
}

func TestHandleSetConfig_PatchAndClamp(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/config", `{"max_iterations": 800, "frontier_points": 1, "floor": -2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/config status = %d, want 200", rec.Code)
	}
	var out config.Config
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if out.MaxIterations != 800 {
		t.Errorf("MaxIterations = %d, want 800", out.MaxIterations)
	}
	if out.FrontierPoints != 2 {
		t.Errorf("FrontierPoints = %d, want clamped to 2", out.FrontierPoints)
	}
	if out.Floor != 1e-4 {
		t.Errorf("Floor = %v, want reset to default for invalid input", out.Floor)
	}
}

func TestHandleAllocate_UniformReturns(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/allocate", `{"expected_returns": [2, 2, 2, 2]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/allocate status = %d, body %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Weights         []float64 `json:"weights"`
		Entropy         float64   `json:"entropy"`
		PortfolioReturn float64   `json:"portfolio_return"`
		RunID           int64     `json:"run_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Weights) != 4 {
		t.Fatalf("len(weights) = %d, want 4", len(out.Weights))
	}
	sum := 0.0
	for i, w := range out.Weights {
		if math.Abs(w-0.25) > 1e-3 {
			t.Errorf("weight[%d] = %v, want 0.25", i, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("sum = %v, want 1", sum)
	}
	if math.Abs(out.PortfolioReturn-2) > 1e-3 {
		t.Errorf("portfolio_return = %v, want 2", out.PortfolioReturn)
	}
	if out.RunID != 0 {
		t.Errorf("run_id = %d, want 0 when not saving", out.RunID)
	}
}

func TestHandleAllocate_EmptyInputRejected(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/allocate", `{"expected_returns": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for empty returns", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/allocate", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid json", rec.Code)
	}
}

func TestHandleCompare_SuggestionsAndValidation(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/allocate/compare",
		`{"expected_returns": [0, 3], "current_weights": [0.5, 0.5]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Suggestions []engine.AllocationSuggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Suggestions) != 2 {
		t.Fatalf("len(suggestions) = %d, want 2", len(out.Suggestions))
	}
	// μ = [0, 3]: the optimum shifts weight to asset 1.
	if out.Suggestions[0].Action != "decrease" || out.Suggestions[0].Index != 0 {
		t.Errorf("suggestions[0] = %+v, want decrease for asset 0", out.Suggestions[0])
	}

	// Length mismatch.
	rec = doJSON(t, srv, http.MethodPost, "/api/allocate/compare",
		`{"expected_returns": [0, 3], "current_weights": [1]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for mismatched lengths", rec.Code)
	}

	// Weights off the simplex.
	rec = doJSON(t, srv, http.MethodPost, "/api/allocate/compare",
		`{"expected_returns": [0, 3], "current_weights": [0.9, 0.9]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for weights summing to 1.8", rec.Code)
	}
}

func TestHandleFrontier_PointsAndCache(t *testing.T) {
	srv := newTestServer()

	body := `{"expected_returns": [1, 2, 3], "points": 4}`
	rec := doJSON(t, srv, http.MethodPost, "/api/allocate/frontier", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Points []engine.FrontierPoint `json:"points"`
		Cached bool                   `json:"cached"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Points) < 2 {
		t.Errorf("len(points) = %d, want >= 2", len(out.Points))
	}
	if out.Cached {
		t.Error("first sweep reported cached")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/allocate/frontier", body)
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if !out.Cached {
		t.Error("identical sweep did not hit the cache")
	}
}

func TestHistoryEndpoints_NilDB(t *testing.T) {
	srv := newTestServer()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/history"},
		{http.MethodGet, "/api/history/1"},
		{http.MethodDelete, "/api/history/1"},
		{http.MethodPost, "/api/history/clear"},
	} {
		rec := doJSON(t, srv, tc.method, tc.path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want 503 with nil db", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/allocate", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 204 {
		t.Errorf("OPTIONS status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

func TestHandleStatus_OK(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["ok"] != true {
		t.Errorf("ok = %v, want true", out["ok"])
	}
	if out["history"] != false {
		t.Errorf("history = %v, want false with nil db", out["history"])
	}
}
