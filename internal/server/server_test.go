package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/AMOEBA/internal/config"
	"github.com/copyleftdev/AMOEBA/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{Environment: "test"}
	cfg.HTTP.Port = 8080
	cfg.Logging.Level = "error"
	cfg.Logging.Output = "stderr"
	cfg.Optimization.MaxIterations = 100000
	cfg.Optimization.Reflection = 1.0
	cfg.Optimization.Expansion = 2.0
	cfg.Optimization.Contraction = 0.5
	cfg.Optimization.Tolerance = 1e-8
	cfg.Optimization.Scale = 1.0
	return cfg
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()

	logger, err := logging.NewLogger(&logging.Config{Level: "error", Output: "stderr"})
	require.NoError(t, err)
	return logger
}

func testServer(t *testing.T) (*Server, chi.Router) {
	t.Helper()

	srv := NewServer(testConfig(t), testLogger(t), nil)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	t.Cleanup(func() { srv.Close() })
	return srv, r
}

// waitForTerminal polls the status endpoint until the job leaves the
// pending/running states.
func waitForTerminal(t *testing.T, r chi.Router, id string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status/"+id, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var status map[string]interface{}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))

		switch status["status"] {
		case StatusPending, StatusRunning:
			time.Sleep(10 * time.Millisecond)
		default:
			return status
		}
	}
	t.Fatalf("job %s did not finish in time", id)
	return nil
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), nil)
	assert.NotNil(t, srv)
	assert.NoError(t, srv.Close())
}

func TestRegisterRoutes(t *testing.T) {
	srv, r := testServer(t)

	// The status handler answers 404 for unknown job IDs, which would be
	// indistinguishable from a missing route. Seed a job so a 404 on its
	// status URL can only mean the route is gone.
	now := time.Now()
	srv.jobsMu.Lock()
	srv.jobs["opt_seeded"] = &JobState{
		ID:          "opt_seeded",
		Objective:   "sphere",
		Status:      StatusCompleted,
		StartTime:   now,
		LastUpdated: now,
	}
	srv.jobsMu.Unlock()

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{http.MethodPost, "/api/v1/optimize", true},
		{http.MethodGet, "/api/v1/status/opt_seeded", true},
		{http.MethodDelete, "/api/v1/optimization/123", true},
		{http.MethodGet, "/api/v1/objectives", true},
		{http.MethodPost, "/rpc", true},
		{http.MethodGet, "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewReader(nil))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if tt.shouldExist {
				assert.NotEqual(t, http.StatusNotFound, rr.Code)
			} else {
				assert.Equal(t, http.StatusNotFound, rr.Code)
			}
		})
	}
}

func TestOptimizeLifecycle(t *testing.T) {
	_, r := testServer(t)

	body := `{"objective": "sphere", "start": [3, 4], "tolerance": 1e-10, "scale": 1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimize", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted struct {
		OptimizationID string `json:"optimization_id"`
		Status         string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.OptimizationID)
	assert.Equal(t, StatusPending, accepted.Status)

	status := waitForTerminal(t, r, accepted.OptimizationID)
	assert.Equal(t, StatusCompleted, status["status"])
	assert.Equal(t, "sphere", status["objective"])

	result, ok := status["result"].(map[string]interface{})
	require.True(t, ok, "completed job must carry a result")
	assert.Less(t, result["min"].(float64), 1e-6)

	x, ok := result["x"].([]interface{})
	require.True(t, ok)
	require.Len(t, x, 2)
	assert.InDelta(t, 0.0, x[0].(float64), 1e-3)
	assert.InDelta(t, 0.0, x[1].(float64), 1e-3)
}

func TestOptimizeWithBounds(t *testing.T) {
	_, r := testServer(t)

	// The sphere minimum is at the origin; a [1, 2] box forces the
	// answer onto the lower corner.
	body := `{"objective": "sphere", "start": [1.5, 1.5], "bounds": [1, 2], "tolerance": 1e-12}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimize", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted struct {
		OptimizationID string `json:"optimization_id"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))

	status := waitForTerminal(t, r, accepted.OptimizationID)
	require.Equal(t, StatusCompleted, status["status"])

	result := status["result"].(map[string]interface{})
	x := result["x"].([]interface{})
	assert.InDelta(t, 1.0, x[0].(float64), 1e-3)
	assert.InDelta(t, 1.0, x[1].(float64), 1e-3)
}

func TestOptimizeRejectsBadRequests(t *testing.T) {
	_, r := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown objective", `{"objective": "nope", "start": [1, 1]}`},
		{"missing start", `{"objective": "sphere"}`},
		{"inverted bounds", `{"objective": "sphere", "start": [1], "bounds": [2, 1]}`},
		{"malformed json", `{"objective": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/optimize", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestStatusUnknownJob(t *testing.T) {
	_, r := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/opt_0", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancel(t *testing.T) {
	srv, r := testServer(t)

	// Cancelling a running job flips it to cancelled.
	now := time.Now()
	srv.jobsMu.Lock()
	srv.jobs["opt_running"] = &JobState{
		ID:          "opt_running",
		Objective:   "sphere",
		Status:      StatusRunning,
		StartTime:   now,
		LastUpdated: now,
	}
	srv.jobsMu.Unlock()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/optimization/opt_running", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	srv.jobsMu.RLock()
	assert.Equal(t, StatusCancelled, srv.jobs["opt_running"].Status)
	srv.jobsMu.RUnlock()

	// A second cancel is rejected: the job is already terminal.
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/optimization/opt_running", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Unknown jobs are rejected too.
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/optimization/opt_missing", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestJSONRPC(t *testing.T) {
	_, r := testServer(t)

	rpc := func(t *testing.T, body string) map[string]interface{} {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
		return response
	}

	t.Run("objectives.list", func(t *testing.T) {
		response := rpc(t, `{"jsonrpc": "2.0", "id": 1, "method": "objectives.list"}`)
		result := response["result"].(map[string]interface{})
		assert.Len(t, result["objectives"], 3)
	})

	t.Run("start and status", func(t *testing.T) {
		response := rpc(t, `{
			"jsonrpc": "2.0", "id": 2, "method": "optimization.start",
			"params": {"objective": "curve_distance", "start": [1, 1], "tolerance": 1e-6}
		}`)
		require.Nil(t, response["error"], "unexpected error: %v", response["error"])

		result := response["result"].(map[string]interface{})
		id := result["optimization_id"].(string)
		require.NotEmpty(t, id)

		status := waitForTerminal(t, r, id)
		assert.Equal(t, StatusCompleted, status["status"])

		rpcStatus := rpc(t, fmt.Sprintf(`{
			"jsonrpc": "2.0", "id": 3, "method": "optimization.status",
			"params": [{"optimization_id": %q}]
		}`, id))
		statusResult := rpcStatus["result"].(map[string]interface{})
		assert.Equal(t, StatusCompleted, statusResult["status"])
	})

	t.Run("invalid version", func(t *testing.T) {
		response := rpc(t, `{"jsonrpc": "1.0", "id": 4, "method": "objectives.list"}`)
		errObj := response["error"].(map[string]interface{})
		assert.Equal(t, float64(-32600), errObj["code"])
	})

	t.Run("unknown method", func(t *testing.T) {
		response := rpc(t, `{"jsonrpc": "2.0", "id": 5, "method": "no.such.method"}`)
		errObj := response["error"].(map[string]interface{})
		assert.Equal(t, float64(-32601), errObj["code"])
	})

	t.Run("missing params", func(t *testing.T) {
		response := rpc(t, `{"jsonrpc": "2.0", "id": 6, "method": "optimization.start"}`)
		errObj := response["error"].(map[string]interface{})
		assert.Equal(t, float64(-32602), errObj["code"])
	})
}

func TestRespondWithError(t *testing.T) {
	srv, _ := testServer(t)

	rr := httptest.NewRecorder()
	srv.respondWithError(rr, -32700, "Parse error", "abc")

	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

	errObj := response["error"].(map[string]interface{})
	assert.Equal(t, float64(-32700), errObj["code"])
	assert.Equal(t, "Parse error", errObj["message"])
	assert.Equal(t, "abc", response["id"])
}
