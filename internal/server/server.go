// Package server exposes Nelder-Mead optimization runs as HTTP and
// JSON-RPC jobs.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/AMOEBA/internal/config"
	"github.com/copyleftdev/AMOEBA/internal/logging"
	"github.com/copyleftdev/AMOEBA/internal/metrics"
	"github.com/copyleftdev/AMOEBA/internal/optimization"
	"github.com/copyleftdev/AMOEBA/internal/optimization/objectives"
	"github.com/copyleftdev/AMOEBA/internal/optimization/simplex"
)

// Logger is the logging interface the server needs; it keeps the server
// decoupled from the concrete logger implementation.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Job statuses. A job moves pending -> running -> one of the terminal
// states; cancelled is terminal even if the underlying run still finishes,
// since a run in progress cannot be interrupted.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// JobState tracks one optimization job. Access is guarded by the server's
// jobs mutex.
type JobState struct {
	ID          string
	Objective   string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Result      *optimization.Result
	Err         string
}

// runRequest is the parameter set accepted by optimization.start and the
// REST optimize endpoint. Tolerance, scale and max_iterations fall back to
// the configured defaults when omitted.
type runRequest struct {
	Objective     string      `json:"objective"`
	Start         []float64   `json:"start"`
	Tolerance     float64     `json:"tolerance,omitempty"`
	Scale         float64     `json:"scale,omitempty"`
	MaxIterations int         `json:"max_iterations,omitempty"`
	Bounds        *[2]float64 `json:"bounds,omitempty"`
}

// Server manages optimization jobs and serves their state over HTTP.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics.Metrics

	jobs   map[string]*JobState
	jobsMu sync.RWMutex

	// wg tracks in-flight runs so Close can wait for them.
	wg sync.WaitGroup
}

// NewServer creates a server. metrics may be nil when instrumentation is
// not wanted, e.g. in tests.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		jobs:    make(map[string]*JobState),
	}
}

// RegisterRoutes mounts the REST and JSON-RPC endpoints on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/objectives", s.handleObjectives)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// handleJSONRPC dispatches JSON-RPC 2.0 requests.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		result, err = s.rpcStart(request.Params)
	case "optimization.status":
		result, err = s.rpcStatus(request.Params)
	case "optimization.cancel":
		result, err = s.rpcCancel(request.Params)
	case "objectives.list":
		result = map[string]interface{}{"objectives": objectives.Names()}
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, -32602, err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// rpcParams decodes a JSON-RPC params payload that is either an object or
// a one-element array holding an object.
func rpcParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return optimization.NewError("missing required parameters")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return optimization.NewError("missing required parameters")
		}
		raw = arr[0]
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return optimization.WrapError(err, "invalid parameter format")
	}
	return nil
}

func (s *Server) rpcStart(raw json.RawMessage) (interface{}, error) {
	var req runRequest
	if err := rpcParams(raw, &req); err != nil {
		return nil, err
	}

	state, err := s.startJob(req)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"optimization_id": state.ID,
		"status":          state.Status,
	}, nil
}

func (s *Server) rpcStatus(raw json.RawMessage) (interface{}, error) {
	var req struct {
		OptimizationID string `json:"optimization_id"`
	}
	if err := rpcParams(raw, &req); err != nil {
		return nil, err
	}
	if req.OptimizationID == "" {
		return nil, optimization.NewError("optimization_id is required")
	}
	return s.jobStatus(req.OptimizationID)
}

func (s *Server) rpcCancel(raw json.RawMessage) (interface{}, error) {
	var req struct {
		OptimizationID string `json:"optimization_id"`
	}
	if err := rpcParams(raw, &req); err != nil {
		return nil, err
	}
	if req.OptimizationID == "" {
		return nil, optimization.NewError("optimization_id is required")
	}
	if err := s.cancelJob(req.OptimizationID); err != nil {
		return nil, err
	}
	return map[string]string{"status": StatusCancelled}, nil
}

// startJob validates the request, builds the optimizer and launches the
// run in the background.
func (s *Server) startJob(req runRequest) (*JobState, error) {
	objective, ok := objectives.ByName(req.Objective)
	if !ok {
		return nil, optimization.NewErrorf("unknown objective %q", req.Objective).
			WithComponent("server").WithOperation("start")
	}
	if len(req.Start) == 0 {
		return nil, optimization.NewError("start vector is required").
			WithComponent("server").WithOperation("start")
	}

	var constraint optimization.ConstraintFunc
	if req.Bounds != nil {
		lo, hi := req.Bounds[0], req.Bounds[1]
		if lo >= hi {
			return nil, optimization.NewErrorf("invalid bounds [%g, %g]", lo, hi).
				WithComponent("server").WithOperation("start")
		}
		constraint = objectives.Clamp(lo, hi)
	}

	if req.Tolerance <= 0 {
		req.Tolerance = s.cfg.Optimization.Tolerance
	}
	if req.Scale <= 0 {
		req.Scale = s.cfg.Optimization.Scale
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = s.cfg.Optimization.MaxIterations
	}

	opt, err := simplex.New(len(req.Start), objective, constraint)
	if err != nil {
		return nil, err
	}
	opt.SetMaxIterations(req.MaxIterations)
	opt.SetReflectionCoefficient(s.cfg.Optimization.Reflection)
	opt.SetExpansionCoefficient(s.cfg.Optimization.Expansion)
	opt.SetContractionCoefficient(s.cfg.Optimization.Contraction)
	opt.SetLogger(logging.NewZapLogger(s.logger.WithFields(map[string]interface{}{
		"component": "simplex",
	})))

	now := time.Now()
	state := &JobState{
		ID:          fmt.Sprintf("opt_%d", now.UnixNano()),
		Objective:   req.Objective,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	}

	s.jobsMu.Lock()
	s.jobs[state.ID] = state
	s.jobsMu.Unlock()

	s.wg.Add(1)
	go s.runJob(state.ID, req, opt)

	s.logger.Info("optimization job started", map[string]interface{}{
		"optimization_id": state.ID,
		"objective":       req.Objective,
		"dim":             len(req.Start),
	})

	return state, nil
}

// runJob executes one optimization run and publishes its outcome. The run
// itself is synchronous and cannot be interrupted; a cancel that lands
// while it executes only wins the status race.
func (s *Server) runJob(id string, req runRequest, opt *simplex.Optimizer) {
	defer s.wg.Done()

	status := StatusCompleted
	var result *optimization.Result
	var runErr string

	started := time.Now()

	func() {
		// The objective is trusted to be total, but a service should not
		// die because a job misbehaved.
		defer func() {
			if rec := recover(); rec != nil {
				status = StatusFailed
				runErr = fmt.Sprintf("objective panicked: %v", rec)
				s.logger.Error("optimization run panicked", map[string]interface{}{
					"optimization_id": id,
					"error":           runErr,
				})
			}
		}()

		s.setStatus(id, StatusRunning)
		result = opt.Run(req.Start, req.Tolerance, req.Scale)
	}()

	elapsed := time.Since(started)

	s.jobsMu.Lock()
	state, ok := s.jobs[id]
	if ok {
		if state.Status == StatusCancelled {
			status = StatusCancelled
		}
		state.Status = status
		state.Err = runErr
		if result != nil {
			// Snapshot: the optimizer owns its Result and would
			// overwrite it on a subsequent run.
			snapshot := *result
			snapshot.X = append([]float64(nil), result.X...)
			state.Result = &snapshot
		}
		now := time.Now()
		state.EndTime = &now
		state.LastUpdated = now
	}
	s.jobsMu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveRun(req.Objective, status, result, elapsed)
	}
}

func (s *Server) setStatus(id, status string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if state, ok := s.jobs[id]; ok && state.Status != StatusCancelled {
		state.Status = status
		state.LastUpdated = time.Now()
	}
}

// jobStatus builds the status payload for a job.
func (s *Server) jobStatus(id string) (interface{}, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	state, ok := s.jobs[id]
	if !ok {
		return nil, optimization.NewErrorf("optimization %s not found", id)
	}

	response := map[string]interface{}{
		"optimization_id": state.ID,
		"objective":       state.Objective,
		"status":          state.Status,
		"start_time":      state.StartTime.Format(time.RFC3339),
		"last_update":     state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Err != "" {
		response["error"] = state.Err
	}
	if state.Result != nil {
		response["result"] = state.Result
	}

	return response, nil
}

// cancelJob marks a non-terminal job cancelled.
func (s *Server) cancelJob(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return optimization.NewErrorf("optimization %s not found", id)
	}

	switch state.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return optimization.NewErrorf("cannot cancel optimization with status %s", state.Status)
	}

	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})

	return nil
}

// respondWithError writes a JSON-RPC 2.0 error response.
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("request error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleOptimize starts a job from a REST request body.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logging.FromContext(r.Context()).Warn("rejected optimize request", map[string]interface{}{
			"error": err.Error(),
		})
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	state, err := s.startJob(req)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		// Validation failures come back as optimization errors; anything
		// else is the server's own fault.
		status := http.StatusInternalServerError
		if _, ok := optimization.IsOptimizationError(err); ok {
			status = http.StatusBadRequest
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"optimization_id": state.ID,
		"status":          state.Status,
	})
}

// handleStatus reports a job's state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing optimization ID", http.StatusBadRequest)
		return
	}

	result, err := s.jobStatus(id)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleCancel cancels a job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing optimization ID", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := s.cancelJob(id); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "cancellation requested"})
}

// handleObjectives lists the objectives this deployment can run.
func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"objectives": objectives.Names()})
}

// Close waits for in-flight runs to publish their results.
func (s *Server) Close() error {
	s.wg.Wait()
	return nil
}
