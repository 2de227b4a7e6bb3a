package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/headline-goat/verdict/internal/evaluator"
	"github.com/headline-goat/verdict/internal/scheduler"
	"github.com/headline-goat/verdict/internal/significance"
	"github.com/headline-goat/verdict/internal/store"
)

type HealthResponse struct {
	Status           string `json:"status"`
	TestsCount       int    `json:"tests_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	SchedulerRunning bool   `json:"scheduler_running"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tests, err := s.store.ListExperiments(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := HealthResponse{
		Status:        "ok",
		TestsCount:    len(tests),
		DBSizeBytes:   s.dbSize(r),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if s.scheduler != nil {
		response.SchedulerRunning = s.scheduler.IsRunning()
	}

	writeJSON(w, http.StatusOK, response)
}

// dbSize reports the database size when the store is SQL backed.
func (s *Server) dbSize(r *http.Request) int64 {
	dbs, ok := s.store.(interface{ DB() *sql.DB })
	if !ok {
		return 0
	}
	var size int64
	row := dbs.DB().QueryRowContext(r.Context(), "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&size); err != nil {
		return 0
	}
	return size
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluator.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.eval.Evaluate(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "test not found")
			return
		}
		s.logger.Error("evaluation failed", "test_id", req.TestID, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type testSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	TestType      string    `json:"test_type,omitempty"`
	WinnerVariant string    `json:"winner_variant,omitempty"`
	StartDate     time.Time `json:"start_date,omitzero"`
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.store.ListExperiments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch tests")
		return
	}

	// Return empty array instead of null
	response := make([]testSummary, 0, len(tests))
	for _, t := range tests {
		summary := testSummary{
			ID:            t.ID,
			Name:          t.Name,
			Status:        string(t.Status),
			TestType:      t.TestType,
			WinnerVariant: t.WinnerVariant,
		}
		if t.StartDate != nil {
			summary.StartDate = *t.StartDate
		}
		response = append(response, summary)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	confidence := 0.0
	if raw := r.URL.Query().Get("confidence"); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil || c <= 0 || c >= 1 {
			writeError(w, http.StatusBadRequest, "confidence must be between 0 and 1")
			return
		}
		confidence = c
	}

	if _, err := s.store.GetExperiment(ctx, id); err != nil {
		s.storeError(w, err)
		return
	}
	variants, err := s.store.GetVariants(ctx, id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	analysis, err := s.analyzer.AnalyzeTest(id, store.AnalysisVariants(variants), confidence)
	if err != nil {
		var cfgErr *significance.ConfigurationError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleLatestConclusion(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.LatestConclusion(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(c.Payload)
}

type testResultResponse struct {
	TestID    string           `json:"test_id"`
	TestName  string           `json:"test_name"`
	Status    evaluator.Status `json:"status"`
	Winner    string           `json:"winner,omitempty"`
	LatencyMS int64            `json:"latency_ms"`
	Error     string           `json:"error,omitempty"`
}

type cycleResponse struct {
	ID         string               `json:"id"`
	StartedAt  time.Time            `json:"started_at"`
	DurationMS int64                `json:"duration_ms"`
	Eligible   int                  `json:"eligible"`
	Results    []testResultResponse `json:"results"`
}

func newCycleResponse(c *scheduler.CycleResult) cycleResponse {
	out := cycleResponse{
		ID:         c.ID,
		StartedAt:  c.StartedAt,
		DurationMS: c.Duration.Milliseconds(),
		Eligible:   c.Eligible,
		Results:    make([]testResultResponse, 0, len(c.Results)),
	}
	for _, r := range c.Results {
		tr := testResultResponse{
			TestID:    r.TestID,
			TestName:  r.TestName,
			Status:    r.Status,
			LatencyMS: r.Latency.Milliseconds(),
		}
		if r.Winner != nil {
			tr.Winner = r.Winner.VariantID
		}
		if r.Err != nil {
			tr.Error = r.Err.Error()
		}
		out.Results = append(out.Results, tr)
	}
	return out
}

func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	cycle, err := s.scheduler.ForceRun(r.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("forced cycle failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, newCycleResponse(cycle))
}

func (s *Server) handleSchedulerMetrics(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Metrics())
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("store error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
