package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/fraudflow/internal/bus"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/pipeline"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	runner  *pipeline.Runner
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		runner:  deps.Runner,
		repo:    deps.Repo,
		cache:   deps.Cache,
		bus:     deps.Bus,
		version: deps.Version,
	}
}

// RunResponse is the response for POST /runs.
type RunResponse struct {
	Run      *domain.Run `json:"run,omitempty"`
	RunID    string      `json:"runId"`
	Queued   bool        `json:"queued,omitempty"`
	Error    string      `json:"error,omitempty"`
	ExitCode int         `json:"exitCode"`
	TraceID  string      `json:"traceId,omitempty"`
}

// StageResponse is the response for POST /stages/{stage}.
type StageResponse struct {
	RunID    string                `json:"runId"`
	Result   *pipeline.StageResult `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
	ExitCode int                   `json:"exitCode"`
}

// decodeRequest reads an optional RunRequest body.
func decodeRequest(r *http.Request) (domain.RunRequest, error) {
	var req domain.RunRequest
	if r.Body == nil {
		return req, nil
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	if errors.Is(err, io.EOF) {
		return req, nil
	}
	return req, err
}

// CreateRun handles POST /runs. With ?async=true the request is queued on
// the bus for a worker; otherwise the run executes before the response.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.queueRun(w, r, req)
		return
	}

	rc, err := pipeline.RequestContext(h.runner.Config(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := h.runner.Run(ctx, rc)
	resp := RunResponse{
		Run:      run,
		RunID:    rc.ID,
		ExitCode: domain.ExitCode(err),
		TraceID:  GetTraceID(ctx),
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) queueRun(w http.ResponseWriter, r *http.Request, req domain.RunRequest) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	// Validate before queueing so the caller sees bad overrides now.
	if _, err := pipeline.RequestContext(h.runner.Config(), req); err != nil {
		writeError(w, err)
		return
	}

	ns := GetNamespace(r.Context())
	if err := bus.PublishJSON(r.Context(), h.bus, ns, domain.TopicRunRequested, req); err != nil {
		slog.Error("failed to queue run", "run_id", req.RunID, "namespace", ns, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue run",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, RunResponse{
		RunID:   req.RunID,
		Queued:  true,
		TraceID: GetTraceID(r.Context()),
	})
}

// RunStage handles POST /stages/{stage}.
func (h *Handler) RunStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := domain.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, err)
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rc, err := pipeline.RequestContext(h.runner.Config(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.runner.Stage(ctx, rc, st)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, StageResponse{
			RunID:    rc.ID,
			Error:    err.Error(),
			ExitCode: domain.ExitCode(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, StageResponse{RunID: rc.ID, Result: res})
}

// ListRuns handles GET /runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	run, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetTransaction handles GET /transactions/{key}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	tx, err := h.repo.GetScored(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether runs can be recorded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
