package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/agents"
)

// RunController is the slice of the run coordinator the handlers need.
type RunController interface {
	// Start launches the sequencer for an experiment; startStep 0 resumes
	// at the experiment's cursor.
	Start(ctx context.Context, id string, startStep int) (agents.RunStateView, error)

	// Status reports the latest run; ok is false when nothing has run yet.
	Status() (view agents.RunStateView, experimentID string, ok bool)
}

// RunHandler starts sequencer runs and reports their state.
type RunHandler struct {
	runs   RunController
	logger *zap.Logger
}

func NewRunHandler(runs RunController, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		runs:   runs,
		logger: logger.With(zap.String("component", "run_handler")),
	}
}

// Register mounts the handler's routes on mux.
func (h *RunHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/experiments/{id}/run", h.Start)
	mux.HandleFunc("GET /api/v1/run", h.Status)
}

type startRunRequest struct {
	StartStep int `json:"start_step,omitempty"`
}

type runStatusResponse struct {
	ExperimentID string              `json:"experiment_id"`
	Run          agents.RunStateView `json:"run"`
}

// Start launches the automation sequencer for an experiment. A run already
// in flight is superseded, not rejected.
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON: "+err.Error())
			return
		}
	}

	id := r.PathValue("id")
	view, err := h.runs.Start(r.Context(), id, req.StartStep)
	if err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}

	WriteAccepted(w, r, runStatusResponse{ExperimentID: id, Run: view})
}

// Status reports the latest run's state and logs.
func (h *RunHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, experimentID, ok := h.runs.Status()
	if !ok {
		WriteError(w, r, http.StatusNotFound, "no_run", "no run has been started")
		return
	}
	WriteSuccess(w, r, runStatusResponse{ExperimentID: experimentID, Run: view})
}
