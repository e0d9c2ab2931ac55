package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/experiment"
)

// ExperimentHandler serves experiment CRUD and per-step edits. Every write
// follows the store contract: read the freshest snapshot, mutate, put the
// whole record back.
type ExperimentHandler struct {
	store  experiment.Store
	logger *zap.Logger
}

func NewExperimentHandler(store experiment.Store, logger *zap.Logger) *ExperimentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExperimentHandler{
		store:  store,
		logger: logger.With(zap.String("component", "experiment_handler")),
	}
}

// Register mounts the handler's routes on mux.
func (h *ExperimentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/experiments", h.Create)
	mux.HandleFunc("GET /api/v1/experiments", h.List)
	mux.HandleFunc("GET /api/v1/experiments/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/experiments/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/experiments/{id}/steps", h.Steps)
	mux.HandleFunc("PUT /api/v1/experiments/{id}/steps/{step}/input", h.UpdateStepInput)
	mux.HandleFunc("PUT /api/v1/experiments/{id}/steps/{step}/finetune", h.UpdateFineTune)
	mux.HandleFunc("PUT /api/v1/experiments/{id}/notebook", h.UpdateNotebook)
	mux.HandleFunc("PUT /api/v1/experiments/{id}/automation", h.SetAutomationMode)
	mux.HandleFunc("POST /api/v1/experiments/{id}/rerun", h.Rerun)
}

type createExperimentRequest struct {
	Title string `json:"title"`
	Field string `json:"field"`
}

// Create starts a new experiment at step 1.
func (h *ExperimentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON: "+err.Error())
		return
	}
	if req.Title == "" {
		WriteError(w, r, http.StatusBadRequest, "invalid_input", "title is required")
		return
	}

	exp := experiment.New(req.Title, req.Field)
	if err := h.store.Put(r.Context(), exp); err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}

	h.logger.Info("experiment created",
		zap.String("id", exp.ID),
		zap.String("title", exp.Title),
	)
	WriteCreated(w, r, exp)
}

// List returns all experiments, newest first.
func (h *ExperimentHandler) List(w http.ResponseWriter, r *http.Request) {
	exps, err := h.store.List(r.Context())
	if err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exps)
}

// Get returns one experiment by ID.
func (h *ExperimentHandler) Get(w http.ResponseWriter, r *http.Request) {
	exp, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exp)
}

// Delete removes an experiment.
func (h *ExperimentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}
	h.logger.Info("experiment deleted", zap.String("id", id))
	WriteSuccess(w, r, map[string]string{"id": id})
}

// Steps returns the static ten-stage table, so a client renders titles and
// recognized fine-tune parameters without hardcoding them.
func (h *ExperimentHandler) Steps(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Get(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, experiment.Steps())
}

type updateInputRequest struct {
	Input string `json:"input"`
}

// UpdateStepInput sets the user-provided input for one step.
func (h *ExperimentHandler) UpdateStepInput(w http.ResponseWriter, r *http.Request) {
	step, ok := h.stepParam(w, r)
	if !ok {
		return
	}
	var req updateInputRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON: "+err.Error())
		return
	}

	h.mutate(w, r, func(exp *experiment.Experiment) error {
		return exp.SetStepInput(step, req.Input)
	})
}

// UpdateFineTune replaces the generation options for one step.
func (h *ExperimentHandler) UpdateFineTune(w http.ResponseWriter, r *http.Request) {
	step, ok := h.stepParam(w, r)
	if !ok {
		return
	}
	var req experiment.FineTuneSettings
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON: "+err.Error())
		return
	}

	h.mutate(w, r, func(exp *experiment.Experiment) error {
		if exp.FineTune == nil {
			exp.FineTune = make(map[int]experiment.FineTuneSettings)
		}
		exp.FineTune[step] = req
		return nil
	})
}

type updateNotebookRequest struct {
	Content string `json:"content"`
}

// UpdateNotebook replaces the free-text lab notebook.
func (h *ExperimentHandler) UpdateNotebook(w http.ResponseWriter, r *http.Request) {
	var req updateNotebookRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON: "+err.Error())
		return
	}

	h.mutate(w, r, func(exp *experiment.Experiment) error {
		exp.LabNotebook = req.Content
		return nil
	})
}

type automationRequest struct {
	Mode experiment.AutomationMode `json:"mode"`
}

// SetAutomationMode decides manual vs automated, once.
func (h *ExperimentHandler) SetAutomationMode(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON: "+err.Error())
		return
	}

	h.mutate(w, r, func(exp *experiment.Experiment) error {
		return exp.SetAutomationMode(req.Mode)
	})
}

type rerunRequest struct {
	Step int `json:"step"`
}

// Rerun rewinds the cursor to a completed step, clearing later outputs.
func (h *ExperimentHandler) Rerun(w http.ResponseWriter, r *http.Request) {
	var req rerunRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", "request body is not valid JSON: "+err.Error())
		return
	}

	h.mutate(w, r, func(exp *experiment.Experiment) error {
		return exp.Rerun(req.Step)
	})
}

// mutate runs fn against the freshest snapshot and writes the whole record
// back, answering with the updated experiment.
func (h *ExperimentHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(*experiment.Experiment) error) {
	exp, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}
	if err := fn(exp); err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}
	if err := h.store.Put(r.Context(), exp); err != nil {
		WriteDomainError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exp)
}

func (h *ExperimentHandler) stepParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_input", "step must be a number")
		return 0, false
	}
	return step, true
}
