package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/testutil/fixtures"
)

func newExperimentMux(t *testing.T) (*http.ServeMux, experiment.Store) {
	t.Helper()
	store := experiment.NewMemoryStore()
	mux := http.NewServeMux()
	NewExperimentHandler(store, zap.NewNop()).Register(mux)
	return mux, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if dst != nil && resp.Data != nil {
		raw, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, dst))
	}
	return resp
}

func TestCreateExperiment(t *testing.T) {
	mux, store := newExperimentMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/experiments", map[string]string{
		"title": "Thermal tolerance in C. elegans",
		"field": "biology",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created experiment.Experiment
	resp := decodeData(t, rec, &created)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Thermal tolerance in C. elegans", created.Title)
	assert.Equal(t, experiment.StepQuestion, created.CurrentStep)

	stored, err := store.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "biology", stored.Field)
}

func TestCreateExperimentRejectsMissingTitle(t *testing.T) {
	mux, _ := newExperimentMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/experiments", map[string]string{"field": "biology"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeData(t, rec, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid_input", resp.Error.Code)
}

func TestGetExperimentNotFound(t *testing.T) {
	mux, _ := newExperimentMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/experiments/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeData(t, rec, nil)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestListExperiments(t *testing.T) {
	mux, store := newExperimentMux(t)
	require.NoError(t, store.Put(t.Context(), fixtures.NewExperiment()))
	require.NoError(t, store.Put(t.Context(), fixtures.NewExperiment()))

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/experiments", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []experiment.Experiment
	decodeData(t, rec, &listed)
	assert.Len(t, listed, 2)
}

func TestDeleteExperiment(t *testing.T) {
	mux, store := newExperimentMux(t)
	exp := fixtures.NewExperiment()
	require.NoError(t, store.Put(t.Context(), exp))

	rec := doJSON(t, mux, http.MethodDelete, "/api/v1/experiments/"+exp.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := store.Get(t.Context(), exp.ID)
	assert.ErrorIs(t, err, experiment.ErrNotFound)
}

func TestUpdateStepInput(t *testing.T) {
	mux, store := newExperimentMux(t)
	exp := fixtures.ExperimentAtStep(3)
	require.NoError(t, store.Put(t.Context(), exp))

	path := fmt.Sprintf("/api/v1/experiments/%s/steps/3/input", exp.ID)
	rec := doJSON(t, mux, http.MethodPut, path, map[string]string{"input": "focus on heat-shock proteins"})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.Get(t.Context(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "focus on heat-shock proteins", stored.Step(3).Input)
}

func TestUpdateStepInputRejectsBadStep(t *testing.T) {
	mux, store := newExperimentMux(t)
	exp := fixtures.NewExperiment()
	require.NoError(t, store.Put(t.Context(), exp))

	rec := doJSON(t, mux, http.MethodPut,
		fmt.Sprintf("/api/v1/experiments/%s/steps/notanumber/input", exp.ID),
		map[string]string{"input": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPut,
		fmt.Sprintf("/api/v1/experiments/%s/steps/99/input", exp.ID),
		map[string]string{"input": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateFineTune(t *testing.T) {
	mux, store := newExperimentMux(t)
	exp := fixtures.NewExperiment()
	require.NoError(t, store.Put(t.Context(), exp))

	temp := float32(0.2)
	rec := doJSON(t, mux, http.MethodPut,
		fmt.Sprintf("/api/v1/experiments/%s/steps/9/finetune", exp.ID),
		experiment.FineTuneSettings{Temperature: &temp, ReviewerPersona: "a skeptical statistician"})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.Get(t.Context(), exp.ID)
	require.NoError(t, err)
	ft := stored.FineTune[9]
	require.NotNil(t, ft.Temperature)
	assert.InDelta(t, 0.2, float64(*ft.Temperature), 1e-6)
	assert.Equal(t, "a skeptical statistician", ft.ReviewerPersona)
}

func TestUpdateNotebook(t *testing.T) {
	mux, store := newExperimentMux(t)
	exp := fixtures.NewExperiment()
	require.NoError(t, store.Put(t.Context(), exp))

	rec := doJSON(t, mux, http.MethodPut,
		fmt.Sprintf("/api/v1/experiments/%s/notebook", exp.ID),
		map[string]string{"content": "day 3: replicates look stable"})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.Get(t.Context(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "day 3: replicates look stable", stored.LabNotebook)
}

func TestSetAutomationMode(t *testing.T) {
	mux, store := newExperimentMux(t)
	exp := fixtures.ExperimentAtStep(2)
	require.NoError(t, store.Put(t.Context(), exp))

	path := fmt.Sprintf("/api/v1/experiments/%s/automation", exp.ID)
	rec := doJSON(t, mux, http.MethodPut, path, map[string]string{"mode": "automated"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Unknown modes never overwrite a decision.
	rec = doJSON(t, mux, http.MethodPut, path, map[string]string{"mode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stored, err := store.Get(t.Context(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.AutomationAutomated, stored.AutomationMode)
}

func TestRerunRewindsCursor(t *testing.T) {
	mux, store := newExperimentMux(t)
	exp := fixtures.ExperimentAtStep(6)
	require.NoError(t, store.Put(t.Context(), exp))

	rec := doJSON(t, mux, http.MethodPost,
		fmt.Sprintf("/api/v1/experiments/%s/rerun", exp.ID),
		map[string]int{"step": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.Get(t.Context(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentStep)
	assert.Empty(t, stored.Step(4).Output)
	assert.Empty(t, stored.Step(5).Output)
	// Inputs survive a rerun.
	assert.NotEmpty(t, stored.Step(2).Output)
}
