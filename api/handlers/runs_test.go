package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/agents"
	"github.com/hypatia-sci/hypatia/experiment"
)

type fakeRunController struct {
	startedID   string
	startedStep int
	startErr    error

	view         agents.RunStateView
	experimentID string
	hasRun       bool
}

func (f *fakeRunController) Start(ctx context.Context, id string, startStep int) (agents.RunStateView, error) {
	f.startedID = id
	f.startedStep = startStep
	if f.startErr != nil {
		return agents.RunStateView{}, f.startErr
	}
	return f.view, nil
}

func (f *fakeRunController) Status() (agents.RunStateView, string, bool) {
	return f.view, f.experimentID, f.hasRun
}

func newRunMux(ctrl *fakeRunController) *http.ServeMux {
	mux := http.NewServeMux()
	NewRunHandler(ctrl, zap.NewNop()).Register(mux)
	return mux
}

func TestStartRun(t *testing.T) {
	ctrl := &fakeRunController{view: agents.RunStateView{Status: agents.StatusRunning}}
	mux := newRunMux(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments/exp-1/run",
		strings.NewReader(`{"start_step": 4}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "exp-1", ctrl.startedID)
	assert.Equal(t, 4, ctrl.startedStep)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestStartRunWithoutBody(t *testing.T) {
	ctrl := &fakeRunController{}
	mux := newRunMux(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments/exp-1/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, ctrl.startedStep, "empty body resumes at the cursor")
}

func TestStartRunMapsDomainErrors(t *testing.T) {
	ctrl := &fakeRunController{startErr: experiment.ErrNotFound}
	mux := newRunMux(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments/nope/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunStatus(t *testing.T) {
	ctrl := &fakeRunController{
		view:         agents.RunStateView{Status: agents.StatusSuccess, Iterations: 10},
		experimentID: "exp-1",
		hasRun:       true,
	}
	mux := newRunMux(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var status runStatusResponse
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, "exp-1", status.ExperimentID)
	assert.Equal(t, agents.StatusSuccess, status.Run.Status)
}

func TestRunStatusBeforeAnyRun(t *testing.T) {
	mux := newRunMux(&fakeRunController{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
