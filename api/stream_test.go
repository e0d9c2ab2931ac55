package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/agents"
	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/testutil/mocks"
)

func newStreamServer(t *testing.T, runner *Runner) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/run/logs/ws", NewLogStream(runner, []string{"*"}, zap.NewNop()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/run/logs/ws"
}

func TestLogStreamDeliversBroadcastEntries(t *testing.T) {
	runner, _ := newTestRunner(t, mocks.NewScriptedProvider(), automatedExperiment(3))
	url := newStreamServer(t, runner)

	ctx := t.Context()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Let the handler subscribe before broadcasting.
	require.Eventually(t, func() bool {
		runner.mu.RLock()
		defer runner.mu.RUnlock()
		return len(runner.subs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	runner.broadcast(agents.LogEntry{Agent: "Sequencer", Message: "running step 3"})

	var msg logStreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "log", msg.Type)
	require.NotNil(t, msg.Entry)
	assert.Equal(t, "running step 3", msg.Entry.Message)
}

func TestLogStreamSendsSnapshotOnConnect(t *testing.T) {
	exp := automatedExperiment(experiment.NumSteps + 1)
	runner, _ := newTestRunner(t, mocks.NewScriptedProvider(), exp)

	_, err := runner.Start(t.Context(), exp.ID, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, _, ok := runner.Status()
		return ok && v.Status == agents.StatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	url := newStreamServer(t, runner)
	ctx := t.Context()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var msg logStreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, agents.StatusSuccess, msg.Snapshot.Status)
	assert.NotEmpty(t, msg.Snapshot.Logs)
}
