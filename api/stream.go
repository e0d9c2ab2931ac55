package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/agents"
)

// logStreamMessage is one websocket frame on the run-log stream.
type logStreamMessage struct {
	Type string `json:"type"` // snapshot | log
	// Snapshot carries the full run state on connect.
	Snapshot *agents.RunStateView `json:"snapshot,omitempty"`
	// Entry carries one appended log line afterwards.
	Entry *agents.LogEntry `json:"entry,omitempty"`
}

// LogStream upgrades to a websocket and pushes run log entries as the agents
// append them: first the current snapshot, then live entries until the
// client hangs up.
type LogStream struct {
	runner *Runner
	logger *zap.Logger

	// originPatterns loosens the websocket origin check, mirroring the CORS
	// allow list.
	originPatterns []string
}

func NewLogStream(runner *Runner, originPatterns []string, logger *zap.Logger) *LogStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStream{
		runner:         runner,
		logger:         logger.With(zap.String("component", "log_stream")),
		originPatterns: originPatterns,
	}
}

func (s *LogStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	// Subscribe before snapshotting so no entry falls between the two.
	entries, cancel := s.runner.Subscribe()
	defer cancel()

	if view, _, ok := s.runner.Status(); ok {
		msg := logStreamMessage{Type: "snapshot", Snapshot: &view}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case entry, ok := <-entries:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			msg := logStreamMessage{Type: "log", Entry: &entry}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				s.logger.Debug("websocket write failed, dropping client", zap.Error(err))
				return
			}
		}
	}
}
