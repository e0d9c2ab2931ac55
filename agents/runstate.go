// Package agents holds the orchestration core: the self-correcting control
// loops that turn gateway calls, sandbox runs and store writes into completed
// workflow steps. One loop is active at a time; the RunGuard's tokens make
// that discipline explicit instead of leaving it to caller etiquette.
package agents

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RunStatus is the lifecycle of one agent run.
type RunStatus string

const (
	StatusIdle    RunStatus = "idle"
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
)

// Terminal reports whether the run can only exit this status via a fresh run.
func (s RunStatus) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// LogEntry is one role-attributed progress line.
type LogEntry struct {
	Agent   string    `json:"agent"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// RunState is the ephemeral state of one in-progress agent run. It is never
// persisted; it exists so a UI can render progress, attribution and the full
// repair history while the loop works.
type RunState struct {
	token uint64

	mu            sync.RWMutex
	status        RunStatus
	iterations    int
	maxIterations int
	logs          []LogEntry
	err           string
	onLog         func(LogEntry)
}

// RunStateView is an immutable snapshot for rendering and API responses.
type RunStateView struct {
	Token         uint64     `json:"token"`
	Status        RunStatus  `json:"status"`
	Iterations    int        `json:"iterations"`
	MaxIterations int        `json:"max_iterations"`
	Logs          []LogEntry `json:"logs"`
	Err           string     `json:"error,omitempty"`
}

// NewRunState creates an idle run state bound to a guard token.
func NewRunState(token uint64, maxIterations int) *RunState {
	return &RunState{
		token:         token,
		status:        StatusIdle,
		maxIterations: maxIterations,
	}
}

// Token returns the guard token this run was issued.
func (r *RunState) Token() uint64 { return r.token }

// OnLog registers a listener for appended log entries; used by the live log
// stream. Must be set before the run starts.
func (r *RunState) OnLog(fn func(LogEntry)) {
	r.mu.Lock()
	r.onLog = fn
	r.mu.Unlock()
}

// Start moves idle to running.
func (r *RunState) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusIdle {
		return fmt.Errorf("run already %s; terminal states exit only via a fresh run", r.status)
	}
	r.status = StatusRunning
	return nil
}

// Succeed marks a running state as success.
func (r *RunState) Succeed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusRunning {
		r.status = StatusSuccess
	}
}

// Fail marks the run failed, keeping errText for display. The last failure
// always wins so the most recent error is never hidden.
func (r *RunState) Fail(errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusFailed
	r.err = errText
}

// SetIteration records the current attempt number, driving the caller's
// progress indicator.
func (r *RunState) SetIteration(n int) {
	r.mu.Lock()
	r.iterations = n
	r.mu.Unlock()
}

// AppendLog adds one role-tagged line.
func (r *RunState) AppendLog(agent, message string) {
	entry := LogEntry{Agent: agent, Message: message, Time: time.Now().UTC()}
	r.mu.Lock()
	r.logs = append(r.logs, entry)
	onLog := r.onLog
	r.mu.Unlock()
	if onLog != nil {
		onLog(entry)
	}
}

// Logf is AppendLog with formatting.
func (r *RunState) Logf(agent, format string, args ...any) {
	r.AppendLog(agent, fmt.Sprintf(format, args...))
}

// Status returns the current lifecycle state.
func (r *RunState) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Snapshot returns a copy safe to serialize.
func (r *RunState) Snapshot() RunStateView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	logs := make([]LogEntry, len(r.logs))
	copy(logs, r.logs)
	return RunStateView{
		Token:         r.token,
		Status:        r.status,
		Iterations:    r.iterations,
		MaxIterations: r.maxIterations,
		Logs:          logs,
		Err:           r.err,
	}
}

// RunGuard issues monotonically increasing run tokens. Starting a new run
// supersedes the previous one: any late-resolving result carrying a stale
// token is discarded before it touches persisted state. This replaces
// implicit "only one loop is mounted" UI guards with an explicit check.
type RunGuard struct {
	current atomic.Uint64
}

// Begin issues a fresh token and makes it current.
func (g *RunGuard) Begin() uint64 {
	return g.current.Add(1)
}

// Current returns the token of the most recently started run.
func (g *RunGuard) Current() uint64 {
	return g.current.Load()
}

// Valid reports whether token still identifies the current run.
func (g *RunGuard) Valid(token uint64) bool {
	return g.current.Load() == token
}

// ErrSuperseded marks work discarded because a newer run took over.
var ErrSuperseded = errors.New("run superseded by a newer run")
