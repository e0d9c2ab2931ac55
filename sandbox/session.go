package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
	"go.uber.org/zap"
)

// Session is one isolated execution context. Create one per editing session
// and Close it on exit; a closed session refuses further work. Each Execute
// call runs in a fresh interpreter thread with fresh globals, so repaired
// versions of the same script never see state from a prior run.
type Session struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewSession creates a sandbox session.
func NewSession(cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("component", "sandbox")),
	}
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// run holds the per-execution host state the builtins close over.
type run struct {
	mu       sync.Mutex
	finished bool
	data     string
	summary  string
	logs     []string
	dropped  bool

	maxLogLines int
	onLog       LogFunc
}

func (r *run) appendLog(line string) {
	r.mu.Lock()
	if len(r.logs) < r.maxLogLines {
		r.logs = append(r.logs, line)
	} else {
		r.dropped = true
	}
	onLog := r.onLog
	r.mu.Unlock()
	if onLog != nil {
		onLog(line)
	}
}

// finish is the only sanctioned success signal. Both arguments must be
// strings; a second call is a contract violation. Violations raise inside
// the interpreter so they surface as execution errors with the exact
// constraint named.
func (r *run) finish(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: accepts exactly two positional string arguments (data, summary)", b.Name())
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("%s: expected 2 arguments (data, summary), got %d", b.Name(), len(args))
	}

	data, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: data must be a string, got %s", b.Name(), args[0].Type())
	}
	summary, ok := starlark.AsString(args[1])
	if !ok {
		return nil, fmt.Errorf("%s: summary must be a string, got %s", b.Name(), args[1].Type())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil, fmt.Errorf("%s: called more than once; a script signals completion exactly once", b.Name())
	}
	r.finished = true
	r.data = data
	r.summary = summary
	return starlark.None, nil
}

// log captures its arguments as one space-joined line. Nothing reaches a
// real console.
func (r *run) log(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if s, ok := starlark.AsString(arg); ok {
			parts = append(parts, s)
		} else {
			parts = append(parts, arg.String())
		}
	}
	for _, kv := range kwargs {
		parts = append(parts, fmt.Sprintf("%v=%v", kv[0], kv[1]))
	}
	r.appendLog(strings.Join(parts, " "))
	return starlark.None, nil
}

// scriptOptions mirrors a permissive REPL dialect: model-written code leans
// on while loops, top-level control flow and reassignment.
var scriptOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Execute runs one script body to a terminal Outcome. It never returns a Go
// error for script misbehavior; every failure mode is folded into the
// Outcome so the repair loop can embed it in a debugger prompt. onLog may be
// nil; when set it receives each log line as the script produces it.
func (s *Session) Execute(ctx context.Context, script string, onLog LogFunc) Outcome {
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{
			Kind:    OutcomeExecutionError,
			Message: "sandbox session is closed",
			Elapsed: time.Since(start),
		}
	}
	s.mu.Unlock()

	r := &run{maxLogLines: s.cfg.MaxLogLines, onLog: onLog}

	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			r.appendLog(msg)
		},
	}
	thread.SetMaxExecutionSteps(s.cfg.MaxSteps)

	finishB := starlark.NewBuiltin("finish", r.finish)
	logB := starlark.NewBuiltin("log", r.log)
	predeclared := starlark.StringDict{
		"finish": finishB,
		"log":    logB,
		// The host module mirror: scripts written against the browser host
		// call hypatia.finish / hypatia.log.
		"hypatia": &starlarkstruct.Module{
			Name: "hypatia",
			Members: starlark.StringDict{
				"finish": finishB,
				"log":    logB,
			},
		},
	}

	// Wall-clock enforcement: cancel the interpreter thread when the
	// deadline fires. Cancellation is cooperative but the step counter
	// guarantees the interpreter checks it.
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-execCtx.Done():
			thread.Cancel("cancelled")
		case <-watchDone:
		}
	}()

	_, err := starlark.ExecFileOptions(scriptOptions, thread, "script.star", script, predeclared)
	close(watchDone)
	elapsed := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dropped {
		s.logger.Warn("log output truncated", zap.Int("max_log_lines", s.cfg.MaxLogLines))
	}

	if err != nil {
		msg := scriptErrorMessage(err, execCtx, s.cfg.Timeout)
		s.logger.Debug("script failed",
			zap.String("error", msg),
			zap.Duration("elapsed", elapsed),
		)
		return Outcome{
			Kind:    OutcomeExecutionError,
			Message: msg,
			Logs:    r.logs,
			Elapsed: elapsed,
		}
	}

	if !r.finished {
		s.logger.Debug("script completed without finish", zap.Duration("elapsed", elapsed))
		return Outcome{
			Kind:    OutcomeCompletedWithoutFinish,
			Logs:    r.logs,
			Elapsed: elapsed,
		}
	}

	s.logger.Debug("script finished",
		zap.Int("data_bytes", len(r.data)),
		zap.Duration("elapsed", elapsed),
	)
	return Outcome{
		Kind:    OutcomeFinished,
		Data:    r.data,
		Summary: r.summary,
		Logs:    r.logs,
		Elapsed: elapsed,
	}
}

// scriptErrorMessage prefers the script-level backtrace, and names the
// timeout explicitly when the deadline caused the cancellation.
func scriptErrorMessage(err error, ctx context.Context, timeout time.Duration) string {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("execution timed out after %s", timeout)
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
