// Package sandbox executes untrusted, model-generated scripts in an isolated
// Starlark interpreter. The script gets no host I/O, no network and no access
// to persisted state; its only channel back to the caller is the constrained
// host API (finish, log) and the Outcome of the run.
package sandbox

import "time"

// OutcomeKind discriminates the three terminal states of a script run.
type OutcomeKind string

const (
	// OutcomeFinished means the script called finish with two strings.
	// This is the only success state.
	OutcomeFinished OutcomeKind = "finished"

	// OutcomeCompletedWithoutFinish means the script ran to the end without
	// ever calling finish. It is a repair-requiring failure, distinct from a
	// raised error: the code is syntactically fine but did not produce a
	// result.
	OutcomeCompletedWithoutFinish OutcomeKind = "completed_without_finish"

	// OutcomeExecutionError means the script raised, misused finish
	// (non-string argument, second call), or hit the wall-clock timeout.
	OutcomeExecutionError OutcomeKind = "execution_error"
)

// Outcome is the complete, terminal result of one Execute call.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Data    string      `json:"data,omitempty"`    // finish's first argument
	Summary string      `json:"summary,omitempty"` // finish's second argument
	Message string      `json:"message,omitempty"` // error text for OutcomeExecutionError
	Logs    []string    `json:"logs,omitempty"`    // ordered log lines, also delivered via OnLog
	Elapsed time.Duration `json:"elapsed"`
}

// LogFunc receives one log line while the script is still running.
type LogFunc func(line string)

// Config tunes a sandbox session.
type Config struct {
	// Timeout is the wall-clock bound per Execute call. The interpreter is
	// cancelled when it fires and the run resolves as an execution error.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxSteps bounds abstract interpreter steps per run, a backstop against
	// scripts that spin without ever blocking.
	MaxSteps uint64 `json:"max_steps" yaml:"max_steps"`

	// MaxLogLines caps captured log output; further lines are dropped.
	MaxLogLines int `json:"max_log_lines" yaml:"max_log_lines"`
}

// DefaultConfig returns the limits used when the caller passes a zero Config.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxSteps:    100_000_000,
		MaxLogLines: 1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.MaxLogLines <= 0 {
		c.MaxLogLines = def.MaxLogLines
	}
	return c
}
