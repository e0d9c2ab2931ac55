package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/agents"
	"github.com/hypatia-sci/hypatia/experiment"
)

// Runner owns the one-loop-at-a-time discipline for the serving surface:
// a single run guard, the state of the latest run, and a fan-out of its log
// entries to websocket subscribers. Starting a new run supersedes whatever
// loop is still executing; the stale loop notices at its next checkpoint.
type Runner struct {
	sequencer *agents.Sequencer
	guard     *agents.RunGuard
	store     experiment.Store
	logger    *zap.Logger

	baseCtx context.Context

	mu           sync.RWMutex
	state        *agents.RunState
	experimentID string
	subs         map[chan agents.LogEntry]struct{}
}

// NewRunner wires the sequencer behind the HTTP surface. baseCtx bounds the
// lifetime of background runs; cancelling it stops them at the next step
// boundary.
func NewRunner(baseCtx context.Context, sequencer *agents.Sequencer, guard *agents.RunGuard, store experiment.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sequencer: sequencer,
		guard:     guard,
		store:     store,
		logger:    logger.With(zap.String("component", "runner")),
		baseCtx:   baseCtx,
		subs:      make(map[chan agents.LogEntry]struct{}),
	}
}

// Start launches the sequencer for an experiment in the background and
// returns the initial run state snapshot. startStep 0 means resume at the
// experiment's cursor.
func (r *Runner) Start(ctx context.Context, id string, startStep int) (agents.RunStateView, error) {
	exp, err := r.store.Get(ctx, id)
	if err != nil {
		return agents.RunStateView{}, err
	}
	if exp.AutomationMode != experiment.AutomationAutomated {
		return agents.RunStateView{}, fmt.Errorf(
			"%w: automation mode %q does not permit the sequencer",
			experiment.ErrInvalidInput, exp.AutomationMode,
		)
	}
	if startStep == 0 {
		startStep = exp.CurrentStep
	}
	if startStep < experiment.StepQuestion || startStep > experiment.NumSteps {
		return agents.RunStateView{}, fmt.Errorf(
			"%w: start step %d out of range", experiment.ErrInvalidInput, startStep,
		)
	}

	token := r.guard.Begin()
	state := agents.NewRunState(token, experiment.NumSteps)
	state.OnLog(r.broadcast)

	r.mu.Lock()
	r.state = state
	r.experimentID = id
	r.mu.Unlock()

	r.logger.Info("sequencer run starting",
		zap.String("experiment_id", id),
		zap.Int("start_step", startStep),
		zap.Uint64("token", token),
	)

	go func() {
		err := r.sequencer.Run(r.baseCtx, id, startStep, state)
		switch {
		case err == nil:
			r.logger.Info("sequencer run finished", zap.String("experiment_id", id))
		case errors.Is(err, agents.ErrSuperseded):
			r.logger.Info("sequencer run superseded", zap.String("experiment_id", id))
		default:
			r.logger.Warn("sequencer run failed",
				zap.String("experiment_id", id),
				zap.Error(err),
			)
		}
	}()

	return state.Snapshot(), nil
}

// Status returns the latest run's snapshot and the experiment it belongs to.
// ok is false when nothing has run yet.
func (r *Runner) Status() (view agents.RunStateView, experimentID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == nil {
		return agents.RunStateView{}, "", false
	}
	return r.state.Snapshot(), r.experimentID, true
}

// Subscribe registers a listener for log entries appended after the call.
// The returned cancel must be called to release the channel.
func (r *Runner) Subscribe() (<-chan agents.LogEntry, func()) {
	ch := make(chan agents.LogEntry, 64)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// broadcast fans a log entry out to every subscriber. A subscriber that has
// fallen behind its buffer loses entries rather than stalling the run.
func (r *Runner) broadcast(entry agents.LogEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
