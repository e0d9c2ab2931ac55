package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/llm"
	"github.com/hypatia-sci/hypatia/sandbox"
	"go.uber.org/zap"
)

// SimulationConfig bounds the generate → execute → debug loop.
type SimulationConfig struct {
	// MaxIterations is the sandbox-execution bound per run. Clamped to
	// [4, 25]; the default is 8.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// IterationDelay paces debug iterations so the remote service is not
	// hammered between repairs.
	IterationDelay time.Duration `json:"iteration_delay" yaml:"iteration_delay"`

	// UseSimplifier enables the condensing pass before the first coder call.
	UseSimplifier bool `json:"use_simplifier" yaml:"use_simplifier"`
}

// DefaultSimulationConfig returns the standard loop bounds.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		MaxIterations:  8,
		IterationDelay: time.Second,
		UseSimplifier:  true,
	}
}

func (c SimulationConfig) withDefaults() SimulationConfig {
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
	if c.MaxIterations < 4 {
		c.MaxIterations = 4
	}
	if c.MaxIterations > 25 {
		c.MaxIterations = 25
	}
	if c.IterationDelay <= 0 {
		c.IterationDelay = time.Second
	}
	return c
}

// SimulationResult is what a successful run hands back: the working script
// and the dataset it produced.
type SimulationResult struct {
	Code       string `json:"code"`
	Data       string `json:"data"`
	Summary    string `json:"summary"`
	Iterations int    `json:"iterations"`
}

// SimulationAgent acquires data by writing a script, running it in the
// sandbox, and feeding every failure back to the model as a repair prompt.
// The only success exit is a Finished outcome; running out of iterations or
// losing the debugger to exhausted retries fails the run.
type SimulationAgent struct {
	gateway *llm.Gateway
	session *sandbox.Session
	cfg     SimulationConfig
	logger  *zap.Logger
}

// NewSimulationAgent binds the agent to one sandbox session. The caller owns
// the session's lifecycle; a fresh session per editing session keeps script
// state from bleeding across runs.
func NewSimulationAgent(gateway *llm.Gateway, session *sandbox.Session, cfg SimulationConfig, logger *zap.Logger) *SimulationAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulationAgent{
		gateway: gateway,
		session: session,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("component", "simulation_agent")),
	}
}

// Run drives the loop. seedCode may be empty, in which case the
// initialization sub-phase writes the first script from the experiment's
// methodology and data plan. Every failure is converted into a failed state
// plus log entries, never a panic or a silent success.
func (a *SimulationAgent) Run(ctx context.Context, exp *experiment.Experiment, seedCode string, state *RunState) (*SimulationResult, error) {
	if err := state.Start(); err != nil {
		return nil, err
	}

	ft := exp.ResolveFineTune(experiment.StepDataAcquisition)

	code := seedCode
	if code == "" {
		generated, err := a.generateInitialCode(ctx, exp, ft, state)
		if err != nil {
			state.Fail(err.Error())
			return nil, err
		}
		code = generated
	}

	var lastFailure string
	for iteration := 1; iteration <= a.cfg.MaxIterations; iteration++ {
		state.SetIteration(iteration)
		state.Logf(roleExecutor, "running script (attempt %d/%d)", iteration, a.cfg.MaxIterations)

		outcome := a.session.Execute(ctx, code, func(line string) {
			state.AppendLog(roleExecutor, line)
		})

		switch outcome.Kind {
		case sandbox.OutcomeFinished:
			state.Logf(roleExecutor, "script finished: %s", outcome.Summary)
			state.Succeed()
			return &SimulationResult{
				Code:       code,
				Data:       outcome.Data,
				Summary:    outcome.Summary,
				Iterations: iteration,
			}, nil

		case sandbox.OutcomeCompletedWithoutFinish:
			lastFailure = "the script completed without ever calling finish(data, summary); it produced no result"

		case sandbox.OutcomeExecutionError:
			lastFailure = outcome.Message
		}

		state.Logf(roleExecutor, "attempt %d failed: %s", iteration, lastFailure)

		if iteration == a.cfg.MaxIterations {
			break
		}

		fixed, err := a.debug(ctx, code, lastFailure, ft, state)
		if err != nil {
			// The debugger itself is out of retries; iterating again with
			// stale code would only repeat the same failure.
			err = fmt.Errorf("debugger call failed: %w", err)
			state.Fail(err.Error())
			return nil, err
		}
		code = fixed

		select {
		case <-ctx.Done():
			state.Fail(ctx.Err().Error())
			return nil, ctx.Err()
		case <-time.After(a.cfg.IterationDelay):
		}
	}

	err := fmt.Errorf("no working script after %d attempts; last failure: %s", a.cfg.MaxIterations, lastFailure)
	state.Fail(err.Error())
	return nil, err
}

func (a *SimulationAgent) generateInitialCode(ctx context.Context, exp *experiment.Experiment, ft experiment.ResolvedFineTune, state *RunState) (string, error) {
	methodology := exp.Step(experiment.StepMethodology).Output
	dataPlan := exp.Step(experiment.StepDataPlan).Output

	intent := dataPlan
	if a.cfg.UseSimplifier {
		state.AppendLog(roleSimplifier, "condensing the research plan")
		resp, err := a.gateway.Generate(ctx, &llm.GenerateRequest{
			Prompt:      simplifierPrompt(methodology, dataPlan),
			Temperature: ft.Temperature,
			TopP:        ft.TopP,
			TopK:        ft.TopK,
		})
		if err != nil {
			return "", fmt.Errorf("simplifier call failed: %w", err)
		}
		intent = resp.Text
		state.AppendLog(roleSimplifier, intent)
	}

	state.AppendLog(roleCoder, "writing the data-generation script")
	resp, err := a.gateway.Generate(ctx, &llm.GenerateRequest{
		Prompt:      coderPrompt(intent),
		Temperature: ft.Temperature,
		TopP:        ft.TopP,
		TopK:        ft.TopK,
	})
	if err != nil {
		return "", fmt.Errorf("coder call failed: %w", err)
	}
	return extractCode(resp.Text), nil
}

func (a *SimulationAgent) debug(ctx context.Context, code, failure string, ft experiment.ResolvedFineTune, state *RunState) (string, error) {
	state.Logf(roleDebugger, "repairing script: %s", firstLine(failure))
	resp, err := a.gateway.Generate(ctx, &llm.GenerateRequest{
		Prompt:      debuggerPrompt(code, failure),
		Temperature: ft.Temperature,
		TopP:        ft.TopP,
		TopK:        ft.TopK,
	})
	if err != nil {
		return "", err
	}
	return extractCode(resp.Text), nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
