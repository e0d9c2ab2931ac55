package agents

import (
	"context"
	"fmt"

	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/llm"
	"github.com/hypatia-sci/hypatia/sandbox"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SequenceError reports which step sank an automated run.
type SequenceError struct {
	Step int
	Err  error
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, experiment.StepTitle(e.Step), e.Err)
}

func (e *SequenceError) Unwrap() error { return e.Err }

// SequencerConfig bundles the per-agent bounds and pacing for a full run.
type SequencerConfig struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Analysis   AnalysisConfig   `json:"analysis" yaml:"analysis"`
	Draft      DraftConfig      `json:"draft" yaml:"draft"`
	Sandbox    sandbox.Config   `json:"sandbox" yaml:"sandbox"`

	// StepsPerSecond paces consecutive steps. Zero means the default of
	// one step per second.
	StepsPerSecond float64 `json:"steps_per_second" yaml:"steps_per_second"`
}

// DefaultSequencerConfig returns the standard bounds.
func DefaultSequencerConfig() SequencerConfig {
	return SequencerConfig{
		Simulation:     DefaultSimulationConfig(),
		Analysis:       DefaultAnalysisConfig(),
		Draft:          DefaultDraftConfig(),
		Sandbox:        sandbox.DefaultConfig(),
		StepsPerSecond: 1,
	}
}

// Sequencer drives an experiment through the workflow one step at a time.
// Every completion is written against the freshest persisted snapshot, and
// every write is gated on the run token so a superseded run can never touch
// state the replacing run owns.
type Sequencer struct {
	gateway    *llm.Gateway
	store      experiment.Store
	guard      *RunGuard
	ctxBuilder *ContextBuilder
	cfg        SequencerConfig
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewSequencer wires the sequencer. A nil guard gets a private one, which
// makes standalone runs unsupersedable.
func NewSequencer(gateway *llm.Gateway, store experiment.Store, guard *RunGuard, builder *ContextBuilder, cfg SequencerConfig, logger *zap.Logger) *Sequencer {
	if guard == nil {
		guard = &RunGuard{}
	}
	if builder == nil {
		builder = NewContextBuilder(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	perSecond := cfg.StepsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Sequencer{
		gateway:    gateway,
		store:      store,
		guard:      guard,
		ctxBuilder: builder,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:     logger.With(zap.String("component", "sequencer")),
	}
}

// Run advances the experiment from startStep through the final step,
// skipping steps that already hold output. It halts on the first failure,
// leaving the cursor at the failed step.
func (s *Sequencer) Run(ctx context.Context, id string, startStep int, state *RunState) error {
	if err := state.Start(); err != nil {
		return err
	}
	if startStep < 1 {
		startStep = 1
	}

	for n := startStep; n <= experiment.NumSteps; n++ {
		if !s.guard.Valid(state.Token()) {
			state.Fail(ErrSuperseded.Error())
			return ErrSuperseded
		}

		exp, err := s.store.Get(ctx, id)
		if err != nil {
			state.Fail(err.Error())
			return &SequenceError{Step: n, Err: err}
		}
		if exp.Step(n).Complete() {
			state.Logf(roleSequencer, "step %d (%s) already complete, skipping", n, experiment.StepTitle(n))
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			state.Fail(err.Error())
			return &SequenceError{Step: n, Err: err}
		}

		state.SetIteration(n)
		state.Logf(roleSequencer, "running step %d: %s", n, experiment.StepTitle(n))
		if err := s.runStep(ctx, exp, n, state); err != nil {
			state.Fail(err.Error())
			s.logger.Warn("sequence halted", zap.Int("step", n), zap.Error(err))
			return &SequenceError{Step: n, Err: err}
		}
	}

	state.Succeed()
	s.logger.Info("sequence complete", zap.String("experiment_id", id))
	return nil
}

func (s *Sequencer) runStep(ctx context.Context, exp *experiment.Experiment, n int, state *RunState) error {
	switch {
	case n == experiment.StepDataAcquisition:
		return s.runSimulation(ctx, exp, state)
	case n == experiment.StepAnalysis:
		return s.runAnalysis(ctx, exp, state)
	default:
		if kind, ok := DraftKindForStep(n); ok {
			return s.runDraft(ctx, exp, kind, state)
		}
		return s.runGeneric(ctx, exp, n, state)
	}
}

// child returns a sub-agent run state whose log stream folds into the
// sequencer's own.
func (s *Sequencer) child(state *RunState, maxIterations int) *RunState {
	child := NewRunState(state.Token(), maxIterations)
	child.OnLog(func(e LogEntry) { state.AppendLog(e.Agent, e.Message) })
	return child
}

func (s *Sequencer) runSimulation(ctx context.Context, exp *experiment.Experiment, state *RunState) error {
	session := sandbox.NewSession(s.cfg.Sandbox, s.logger)
	defer session.Close()

	agent := NewSimulationAgent(s.gateway, session, s.cfg.Simulation, s.logger)
	result, err := agent.Run(ctx, exp, exp.Step(experiment.StepDataAcquisition).Input, s.child(state, s.cfg.Simulation.MaxIterations))
	if err != nil {
		return err
	}
	return s.complete(ctx, state.Token(), exp.ID, experiment.StepDataAcquisition, stepWrite{
		prompt:         "simulation: " + firstLine(result.Code),
		output:         result.Data,
		summary:        result.Summary,
		suggestedInput: result.Code,
	})
}

func (s *Sequencer) runAnalysis(ctx context.Context, exp *experiment.Experiment, state *RunState) error {
	agent := NewAnalysisAgent(s.gateway, s.cfg.Analysis, s.logger)
	out, err := agent.Run(ctx, exp, s.child(state, s.cfg.Analysis.MaxCharts))
	if err != nil {
		return err
	}
	encoded, err := EncodeAnalysisResult(out.Result)
	if err != nil {
		return err
	}
	// The agent already hands back a narrative summary and a cached
	// suggestion, so no extra summarization call.
	return s.complete(ctx, state.Token(), exp.ID, experiment.StepAnalysis, stepWrite{
		prompt:         "analysis over the acquired dataset",
		output:         encoded,
		summary:        out.Result.Summary,
		suggestedInput: out.SuggestedInput,
	})
}

func (s *Sequencer) runDraft(ctx context.Context, exp *experiment.Experiment, kind DraftKind, state *RunState) error {
	agent := NewDraftAgent(s.gateway, s.ctxBuilder, s.cfg.Draft, s.logger)
	result, err := agent.Run(ctx, exp, kind, s.child(state, s.cfg.Draft.MaxIterations))
	if err != nil {
		return err
	}
	n := kind.step()
	summary, err := s.summarize(ctx, exp, n, result.Document)
	if err != nil {
		return err
	}
	return s.complete(ctx, state.Token(), exp.ID, n, stepWrite{
		prompt:  fmt.Sprintf("%s draft, %d passes", kind, result.Iterations),
		output:  result.Document,
		summary: summary,
	})
}

func (s *Sequencer) runGeneric(ctx context.Context, exp *experiment.Experiment, n int, state *RunState) error {
	ft := exp.ResolveFineTune(n)
	input := exp.Step(n).Input

	if n == experiment.StepQuestion {
		// Structured output carries its own summary, so the framing step
		// costs one call instead of two.
		prompt := questionPrompt(input, exp.Field)
		var framed struct {
			Question  string `json:"question"`
			Rationale string `json:"rationale"`
			Summary   string `json:"summary"`
		}
		err := s.gateway.GenerateJSON(ctx, &llm.GenerateRequest{
			Prompt:      prompt,
			Temperature: ft.Temperature,
			TopP:        ft.TopP,
			TopK:        ft.TopK,
		}, &framed)
		if err != nil {
			return err
		}
		output := framed.Question
		if framed.Rationale != "" {
			output += "\n\n" + framed.Rationale
		}
		return s.complete(ctx, state.Token(), exp.ID, n, stepWrite{
			prompt:  prompt,
			output:  output,
			summary: framed.Summary,
		})
	}

	prompt := stepPrompt(stepDefinition(n), s.ctxBuilder.Build(exp, n), input)
	resp, err := s.gateway.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		Temperature: ft.Temperature,
		TopP:        ft.TopP,
		TopK:        ft.TopK,
	})
	if err != nil {
		return err
	}
	summary, err := s.summarize(ctx, exp, n, resp.Text)
	if err != nil {
		return err
	}
	return s.complete(ctx, state.Token(), exp.ID, n, stepWrite{
		prompt:  prompt,
		output:  resp.Text,
		summary: summary,
	})
}

// summarize condenses a step's output, unless the step already produced a
// cached hand-off that makes the extra call pointless.
func (s *Sequencer) summarize(ctx context.Context, exp *experiment.Experiment, n int, text string) (string, error) {
	if cached := exp.Step(n).SuggestedInput; cached != "" {
		return cached, nil
	}
	resp, err := s.gateway.Generate(ctx, &llm.GenerateRequest{
		Prompt:      summarizePrompt(experiment.StepTitle(n), text),
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return resp.Text, nil
}

type stepWrite struct {
	prompt         string
	output         string
	summary        string
	suggestedInput string
}

// complete writes one step against the freshest persisted snapshot. The
// token check runs immediately before the read so a result resolving after
// supersession is dropped whole.
func (s *Sequencer) complete(ctx context.Context, token uint64, id string, n int, w stepWrite) error {
	if !s.guard.Valid(token) {
		return ErrSuperseded
	}
	exp, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ft := exp.ResolveFineTune(n)
	if err := exp.AppendProvenance(n, experiment.ProvenanceEntry{
		Prompt: w.prompt,
		Config: experiment.ProvenanceConfig{
			Model:       s.gateway.Model(),
			Temperature: ft.Temperature,
			TopP:        ft.TopP,
			TopK:        ft.TopK,
			Persona:     ft.ReviewerPersona,
		},
		Output: w.output,
	}); err != nil {
		return err
	}
	if err := exp.CompleteStep(n, w.output, w.summary, w.suggestedInput); err != nil {
		return err
	}
	return s.store.Put(ctx, exp)
}

func stepDefinition(n int) experiment.StepDefinition {
	for _, def := range experiment.Steps() {
		if def.Number == n {
			return def
		}
	}
	return experiment.StepDefinition{Number: n, Title: experiment.StepTitle(n)}
}
