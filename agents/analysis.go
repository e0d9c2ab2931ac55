package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/llm"
	"go.uber.org/zap"
)

// AnalysisConfig bounds the plan → execute → validate → synthesize pipeline.
type AnalysisConfig struct {
	// PerChartAttempts is how many times one planned chart may be retried
	// against the validator before it is dropped.
	PerChartAttempts int `json:"per_chart_attempts" yaml:"per_chart_attempts"`

	// MaxCharts caps how many planned charts are executed.
	MaxCharts int `json:"max_charts" yaml:"max_charts"`
}

// DefaultAnalysisConfig returns the standard bounds.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{PerChartAttempts: 3, MaxCharts: 4}
}

func (c AnalysisConfig) withDefaults() AnalysisConfig {
	if c.PerChartAttempts <= 0 {
		c.PerChartAttempts = 3
	}
	if c.MaxCharts <= 0 {
		c.MaxCharts = 4
	}
	return c
}

// AnalysisAgent turns the acquired dataset into validated chart suggestions
// and a narrative. The three phases are strictly ordered: no chart work
// before the plan resolves, no synthesis before every chart is settled.
// A chart that never validates is dropped; a failed plan or synthesis fails
// the whole run.
type AnalysisAgent struct {
	gateway *llm.Gateway
	cfg     AnalysisConfig
	logger  *zap.Logger
}

// NewAnalysisAgent creates the analysis pipeline.
func NewAnalysisAgent(gateway *llm.Gateway, cfg AnalysisConfig, logger *zap.Logger) *AnalysisAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisAgent{
		gateway: gateway,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("component", "analysis_agent")),
	}
}

// AnalysisOutput carries the persisted result plus the cached shortcut
// summary for the sequencer.
type AnalysisOutput struct {
	Result         AnalysisResult
	SuggestedInput string
}

// Run executes the pipeline over the experiment's dataset: the analysis
// step's own input when the user supplied one, otherwise the data the
// acquisition step produced.
func (a *AnalysisAgent) Run(ctx context.Context, exp *experiment.Experiment, state *RunState) (*AnalysisOutput, error) {
	if err := state.Start(); err != nil {
		return nil, err
	}

	data := exp.Step(experiment.StepAnalysis).Input
	if data == "" {
		data = exp.Step(experiment.StepDataAcquisition).Output
	}
	if data == "" {
		err := fmt.Errorf("no dataset available: the analysis step has no input and no data was acquired")
		state.Fail(err.Error())
		return nil, err
	}
	goal := exp.Step(experiment.StepHypothesis).Summary
	if goal == "" {
		goal = exp.Step(experiment.StepHypothesis).Output
	}

	ft := exp.ResolveFineTune(experiment.StepAnalysis)

	plan, err := a.plan(ctx, goal, data, ft, state)
	if err != nil {
		state.Fail(err.Error())
		return nil, err
	}

	validated := a.executeCharts(ctx, plan, data, ft, state)

	summary, err := a.synthesize(ctx, goal, data, validated, ft, state)
	if err != nil {
		state.Fail(err.Error())
		return nil, err
	}

	state.Succeed()
	return &AnalysisOutput{
		Result:         AnalysisResult{Summary: summary, ChartSuggestions: validated},
		SuggestedInput: fmt.Sprintf("generated %d/%d planned visualizations", len(validated), len(plan)),
	}, nil
}

func (a *AnalysisAgent) plan(ctx context.Context, goal, data string, ft experiment.ResolvedFineTune, state *RunState) ([]ChartPlan, error) {
	state.AppendLog(rolePlanner, "planning the visual analysis")

	var planned struct {
		Charts []ChartPlan `json:"charts"`
	}
	err := a.gateway.GenerateJSON(ctx, &llm.GenerateRequest{
		Prompt:      plannerPrompt(goal, data),
		Temperature: ft.Temperature,
		TopP:        ft.TopP,
		TopK:        ft.TopK,
	}, &planned)
	if err != nil {
		return nil, fmt.Errorf("analysis planning failed: %w", err)
	}
	if len(planned.Charts) == 0 {
		return nil, fmt.Errorf("analysis planning failed: the plan contains no charts")
	}
	for i, p := range planned.Charts {
		if !p.ChartType.Valid() {
			return nil, fmt.Errorf("analysis planning failed: chart %d has unknown type %q", i+1, p.ChartType)
		}
	}

	if len(planned.Charts) > a.cfg.MaxCharts {
		planned.Charts = planned.Charts[:a.cfg.MaxCharts]
	}
	state.Logf(rolePlanner, "planned %d charts", len(planned.Charts))
	return planned.Charts, nil
}

// executeCharts attempts every planned chart independently; failures are
// absorbed so one stubborn chart cannot sink the run.
func (a *AnalysisAgent) executeCharts(ctx context.Context, plan []ChartPlan, data string, ft experiment.ResolvedFineTune, state *RunState) []ChartSuggestion {
	var validated []ChartSuggestion
	for i, p := range plan {
		cfg, err := a.executeOne(ctx, p, data, ft, state)
		if err != nil {
			state.Logf(roleDoer, "dropping chart %d (%s): %s", i+1, p.Goal, err)
			a.logger.Warn("chart dropped",
				zap.Int("chart", i+1),
				zap.String("type", string(p.ChartType)),
				zap.Error(err),
			)
			continue
		}
		validated = append(validated, ChartSuggestion{Goal: p.Goal, Config: *cfg})
		state.Logf(roleDoer, "chart %d validated (%s)", i+1, p.ChartType)
	}
	return validated
}

func (a *AnalysisAgent) executeOne(ctx context.Context, plan ChartPlan, data string, ft experiment.ResolvedFineTune, state *RunState) (*ChartConfig, error) {
	var lastErr error
	lastFailure := ""
	for attempt := 1; attempt <= a.cfg.PerChartAttempts; attempt++ {
		state.Logf(roleDoer, "building %s chart (attempt %d/%d): %s", plan.ChartType, attempt, a.cfg.PerChartAttempts, plan.Goal)

		var cfg ChartConfig
		err := a.gateway.GenerateJSON(ctx, &llm.GenerateRequest{
			Prompt:      chartPrompt(plan, data, lastFailure),
			Temperature: ft.Temperature,
			TopP:        ft.TopP,
			TopK:        ft.TopK,
		}, &cfg)
		if err != nil {
			var lerr *llm.Error
			if errors.As(err, &lerr) && lerr.Code == llm.ErrMalformedResponse {
				// Undecodable output: tell the model what was wrong and try
				// again within the per-chart bound.
				lastErr, lastFailure = err, lerr.Message
				continue
			}
			return nil, err
		}

		if err := ValidateChart(&cfg, plan.ChartType); err != nil {
			lastErr, lastFailure = err, err.Error()
			continue
		}
		return &cfg, nil
	}
	return nil, fmt.Errorf("no valid configuration in %d attempts: %w", a.cfg.PerChartAttempts, lastErr)
}

func (a *AnalysisAgent) synthesize(ctx context.Context, goal, data string, validated []ChartSuggestion, ft experiment.ResolvedFineTune, state *RunState) (string, error) {
	if len(validated) == 0 {
		state.AppendLog(roleSynthesizer, "no charts validated; writing a text-only interpretation")
	} else {
		state.Logf(roleSynthesizer, "writing the narrative for %d figures", len(validated))
	}

	resp, err := a.gateway.Generate(ctx, &llm.GenerateRequest{
		Prompt:      synthesisPrompt(goal, data, validated),
		Temperature: ft.Temperature,
		TopP:        ft.TopP,
		TopK:        ft.TopK,
	})
	if err != nil {
		return "", fmt.Errorf("analysis synthesis failed: %w", err)
	}
	return resp.Text, nil
}

// EncodeAnalysisResult renders the result as the JSON payload persisted in
// the step's output.
func EncodeAnalysisResult(result AnalysisResult) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode analysis result: %w", err)
	}
	return string(data), nil
}
