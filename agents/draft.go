package agents

import (
	"context"
	"fmt"

	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/llm"
	"go.uber.org/zap"
)

// DraftKind selects which document the draft engine produces.
type DraftKind string

const (
	DraftLiteratureReview DraftKind = "literature_review"
	DraftPeerReview       DraftKind = "peer_review"
	DraftPublication      DraftKind = "publication"
)

// DraftKindForStep maps a workflow step to its document kind. The second
// return is false for steps the draft engine does not own.
func DraftKindForStep(n int) (DraftKind, bool) {
	switch n {
	case experiment.StepLiteratureReview:
		return DraftLiteratureReview, true
	case experiment.StepPeerReview:
		return DraftPeerReview, true
	case experiment.StepPublication:
		return DraftPublication, true
	default:
		return "", false
	}
}

func (k DraftKind) step() int {
	switch k {
	case DraftLiteratureReview:
		return experiment.StepLiteratureReview
	case DraftPeerReview:
		return experiment.StepPeerReview
	default:
		return experiment.StepPublication
	}
}

// sections names the mandatory structure, empty when the document is free-form.
func (k DraftKind) sections() string {
	if k == DraftPublication {
		return "Abstract, Methods, Results, Discussion"
	}
	return ""
}

// DraftConfig bounds the refinement loop.
type DraftConfig struct {
	// MaxIterations is the total number of passes across all phases,
	// clamped to [5, 7].
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
}

// DefaultDraftConfig returns the standard six-pass budget.
func DefaultDraftConfig() DraftConfig {
	return DraftConfig{MaxIterations: 6}
}

func (c DraftConfig) withDefaults() DraftConfig {
	if c.MaxIterations == 0 {
		c.MaxIterations = 6
	}
	if c.MaxIterations < 5 {
		c.MaxIterations = 5
	}
	if c.MaxIterations > 7 {
		c.MaxIterations = 7
	}
	return c
}

// DraftAgent is one document engine driving three role scripts. Literature
// reviews and publications run Outliner → Writer → Editor passes; peer
// reviews swap the Outliner for a persona-driven Reviewer whose critique
// becomes the writer's brief. Any pass failing fails the whole attempt, so
// either the finished document comes back or nothing does.
type DraftAgent struct {
	gateway    *llm.Gateway
	ctxBuilder *ContextBuilder
	cfg        DraftConfig
	logger     *zap.Logger
}

// NewDraftAgent creates the draft engine. A nil builder gets the default
// context window.
func NewDraftAgent(gateway *llm.Gateway, builder *ContextBuilder, cfg DraftConfig, logger *zap.Logger) *DraftAgent {
	if builder == nil {
		builder = NewContextBuilder(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftAgent{
		gateway:    gateway,
		ctxBuilder: builder,
		cfg:        cfg.withDefaults(),
		logger:     logger.With(zap.String("component", "draft_agent")),
	}
}

// DraftResult is the assembled document.
type DraftResult struct {
	Document   string
	Iterations int
}

// Run produces the document for kind. The experiment is read, never
// written; persistence is the caller's concern.
func (d *DraftAgent) Run(ctx context.Context, exp *experiment.Experiment, kind DraftKind, state *RunState) (*DraftResult, error) {
	if err := state.Start(); err != nil {
		return nil, err
	}

	step := kind.step()
	title := experiment.StepTitle(step)
	stepCtx := d.ctxBuilder.Build(exp, step)
	ft := exp.ResolveFineTune(step)

	iteration := 0
	pass := func(role, prompt string, temperature float32) (string, error) {
		iteration++
		state.SetIteration(iteration)
		state.Logf(role, "pass %d/%d", iteration, d.cfg.MaxIterations)
		resp, err := d.gateway.Generate(ctx, &llm.GenerateRequest{
			Prompt:      prompt,
			Temperature: temperature,
			TopP:        ft.TopP,
			TopK:        ft.TopK,
		})
		if err != nil {
			return "", fmt.Errorf("%s pass failed: %w", role, err)
		}
		return resp.Text, nil
	}

	// Phase 1: the brief. A critique for peer review, an outline otherwise.
	var brief string
	var err error
	if kind == DraftPeerReview {
		state.Logf(roleReviewer, "reviewing as %s", ft.ReviewerPersona)
		brief, err = pass(roleReviewer, reviewerPrompt(ft.ReviewerPersona, stepCtx), ft.Temperature)
	} else {
		brief, err = pass(roleOutliner, outlinerPrompt(title, kind.sections(), stepCtx, exp.Step(step).Input), ft.Temperature)
	}
	if err != nil {
		state.Fail(err.Error())
		return nil, err
	}

	// Phase 2: the first full draft from the brief.
	document, err := pass(roleWriter, writerPrompt(title, brief, stepCtx), ft.Temperature)
	if err != nil {
		state.Fail(err.Error())
		return nil, err
	}

	// Phase 3: editor passes spend the rest of the budget.
	for iteration < d.cfg.MaxIterations {
		revised, err := pass(roleEditor, editorPrompt(title, document), ft.Temperature)
		if err != nil {
			state.Fail(err.Error())
			return nil, err
		}
		document = revised
	}

	state.Succeed()
	d.logger.Info("draft assembled",
		zap.String("kind", string(kind)),
		zap.Int("iterations", iteration),
	)
	return &DraftResult{Document: document, Iterations: iteration}, nil
}
