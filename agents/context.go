package agents

import (
	"fmt"
	"strings"

	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/llm/tokenizer"
)

// ContextBuilder derives the prompt context for a step from the completed
// steps before it. Recent steps contribute their full output; anything
// further back contributes only its summary, and the whole bundle is held
// under a token budget so prompts stop growing with the project.
type ContextBuilder struct {
	counter tokenizer.Counter

	// RecentWindow is how many steps back still get full text.
	RecentWindow int

	// TokenBudget caps the assembled context. Oldest sections degrade to
	// summaries first, then drop entirely.
	TokenBudget int
}

// NewContextBuilder uses the given counter; nil falls back to the heuristic
// estimator.
func NewContextBuilder(counter tokenizer.Counter) *ContextBuilder {
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	return &ContextBuilder{
		counter:      counter,
		RecentWindow: 2,
		TokenBudget:  8000,
	}
}

type contextSection struct {
	step    int
	title   string
	full    string // preferred text (empty when only a summary exists)
	summary string
}

func (s contextSection) text(useFull bool) string {
	if useFull && s.full != "" {
		return s.full
	}
	if s.summary != "" {
		return s.summary
	}
	return s.full
}

// Build assembles the context for work on step forStep: every completed
// earlier step, newest last, formatted as titled sections.
func (b *ContextBuilder) Build(exp *experiment.Experiment, forStep int) string {
	var sections []contextSection
	for n := 1; n < forStep && n <= experiment.NumSteps; n++ {
		rec := exp.Step(n)
		if !rec.Complete() {
			continue
		}
		sections = append(sections, contextSection{
			step:    n,
			title:   experiment.StepTitle(n),
			full:    rec.Output,
			summary: rec.Summary,
		})
	}
	if len(sections) == 0 {
		return ""
	}

	// First pass: distance decides full text vs summary.
	useFull := make([]bool, len(sections))
	for i, s := range sections {
		useFull[i] = forStep-s.step <= b.RecentWindow
	}

	render := func() string {
		var sb strings.Builder
		sb.WriteString("Project so far:\n")
		for i, s := range sections {
			if s.text(useFull[i]) == "" {
				continue
			}
			fmt.Fprintf(&sb, "\n## Step %d: %s\n%s\n", s.step, s.title, s.text(useFull[i]))
		}
		return sb.String()
	}

	out := render()
	if b.TokenBudget <= 0 || b.counter.Count(out) <= b.TokenBudget {
		return out
	}

	// Over budget: degrade oldest full sections to summaries.
	for i := range sections {
		if !useFull[i] {
			continue
		}
		useFull[i] = false
		out = render()
		if b.counter.Count(out) <= b.TokenBudget {
			return out
		}
	}

	// Still over: drop oldest sections until it fits or one remains.
	for len(sections) > 1 {
		sections = sections[1:]
		useFull = useFull[1:]
		out = render()
		if b.counter.Count(out) <= b.TokenBudget {
			return out
		}
	}
	return out
}
