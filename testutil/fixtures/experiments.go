// Package fixtures provides canned experiments at well-known workflow
// positions for store and agent tests.
package fixtures

import (
	"fmt"

	"github.com/hypatia-sci/hypatia/experiment"
)

// NewExperiment returns a fresh experiment positioned at step 1.
func NewExperiment() *experiment.Experiment {
	return experiment.New("Thermal tolerance in C. elegans", "biology")
}

// ExperimentAtStep returns an experiment with steps 1..n-1 completed, the
// cursor on n. Outputs and summaries are distinguishable per step so tests
// can assert which text reached a prompt.
func ExperimentAtStep(n int) *experiment.Experiment {
	exp := NewExperiment()
	for i := 1; i < n && i <= experiment.NumSteps; i++ {
		output := fmt.Sprintf("output of step %d (%s)", i, experiment.StepTitle(i))
		summary := fmt.Sprintf("summary of step %d", i)
		if err := exp.CompleteStep(i, output, summary, ""); err != nil {
			panic(err)
		}
	}
	return exp
}

// ReadyForAcquisition returns an experiment whose methodology and data plan
// are filled in, cursor on the data-acquisition step.
func ReadyForAcquisition() *experiment.Experiment {
	return ExperimentAtStep(experiment.StepDataAcquisition)
}

// ReadyForAnalysis returns an experiment with an acquired CSV dataset,
// cursor on the analysis step.
func ReadyForAnalysis(csv string) *experiment.Experiment {
	exp := ExperimentAtStep(experiment.StepDataAcquisition)
	if err := exp.CompleteStep(experiment.StepDataAcquisition, csv, "acquired dataset", ""); err != nil {
		panic(err)
	}
	return exp
}
