// Package experiment owns the persisted research record: the ten-step
// experiment model, the static step definitions, and the Store contract with
// its backends. All step mutations funnel through this package so the
// cursor invariant holds no matter which agent loop wrote last.
package experiment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workflow bounds. Step numbers run 1..NumSteps; a cursor of NumSteps+1
// marks a completed project.
const (
	NumSteps     = 10
	CompleteStep = NumSteps + 1
)

// AutomationMode gates whether the sequencer may drive the project.
type AutomationMode string

const (
	AutomationUnset     AutomationMode = ""
	AutomationManual    AutomationMode = "manual"
	AutomationAutomated AutomationMode = "automated"
)

// Status is the experiment lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ProvenanceConfig records the generation options one attempt ran with.
type ProvenanceConfig struct {
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	Persona     string  `json:"persona,omitempty"`
}

// ProvenanceEntry is one immutable generation-attempt record. Entries are
// only ever appended; reruns do not erase them.
type ProvenanceEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Prompt    string           `json:"prompt"`
	Config    ProvenanceConfig `json:"config"`
	Output    string           `json:"output"`
}

// StepRecord is the persisted state of one workflow step. A step is complete
// iff Output is non-empty.
type StepRecord struct {
	Input          string            `json:"input,omitempty"`
	Output         string            `json:"output,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	SuggestedInput string            `json:"suggested_input,omitempty"`
	Provenance     []ProvenanceEntry `json:"provenance,omitempty"`
}

// Complete reports whether the step produced a final output.
func (r StepRecord) Complete() bool { return r.Output != "" }

// FineTuneSettings are per-step generation overrides. Nil pointers mean
// "unset": the declared per-parameter default applies at prompt time.
type FineTuneSettings struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"top_p,omitempty"`
	TopK            *int     `json:"top_k,omitempty"`
	ReviewerPersona string   `json:"reviewer_persona,omitempty"`
}

// Experiment is the unit of work: one research project walking the ten-step
// scientific method.
type Experiment struct {
	ID             string                   `json:"id"`
	Title          string                   `json:"title"`
	Field          string                   `json:"field"`
	CurrentStep    int                      `json:"current_step"`
	AutomationMode AutomationMode           `json:"automation_mode"`
	StepData       map[int]StepRecord       `json:"step_data"`
	FineTune       map[int]FineTuneSettings `json:"fine_tune,omitempty"`
	LabNotebook    string                   `json:"lab_notebook,omitempty"`
	Status         Status                   `json:"status"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// New creates an active experiment positioned at step 1.
func New(title, field string) *Experiment {
	now := time.Now().UTC()
	return &Experiment{
		ID:          uuid.New().String(),
		Title:       title,
		Field:       field,
		CurrentStep: 1,
		StepData:    make(map[int]StepRecord),
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy. Stores hand out clones so no caller ever
// mutates shared state behind another's back.
func (e *Experiment) Clone() *Experiment {
	if e == nil {
		return nil
	}
	cp := *e
	cp.StepData = make(map[int]StepRecord, len(e.StepData))
	for n, rec := range e.StepData {
		if rec.Provenance != nil {
			prov := make([]ProvenanceEntry, len(rec.Provenance))
			copy(prov, rec.Provenance)
			rec.Provenance = prov
		}
		cp.StepData[n] = rec
	}
	if e.FineTune != nil {
		cp.FineTune = make(map[int]FineTuneSettings, len(e.FineTune))
		for n, ft := range e.FineTune {
			if ft.Temperature != nil {
				v := *ft.Temperature
				ft.Temperature = &v
			}
			if ft.TopP != nil {
				v := *ft.TopP
				ft.TopP = &v
			}
			if ft.TopK != nil {
				v := *ft.TopK
				ft.TopK = &v
			}
			cp.FineTune[n] = ft
		}
	}
	return &cp
}

// Step returns the record for step n, zero-valued when the step has not been
// touched yet.
func (e *Experiment) Step(n int) StepRecord {
	if e.StepData == nil {
		return StepRecord{}
	}
	return e.StepData[n]
}

// LastCompletedStep returns the highest step with a non-empty output, or 0.
func (e *Experiment) LastCompletedStep() int {
	last := 0
	for n := 1; n <= NumSteps; n++ {
		if e.Step(n).Complete() {
			last = n
		}
	}
	return last
}

// SetStepInput replaces the user-editable seed for step n.
func (e *Experiment) SetStepInput(n int, input string) error {
	if err := checkStep(n); err != nil {
		return err
	}
	rec := e.Step(n)
	rec.Input = input
	e.putStep(n, rec)
	return nil
}

// AppendProvenance records one generation attempt against step n. The
// provenance trail is append-only and survives reruns.
func (e *Experiment) AppendProvenance(n int, entry ProvenanceEntry) error {
	if err := checkStep(n); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	rec := e.Step(n)
	rec.Provenance = append(rec.Provenance, entry)
	e.putStep(n, rec)
	return nil
}

// CompleteStep writes step n's final output and advances the cursor to the
// next step, clamped so CurrentStep never exceeds lastCompletedStep+1 and
// never moves backwards.
func (e *Experiment) CompleteStep(n int, output, summary, suggestedInput string) error {
	if err := checkStep(n); err != nil {
		return err
	}
	if output == "" {
		return fmt.Errorf("%w: step %d output must be non-empty", ErrInvalidInput, n)
	}

	rec := e.Step(n)
	rec.Output = output
	rec.Summary = summary
	rec.SuggestedInput = suggestedInput
	e.putStep(n, rec)

	if next := n + 1; next > e.CurrentStep {
		e.CurrentStep = min(next, e.LastCompletedStep()+1)
		if e.CurrentStep > CompleteStep {
			e.CurrentStep = CompleteStep
		}
	}
	return nil
}

// Rerun rewinds the project to step k: outputs, summaries and suggested
// inputs of every later step are cleared and the cursor drops back to k.
// Inputs and provenance are preserved so no audit trail or user text is
// lost.
func (e *Experiment) Rerun(k int) error {
	if err := checkStep(k); err != nil {
		return err
	}
	for n := k + 1; n <= NumSteps; n++ {
		rec := e.Step(n)
		if rec.Output == "" && rec.Summary == "" && rec.SuggestedInput == "" {
			continue
		}
		rec.Output = ""
		rec.Summary = ""
		rec.SuggestedInput = ""
		e.putStep(n, rec)
	}
	// Clamped for the degenerate case of rerunning ahead of all completed
	// work; for a rerun of a reached step this is exactly k.
	e.CurrentStep = min(k, e.LastCompletedStep()+1)
	return nil
}

// SetAutomationMode sets the mode once; changing a decided mode is an
// explicit user action, so the store does not forbid it, but unset never
// overwrites a decision.
func (e *Experiment) SetAutomationMode(mode AutomationMode) error {
	switch mode {
	case AutomationManual, AutomationAutomated:
		e.AutomationMode = mode
		return nil
	default:
		return fmt.Errorf("%w: automation mode %q", ErrInvalidInput, mode)
	}
}

// Validate checks the structural invariants.
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidInput)
	}
	if e.CurrentStep < 1 || e.CurrentStep > CompleteStep {
		return fmt.Errorf("%w: current step %d out of range [1, %d]", ErrInvalidInput, e.CurrentStep, CompleteStep)
	}
	if max := e.LastCompletedStep() + 1; e.CurrentStep > max {
		return fmt.Errorf("%w: current step %d exceeds last completed step + 1 (%d)", ErrInvalidInput, e.CurrentStep, max)
	}
	for n := range e.StepData {
		if err := checkStep(n); err != nil {
			return err
		}
	}
	return nil
}

func (e *Experiment) putStep(n int, rec StepRecord) {
	if e.StepData == nil {
		e.StepData = make(map[int]StepRecord)
	}
	e.StepData[n] = rec
}

func checkStep(n int) error {
	if n < 1 || n > NumSteps {
		return fmt.Errorf("%w: step %d out of range [1, %d]", ErrInvalidInput, n, NumSteps)
	}
	return nil
}
