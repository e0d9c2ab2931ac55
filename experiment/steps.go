package experiment

// StepDefinition describes one stage of the fixed workflow. The table is
// static input data: prompts and agents key off the step number, never off
// the titles.
type StepDefinition struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Well-known step numbers the agent dispatch keys on.
const (
	StepQuestion         = 1
	StepLiteratureReview = 2
	StepHypothesis       = 3
	StepMethodology      = 4
	StepDataPlan         = 5
	StepDataAcquisition  = 6
	StepAnalysis         = 7
	StepConclusion       = 8
	StepPeerReview       = 9
	StepPublication      = 10
)

var stepDefinitions = [NumSteps]StepDefinition{
	{StepQuestion, "Research Question", "Frame a focused, falsifiable research question in the chosen field."},
	{StepLiteratureReview, "Literature Review", "Survey prior work relevant to the question and identify the gap this project addresses."},
	{StepHypothesis, "Hypothesis", "State a testable hypothesis with its null counterpart."},
	{StepMethodology, "Methodology", "Design the experimental procedure, controls and variables."},
	{StepDataPlan, "Data Plan", "Specify what data will be collected, in what format, and how much."},
	{StepDataAcquisition, "Data Acquisition", "Obtain the dataset, by simulation when no real data source is available."},
	{StepAnalysis, "Data Analysis", "Analyze the dataset, producing charts and a narrative interpretation."},
	{StepConclusion, "Conclusion", "Interpret the analysis against the hypothesis and state the finding."},
	{StepPeerReview, "Peer Review", "Subject the project to a critical reviewer pass and address the critique."},
	{StepPublication, "Publication", "Assemble the full paper: abstract, methods, results, discussion."},
}

// Steps returns the ordered workflow definition.
func Steps() []StepDefinition {
	defs := make([]StepDefinition, NumSteps)
	copy(defs, stepDefinitions[:])
	return defs
}

// StepTitle returns the title for step n, empty for an invalid number.
func StepTitle(n int) string {
	if n < 1 || n > NumSteps {
		return ""
	}
	return stepDefinitions[n-1].Title
}

// FineTuneDefaults are the declared per-parameter fallbacks applied when a
// step's settings leave an option unset.
type FineTuneDefaults struct {
	Temperature     float32
	TopP            float32
	TopK            int
	ReviewerPersona string
}

// DefaultReviewerPersona is the reviewer role used when the user picked none.
const DefaultReviewerPersona = "a rigorous but constructive domain expert"

var fineTuneDefaults = FineTuneDefaults{
	Temperature:     0.7,
	TopP:            0.95,
	TopK:            40,
	ReviewerPersona: DefaultReviewerPersona,
}

// creative steps run hotter by default than structured-output steps.
var stepTemperatureDefaults = map[int]float32{
	StepDataAcquisition: 0.2,
	StepAnalysis:        0.3,
}

// ResolvedFineTune is a fully concrete set of generation options.
type ResolvedFineTune struct {
	Temperature     float32
	TopP            float32
	TopK            int
	ReviewerPersona string
}

// ResolveFineTune merges the experiment's settings for step n over the
// declared defaults. Every field of the result is usable as-is.
func (e *Experiment) ResolveFineTune(n int) ResolvedFineTune {
	out := ResolvedFineTune{
		Temperature:     fineTuneDefaults.Temperature,
		TopP:            fineTuneDefaults.TopP,
		TopK:            fineTuneDefaults.TopK,
		ReviewerPersona: fineTuneDefaults.ReviewerPersona,
	}
	if t, ok := stepTemperatureDefaults[n]; ok {
		out.Temperature = t
	}

	ft, ok := e.FineTune[n]
	if !ok {
		return out
	}
	if ft.Temperature != nil {
		out.Temperature = *ft.Temperature
	}
	if ft.TopP != nil {
		out.TopP = *ft.TopP
	}
	if ft.TopK != nil {
		out.TopK = *ft.TopK
	}
	if ft.ReviewerPersona != "" {
		out.ReviewerPersona = ft.ReviewerPersona
	}
	return out
}
