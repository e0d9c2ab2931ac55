package agents

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hypatia-sci/hypatia/experiment"
)

// Role labels attached to log entries so the caller can render attribution.
const (
	roleSimplifier  = "Simplifier"
	roleCoder       = "Coder"
	roleExecutor    = "Executor"
	roleDebugger    = "Debugger"
	rolePlanner     = "Planner"
	roleDoer        = "Doer"
	roleSynthesizer = "Synthesizer"
	roleOutliner    = "Outliner"
	roleWriter      = "Writer"
	roleEditor      = "Editor"
	roleReviewer    = "Reviewer"
	roleSummarizer  = "Summarizer"
	roleSequencer   = "Sequencer"
)

const scriptContract = `Write a Starlark script (Python-like: def, while, for, if; no imports, no classes, no f-strings).
The script must generate the dataset and then call finish(data, summary) exactly once,
where data is the full dataset as a CSV string (header row first) and summary is one
sentence describing it. Both arguments must be strings. Use log(...) for progress output.
Do not use any built-in other than finish, log, and the Starlark standard builtins.`

func simplifierPrompt(methodology, dataPlan string) string {
	return fmt.Sprintf(`Condense the following research plan into a single paragraph stating exactly
what data must be produced: variables, ranges, size and the relationship the data should exhibit.

Methodology:
%s

Data plan:
%s`, methodology, dataPlan)
}

func coderPrompt(intent string) string {
	return fmt.Sprintf(`%s

Data requirements:
%s

Respond with only the script, no explanation.`, scriptContract, intent)
}

func debuggerPrompt(code, failure string) string {
	return fmt.Sprintf(`The following Starlark script failed. Fix it and respond with only the
corrected script, no explanation.

Failure:
%s

Script:
%s

Remember: %s`, failure, code, scriptContract)
}

func plannerPrompt(goal, data string) string {
	return fmt.Sprintf(`You are planning the visual analysis of a dataset. Propose the charts that
best test the research goal. Respond as JSON: {"charts": [{"chartType": "bar"|"line"|"scatter",
"goal": "...", "columns": ["..."]}]}. Plan at most 4 charts.

Research goal:
%s

Dataset (CSV):
%s`, goal, data)
}

func chartPrompt(plan ChartPlan, data, lastError string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Produce a single chart configuration as JSON:
{"type": %q, "data": {"labels": [...], "datasets": [{"label": "...", "data": [...]}]}}.
`, plan.ChartType)
	if plan.ChartType == ChartScatter {
		sb.WriteString(`For a scatter chart omit labels and make every data point an object {"x": <number>, "y": <number>}.` + "\n")
	} else {
		sb.WriteString("labels and datasets[0].data must be non-empty and the same length; data points are numbers.\n")
	}
	fmt.Fprintf(&sb, "\nGoal: %s\nColumns to use: %s\n\nDataset (CSV):\n%s\n", plan.Goal, strings.Join(plan.Columns, ", "), data)
	if lastError != "" {
		fmt.Fprintf(&sb, "\nYour previous configuration was rejected: %s\nProduce a corrected configuration.\n", lastError)
	}
	return sb.String()
}

func synthesisPrompt(goal, data string, validated []ChartSuggestion) string {
	var sb strings.Builder
	sb.WriteString("Write the results narrative for a research project.\n\n")
	fmt.Fprintf(&sb, "Research goal:\n%s\n\nDataset (CSV):\n%s\n\n", goal, data)
	if len(validated) == 0 {
		sb.WriteString(`No figures are available. Interpret the raw data directly in text form;
do not reference any figure.`)
		return sb.String()
	}
	sb.WriteString("Reference each figure by its number in order:\n")
	for i, s := range validated {
		fmt.Fprintf(&sb, "Figure %d: %s chart (%s)\n", i+1, s.Config.Type, s.Goal)
	}
	sb.WriteString("\nDiscuss what every figure shows and what it means for the research goal.")
	return sb.String()
}

func stepPrompt(def experiment.StepDefinition, context, input string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are drafting the %q stage of a scientific research project.\n%s\n\n", def.Title, def.Description)
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n")
	}
	if input != "" {
		fmt.Fprintf(&sb, "The researcher's notes for this stage:\n%s\n\n", input)
	}
	sb.WriteString("Produce the content for this stage, ready for the researcher to review and edit.")
	return sb.String()
}

// questionPrompt is the step 1 variant: structured output so the summary can
// be lifted from a field instead of a second summarization call.
func questionPrompt(input, field string) string {
	return fmt.Sprintf(`Frame a focused, falsifiable research question in the field of %s.
Respond as JSON: {"question": "...", "rationale": "...", "summary": "<one sentence>"}.

The researcher's notes:
%s`, field, input)
}

func outlinerPrompt(title, sections, context, input string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Outline the %q document for a research project.\n", title)
	if sections != "" {
		fmt.Fprintf(&sb, "The document must contain these sections, in order: %s.\n", sections)
	}
	sb.WriteString("\n")
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n")
	}
	if input != "" {
		fmt.Fprintf(&sb, "The researcher's notes:\n%s\n\n", input)
	}
	sb.WriteString("Respond with only the outline: section headings with two or three bullet points each.")
	return sb.String()
}

func reviewerPrompt(persona, context string) string {
	return fmt.Sprintf(`You are %s. Critically review the research project below. Identify every
methodological weakness, unsupported claim and gap, numbered, most serious first. Be specific
about what would need to change. Respond with only the critique.

%s`, persona, context)
}

func writerPrompt(title, brief, context string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the full %q document for a research project, following this brief:\n\n%s\n\n", title, brief)
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n")
	}
	sb.WriteString("Respond with only the document, in markdown.")
	return sb.String()
}

func editorPrompt(title, document string) string {
	return fmt.Sprintf(`Edit the %q document below: tighten the prose, fix inconsistencies, and make
every claim follow from the material it cites. Keep the structure. Respond with only the full
revised document.

%s`, title, document)
}

func summarizePrompt(title, text string) string {
	return fmt.Sprintf(`Distill the following %q content into at most three sentences, keeping every
fact a later research stage might depend on. Respond with only the summary.

%s`, title, text)
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:python|starlark)?\\s*\\n?(.*?)\\n?```")

// extractCode strips a markdown fence from a model-produced script; models
// add one even when told not to.
func extractCode(response string) string {
	response = strings.TrimSpace(response)
	if m := codeFenceRe.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return response
}
