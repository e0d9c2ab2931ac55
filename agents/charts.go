package agents

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ChartType enumerates the chart shapes the analysis planner may request.
type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartScatter ChartType = "scatter"
)

// Valid reports whether t is a known chart type.
func (t ChartType) Valid() bool {
	switch t {
	case ChartBar, ChartLine, ChartScatter:
		return true
	default:
		return false
	}
}

// ChartPlan is one entry of the planner's output: what to visualize and
// which columns it needs.
type ChartPlan struct {
	ChartType ChartType `json:"chartType"`
	Goal      string    `json:"goal"`
	Columns   []string  `json:"columns"`
}

// ChartDataset is one series of a chart configuration. Points stay raw so
// the validator can type-check them per chart type.
type ChartDataset struct {
	Label string            `json:"label,omitempty"`
	Data  []json.RawMessage `json:"data"`
}

// ChartData is the labels-plus-datasets payload of a chart configuration.
type ChartData struct {
	Labels   []string       `json:"labels,omitempty"`
	Datasets []ChartDataset `json:"datasets"`
}

// ChartConfig is a renderable chart specification. The structure mirrors
// what charting front ends consume; the core only validates it.
type ChartConfig struct {
	Type    string          `json:"type"`
	Data    ChartData       `json:"data"`
	Options json.RawMessage `json:"options,omitempty"`
}

// ChartSuggestion pairs a validated configuration with the goal it serves.
type ChartSuggestion struct {
	Goal   string      `json:"goal"`
	Config ChartConfig `json:"config"`
}

// AnalysisResult is the structured payload persisted as the analysis step's
// output.
type AnalysisResult struct {
	Summary          string            `json:"summary"`
	ChartSuggestions []ChartSuggestion `json:"chartSuggestions"`
}

type scatterPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// ErrInvalidChart tags every validation rejection.
var ErrInvalidChart = errors.New("invalid chart configuration")

// ValidateChart statically checks a model-produced chart configuration
// against the planned type. A rejected chart is dropped, never rendered:
// the gate is what keeps malformed model output from reaching the UI.
func ValidateChart(cfg *ChartConfig, planned ChartType) error {
	if cfg == nil {
		return fmt.Errorf("%w: empty configuration", ErrInvalidChart)
	}
	if !planned.Valid() {
		return fmt.Errorf("%w: unknown planned type %q", ErrInvalidChart, planned)
	}
	if cfg.Type != string(planned) {
		return fmt.Errorf("%w: type is %q, plan requires %q", ErrInvalidChart, cfg.Type, planned)
	}
	if len(cfg.Data.Datasets) == 0 {
		return fmt.Errorf("%w: data.datasets is empty", ErrInvalidChart)
	}

	points := cfg.Data.Datasets[0].Data
	if len(points) == 0 {
		return fmt.Errorf("%w: data.datasets[0].data is empty", ErrInvalidChart)
	}

	switch planned {
	case ChartScatter:
		for i, raw := range points {
			var pt scatterPoint
			if err := json.Unmarshal(raw, &pt); err != nil {
				return fmt.Errorf("%w: scatter point %d is not an object with x/y: %v", ErrInvalidChart, i, err)
			}
			if pt.X == nil || pt.Y == nil {
				return fmt.Errorf("%w: scatter point %d is missing a numeric x or y", ErrInvalidChart, i)
			}
		}
	case ChartBar, ChartLine:
		if len(cfg.Data.Labels) == 0 {
			return fmt.Errorf("%w: %s charts require non-empty data.labels", ErrInvalidChart, planned)
		}
		if len(cfg.Data.Labels) != len(points) {
			return fmt.Errorf("%w: %d labels for %d data points", ErrInvalidChart, len(cfg.Data.Labels), len(points))
		}
		for i, raw := range points {
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("%w: %s data point %d is not a number", ErrInvalidChart, planned, i)
			}
		}
	}
	return nil
}
