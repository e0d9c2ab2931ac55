// Package tokenizer counts tokens for prompt-budget decisions. The step
// context builder uses it to decide when older step outputs must be replaced
// by their summaries.
package tokenizer

// Counter estimates how many tokens a text costs in a prompt.
type Counter interface {
	// Count returns the token count for text. Implementations never fail;
	// an encoder that cannot load falls back to estimation.
	Count(text string) int

	// Name identifies the counting strategy.
	Name() string
}

// NewCounter returns the most accurate counter available: tiktoken when its
// encoding loads, otherwise the heuristic estimator. Encodings ship embedded
// in the tiktoken module, so the fallback matters only for unknown encodings.
func NewCounter(encoding string) Counter {
	if t, err := NewTiktokenCounter(encoding); err == nil {
		return t
	}
	return NewEstimator()
}
