// Package llm defines the provider contract for the hosted generation
// capability and the Gateway that the agent loops call through.
//
// A Provider turns a single prompt (plus generation options) into text or a
// stream of text deltas. The Gateway decorates a Provider with bounded
// retries, failure classification and progress notification so callers never
// talk to a provider directly.
package llm
