package llm

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSchema describes a function the model may call, as a JSON Schema.
// Tool execution is the caller's concern; the schema only shapes the output.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GenerateRequest is a single-prompt generation call.
//
// Zero-valued sampling options mean "provider default"; callers that honor
// per-step fine-tune settings resolve their defaults before building the
// request.
type GenerateRequest struct {
	Model             string            `json:"model,omitempty"`
	Prompt            string            `json:"prompt"`
	SystemInstruction string            `json:"system_instruction,omitempty"`
	Temperature       float32           `json:"temperature,omitempty"`
	TopP              float32           `json:"top_p,omitempty"`
	TopK              int               `json:"top_k,omitempty"`
	MaxOutputTokens   int               `json:"max_output_tokens,omitempty"`
	Tools             []ToolSchema      `json:"tools,omitempty"`
	ResponseMIMEType  string            `json:"response_mime_type,omitempty"` // "application/json" requests JSON mode
	ResponseSchema    json.RawMessage   `json:"response_schema,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// GenerateResponse is the full result of a generation call.
type GenerateResponse struct {
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	Text         string    `json:"text"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        Usage     `json:"usage,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// StreamChunk is one incremental delta of a streaming generation. The final
// chunk may carry Usage; a failed stream delivers Err and then closes.
type StreamChunk struct {
	Text         string `json:"text,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Err          *Error `json:"error,omitempty"`
}

// HealthStatus is the result of a provider liveness probe.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider adapts one hosted generation service.
//
// Implementations must return *Error for remote failures so the retry
// controller can classify them.
type Provider interface {
	// Generate issues a synchronous generation call and returns the full text.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// GenerateStream issues a streaming call. The channel is closed after the
	// final chunk; a mid-stream failure is delivered as a chunk with Err set.
	GenerateStream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error)

	// HealthCheck performs a lightweight liveness probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's stable identifier.
	Name() string
}
