// Package mocks provides scripted test doubles for the external
// collaborators: the LLM provider and the metrics recorder.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/hypatia-sci/hypatia/llm"
)

// ScriptedProvider is an llm.Provider whose responses are queued up front.
// Each Generate call consumes the next script entry; when the script runs
// dry the provider repeats its last entry, so a single Reply covers any
// number of calls. Every request is recorded for assertions.
type ScriptedProvider struct {
	mu     sync.Mutex
	name   string
	script []scriptEntry
	cursor int

	requests []llm.GenerateRequest
	delay    time.Duration

	healthErr error
}

type scriptEntry struct {
	text string
	err  error
}

// NewScriptedProvider creates an empty provider. With no script entries
// every call fails; add entries with Reply and Err.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{name: "scripted"}
}

// WithName overrides the provider name.
func (p *ScriptedProvider) WithName(name string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	return p
}

// WithDelay makes every call sleep first, for pacing-sensitive tests.
func (p *ScriptedProvider) WithDelay(d time.Duration) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// Reply queues a successful response.
func (p *ScriptedProvider) Reply(text string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, scriptEntry{text: text})
	return p
}

// Err queues a failure.
func (p *ScriptedProvider) Err(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, scriptEntry{err: err})
	return p
}

// WithHealthErr makes HealthCheck fail.
func (p *ScriptedProvider) WithHealthErr(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthErr = err
	return p
}

// Calls returns how many Generate calls the provider has served.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns copies of every recorded request, in order.
func (p *ScriptedProvider) Requests() []llm.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.GenerateRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Request returns the i-th recorded request, zero value when out of range.
func (p *ScriptedProvider) Request(i int) llm.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.requests) {
		return llm.GenerateRequest{}
	}
	return p.requests[i]
}

func (p *ScriptedProvider) next(req *llm.GenerateRequest) (scriptEntry, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, *req)
	if len(p.script) == 0 {
		return scriptEntry{err: &llm.Error{
			Code:     llm.ErrUpstreamError,
			Message:  "scripted provider has no responses queued",
			Provider: p.name,
		}}, p.delay
	}
	entry := p.script[p.cursor]
	if p.cursor < len(p.script)-1 {
		p.cursor++
	}
	return entry, p.delay
}

// Generate consumes the next script entry.
func (p *ScriptedProvider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	entry, delay := p.next(req)
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return &llm.GenerateResponse{
		Provider:  p.name,
		Model:     req.Model,
		Text:      entry.text,
		CreatedAt: time.Now(),
	}, nil
}

// GenerateStream replays the next script entry as a single chunk.
func (p *ScriptedProvider) GenerateStream(ctx context.Context, req *llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	entry, _ := p.next(req)
	if entry.err != nil {
		return nil, entry.err
	}
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Text: entry.text, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// HealthCheck reports the configured health.
func (p *ScriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	p.mu.Lock()
	err := p.healthErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &llm.HealthStatus{Healthy: true}, nil
}

// Name returns the provider's identifier.
func (p *ScriptedProvider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// RecorderSpy is an llm.Recorder that counts what it is told.
type RecorderSpy struct {
	mu               sync.Mutex
	requests         int
	failures         int
	promptTokens     int
	completionTokens int
}

// NewRecorderSpy creates an empty spy.
func NewRecorderSpy() *RecorderSpy { return &RecorderSpy{} }

// RecordLLMRequest counts one call.
func (r *RecorderSpy) RecordLLMRequest(provider string, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	if err != nil {
		r.failures++
	}
}

// RecordLLMTokens accumulates token counts.
func (r *RecorderSpy) RecordLLMTokens(provider string, prompt, completion int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promptTokens += prompt
	r.completionTokens += completion
}

// Requests returns the number of recorded calls.
func (r *RecorderSpy) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// Failures returns the number of recorded failed calls.
func (r *RecorderSpy) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Tokens returns the accumulated prompt and completion token counts.
func (r *RecorderSpy) Tokens() (prompt, completion int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promptTokens, r.completionTokens
}
