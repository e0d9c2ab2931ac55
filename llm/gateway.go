package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hypatia-sci/hypatia/llm/retry"
	"go.uber.org/zap"
)

// NotifyFunc receives a human-readable progress message, e.g. "service
// unavailable, retrying in 4s (attempt 2/3)". It must not block.
type NotifyFunc func(message string)

// Recorder receives call-level observations. internal/metrics implements it;
// a nil Recorder disables recording.
type Recorder interface {
	RecordLLMRequest(provider string, duration time.Duration, err error)
	RecordLLMTokens(provider string, prompt, completion int)
}

// GatewayConfig tunes one gateway instance.
type GatewayConfig struct {
	// Model overrides the request model when the request leaves it empty.
	Model string

	// RetryPolicy bounds transient-failure retries. Nil uses
	// retry.DefaultPolicy. The policy's IsRetryable and OnRetry hooks are
	// owned by the gateway and must be left nil.
	RetryPolicy *retry.Policy
}

// Gateway is the single entry point to the hosted generation capability.
// It decorates a Provider with bounded retries, failure classification,
// structured logging, metrics and notify fan-out, so agent loops never hold
// a raw provider. Construct one per authenticated session and inject it
// explicitly; there is no package-level instance.
type Gateway struct {
	provider Provider
	retryer  retry.Retryer
	recorder Recorder
	logger   *zap.Logger
	model    string

	mu       sync.RWMutex
	notifies []NotifyFunc
}

// NewGateway wires a provider behind the retry controller.
func NewGateway(provider Provider, cfg *GatewayConfig, recorder Recorder, logger *zap.Logger) *Gateway {
	if cfg == nil {
		cfg = &GatewayConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "llm_gateway"))

	policy := cfg.RetryPolicy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}

	g := &Gateway{
		provider: provider,
		recorder: recorder,
		logger:   logger,
		model:    cfg.Model,
	}

	policy.IsRetryable = IsRetryable
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.notify(fmt.Sprintf("%s, retrying in %s (attempt %d/%d)",
			describeFailure(err), delay.Round(time.Second), attempt, policy.MaxAttempts))
	}
	g.retryer = retry.NewBackoffRetryer(policy, logger)

	return g
}

// OnNotify registers a progress listener. Listeners are invoked in
// registration order before each retry wait.
func (g *Gateway) OnNotify(fn NotifyFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.notifies = append(g.notifies, fn)
	g.mu.Unlock()
}

func (g *Gateway) notify(message string) {
	g.mu.RLock()
	fns := make([]NotifyFunc, len(g.notifies))
	copy(fns, g.notifies)
	g.mu.RUnlock()
	for _, fn := range fns {
		fn(message)
	}
}

// Provider returns the underlying provider's name.
func (g *Gateway) Provider() string { return g.provider.Name() }

// Model returns the default model requests fall back to.
func (g *Gateway) Model() string { return g.model }

// Generate issues one generation call with retries. On exhaustion the error
// wraps retry.ErrExhaustedRetries and the last provider failure; credential
// failures surface immediately.
func (g *Gateway) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	g.fillDefaults(req)

	start := time.Now()
	resp, err := retry.DoWithResultTyped[*GenerateResponse](g.retryer, ctx, func() (*GenerateResponse, error) {
		return g.provider.Generate(ctx, req)
	})
	g.record(start, resp, err)

	if err != nil {
		g.logger.Warn("generate failed",
			zap.String("provider", g.provider.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	g.logger.Debug("generate ok",
		zap.String("provider", resp.Provider),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// GenerateJSON requests JSON-mode output and decodes it into v. The request
// is mutated to carry "application/json" unless the caller already set a
// MIME type. A response that fails to decode surfaces as a malformed-response
// error carrying the raw text; it is never blindly re-sent.
func (g *Gateway) GenerateJSON(ctx context.Context, req *GenerateRequest, v any) error {
	if req.ResponseMIMEType == "" {
		req.ResponseMIMEType = "application/json"
	}
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return err
	}
	return UnmarshalResponse(g.provider.Name(), resp.Text, v)
}

// GenerateStream opens a streaming call. Only the initial connection is
// retried; a failure mid-stream arrives as a chunk with Err set and is the
// caller's to handle, since replaying half a stream would duplicate output.
func (g *Gateway) GenerateStream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error) {
	g.fillDefaults(req)

	start := time.Now()
	ch, err := retry.DoWithResultTyped[<-chan StreamChunk](g.retryer, ctx, func() (<-chan StreamChunk, error) {
		return g.provider.GenerateStream(ctx, req)
	})
	g.record(start, nil, err)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// HealthCheck probes the underlying provider once, without retries.
func (g *Gateway) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return g.provider.HealthCheck(ctx)
}

func (g *Gateway) fillDefaults(req *GenerateRequest) {
	if req.Model == "" {
		req.Model = g.model
	}
}

func (g *Gateway) record(start time.Time, resp *GenerateResponse, err error) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordLLMRequest(g.provider.Name(), time.Since(start), err)
	if resp != nil {
		g.recorder.RecordLLMTokens(g.provider.Name(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
}

func describeFailure(err error) string {
	switch Classify(err) {
	case ClassRateLimited:
		return "the service is rate limiting requests"
	case ClassServiceUnavailable:
		return "the service is temporarily unavailable"
	case ClassNetworkFailure:
		return "a network failure interrupted the request"
	default:
		return "the request failed"
	}
}
