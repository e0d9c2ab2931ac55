package llm

import (
	"context"
	"testing"
	"time"

	"github.com/hypatia-sci/hypatia/llm/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name      string
	responses []string
	errs      []error
	calls     int
}

func (p *fakeProvider) Generate(_ context.Context, _ *GenerateRequest) (*GenerateResponse, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	text := ""
	if i < len(p.responses) {
		text = p.responses[i]
	}
	return &GenerateResponse{Provider: p.name, Text: text}, nil
}

func (p *fakeProvider) GenerateStream(_ context.Context, _ *GenerateRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Text: "chunk"}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) HealthCheck(_ context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (p *fakeProvider) Name() string { return p.name }

func fastGatewayPolicy(attempts int) *retry.Policy {
	return &retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestGateway_RetriesTransientThenSucceeds(t *testing.T) {
	provider := &fakeProvider{
		name:      "fake",
		responses: []string{"", "", "hello"},
		errs: []error{
			&Error{Code: ErrUpstreamError, Message: "503", HTTPStatus: 503},
			&Error{Code: ErrRateLimited, Message: "429", HTTPStatus: 429},
			nil,
		},
	}
	gw := NewGateway(provider, &GatewayConfig{RetryPolicy: fastGatewayPolicy(3)}, nil, zap.NewNop())

	var notices []string
	gw.OnNotify(func(msg string) { notices = append(notices, msg) })

	resp, err := gw.Generate(context.Background(), &GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 3, provider.calls)
	require.Len(t, notices, 2)
	assert.Contains(t, notices[0], "temporarily unavailable")
	assert.Contains(t, notices[1], "rate limiting")
}

func TestGateway_CredentialErrorNotRetried(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		errs: []error{&Error{Code: ErrUnauthorized, Message: "bad key", HTTPStatus: 401}},
	}
	gw := NewGateway(provider, &GatewayConfig{RetryPolicy: fastGatewayPolicy(3)}, nil, zap.NewNop())

	_, err := gw.Generate(context.Background(), &GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsCredentialError(err))
	assert.Equal(t, 1, provider.calls)
}

func TestGateway_ExhaustionWrapsSentinel(t *testing.T) {
	fail := &Error{Code: ErrUpstreamError, Message: "503", HTTPStatus: 503}
	provider := &fakeProvider{name: "fake", errs: []error{fail, fail, fail}}
	gw := NewGateway(provider, &GatewayConfig{RetryPolicy: fastGatewayPolicy(3)}, nil, zap.NewNop())

	_, err := gw.Generate(context.Background(), &GenerateRequest{Prompt: "hi"})
	require.ErrorIs(t, err, retry.ErrExhaustedRetries)
	assert.Equal(t, 3, provider.calls)
}

func TestGateway_GenerateJSON(t *testing.T) {
	provider := &fakeProvider{
		name:      "fake",
		responses: []string{"```json\n{\"answer\": 42}\n```"},
	}
	gw := NewGateway(provider, &GatewayConfig{RetryPolicy: fastGatewayPolicy(1)}, nil, zap.NewNop())

	var out struct {
		Answer int `json:"answer"`
	}
	req := &GenerateRequest{Prompt: "answer"}
	require.NoError(t, gw.GenerateJSON(context.Background(), req, &out))
	assert.Equal(t, 42, out.Answer)
	assert.Equal(t, "application/json", req.ResponseMIMEType)
}

func TestGateway_GenerateJSONMalformedNotRetried(t *testing.T) {
	provider := &fakeProvider{
		name:      "fake",
		responses: []string{"I will not produce JSON today.", `{"unreached": true}`},
	}
	gw := NewGateway(provider, &GatewayConfig{RetryPolicy: fastGatewayPolicy(3)}, nil, zap.NewNop())

	var out map[string]any
	err := gw.GenerateJSON(context.Background(), &GenerateRequest{Prompt: "json"}, &out)
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, ErrMalformedResponse, lerr.Code)
	assert.Contains(t, lerr.Message, "I will not produce JSON today.")
	assert.Equal(t, 1, provider.calls)
}

func TestGateway_ModelDefaultApplied(t *testing.T) {
	provider := &fakeProvider{name: "fake", responses: []string{"ok"}}
	gw := NewGateway(provider, &GatewayConfig{Model: "gemini-2.5-flash", RetryPolicy: fastGatewayPolicy(1)}, nil, zap.NewNop())

	req := &GenerateRequest{Prompt: "hi"}
	_, err := gw.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", req.Model)
}
