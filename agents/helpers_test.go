package agents

import (
	"time"

	"github.com/hypatia-sci/hypatia/llm"
	"github.com/hypatia-sci/hypatia/llm/retry"
	"github.com/hypatia-sci/hypatia/testutil/mocks"
	"go.uber.org/zap"
)

// newTestGateway wraps a scripted provider with millisecond backoff so
// retry-exercising tests stay fast.
func newTestGateway(p *mocks.ScriptedProvider) *llm.Gateway {
	return llm.NewGateway(p, &llm.GatewayConfig{
		Model: "test-model",
		RetryPolicy: &retry.Policy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		},
	}, nil, zap.NewNop())
}

func upstreamFailure() *llm.Error {
	return &llm.Error{
		Code:      llm.ErrUpstreamError,
		Message:   "backend unavailable",
		Retryable: true,
		Provider:  "scripted",
	}
}
