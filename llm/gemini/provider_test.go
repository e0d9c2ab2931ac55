package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/hypatia-sci/hypatia/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProvider_Name(t *testing.T) {
	provider := NewProvider(Config{}, zap.NewNop())
	assert.Equal(t, "gemini", provider.Name())
}

func TestProvider_Defaults(t *testing.T) {
	provider := NewProvider(Config{APIKey: "test-key"}, zap.NewNop())
	assert.Equal(t, DefaultModel, provider.cfg.Model)
	assert.Equal(t, "https://generativelanguage.googleapis.com", provider.cfg.BaseURL)
	assert.Equal(t, 60*time.Second, provider.cfg.Timeout)
}

func TestProvider_Generate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "A hypothesis: "}, {Text: "plants grow faster."}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 8, TotalTokenCount: 20},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	provider := NewProvider(Config{APIKey: "test-key", Model: "gemini-2.5-flash", BaseURL: srv.URL}, zap.NewNop())

	resp, err := provider.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:            "Formulate a hypothesis",
		SystemInstruction: "You are a research assistant",
		Temperature:       0.7,
		TopK:              40,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "Formulate a hypothesis", gotBody.Contents[0].Parts[0].Text)
	require.NotNil(t, gotBody.SystemInstruction)
	require.NotNil(t, gotBody.GenerationConfig)
	assert.Equal(t, float32(0.7), gotBody.GenerationConfig.Temperature)
	assert.Equal(t, 40, gotBody.GenerationConfig.TopK)

	assert.Equal(t, "A hypothesis: plants grow faster.", resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
}

func TestProvider_GenerateJSONMode(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{Text: `{"ok": true}`}}}}},
		})
	}))
	defer srv.Close()

	provider := NewProvider(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	_, err := provider.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:           "plan",
		ResponseMIMEType: "application/json",
	})
	require.NoError(t, err)
	require.NotNil(t, gotBody.GenerationConfig)
	assert.Equal(t, "application/json", gotBody.GenerationConfig.ResponseMimeType)
}

func TestProvider_ErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{"unauthorized", 401, `{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`, llm.ErrUnauthorized, false},
		{"forbidden", 403, `{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`, llm.ErrUnauthorized, false},
		{"rate limited", 429, `{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`, llm.ErrRateLimited, true},
		{"server error", 500, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`, llm.ErrUpstreamError, true},
		{"unavailable", 503, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`, llm.ErrUpstreamError, true},
		{"bad key as 400", 400, `{"error":{"code":400,"message":"API key expired","status":"INVALID_ARGUMENT"}}`, llm.ErrUnauthorized, false},
		{"bad request", 400, `{"error":{"code":400,"message":"unknown field","status":"INVALID_ARGUMENT"}}`, llm.ErrInvalidRequest, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			provider := NewProvider(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
			_, err := provider.Generate(context.Background(), &llm.GenerateRequest{Prompt: "x"})
			require.Error(t, err)

			var lerr *llm.Error
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tc.wantCode, lerr.Code)
			assert.Equal(t, tc.retryable, lerr.Retryable)
			assert.Equal(t, "gemini", lerr.Provider)
		})
	}
}

func TestProvider_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "alt=sse")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"The "}]}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"answer"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}` + "\n\n"))
	}))
	defer srv.Close()

	provider := NewProvider(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	ch, err := provider.GenerateStream(context.Background(), &llm.GenerateRequest{Prompt: "x"})
	require.NoError(t, err)

	var text string
	var usage *llm.Usage
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		text += chunk.Text
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	assert.Equal(t, "The answer", text)
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestProvider_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(geminiResponse{})
	}))
	defer srv.Close()

	provider := NewProvider(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	_, err := provider.Generate(context.Background(), &llm.GenerateRequest{Prompt: "x"})
	require.Error(t, err)

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrMalformedResponse, lerr.Code)
}

func TestProvider_Integration(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}

	provider := NewProvider(Config{APIKey: apiKey, Timeout: 30 * time.Second}, zap.NewNop())
	ctx := context.Background()

	t.Run("HealthCheck", func(t *testing.T) {
		status, err := provider.HealthCheck(ctx)
		require.NoError(t, err)
		assert.True(t, status.Healthy)
	})

	t.Run("Generate", func(t *testing.T) {
		resp, err := provider.Generate(ctx, &llm.GenerateRequest{
			Prompt:          "Say 'test' only",
			MaxOutputTokens: 10,
			Temperature:     0.1,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Text)
	})
}
