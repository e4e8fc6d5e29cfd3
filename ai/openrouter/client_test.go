package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/ai/tracker"
	recaptest "github.com/teranos/recap/internal/testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	cfg.BaseURL = server.URL
	client := NewClient(cfg)
	client.SetHTTPClient(server.Client())
	return client
}

func TestClient_Defaults(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})

	assert.Equal(t, "openrouter", client.Name())
	assert.Equal(t, DefaultModel, client.config.Model)
	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, 0.2, *client.config.Temperature)
	assert.Equal(t, 2048, *client.config.MaxTokens)

	groq := NewClient(Config{Name: "groq", BaseURL: "https://api.groq.com/openai/v1/"})
	assert.Equal(t, "https://api.groq.com/openai/v1", groq.config.BaseURL)
	assert.False(t, groq.IsConfigured())
}

func TestGenerate_Success(t *testing.T) {
	var got ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "  {\"session_summary\":{}}  "}}},
			Usage:   Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		})
	}, Config{})

	temp := 0.0
	resp, err := client.Generate(context.Background(), llm.Request{
		SystemPrompt: "sys",
		UserPrompt:   "summarize",
		Model:        "meta-llama/llama-3.3-70b-instruct",
		Temperature:  &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"session_summary":{}}`, resp.Text)
	assert.Equal(t, 20, resp.TotalTokens())
	assert.Equal(t, "meta-llama/llama-3.3-70b-instruct", got.Model)
	assert.Equal(t, 0.0, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "summarize", got.Messages[1].Content)
}

func TestGenerate_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   map[string]string
		wantKind llm.Kind
		backoff  time.Duration
	}{
		{name: "rate limited", status: 429, header: map[string]string{"Retry-After": "3"}, wantKind: llm.KindRateLimited, backoff: 3 * time.Second},
		{name: "server error", status: 502, wantKind: llm.KindTransient},
		{name: "bad key", status: 401, wantKind: llm.KindFatal},
		{name: "model not found", status: 404, wantKind: llm.KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}, Config{})

			_, err := client.Generate(context.Background(), llm.Request{UserPrompt: "x"})
			pe, ok := llm.AsError(err)
			require.True(t, ok, "expected classified error, got %v", err)
			assert.Equal(t, tt.wantKind, pe.Kind)
			assert.Equal(t, tt.backoff, llm.RetryAfterOf(err))
		})
	}
}

func TestGenerate_Unconfigured(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, Config{})
	client.config.APIKey = ""

	_, err := client.Generate(context.Background(), llm.Request{UserPrompt: "x"})
	pe, ok := llm.AsError(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindFatal, pe.Kind)
	assert.Equal(t, int32(0), calls.Load(), "no request is sent without a key")
}

func TestGenerate_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}, Config{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Generate(ctx, llm.Request{UserPrompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, llm.IsRetryable(err))
}

func TestGenerate_TracksUsage(t *testing.T) {
	db := recaptest.CreateTestDB(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Content: "ok"}}},
			Usage:   Usage{PromptTokens: 3, CompletionTokens: 4},
		})
	}, Config{Name: "openai", Tracker: tracker.NewUsageTracker(db)})

	_, err := client.Generate(context.Background(), llm.Request{UserPrompt: "x", EntityID: "job-42", OperationType: "chunk-summary"})
	require.NoError(t, err)

	var provider, entity string
	var tokens int
	require.NoError(t, db.QueryRow("SELECT model_provider, entity_id, tokens_used FROM ai_model_usage").Scan(&provider, &entity, &tokens))
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "job-42", entity)
	assert.Equal(t, 7, tokens)
}
