package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recap/ai/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{APIKey: "sk-ant-test", BaseURL: server.URL})
	client.SetHTTPClient(server.Client())
	return client
}

func TestGenerate_JoinsTextBlocks(t *testing.T) {
	var got MessagesRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(MessagesResponse{
			Content: []ContentBlock{
				{Type: "text", Text: `{"key_points":`},
				{Type: "tool_use"},
				{Type: "text", Text: `{}}`},
			},
			Usage: Usage{InputTokens: 100, OutputTokens: 20},
		})
	})

	resp, err := client.Generate(context.Background(), llm.Request{SystemPrompt: "be brief", UserPrompt: "transcript"})
	require.NoError(t, err)

	assert.Equal(t, `{"key_points":{}}`, resp.Text)
	assert.Equal(t, 120, resp.TotalTokens())
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, 2048, got.MaxTokens)
}

func TestGenerate_Overloaded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
	})

	_, err := client.Generate(context.Background(), llm.Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.True(t, llm.IsRetryable(err))
}

func TestGenerate_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Generate(context.Background(), llm.Request{UserPrompt: "x"})
	pe, ok := llm.AsError(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindRateLimited, pe.Kind)
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
}

func TestGenerate_BadRequestIsFatal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"max_tokens too large"}}`))
	})

	_, err := client.Generate(context.Background(), llm.Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.False(t, llm.IsRetryable(err))
	assert.Contains(t, err.Error(), "max_tokens too large")
}

func TestGenerate_EmptyContentIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	})

	_, err := client.Generate(context.Background(), llm.Request{UserPrompt: "x"})
	assert.True(t, llm.IsRetryable(err))
}
