// Package openrouter is the OpenAI-compatible chat completions client.
// It serves OpenRouter by default and, through BaseURL, OpenAI and Groq.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/ai/tracker"
	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/internal/httpclient"
)

const (
	// DefaultModel is the fallback model when none is specified
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultBaseURL is the OpenRouter API root
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 8 << 20
)

// Client is an OpenAI-compatible chat completions client
type Client struct {
	config     Config
	httpClient *httpclient.SaferClient
	tracker    *tracker.UsageTracker
	logger     *zap.SugaredLogger
}

// Config holds client configuration
type Config struct {
	Name        string // provider name used in errors and usage rows (default "openrouter")
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64 // nil = use default (0.2)
	MaxTokens   *int     // nil = use default (2048)
	Timeout     time.Duration
	Logger      *zap.SugaredLogger    // nil = nop logger
	Tracker     *tracker.UsageTracker // nil = no usage rows
}

// NewClient creates a client with defaults applied
func NewClient(config Config) *Client {
	if config.Name == "" {
		config.Name = "openrouter"
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		defaultTemp := 0.2
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 2048
		config.MaxTokens = &defaultTokens
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		config:     config,
		httpClient: httpclient.New(config.Timeout, httpclient.Options{}),
		tracker:    config.Tracker,
		logger:     logger,
	}
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a message in a chat completion
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Name returns the provider name this client reports as
func (c *Client) Name() string {
	return c.config.Name
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// Generate sends one chat completion. Failures are classified llm errors; retrying is the caller's job.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !c.IsConfigured() {
		return nil, errors.WithHintf(llm.Fatal(c.config.Name, "API key not configured"),
			"set %s.api_key in am.toml", c.config.Name)
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	requested := time.Now()
	resp, err := c.createChatCompletion(ctx, ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err == nil && len(resp.Choices) == 0 {
		err = llm.Transient(c.config.Name, nil, "no completion choices returned")
	}

	var out *llm.Response
	if err == nil {
		out = &llm.Response{
			Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
			Model:            model,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}

	if trackErr := c.tracker.TrackCall(ctx, c.config.Name, model, req, out, err, requested); trackErr != nil {
		c.logger.Warnw("Failed to track usage", "error", trackErr, "model", model)
	}

	if err != nil {
		return nil, err
	}

	c.logger.Debugw("Chat completion",
		"provider", c.config.Name,
		"model", model,
		"content_length", len(out.Text),
		"total_tokens", out.TotalTokens(),
	)
	return out, nil
}

func (c *Client) createChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, llm.Fatal(c.config.Name, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, llm.Fatal(c.config.Name, "failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	httpReq.Header.Set("X-Title", "recap")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(ctx, c.config.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, llm.ClassifyTransport(ctx, c.config.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warnw("Chat completion rejected",
			"provider", c.config.Name,
			"status", resp.StatusCode,
			"model", req.Model)
		return nil, llm.ClassifyStatus(c.config.Name, resp.StatusCode, resp.Header, respBody)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, llm.Transient(c.config.Name, err, "failed to decode response")
	}

	return &chatResp, nil
}

// SetHTTPClient allows overriding the HTTP client for testing.
// Only use this in tests; production code uses the address-checking client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
