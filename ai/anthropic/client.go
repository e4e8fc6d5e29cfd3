// Package anthropic talks to the Anthropic Messages API.
package anthropic

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
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-20250514"

	// BaseURL is the Anthropic API endpoint
	BaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required Anthropic API version header
	APIVersion = "2023-06-01"

	providerName = "anthropic"
)

// Client represents an Anthropic API client
type Client struct {
	config     Config
	httpClient *httpclient.SaferClient
	tracker    *tracker.UsageTracker
	logger     *zap.SugaredLogger
}

// Config holds Anthropic client configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      *zap.SugaredLogger
	Tracker     *tracker.UsageTracker
}

// NewClient creates a new Anthropic API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2048
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

// MessagesRequest represents a request to the Messages API
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Message represents a conversation message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesResponse represents the response from the Messages API
type MessagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Name returns the provider name
func (c *Client) Name() string { return providerName }

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool { return c.config.APIKey != "" }

// Generate sends one message exchange and returns the concatenated text blocks
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !c.IsConfigured() {
		return nil, errors.WithHint(llm.Fatal(providerName, "API key not configured"),
			"set anthropic.api_key in am.toml or ANTHROPIC_API_KEY")
	}

	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}
	temperature := c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	requested := time.Now()
	resp, err := c.createMessage(ctx, MessagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []Message{{Role: "user", Content: req.UserPrompt}},
		System:      req.SystemPrompt,
		Temperature: &temperature,
	})

	var out *llm.Response
	if err == nil {
		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			err = llm.Transient(providerName, nil, "response contained no text blocks")
		} else {
			out = &llm.Response{
				Text:             strings.TrimSpace(text.String()),
				Model:            model,
				PromptTokens:     resp.Usage.InputTokens,
				CompletionTokens: resp.Usage.OutputTokens,
			}
		}
	}

	if trackErr := c.tracker.TrackCall(ctx, providerName, model, req, out, err, requested); trackErr != nil {
		c.logger.Warnw("Failed to track usage", "error", trackErr, "model", model)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) createMessage(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, llm.Fatal(providerName, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, llm.Fatal(providerName, "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(ctx, providerName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, llm.ClassifyTransport(ctx, providerName, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warnw("Messages request rejected", "status", resp.StatusCode, "model", req.Model)
		return nil, llm.ClassifyStatus(providerName, resp.StatusCode, resp.Header, respBody)
	}

	var msgResp MessagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return nil, llm.Transient(providerName, err, "failed to decode response")
	}
	return &msgResp, nil
}

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
