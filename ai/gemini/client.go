// Package gemini generates text with Google's Gemini API through the genai SDK.
package gemini

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/ai/tracker"
	"github.com/teranos/recap/errors"
)

const (
	// DefaultModel is the default Gemini model
	DefaultModel = "gemini-2.5-flash"

	providerName = "gemini"
)

// Config holds Gemini client configuration
type Config struct {
	APIKey      string
	BaseURL     string // "" = SDK default endpoint
	Model       string
	Temperature float64
	MaxTokens   int
	Logger      *zap.SugaredLogger
	Tracker     *tracker.UsageTracker
	HTTPClient  *http.Client // nil = SDK default
}

// Client wraps a lazily created genai client
type Client struct {
	config  Config
	tracker *tracker.UsageTracker
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	client *genai.Client
}

// NewClient creates a new Gemini client. No network access happens until Generate.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{config: config, tracker: config.Tracker, logger: logger}
}

// Name returns the provider name
func (c *Client) Name() string { return providerName }

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool { return c.config.APIKey != "" }

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     c.config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.config.HTTPClient,
	}
	if c.config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, llm.Fatal(providerName, "create client: %v", err)
	}
	c.client = client
	return client, nil
}

// Generate runs one GenerateContent call with the system prompt as system instruction
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !c.IsConfigured() {
		return nil, errors.WithHint(llm.Fatal(providerName, "API key not configured"),
			"set gemini.api_key in am.toml or GEMINI_API_KEY")
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
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

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	requested := time.Now()
	result, err := client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt), config)

	var out *llm.Response
	if err != nil {
		err = classify(ctx, err)
	} else {
		var text strings.Builder
		if len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
			for _, part := range result.Candidates[0].Content.Parts {
				text.WriteString(part.Text)
			}
		}
		if text.Len() == 0 {
			err = llm.Transient(providerName, nil, "empty response from Gemini")
		} else {
			out = &llm.Response{Text: strings.TrimSpace(text.String()), Model: model}
			if result.UsageMetadata != nil {
				out.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
				out.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
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

// classify maps SDK errors onto the shared failure kinds
func classify(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Status != "" {
			msg = apiErr.Status + ": " + msg
		}
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &llm.Error{Kind: llm.KindRateLimited, Provider: providerName, StatusCode: apiErr.Code, Message: msg}
		case apiErr.Code == http.StatusRequestTimeout, apiErr.Code >= 500:
			return &llm.Error{Kind: llm.KindTransient, Provider: providerName, StatusCode: apiErr.Code, Message: msg}
		default:
			return &llm.Error{Kind: llm.KindFatal, Provider: providerName, StatusCode: apiErr.Code, Message: msg}
		}
	}
	return llm.ClassifyTransport(ctx, providerName, err)
}
