package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/ai/tracker"
	"github.com/teranos/recap/am"
	"github.com/teranos/recap/internal/httpclient"
)

const localName = "local"

// LocalProvider talks to a local inference server through its OpenAI-compatible endpoint.
// Private and loopback addresses are allowed.
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *httpclient.SaferClient
	config     am.LocalInferenceConfig
	tracker    *tracker.UsageTracker
	logger     *zap.SugaredLogger
}

// NewLocalProvider creates a provider for local inference
func NewLocalProvider(cfg am.LocalInferenceConfig, usage *tracker.UsageTracker, logger *zap.SugaredLogger) *LocalProvider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	blockPrivate := false
	return &LocalProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: httpclient.New(timeout, httpclient.Options{BlockPrivateIP: &blockPrivate}),
		config:     cfg,
		tracker:    usage,
		logger:     logger,
	}
}

// ChatCompletionRequest matches OpenAI API format (Ollama is compatible)
type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Options     *CompletionOpts `json:"options,omitempty"` // Ollama-specific options
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionOpts struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
}

// ChatCompletionResponse matches OpenAI API format
type ChatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Name returns the provider name
func (lp *LocalProvider) Name() string { return localName }

// Generate sends one non-streaming chat completion to the local server
func (lp *LocalProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := lp.model
	if req.Model != "" {
		model = req.Model
	}

	messages := []ChatMessage{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]ChatMessage{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	body := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		Options:     &CompletionOpts{Temperature: req.Temperature, NumCtx: lp.config.ContextSize},
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
		body.Options.NumPredict = *req.MaxTokens
	}

	requested := time.Now()
	out, err := lp.send(ctx, body)
	if trackErr := lp.tracker.TrackCall(ctx, localName, model, req, out, err, requested); trackErr != nil {
		lp.logger.Warnw("Failed to track usage", "error", trackErr, "model", model)
	}
	return out, err
}

func (lp *LocalProvider) send(ctx context.Context, body ChatCompletionRequest) (*llm.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.Fatal(localName, "failed to marshal request: %v", err)
	}

	endpoint := lp.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.Fatal(localName, "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := lp.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(ctx, localName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, llm.ClassifyTransport(ctx, localName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyStatus(localName, resp.StatusCode, resp.Header, raw)
	}

	var completion ChatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, llm.Transient(localName, err, "failed to decode response")
	}
	if len(completion.Choices) == 0 {
		return nil, llm.Transient(localName, nil, "no completion choices returned")
	}

	return &llm.Response{
		Text:             strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:            body.Model,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}, nil
}
