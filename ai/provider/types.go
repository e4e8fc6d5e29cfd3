// Package provider selects and constructs the text generation backends.
package provider

import (
	"context"
	"strings"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/errors"
)

// ProviderType names a text generation backend
type ProviderType string

const (
	ProviderTypeLocal      ProviderType = "local"      // Ollama, LocalAI, or any OpenAI-compatible local server
	ProviderTypeOpenRouter ProviderType = "openrouter" // OpenRouter gateway
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeGroq       ProviderType = "groq"
	ProviderTypeAnthropic  ProviderType = "anthropic"
	ProviderTypeGemini     ProviderType = "gemini"
)

// AllProviders lists every known provider in display order
var AllProviders = []ProviderType{
	ProviderTypeLocal,
	ProviderTypeOpenRouter,
	ProviderTypeOpenAI,
	ProviderTypeGroq,
	ProviderTypeAnthropic,
	ProviderTypeGemini,
}

// Provider generates text for one request. Implementations do not retry;
// every failure is an *llm.Error or the context's own error.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ParseProvider resolves a provider name or alias
func ParseProvider(name string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "local", "ollama", "localai":
		return ProviderTypeLocal, nil
	case "openrouter", "or":
		return ProviderTypeOpenRouter, nil
	case "openai", "gpt":
		return ProviderTypeOpenAI, nil
	case "groq":
		return ProviderTypeGroq, nil
	case "anthropic", "claude":
		return ProviderTypeAnthropic, nil
	case "gemini", "google":
		return ProviderTypeGemini, nil
	default:
		return "", errors.NewConfigurationError("provider", "unknown provider %q", name)
	}
}
