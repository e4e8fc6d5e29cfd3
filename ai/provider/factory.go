package provider

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/recap/ai/anthropic"
	"github.com/teranos/recap/ai/gemini"
	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/ai/openrouter"
	"github.com/teranos/recap/ai/tracker"
	"github.com/teranos/recap/am"
	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/internal/util"
)

// Factory builds providers from configuration and caches them until the next Reload
type Factory struct {
	mu      sync.RWMutex
	cfg     *am.Config
	tracker *tracker.UsageTracker
	logger  *zap.SugaredLogger
	cache   map[ProviderType]Provider
}

// NewFactory creates a factory. usage may be nil to disable usage rows.
func NewFactory(cfg *am.Config, usage *tracker.UsageTracker, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Factory{
		cfg:     cfg,
		tracker: usage,
		logger:  logger,
		cache:   make(map[ProviderType]Provider),
	}
}

// Reload swaps in new configuration. Providers already handed out keep their old credentials.
func (f *Factory) Reload(cfg *am.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.cache = make(map[ProviderType]Provider)
	f.logger.Infow("Provider configuration reloaded", "available", availableLocked(cfg))
}

// Configured reports whether pt has what it needs to make calls
func (f *Factory) Configured(pt ProviderType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return configured(f.cfg, pt)
}

// Available lists the configured providers
func (f *Factory) Available() []ProviderType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return availableLocked(f.cfg)
}

// Get returns the provider for pt. An unconfigured provider is a fatal provider error.
func (f *Factory) Get(pt ProviderType) (Provider, error) {
	f.mu.RLock()
	p, ok := f.cache[pt]
	f.mu.RUnlock()
	if ok {
		return p, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[pt]; ok {
		return p, nil
	}
	if !configured(f.cfg, pt) {
		return nil, errors.WithHintf(llm.Fatal(string(pt), "provider not configured"),
			"configure [%s] in am.toml", configSection(pt))
	}

	p, err := f.build(pt)
	if err != nil {
		return nil, err
	}
	f.cache[pt] = p
	return p, nil
}

func (f *Factory) build(pt ProviderType) (Provider, error) {
	cfg := f.cfg
	switch pt {
	case ProviderTypeLocal:
		return NewLocalProvider(cfg.LocalInference, f.tracker, f.logger), nil
	case ProviderTypeOpenRouter, ProviderTypeOpenAI, ProviderTypeGroq:
		rc := remoteConfig(cfg, pt)
		return openrouter.NewClient(openrouter.Config{
			Name:        string(pt),
			APIKey:      rc.APIKey,
			BaseURL:     rc.BaseURL,
			Model:       rc.Model,
			Temperature: util.NonZeroPtr(rc.Temperature),
			MaxTokens:   util.NonZeroPtr(rc.MaxTokens),
			Logger:      f.logger,
			Tracker:     f.tracker,
		}), nil
	case ProviderTypeAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.Anthropic.APIKey,
			BaseURL:     cfg.Anthropic.BaseURL,
			Model:       cfg.Anthropic.Model,
			Temperature: cfg.Anthropic.Temperature,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			Logger:      f.logger,
			Tracker:     f.tracker,
		}), nil
	case ProviderTypeGemini:
		return gemini.NewClient(gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			MaxTokens:   cfg.Gemini.MaxTokens,
			Logger:      f.logger,
			Tracker:     f.tracker,
		}), nil
	default:
		return nil, errors.NewConfigurationError("provider", "unknown provider %q", pt)
	}
}

func configured(cfg *am.Config, pt ProviderType) bool {
	if cfg == nil {
		return false
	}
	if pt == ProviderTypeLocal {
		return cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != ""
	}
	rc, ok := remoteConfigOK(cfg, pt)
	return ok && rc.Configured()
}

func availableLocked(cfg *am.Config) []ProviderType {
	var out []ProviderType
	for _, pt := range AllProviders {
		if configured(cfg, pt) {
			out = append(out, pt)
		}
	}
	return out
}

func remoteConfig(cfg *am.Config, pt ProviderType) am.RemoteProviderConfig {
	rc, _ := remoteConfigOK(cfg, pt)
	return rc
}

func remoteConfigOK(cfg *am.Config, pt ProviderType) (am.RemoteProviderConfig, bool) {
	switch pt {
	case ProviderTypeOpenRouter:
		return cfg.OpenRouter, true
	case ProviderTypeOpenAI:
		return cfg.OpenAI, true
	case ProviderTypeGroq:
		return cfg.Groq, true
	case ProviderTypeAnthropic:
		return cfg.Anthropic, true
	case ProviderTypeGemini:
		return cfg.Gemini, true
	}
	return am.RemoteProviderConfig{}, false
}

func configSection(pt ProviderType) string {
	if pt == ProviderTypeLocal {
		return "local_inference"
	}
	return string(pt)
}
