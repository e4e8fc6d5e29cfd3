package am

import (
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/recap/errors"
)

// RenderTOML renders the effective configuration with API keys redacted
func (c *Config) RenderTOML() (string, error) {
	redacted := *c
	for _, p := range []*RemoteProviderConfig{
		&redacted.OpenRouter, &redacted.OpenAI, &redacted.Groq, &redacted.Anthropic, &redacted.Gemini,
	} {
		p.APIKey = redactKey(p.APIKey)
	}

	var sb strings.Builder
	enc := toml.NewEncoder(&sb)
	enc.SetIndentTables(true)
	if err := enc.Encode(redacted); err != nil {
		return "", errors.Wrap(err, "failed to encode config as TOML")
	}
	return sb.String(), nil
}

func redactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
