package am

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Summary pipeline defaults
	v.SetDefault("summary.chunk_size", 5000)
	v.SetDefault("summary.overlap", 1000)
	v.SetDefault("summary.boundary_lookback", 200)
	v.SetDefault("summary.workers", 3)
	v.SetDefault("summary.max_attempts", 3)
	v.SetDefault("summary.backoff_base", time.Second)
	v.SetDefault("summary.backoff_max", 30*time.Second)
	v.SetDefault("summary.call_timeout", 60*time.Second)
	v.SetDefault("summary.watchdog", 10*time.Minute)
	v.SetDefault("summary.watchdog_interval", 15*time.Second)
	v.SetDefault("summary.reduce_pass", true)
	v.SetDefault("summary.default_provider", "local")
	v.SetDefault("summary.default_template", "standard_meeting")
	v.SetDefault("summary.retention_days", 30)

	// Database defaults
	v.SetDefault("database.path", "recap.db")

	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"tauri://localhost",
	})

	// Shared provider budget
	v.SetDefault("budget.burst", 1)

	// Local Inference (Ollama) defaults
	v.SetDefault("local_inference.enabled", true)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2")
	v.SetDefault("local_inference.timeout_seconds", 300)

	// Remote provider defaults
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.max_tokens", 2048)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.max_tokens", 2048)

	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.temperature", 0.2)
	v.SetDefault("groq.max_tokens", 2048)

	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.max_tokens", 2048)

	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("gemini.max_tokens", 2048)
}

// BindSensitiveEnvVars binds API keys to their conventional environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("openrouter.api_key", "RECAP_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	v.BindEnv("openai.api_key", "RECAP_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("groq.api_key", "RECAP_GROQ_API_KEY", "GROQ_API_KEY")
	v.BindEnv("anthropic.api_key", "RECAP_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("gemini.api_key", "RECAP_GEMINI_API_KEY", "GEMINI_API_KEY")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "recap.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{"http://localhost", "http://127.0.0.1"}
	}
	return c.Server.AllowedOrigins
}

// Retention returns how long terminal jobs are kept before cleanup
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Summary.RetentionDays) * 24 * time.Hour
}
