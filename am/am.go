// Package am holds recap's configuration: TOML files merged by viper,
// RECAP_* environment overrides, defaults and validation.
package am

import "time"

const (
	// DefaultServerPort is the HTTP status API port
	DefaultServerPort = 8178

	// DefaultDirPermissions is used when creating ~/.recap
	DefaultDirPermissions = 0755

	// EnvPrefix is the prefix for environment overrides (RECAP_SUMMARY_WORKERS)
	EnvPrefix = "RECAP"
)

// Config is the root configuration
type Config struct {
	Summary        SummaryConfig        `mapstructure:"summary" toml:"summary"`
	Database       DatabaseConfig       `mapstructure:"database" toml:"database"`
	Server         ServerConfig         `mapstructure:"server" toml:"server"`
	Budget         BudgetConfig         `mapstructure:"budget" toml:"budget"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference" toml:"local_inference"`
	OpenRouter     RemoteProviderConfig `mapstructure:"openrouter" toml:"openrouter"`
	OpenAI         RemoteProviderConfig `mapstructure:"openai" toml:"openai"`
	Groq           RemoteProviderConfig `mapstructure:"groq" toml:"groq"`
	Anthropic      RemoteProviderConfig `mapstructure:"anthropic" toml:"anthropic"`
	Gemini         RemoteProviderConfig `mapstructure:"gemini" toml:"gemini"`
}

// SummaryConfig controls chunking, retries, concurrency and liveness of summary jobs
type SummaryConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size" toml:"chunk_size"`
	Overlap          int           `mapstructure:"overlap" toml:"overlap"`
	BoundaryLookback int           `mapstructure:"boundary_lookback" toml:"boundary_lookback"`
	Workers          int           `mapstructure:"workers" toml:"workers"`
	MaxAttempts      int           `mapstructure:"max_attempts" toml:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base" toml:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max" toml:"backoff_max"`
	CallTimeout      time.Duration `mapstructure:"call_timeout" toml:"call_timeout"`
	Watchdog         time.Duration `mapstructure:"watchdog" toml:"watchdog"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval" toml:"watchdog_interval"`
	ReducePass       bool          `mapstructure:"reduce_pass" toml:"reduce_pass"`
	DefaultProvider  string        `mapstructure:"default_provider" toml:"default_provider"`
	DefaultTemplate  string        `mapstructure:"default_template" toml:"default_template"`
	RetentionDays    int           `mapstructure:"retention_days" toml:"retention_days"`
}

// DatabaseConfig locates the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ServerConfig configures the HTTP status API
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address" toml:"bind_address"`
	Port           int      `mapstructure:"port" toml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// BudgetConfig is the provider call budget shared by all jobs.
// CallsPerMinute is keyed by provider name; 0 or missing means unlimited.
type BudgetConfig struct {
	CallsPerMinute map[string]int `mapstructure:"calls_per_minute" toml:"calls_per_minute"`
	Burst          int            `mapstructure:"burst" toml:"burst"`
}

// LocalInferenceConfig configures the local runtime (Ollama or any OpenAI-compatible server)
type LocalInferenceConfig struct {
	Enabled        bool   `mapstructure:"enabled" toml:"enabled"`
	BaseURL        string `mapstructure:"base_url" toml:"base_url"`
	Model          string `mapstructure:"model" toml:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	ContextSize    int    `mapstructure:"context_size" toml:"context_size"` // 0 = runtime default
}

// RemoteProviderConfig configures one remote API provider.
// A provider with an empty APIKey is considered unconfigured.
type RemoteProviderConfig struct {
	APIKey      string  `mapstructure:"api_key" toml:"api_key"`
	Model       string  `mapstructure:"model" toml:"model"`
	BaseURL     string  `mapstructure:"base_url" toml:"base_url"`
	Temperature float64 `mapstructure:"temperature" toml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" toml:"max_tokens"`
}

// Configured reports whether the provider has credentials
func (c RemoteProviderConfig) Configured() bool {
	return c.APIKey != ""
}
