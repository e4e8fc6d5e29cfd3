package am

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, 5000, cfg.Summary.ChunkSize)
	assert.Equal(t, 1000, cfg.Summary.Overlap)
	assert.Equal(t, 3, cfg.Summary.Workers)
	assert.Equal(t, 3, cfg.Summary.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Summary.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Summary.BackoffMax)
	assert.Equal(t, 60*time.Second, cfg.Summary.CallTimeout)
	assert.True(t, cfg.Summary.ReducePass)
	assert.Equal(t, "standard_meeting", cfg.Summary.DefaultTemplate)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.LocalInference.BaseURL)
	assert.False(t, cfg.OpenRouter.Configured())

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[summary]
chunk_size = 8000
overlap = 500
workers = 2
call_timeout = "90s"

[openrouter]
api_key = "sk-or-test-key"

[budget.calls_per_minute]
openrouter = 20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Summary.ChunkSize)
	assert.Equal(t, 500, cfg.Summary.Overlap)
	assert.Equal(t, 2, cfg.Summary.Workers)
	assert.Equal(t, 90*time.Second, cfg.Summary.CallTimeout)
	assert.True(t, cfg.OpenRouter.Configured())
	assert.Equal(t, "openai/gpt-4o-mini", cfg.OpenRouter.Model)
	assert.Equal(t, 20, cfg.Budget.CallsPerMinute["openrouter"])
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "zero chunk size", mutate: func(c *Config) { c.Summary.ChunkSize = 0 }, wantErr: "summary.chunk_size"},
		{name: "overlap equal to chunk size", mutate: func(c *Config) { c.Summary.Overlap = c.Summary.ChunkSize }, wantErr: "summary.overlap"},
		{name: "negative overlap", mutate: func(c *Config) { c.Summary.Overlap = -1 }, wantErr: "summary.overlap"},
		{name: "zero workers", mutate: func(c *Config) { c.Summary.Workers = 0 }, wantErr: "summary.workers"},
		{name: "backoff max below base", mutate: func(c *Config) { c.Summary.BackoffMax = time.Millisecond }, wantErr: "summary.backoff_max"},
		{name: "watchdog disabled is valid", mutate: func(c *Config) { c.Summary.Watchdog = 0; c.Summary.WatchdogInterval = 0 }},
		{name: "watchdog without interval", mutate: func(c *Config) { c.Summary.WatchdogInterval = 0 }, wantErr: "summary.watchdog_interval"},
		{name: "negative budget", mutate: func(c *Config) { c.Budget.CallsPerMinute = map[string]int{"groq": -1} }, wantErr: "budget.calls_per_minute.groq"},
		{name: "local enabled without model", mutate: func(c *Config) { c.LocalInference.Model = "" }, wantErr: "local_inference.model"},
		{name: "local disabled without model", mutate: func(c *Config) { c.LocalInference.Enabled = false; c.LocalInference.Model = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "am.toml"), []byte("[summary]\n"), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(wd) })
	require.NoError(t, os.Chdir(nested))

	found := findProjectConfig()
	resolvedRoot, _ := filepath.EvalSymlinks(root)
	resolvedFound, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, filepath.Join(resolvedRoot, "am.toml"), resolvedFound)
}

func TestRenderTOML_RedactsKeys(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Anthropic.APIKey = "sk-ant-0123456789abcdef"

	out, err := cfg.RenderTOML()
	require.NoError(t, err)

	assert.Contains(t, out, "sk-a****cdef")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "chunk_size = 5000")
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[summary]\nworkers = 2\n"), 0644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond

	var workers atomic.Int32
	cw.OnReload(func(c *Config) error {
		workers.Store(int32(c.Summary.Workers))
		return nil
	})

	require.NoError(t, cw.reload())
	assert.Equal(t, int32(2), workers.Load())

	// An invalid file is rejected and callbacks are not invoked
	require.NoError(t, os.WriteFile(path, []byte("[summary]\nworkers = 0\n"), 0644))
	assert.Error(t, cw.reload())
	assert.Equal(t, int32(2), workers.Load())

	require.NoError(t, cw.Stop())
}
