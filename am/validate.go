package am

import "github.com/teranos/recap/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	s := c.Summary
	if s.ChunkSize <= 0 {
		return errors.Newf("summary.chunk_size must be > 0, got %d", s.ChunkSize)
	}
	if s.Overlap < 0 || s.Overlap >= s.ChunkSize {
		return errors.Newf("summary.overlap must be >= 0 and < summary.chunk_size (%d), got %d", s.ChunkSize, s.Overlap)
	}
	if s.BoundaryLookback < 0 {
		return errors.Newf("summary.boundary_lookback must be >= 0, got %d", s.BoundaryLookback)
	}
	if s.Workers <= 0 {
		return errors.Newf("summary.workers must be > 0, got %d", s.Workers)
	}
	if s.MaxAttempts <= 0 {
		return errors.Newf("summary.max_attempts must be > 0, got %d", s.MaxAttempts)
	}
	if s.BackoffBase < 0 || s.BackoffMax < s.BackoffBase {
		return errors.Newf("summary.backoff_max (%s) must be >= summary.backoff_base (%s)", s.BackoffMax, s.BackoffBase)
	}
	if s.CallTimeout <= 0 {
		return errors.Newf("summary.call_timeout must be > 0, got %s", s.CallTimeout)
	}
	// Watchdog 0 disables the no-progress check
	if s.Watchdog < 0 {
		return errors.Newf("summary.watchdog must be >= 0, got %s", s.Watchdog)
	}
	if s.Watchdog > 0 && s.WatchdogInterval <= 0 {
		return errors.Newf("summary.watchdog_interval must be > 0 when watchdog is enabled, got %s", s.WatchdogInterval)
	}
	if s.RetentionDays < 0 {
		return errors.Newf("summary.retention_days must be >= 0, got %d", s.RetentionDays)
	}

	if c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	for name, calls := range c.Budget.CallsPerMinute {
		if calls < 0 {
			return errors.Newf("budget.calls_per_minute.%s must be >= 0, got %d", name, calls)
		}
	}
	if c.Budget.Burst < 0 {
		return errors.Newf("budget.burst must be >= 0, got %d", c.Budget.Burst)
	}

	// Validate local inference configuration only when enabled
	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
		if c.LocalInference.TimeoutSeconds <= 0 {
			return errors.Newf("local_inference.timeout_seconds must be > 0, got %d", c.LocalInference.TimeoutSeconds)
		}
	}

	return nil
}
