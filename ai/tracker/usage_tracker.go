// Package tracker records one row per provider call in ai_model_usage so
// operators can see which models and providers summary jobs consumed.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/errors"
)

// ModelUsage represents a record of AI model usage
type ModelUsage struct {
	ID                int        `json:"id"`
	OperationType     string     `json:"operation_type"`
	EntityType        string     `json:"entity_type"`
	EntityID          string     `json:"entity_id"`
	ModelName         string     `json:"model_name"`
	ModelProvider     string     `json:"model_provider"`
	RequestTimestamp  time.Time  `json:"request_timestamp"`
	ResponseTimestamp *time.Time `json:"response_timestamp,omitempty"`
	TokensUsed        *int       `json:"tokens_used,omitempty"`
	Success           bool       `json:"success"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
}

// UsageTracker writes and aggregates ai_model_usage rows
type UsageTracker struct {
	db  *sql.DB
	now func() time.Time
}

// NewUsageTracker creates a new AI usage tracker
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db, now: time.Now}
}

// TrackUsage records AI model usage in the database
func (t *UsageTracker) TrackUsage(ctx context.Context, usage *ModelUsage) error {
	query := `
		INSERT INTO ai_model_usage (
			operation_type, entity_type, entity_id, model_name, model_provider,
			request_timestamp, response_timestamp, tokens_used, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.ExecContext(ctx, query,
		usage.OperationType, usage.EntityType, usage.EntityID,
		usage.ModelName, usage.ModelProvider,
		usage.RequestTimestamp, usage.ResponseTimestamp, usage.TokensUsed,
		usage.Success, usage.ErrorMessage,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert usage")
	}
	return nil
}

// TrackCall records the outcome of one provider call started at requested.
// A nil tracker is a no-op so clients can call it unconditionally.
func (t *UsageTracker) TrackCall(ctx context.Context, provider, model string, req llm.Request, resp *llm.Response, callErr error, requested time.Time) error {
	if t == nil {
		return nil
	}

	responded := t.now()
	usage := &ModelUsage{
		OperationType:     req.OperationType,
		EntityType:        "summary_job",
		EntityID:          req.EntityID,
		ModelName:         model,
		ModelProvider:     provider,
		RequestTimestamp:  requested,
		ResponseTimestamp: &responded,
		Success:           callErr == nil,
	}
	if resp != nil && resp.TotalTokens() > 0 {
		tokens := resp.TotalTokens()
		usage.TokensUsed = &tokens
	}
	if callErr != nil {
		msg := callErr.Error()
		usage.ErrorMessage = &msg
	}

	// Cancellation is not a provider outcome worth recording
	if errors.Is(callErr, context.Canceled) {
		return nil
	}
	// Usage rows must be written even if the call's own context expired
	return t.TrackUsage(context.WithoutCancel(ctx), usage)
}

// UsageStats represents aggregated usage statistics
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	UniqueModels       int     `json:"unique_models"`
}

// GetUsageStats returns usage statistics since the given time
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as total_requests,
			COUNT(CASE WHEN success = 1 THEN 1 END) as successful_requests,
			COALESCE(SUM(COALESCE(tokens_used, 0)), 0) as total_tokens,
			COUNT(DISTINCT model_name) as unique_models
		FROM ai_model_usage
		WHERE request_timestamp >= ?`

	var stats UsageStats
	err := t.db.QueryRowContext(ctx, query, since).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.TotalTokens, &stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage stats")
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	return &stats, nil
}

// ModelBreakdown represents usage statistics for a specific model
type ModelBreakdown struct {
	ModelName     string `json:"model_name"`
	ModelProvider string `json:"model_provider"`
	RequestCount  int    `json:"request_count"`
	FailureCount  int    `json:"failure_count"`
	TotalTokens   int    `json:"total_tokens"`
}

// GetModelBreakdown returns usage grouped by provider and model
func (t *UsageTracker) GetModelBreakdown(ctx context.Context, since time.Time) ([]ModelBreakdown, error) {
	query := `
		SELECT
			model_name,
			model_provider,
			COUNT(*) as request_count,
			COUNT(CASE WHEN success = 0 THEN 1 END) as failure_count,
			COALESCE(SUM(COALESCE(tokens_used, 0)), 0) as total_tokens
		FROM ai_model_usage
		WHERE request_timestamp >= ?
		GROUP BY model_name, model_provider
		ORDER BY request_count DESC, model_name ASC`

	rows, err := t.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model breakdown")
	}
	defer rows.Close()

	var breakdown []ModelBreakdown
	for rows.Next() {
		var mb ModelBreakdown
		if err := rows.Scan(&mb.ModelName, &mb.ModelProvider, &mb.RequestCount, &mb.FailureCount, &mb.TotalTokens); err != nil {
			return nil, errors.Wrap(err, "failed to scan model breakdown")
		}
		breakdown = append(breakdown, mb)
	}

	return breakdown, rows.Err()
}
