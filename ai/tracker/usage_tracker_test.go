package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/errors"
	recaptest "github.com/teranos/recap/internal/testing"
)

func TestTrackCall(t *testing.T) {
	db := recaptest.CreateTestDB(t)
	tr := NewUsageTracker(db)
	ctx := context.Background()
	started := time.Now().Add(-2 * time.Second)

	req := llm.Request{OperationType: "chunk-summary", EntityID: "job-1"}
	resp := &llm.Response{Text: "ok", PromptTokens: 100, CompletionTokens: 50}

	require.NoError(t, tr.TrackCall(ctx, "openrouter", "openai/gpt-4o-mini", req, resp, nil, started))
	require.NoError(t, tr.TrackCall(ctx, "openrouter", "openai/gpt-4o-mini", req, nil, llm.Fatal("openrouter", "bad key"), started))
	require.NoError(t, tr.TrackCall(ctx, "local", "llama3.2", req, nil, context.Canceled, started))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM ai_model_usage").Scan(&count))
	assert.Equal(t, 2, count, "cancelled calls are not recorded")

	var tokens int
	var entity string
	require.NoError(t, db.QueryRow("SELECT tokens_used, entity_id FROM ai_model_usage WHERE success = 1").Scan(&tokens, &entity))
	assert.Equal(t, 150, tokens)
	assert.Equal(t, "job-1", entity)

	stats, err := tr.GetUsageStats(ctx, started.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRequests)
	assert.Equal(t, 1, stats.SuccessfulRequests)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.0001)
	assert.Equal(t, 150, stats.TotalTokens)
	assert.Equal(t, 1, stats.UniqueModels)

	breakdown, err := tr.GetModelBreakdown(ctx, started.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	assert.Equal(t, 2, breakdown[0].RequestCount)
	assert.Equal(t, 1, breakdown[0].FailureCount)
}

func TestTrackCall_NilTracker(t *testing.T) {
	var tr *UsageTracker
	assert.NoError(t, tr.TrackCall(context.Background(), "local", "m", llm.Request{}, nil, nil, time.Now()))
}

func TestTrackUsage_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO ai_model_usage").
		WillReturnError(errors.New("disk I/O error"))

	tr := NewUsageTracker(db)
	err = tr.TrackUsage(context.Background(), &ModelUsage{
		OperationType:    "reduce",
		ModelName:        "claude-sonnet-4-20250514",
		ModelProvider:    "anthropic",
		RequestTimestamp: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert usage")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsageStats_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM ai_model_usage").
		WillReturnError(errors.New("no such table"))

	_, err = NewUsageTracker(db).GetUsageStats(context.Background(), time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
