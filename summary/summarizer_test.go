package summary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/summary/chunk"
)

func newTestSummarizer(t *testing.T, p *scriptedProvider) (*Summarizer, *recordingSleep) {
	t.Helper()
	s := NewSummarizer(p, nil, zaptest.NewLogger(t).Sugar())
	rec := &recordingSleep{}
	s.sleep = rec.sleep
	s.jitter = func() float64 { return 1 }
	return s, rec
}

func testConfig(t *testing.T) Config {
	return Config{JobID: "job-1", Template: mustTemplate(t, "standard_meeting"), Retry: DefaultRetryPolicy()}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	full := func() float64 { return 1 }
	none := func() float64 { return 0 }

	assert.Equal(t, time.Second, p.Backoff(1, 0, full))
	assert.Equal(t, 2*time.Second, p.Backoff(2, 0, full))
	assert.Equal(t, 4*time.Second, p.Backoff(3, 0, full))
	assert.Equal(t, 30*time.Second, p.Backoff(10, 0, full), "capped")
	assert.Equal(t, 2*time.Second, p.Backoff(3, 0, none), "equal jitter keeps at least half")

	assert.Equal(t, 12*time.Second, p.Backoff(1, 12*time.Second, full), "server hint wins when larger")
	assert.Equal(t, 30*time.Second, p.Backoff(1, 5*time.Minute, full), "server hint is capped too")
}

func TestSummarize_Success(t *testing.T) {
	p := newScripted(outcome{text: sectionJSON("Budget approved")})
	s, rec := newTestSummarizer(t, p)

	res := s.Summarize(context.Background(), chunk.Chunk{Index: 0, Text: "..."}, 1, testConfig(t))
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "Budget approved", res.Summary.Section("key_points").Blocks[0].Content)
	assert.Empty(t, rec.waits)
	assert.Equal(t, "chunk-summary", p.calls[0].OperationType)
	assert.Equal(t, "job-1", p.calls[0].EntityID)
}

func TestSummarize_RetriesTransientThenSucceeds(t *testing.T) {
	p := newScripted(
		outcome{err: llm.Transient("fake", nil, "502")},
		outcome{err: llm.RateLimited("fake", 5*time.Second, "slow down")},
		outcome{text: sectionJSON("ok")},
	)
	s, rec := newTestSummarizer(t, p)

	res := s.Summarize(context.Background(), chunk.Chunk{Index: 3}, 5, testConfig(t))
	require.True(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, rec.waits)
}

func TestSummarize_FatalShortCircuits(t *testing.T) {
	p := newScripted(outcome{err: llm.Fatal("fake", "invalid api key")})
	s, rec := newTestSummarizer(t, p)

	res := s.Summarize(context.Background(), chunk.Chunk{Index: 2}, 3, testConfig(t))
	assert.False(t, res.OK())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, p.callCount())
	assert.Empty(t, rec.waits)
	assert.Contains(t, res.Err.Error(), "invalid api key")
}

func TestSummarize_ExhaustsAttempts(t *testing.T) {
	p := newScripted(outcome{err: llm.Transient("fake", nil, "connection reset")})
	s, _ := newTestSummarizer(t, p)

	res := s.Summarize(context.Background(), chunk.Chunk{}, 1, testConfig(t))
	assert.False(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, p.callCount())
	assert.Contains(t, res.Err.Error(), "gave up after 3 attempts")
}

func TestSummarize_UndecodableOutputIsRetried(t *testing.T) {
	p := newScripted(
		outcome{text: "Sure! Here is a summary of the meeting."},
		outcome{text: "```json\n" + sectionJSON("recovered") + "\n```"},
	)
	s, _ := newTestSummarizer(t, p)

	res := s.Summarize(context.Background(), chunk.Chunk{}, 1, testConfig(t))
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Attempts)
}

func TestSummarize_CancelledDuringBackoff(t *testing.T) {
	p := newScripted(outcome{err: llm.Transient("fake", nil, "503")})
	s, _ := newTestSummarizer(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	res := s.Summarize(ctx, chunk.Chunk{}, 1, testConfig(t))
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, p.callCount())
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }
func (slowProvider) Generate(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSummarize_CallTimeoutIsTransient(t *testing.T) {
	s := NewSummarizer(slowProvider{}, nil, nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }

	cfg := testConfig(t)
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.Retry.MaxAttempts = 2

	res := s.Summarize(context.Background(), chunk.Chunk{}, 1, cfg)
	require.Error(t, res.Err)
	assert.Equal(t, 2, res.Attempts, "timeouts are retried")
	assert.True(t, llm.IsRetryable(res.Err))
}

type countingBudget struct{ waits int }

func (b *countingBudget) Wait(ctx context.Context, provider string) error {
	b.waits++
	return ctx.Err()
}

func TestSummarize_WaitsOnBudgetEachAttempt(t *testing.T) {
	p := newScripted(outcome{err: llm.Transient("fake", nil, "x")}, outcome{text: sectionJSON("y")})
	b := &countingBudget{}
	s := NewSummarizer(p, b, nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }

	res := s.Summarize(context.Background(), chunk.Chunk{}, 1, testConfig(t))
	require.True(t, res.OK())
	assert.Equal(t, 2, b.waits)
}
