package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/summary"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want JobStatus
	}{
		{"pending", JobStatusPending},
		{"processing", JobStatusProcessing},
		{"completed", JobStatusCompleted},
		{"error", JobStatusError},
		{"failed", JobStatusError},
		{" Cancelled ", JobStatusCancelled},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseStatus("paused")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusError.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestProgressPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Progress{}.Percentage())
	assert.Equal(t, 50.0, Progress{Current: 2, Total: 4}.Percentage())
	assert.Equal(t, 100.0, Progress{Current: 3, Total: 3}.Percentage())
}

func TestJobTransitions(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	job := NewJob("", "meeting-7", "hello", JobConfig{Provider: "local"}, t0)
	assert.NotEmpty(t, job.ID, "an empty id is generated")
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)

	job.Start(t0.Add(time.Second))
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.StartedAt)

	t.Run("complete", func(t *testing.T) {
		j := job.Clone()
		j.Complete(summary.New(), t0.Add(time.Minute))
		assert.Equal(t, JobStatusCompleted, j.Status)
		assert.NotNil(t, j.Result)
		assert.Empty(t, j.Error)
		assert.Equal(t, t0.Add(time.Minute), *j.FinishedAt)
	})

	t.Run("fail", func(t *testing.T) {
		j := job.Clone()
		j.Fail(errors.New("boom"), t0.Add(time.Minute))
		assert.Equal(t, JobStatusError, j.Status)
		assert.Equal(t, "boom", j.Error)
		assert.Nil(t, j.Result)
	})

	t.Run("cancel", func(t *testing.T) {
		j := job.Clone()
		j.Cancel(CancelledReason, t0.Add(time.Minute))
		assert.Equal(t, JobStatusCancelled, j.Status)
		assert.Equal(t, CancelledReason, j.Error)
	})

	assert.Equal(t, JobStatusProcessing, job.Status, "clones do not share state")
}

func TestJobCloneIsIndependent(t *testing.T) {
	now := time.Now()
	job := NewJob("j", "m", "text", JobConfig{}, now)
	job.Chunks = []ChunkRecord{{Index: 0}, {Index: 1}}
	job.Start(now)

	c := job.Clone()
	c.Chunks[0].Done = true
	*c.StartedAt = now.Add(time.Hour)

	assert.False(t, job.Chunks[0].Done)
	assert.Equal(t, now, *job.StartedAt)
}
