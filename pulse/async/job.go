// Package async runs summary jobs in the background: the job state machine,
// per-job bounded chunk dispatch, cancellation, the liveness watchdog and
// the SQLite-backed status store that polling clients read.
package async

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/summary"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition can happen
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// ParseStatus accepts a status name. "failed" is an alias for error.
func ParseStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusError, JobStatusCancelled:
		return st, nil
	case "failed":
		return JobStatusError, nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidRequest, "unknown job status %q", s)
	}
}

// Progress represents job progress information
type Progress struct {
	Current int `json:"current"` // completed chunks
	Total   int `json:"total"`   // total chunks
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// JobConfig is the resolved configuration a job runs with
type JobConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	ChunkSize    int    `json:"chunk_size"`
	Overlap      int    `json:"overlap"`
	Template     string `json:"template"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// ChunkRecord is the persisted state of one chunk: its span and final outcome
type ChunkRecord struct {
	Index    int    `json:"index"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Output   string `json:"-"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	Done     bool   `json:"done"`
}

// Job is one summarization of one meeting's transcript.
// A completed job carries Result; an error or cancelled job carries Error.
type Job struct {
	ID         string           `json:"id"`
	MeetingID  string           `json:"meeting_id"`
	Status     JobStatus        `json:"status"`
	Config     JobConfig        `json:"config"`
	SourceText string           `json:"-"`
	Progress   Progress         `json:"progress"`
	Chunks     []ChunkRecord    `json:"chunks,omitempty"`
	Result     *summary.Summary `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewJob creates a pending job. An empty id is replaced by a generated one.
func NewJob(id, meetingID, text string, cfg JobConfig, now time.Time) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		ID:         id,
		MeetingID:  meetingID,
		Status:     JobStatusPending,
		Config:     cfg,
		SourceText: text,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Start marks the job as processing
func (j *Job) Start(now time.Time) {
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed with its merged result
func (j *Job) Complete(result *summary.Summary, now time.Time) {
	j.Status = JobStatusCompleted
	j.Result = result
	j.Error = ""
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as error with a message
func (j *Job) Fail(err error, now time.Time) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	j.Status = JobStatusError
	j.Error = msg
	j.Result = nil
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string, now time.Time) {
	j.Status = JobStatusCancelled
	j.Error = reason
	j.Result = nil
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// Clone returns a snapshot safe to hand out. Result is shared; it is never mutated after completion.
func (j *Job) Clone() *Job {
	c := *j
	if j.Chunks != nil {
		c.Chunks = make([]ChunkRecord, len(j.Chunks))
		copy(c.Chunks, j.Chunks)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
