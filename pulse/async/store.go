package async

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/summary"
)

// StatusStore persists job state for polling clients and restart recovery.
// Every write is an upsert keyed by job id (and chunk index).
type StatusStore interface {
	SaveJob(ctx context.Context, job *Job) error
	SaveChunk(ctx context.Context, jobID string, c ChunkRecord) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	MarkInterrupted(ctx context.Context, reason string, at time.Time) (int, error)
	DeleteTerminalForMeeting(ctx context.Context, meetingID, keepID string) (int, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// SummarySink receives the merged summary of every completed job
type SummarySink interface {
	SaveSummary(ctx context.Context, meetingID, jobID string, s *summary.Summary) error
}

// JobFilter narrows ListJobs. Zero values match everything; Limit 0 means 100.
type JobFilter struct {
	MeetingID string
	Status    *JobStatus
	Limit     int
}

// Store handles persistence of summary jobs in SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const jobColumns = `id, meeting_id, status, config, chunk_total, chunk_done, result, error, created_at, started_at, finished_at, updated_at`

// SaveJob inserts or updates a job row. The source text is written on insert only.
func (s *Store) SaveJob(ctx context.Context, job *Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job config")
	}
	var result sql.NullString
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return errors.Wrap(err, "failed to marshal job result")
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO summary_jobs (
			id, meeting_id, status, config, source_text,
			chunk_total, chunk_done, result, error,
			created_at, started_at, finished_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			chunk_total = excluded.chunk_total,
			chunk_done = excluded.chunk_done,
			result = excluded.result,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.MeetingID,
		job.Status,
		string(cfg),
		job.SourceText,
		job.Progress.Total,
		job.Progress.Current,
		result,
		nullString(job.Error),
		job.CreatedAt.UTC(),
		nullTime(job.StartedAt),
		nullTime(job.FinishedAt),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save job %s", job.ID)
	}
	return nil
}

// SaveChunk inserts or updates one chunk row
func (s *Store) SaveChunk(ctx context.Context, jobID string, c ChunkRecord) error {
	query := `
		INSERT INTO summary_chunks (job_id, chunk_index, start_offset, end_offset, output, error, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, chunk_index) DO UPDATE SET
			output = excluded.output,
			error = excluded.error,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		jobID, c.Index, c.Start, c.End,
		nullString(c.Output), nullString(c.Error), c.Attempts,
		s.now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save chunk %d of job %s", c.Index, jobID)
	}
	return nil
}

// GetJob retrieves a job with its source text and chunks
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+`, source_text FROM summary_jobs WHERE id = ?`, id)

	var job Job
	args := &jobScanArgs{}
	targets := append(args.targets(&job), &job.SourceText)
	if err := row.Scan(targets...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job not found: %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	if err := args.apply(&job); err != nil {
		return nil, err
	}

	chunks, err := s.listChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Chunks = chunks
	return &job, nil
}

func (s *Store) listChunks(ctx context.Context, jobID string) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_index, start_offset, end_offset, output, error, attempts
		FROM summary_chunks WHERE job_id = ? ORDER BY chunk_index`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list chunks of job %s", jobID)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		var output, errMsg sql.NullString
		if err := rows.Scan(&c.Index, &c.Start, &c.End, &output, &errMsg, &c.Attempts); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		c.Output = output.String
		c.Error = errMsg.String
		c.Done = output.Valid || errMsg.Valid
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chunks")
	}
	return chunks, nil
}

// ListJobs returns jobs newest first, without source text or chunks
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var where []string
	var params []interface{}
	if filter.MeetingID != "" {
		where = append(where, "meeting_id = ?")
		params = append(params, filter.MeetingID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		params = append(params, *filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM summary_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		args := &jobScanArgs{}
		if err := rows.Scan(args.targets(&job)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		if err := args.apply(&job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// MarkInterrupted moves every pending or processing job to error.
// Called once at startup: no job can be running in this process yet.
func (s *Store) MarkInterrupted(ctx context.Context, reason string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE summary_jobs
		SET status = ?, error = ?, finished_at = ?, updated_at = ?
		WHERE status IN (?, ?)`,
		JobStatusError, reason, at.UTC(), at.UTC(),
		JobStatusPending, JobStatusProcessing,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark interrupted jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count interrupted jobs")
	}
	return int(n), nil
}

// DeleteTerminalForMeeting removes a meeting's finished jobs other than keepID
func (s *Store) DeleteTerminalForMeeting(ctx context.Context, meetingID, keepID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM summary_jobs
		WHERE meeting_id = ? AND id != ? AND status IN (?, ?, ?)`,
		meetingID, keepID,
		JobStatusCompleted, JobStatusError, JobStatusCancelled,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete superseded jobs for meeting %s", meetingID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Cleanup removes terminal jobs finished more than olderThan ago
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UTC()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM summary_jobs
		WHERE status IN (?, ?, ?) AND finished_at < ?`,
		JobStatusCompleted, JobStatusError, JobStatusCancelled, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old jobs")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SaveSummary upserts the meeting's current summary
func (s *Store) SaveSummary(ctx context.Context, meetingID, jobID string, sum *summary.Summary) error {
	b, err := json.Marshal(sum)
	if err != nil {
		return errors.Wrap(err, "failed to marshal summary")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meeting_summaries (meeting_id, job_id, summary, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(meeting_id) DO UPDATE SET
			job_id = excluded.job_id,
			summary = excluded.summary,
			updated_at = excluded.updated_at`,
		meetingID, jobID, string(b), s.now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save summary for meeting %s", meetingID)
	}
	return nil
}

// GetSummary returns a meeting's current summary and the job that produced it
func (s *Store) GetSummary(ctx context.Context, meetingID string) (*summary.Summary, string, error) {
	var jobID, raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, summary FROM meeting_summaries WHERE meeting_id = ?`, meetingID).Scan(&jobID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", errors.NewNotFoundError("no summary for meeting %s", meetingID)
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to get summary for meeting %s", meetingID)
	}
	var sum summary.Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, "", errors.Wrapf(err, "corrupt summary for meeting %s", meetingID)
	}
	return &sum, jobID, nil
}

// jobScanArgs holds nullable columns while scanning a job row
type jobScanArgs struct {
	config     string
	result     sql.NullString
	errMsg     sql.NullString
	startedAt  sql.NullTime
	finishedAt sql.NullTime
}

// targets returns scan destinations in jobColumns order
func (a *jobScanArgs) targets(job *Job) []interface{} {
	return []interface{}{
		&job.ID,
		&job.MeetingID,
		&job.Status,
		&a.config,
		&job.Progress.Total,
		&job.Progress.Current,
		&a.result,
		&a.errMsg,
		&job.CreatedAt,
		&a.startedAt,
		&a.finishedAt,
		&job.UpdatedAt,
	}
}

func (a *jobScanArgs) apply(job *Job) error {
	if err := json.Unmarshal([]byte(a.config), &job.Config); err != nil {
		return errors.Wrapf(err, "corrupt config for job %s", job.ID)
	}
	if a.result.Valid {
		var sum summary.Summary
		if err := json.Unmarshal([]byte(a.result.String), &sum); err != nil {
			return errors.Wrapf(err, "corrupt result for job %s", job.ID)
		}
		job.Result = &sum
	}
	job.Error = a.errMsg.String
	if a.startedAt.Valid {
		t := a.startedAt.Time
		job.StartedAt = &t
	}
	if a.finishedAt.Valid {
		t := a.finishedAt.Time
		job.FinishedAt = &t
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
