package server

import (
	"net/http"
	"time"

	"github.com/teranos/recap/logger"
	"github.com/teranos/recap/pulse/async"
	"github.com/teranos/recap/summary"
)

const (
	// Default and max limits for job listing queries
	defaultJobLimit = 50
	maxJobLimit     = 200
)

// ProcessRequest is the body of POST /api/summary/process
type ProcessRequest struct {
	JobID        string `json:"job_id,omitempty"`
	MeetingID    string `json:"meeting_id"`
	Text         string `json:"text"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	ChunkSize    *int   `json:"chunk_size,omitempty"`
	Overlap      *int   `json:"overlap,omitempty"`
	Template     string `json:"template,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// ProcessResponse acknowledges an accepted submission
type ProcessResponse struct {
	ProcessID string `json:"process_id"`
	Status    string `json:"status"`
}

// JobResponse is the polling view of a job
type JobResponse struct {
	JobID      string           `json:"job_id"`
	MeetingID  string           `json:"meeting_id"`
	Status     async.JobStatus  `json:"status"`
	Data       *summary.Summary `json:"data"`
	Error      *string          `json:"error"`
	Start      *time.Time       `json:"start"`
	End        *time.Time       `json:"end"`
	CreatedAt  time.Time        `json:"created_at"`
	Progress   async.Progress   `json:"progress"`
	Percentage float64          `json:"percentage"`
	Config     async.JobConfig  `json:"config"`
}

func toJobResponse(job *async.Job) JobResponse {
	resp := JobResponse{
		JobID:      job.ID,
		MeetingID:  job.MeetingID,
		Status:     job.Status,
		Data:       job.Result,
		Start:      job.StartedAt,
		End:        job.FinishedAt,
		CreatedAt:  job.CreatedAt,
		Progress:   job.Progress,
		Percentage: job.Progress.Percentage(),
		Config:     job.Config,
	}
	if job.Error != "" {
		msg := job.Error
		resp.Error = &msg
	}
	return resp
}

// statusCode maps a job status to the polling response code:
// 202 while live, 200 once completed or cancelled, 400 on error.
func statusCode(status async.JobStatus) int {
	switch status {
	case async.JobStatusCompleted, async.JobStatusCancelled:
		return http.StatusOK
	case async.JobStatusError:
		return http.StatusBadRequest
	default:
		return http.StatusAccepted
	}
}

// HandleProcess handles POST /api/summary/process
func (s *Server) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req ProcessRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	id, err := s.manager.Submit(r.Context(), async.SubmitRequest{
		JobID:        req.JobID,
		MeetingID:    req.MeetingID,
		Text:         req.Text,
		Provider:     req.Provider,
		Model:        req.Model,
		Template:     req.Template,
		CustomPrompt: req.CustomPrompt,
		ChunkSize:    req.ChunkSize,
		Overlap:      req.Overlap,
	})
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to submit summary job")
		return
	}

	s.logger.Infow("Accepted summary job",
		logger.FieldJobID, id,
		logger.FieldMeetingID, req.MeetingID,
		"text_length", len(req.Text))
	writeJSON(w, http.StatusAccepted, ProcessResponse{ProcessID: id, Status: string(async.JobStatusPending)})
}

// HandleJob handles GET /api/summary/jobs/{id}
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := s.manager.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, statusCode(job.Status), toJobResponse(job))
}

// HandleCancel handles POST /api/summary/jobs/{id}/cancel
func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	id := r.PathValue("id")
	job, err := s.manager.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// HandleJobs handles GET /api/summary/jobs?meeting_id=&status=&limit=
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	filter := async.JobFilter{
		MeetingID: r.URL.Query().Get("meeting_id"),
		Limit:     parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := async.ParseStatus(raw)
		if err != nil {
			writeServiceError(w, s.logger, err, "invalid status filter")
			return
		}
		filter.Status = &status
	}

	jobs, err := s.manager.ListJobs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to list jobs")
		return
	}

	out := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = toJobResponse(job)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  out,
		"count": len(out),
	})
}

// HandleMeetingSummary handles GET /api/summary/meetings/{id}
func (s *Server) HandleMeetingSummary(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.summaries == nil {
		writeError(w, http.StatusServiceUnavailable, "Summary store not available")
		return
	}

	meetingID := r.PathValue("id")
	sum, jobID, err := s.summaries.GetSummary(r.Context(), meetingID)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to get meeting summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"meeting_id": meetingID,
		"job_id":     jobID,
		"data":       sum,
	})
}

// HandleTemplates handles GET /api/summary/templates
func (s *Server) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	templates := summary.Templates()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": templates,
		"default":   summary.DefaultTemplate,
	})
}
