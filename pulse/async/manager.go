package async

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/recap/ai/provider"
	"github.com/teranos/recap/am"
	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/logger"
	"github.com/teranos/recap/pulse/budget"
	"github.com/teranos/recap/summary"
	"github.com/teranos/recap/summary/chunk"
)

const (
	// SubscriberChannelBufferSize is the buffer of each Subscribe channel
	SubscriberChannelBufferSize = 64

	// CancelledReason is recorded on jobs cancelled through Cancel
	CancelledReason = "cancelled by request"

	// InterruptedReason is recorded on jobs found unfinished at startup
	InterruptedReason = "interrupted by restart"

	// ShutdownReason is recorded on jobs still running when the manager stops
	ShutdownReason = "interrupted by shutdown"

	shutdownTimeout = 30 * time.Second

	// terminal state writes are retried before the job is kept as an unflushed tombstone
	terminalWriteAttempts = 4
	terminalWriteBackoff  = 50 * time.Millisecond
)

// ProviderResolver hands out a provider for a job. An unconfigured provider is a fatal provider error.
type ProviderResolver interface {
	Get(pt provider.ProviderType) (provider.Provider, error)
}

// ManagerConfig holds the defaults and limits jobs run with
type ManagerConfig struct {
	Workers          int // concurrent chunk calls per job
	ChunkSize        int
	Overlap          int
	BoundaryLookback int
	Retry            summary.RetryPolicy
	CallTimeout      time.Duration
	Watchdog         time.Duration // 0 disables the stall check
	WatchdogInterval time.Duration
	ReducePass       bool
	DefaultProvider  string
	DefaultTemplate  string
	StoreTimeout     time.Duration
}

// DefaultManagerConfig mirrors the [summary] defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Workers:          3,
		ChunkSize:        5000,
		Overlap:          1000,
		BoundaryLookback: chunk.DefaultLookback,
		Retry:            summary.DefaultRetryPolicy(),
		CallTimeout:      60 * time.Second,
		Watchdog:         10 * time.Minute,
		WatchdogInterval: 15 * time.Second,
		ReducePass:       true,
		DefaultProvider:  string(provider.ProviderTypeLocal),
		DefaultTemplate:  summary.DefaultTemplate,
		StoreTimeout:     10 * time.Second,
	}
}

// ManagerConfigFromAm converts the [summary] section
func ManagerConfigFromAm(c am.SummaryConfig) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.Workers = c.Workers
	cfg.ChunkSize = c.ChunkSize
	cfg.Overlap = c.Overlap
	cfg.BoundaryLookback = c.BoundaryLookback
	cfg.Retry = summary.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		Base:        c.BackoffBase,
		Max:         c.BackoffMax,
		Multiplier:  2,
	}
	cfg.CallTimeout = c.CallTimeout
	cfg.Watchdog = c.Watchdog
	cfg.WatchdogInterval = c.WatchdogInterval
	cfg.ReducePass = c.ReducePass
	if c.DefaultProvider != "" {
		cfg.DefaultProvider = c.DefaultProvider
	}
	if c.DefaultTemplate != "" {
		cfg.DefaultTemplate = c.DefaultTemplate
	}
	return cfg
}

// SubmitRequest describes one summarization. Nil ChunkSize/Overlap use the defaults.
type SubmitRequest struct {
	JobID        string // optional caller-supplied id
	MeetingID    string
	Text         string
	Provider     string
	Model        string
	Template     string
	CustomPrompt string
	ChunkSize    *int
	Overlap      *int
}

// plan is everything resolved at submission
type plan struct {
	providerType provider.ProviderType
	template     *summary.Template
	chunks       []chunk.Chunk
	config       JobConfig
}

// run is the in-memory state of one active job
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	plan   plan

	mu           sync.Mutex // guards the fields below; never held across store or sink calls
	job          *Job
	lastProgress time.Time
	seq          uint64 // bumped on every change to job
	completing   bool   // the summary is being handed to the sink

	persistMu sync.Mutex // serializes writes of this job
	persisted uint64     // seq of the last snapshot written
}

// stamp records a change to r.job and returns the snapshot to persist. r.mu must be held.
func (r *run) stamp() (*Job, uint64) {
	r.seq++
	return r.job.Clone(), r.seq
}

func (r *run) snapshot() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone()
}

// Manager owns the job state machine. Each job runs in its own goroutine
// with a bounded chunk worker pool; no lock is held across jobs.
type Manager struct {
	store     StatusStore
	sink      SummarySink
	providers ProviderResolver
	budget    budget.Budget
	cfg       ManagerConfig
	logger    *zap.SugaredLogger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex // guards the registry below
	started   bool
	runs      map[string]*run   // job id -> active run
	byMeeting map[string]string // meeting id -> active job id
	unflushed map[string]*Job   // terminal jobs whose final state is not yet in the store

	subMu       sync.RWMutex
	subscribers []chan *Job
}

// NewManager creates a job manager. sink may be nil; b may be nil for no budget.
func NewManager(store StatusStore, sink SummarySink, providers ProviderResolver, b budget.Budget, cfg ManagerConfig, log *zap.SugaredLogger) *Manager {
	if b == nil {
		b = budget.Unlimited{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 15 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		sink:      sink,
		providers: providers,
		budget:    b,
		cfg:       cfg,
		logger:    log.Named("pulse"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*run),
		byMeeting: make(map[string]string),
		unflushed: make(map[string]*Job),
	}
}

// Start marks jobs left unfinished by a previous process as error and starts the watchdog.
// Submit is rejected until Start has run.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	n, err := m.store.MarkInterrupted(ctx, InterruptedReason, m.now())
	if err != nil {
		return errors.Wrap(err, "failed to recover interrupted jobs")
	}
	if n > 0 {
		m.logger.Warnw("Marked jobs interrupted by restart as error", logger.FieldCount, n)
	}
	if warning := m.checkMemoryPressure(); warning != "" {
		m.logger.Warnw("Memory pressure warning", "warning", warning, "workers", m.cfg.Workers)
	}

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.flushLoop()
	if m.cfg.Watchdog > 0 {
		m.wg.Add(1)
		go m.watchdog()
	}
	m.logger.Infow("Summary job manager started",
		"workers", m.cfg.Workers,
		"watchdog", m.cfg.Watchdog.String(),
		"reduce_pass", m.cfg.ReducePass)
	return nil
}

// Stop cancels running jobs and waits for their goroutines to exit
func (m *Manager) Stop() {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		// jobs failed by shutdown may have left tombstones
		m.flushUnflushed()
		m.logger.Infow("Summary job manager stopped")
	case <-time.After(shutdownTimeout):
		m.logger.Warnw("Summary job manager stop timed out", "timeout", shutdownTimeout.String())
	}
}

func (m *Manager) accepting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && m.ctx.Err() == nil
}

func (m *Manager) plan(req SubmitRequest) (plan, error) {
	if strings.TrimSpace(req.MeetingID) == "" {
		return plan{}, errors.NewConfigurationError("meeting_id", "is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return plan{}, errors.NewConfigurationError("text", "transcript is empty")
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = m.cfg.DefaultProvider
	}
	pt, err := provider.ParseProvider(providerName)
	if err != nil {
		return plan{}, err
	}

	templateName := req.Template
	if templateName == "" {
		templateName = m.cfg.DefaultTemplate
	}
	tmpl, err := summary.LoadTemplate(templateName)
	if err != nil {
		return plan{}, err
	}

	size, overlap := m.cfg.ChunkSize, m.cfg.Overlap
	if req.ChunkSize != nil {
		size = *req.ChunkSize
	}
	if req.Overlap != nil {
		overlap = *req.Overlap
	}
	chunks, err := chunk.SplitWithLookback(req.Text, size, overlap, m.cfg.BoundaryLookback)
	if err != nil {
		return plan{}, err
	}

	return plan{
		providerType: pt,
		template:     tmpl,
		chunks:       chunks,
		config: JobConfig{
			Provider:     string(pt),
			Model:        req.Model,
			ChunkSize:    size,
			Overlap:      overlap,
			Template:     tmpl.Name,
			CustomPrompt: req.CustomPrompt,
		},
	}, nil
}

// Submit validates and starts a job, returning its id.
// Invalid configuration is a ConfigurationError and creates no job; a meeting
// with a non-terminal job gets a DuplicateJobError.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !m.accepting() {
		return "", errors.Wrap(errors.ErrServiceUnavailable, "job manager is not running")
	}
	p, err := m.plan(req)
	if err != nil {
		return "", err
	}

	if req.JobID != "" {
		if _, err := m.store.GetJob(ctx, req.JobID); err == nil {
			return "", errors.Wrapf(errors.ErrConflict, "job %s already exists", req.JobID)
		} else if !errors.IsNotFoundError(err) {
			return "", err
		}
	}

	// the store must show the meeting's previous job as terminal before another starts
	if err := m.flushMeeting(req.MeetingID); err != nil {
		return "", errors.WithHint(
			errors.Wrapf(errors.ErrServiceUnavailable, "previous job for meeting %s is not persisted: %v", req.MeetingID, err),
			"retry once the database is writable")
	}

	job := NewJob(req.JobID, req.MeetingID, req.Text, p.config, m.now())
	job.Progress.Total = len(p.chunks)
	job.Chunks = make([]ChunkRecord, len(p.chunks))
	for i, c := range p.chunks {
		job.Chunks[i] = ChunkRecord{Index: c.Index, Start: c.Start, End: c.End}
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	r := &run{ctx: runCtx, cancel: cancel, plan: p, job: job, lastProgress: job.CreatedAt, seq: 1}

	m.mu.Lock()
	if active, ok := m.byMeeting[job.MeetingID]; ok {
		m.mu.Unlock()
		cancel()
		return "", errors.WithStack(&errors.DuplicateJobError{MeetingID: job.MeetingID, ActiveJobID: active})
	}
	if _, ok := m.runs[job.ID]; ok || m.unflushed[job.ID] != nil {
		m.mu.Unlock()
		cancel()
		return "", errors.Wrapf(errors.ErrConflict, "job %s already exists", job.ID)
	}
	if m.unflushedForMeetingLocked(job.MeetingID) != nil {
		m.mu.Unlock()
		cancel()
		return "", errors.Wrapf(errors.ErrServiceUnavailable, "previous job for meeting %s is not persisted", job.MeetingID)
	}
	m.runs[job.ID] = r
	m.byMeeting[job.MeetingID] = job.ID
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.persistNew(ctx, r); err != nil {
		m.release(r)
		cancel()
		m.wg.Done()
		return "", err
	}

	if n, err := m.store.DeleteTerminalForMeeting(ctx, job.MeetingID, job.ID); err != nil {
		m.logger.Warnw("Failed to delete superseded jobs", logger.FieldMeetingID, job.MeetingID, logger.FieldError, err)
	} else if n > 0 {
		m.logger.Debugw("Deleted superseded jobs", logger.FieldMeetingID, job.MeetingID, logger.FieldCount, n)
	}

	m.logger.Infow("Summary job submitted",
		logger.FieldJobID, job.ID,
		logger.FieldMeetingID, job.MeetingID,
		logger.FieldProvider, p.config.Provider,
		logger.FieldTemplate, p.config.Template,
		logger.FieldChunkTotal, len(p.chunks))

	m.notify(r.snapshot())
	go m.execute(r)
	return job.ID, nil
}

// persistNew writes the job row and its chunk spans
func (m *Manager) persistNew(ctx context.Context, r *run) error {
	r.mu.Lock()
	snap, seq := r.job.Clone(), r.seq
	r.mu.Unlock()
	return m.persist(ctx, r, snap, seq, snap.Chunks)
}

// persist writes a snapshot and the given chunk rows. Snapshots older than the
// last one written are skipped, so a late progress write never overwrites a terminal state.
func (m *Manager) persist(ctx context.Context, r *run, snap *Job, seq uint64, chunks []ChunkRecord) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if seq <= r.persisted {
		return nil
	}
	for _, c := range chunks {
		if err := m.saveChunk(ctx, snap.ID, c); err != nil {
			return err
		}
	}
	if err := m.saveJob(ctx, snap); err != nil {
		return err
	}
	r.persisted = seq
	return nil
}

// saveJob and saveChunk turn a panicking store into an error
func (m *Manager) saveJob(ctx context.Context, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("store panicked saving job %s: %v", job.ID, p)
		}
	}()
	return m.store.SaveJob(ctx, job)
}

func (m *Manager) saveChunk(ctx context.Context, jobID string, c ChunkRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("store panicked saving chunk %d of job %s: %v", c.Index, jobID, p)
		}
	}()
	return m.store.SaveChunk(ctx, jobID, c)
}

func (m *Manager) saveSummary(meetingID, jobID string, sum *summary.Summary) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("summary sink panicked: %v", p)
		}
	}()
	ctx, cancel := m.storeCtx()
	defer cancel()
	return m.sink.SaveSummary(ctx, meetingID, jobID, sum)
}

// Status returns a snapshot of a job. Unknown ids are NotFound.
func (m *Manager) Status(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	r := m.runs[id]
	tomb := m.unflushed[id]
	m.mu.Unlock()
	if r != nil {
		return r.snapshot(), nil
	}
	if tomb != nil {
		return tomb.Clone(), nil
	}
	return m.store.GetJob(ctx, id)
}

// Cancel moves a non-terminal job to cancelled and aborts its in-flight calls.
// Cancelling a terminal job is a no-op that returns its snapshot.
func (m *Manager) Cancel(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	r := m.runs[id]
	tomb := m.unflushed[id]
	m.mu.Unlock()

	if r == nil && tomb != nil {
		return tomb.Clone(), nil
	}
	if r == nil {
		job, err := m.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		// a live row this process is not running
		job.Cancel(CancelledReason, m.now())
		if err := m.store.SaveJob(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}

	if m.terminate(r, false, func(j *Job, now time.Time) { j.Cancel(CancelledReason, now) }) {
		m.logger.Infow("Summary job cancelled", logger.FieldJobID, id)
	}
	r.cancel()
	return r.snapshot(), nil
}

// ListJobs lists persisted jobs, with terminal states not yet written shown as they are in memory
func (m *Manager) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.unflushed) == 0 {
		return jobs, nil
	}
	out := jobs[:0]
	for _, j := range jobs {
		if tomb := m.unflushed[j.ID]; tomb != nil {
			j = tomb.Clone()
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// Cleanup purges terminal jobs older than olderThan
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return m.store.Cleanup(ctx, olderThan)
}

// ActiveCount returns the number of non-terminal jobs in this process
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Wait blocks until the job is terminal or ctx is done
func (m *Manager) Wait(ctx context.Context, id string) (*Job, error) {
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	// notifications may be dropped for slow subscribers; poll as a fallback
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := m.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case j := <-ch:
			if j.ID == id && j.Status.IsTerminal() {
				return j, nil
			}
		}
	}
}

// Subscribe returns a channel that receives job snapshots on every change.
// The caller must call Unsubscribe when done.
func (m *Manager) Subscribe() chan *Job {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed.
func (m *Manager) Unsubscribe(ch chan *Job) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// notify sends a snapshot to all subscribers without blocking
func (m *Manager) notify(job *Job) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}

func (m *Manager) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
}

// release drops a run from the registry so its meeting can be resubmitted
func (m *Manager) release(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(r)
}

func (m *Manager) releaseLocked(r *run) {
	id, meeting := r.job.ID, r.job.MeetingID
	if m.runs[id] == r {
		delete(m.runs, id)
	}
	if m.byMeeting[meeting] == id {
		delete(m.byMeeting, meeting)
	}
}

// terminate applies a terminal transition once and persists it. It returns
// false if the job was already terminal, or is completing and force is unset.
// Only the job's own goroutine forces.
func (m *Manager) terminate(r *run, force bool, transition func(j *Job, now time.Time)) bool {
	r.mu.Lock()
	if r.job.Status.IsTerminal() || (r.completing && !force) {
		r.mu.Unlock()
		return false
	}
	transition(r.job, m.now())
	snap, seq := r.stamp()
	r.mu.Unlock()

	err := m.persistTerminal(r, snap, seq)

	m.mu.Lock()
	if err != nil {
		// Status and ListJobs report the tombstone until flushLoop writes it
		m.unflushed[snap.ID] = snap
		m.logger.Errorw("Terminal job state not persisted; keeping it in memory",
			logger.FieldJobID, snap.ID, logger.FieldStatus, snap.Status, logger.FieldError, err)
	}
	m.releaseLocked(r)
	m.mu.Unlock()

	m.notify(snap)
	return true
}

// persistTerminal writes a terminal snapshot with all chunk rows, retrying with backoff
func (m *Manager) persistTerminal(r *run, snap *Job, seq uint64) error {
	var err error
	delay := terminalWriteBackoff
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		ctx, cancel := m.storeCtx()
		err = m.persist(ctx, r, snap, seq, snap.Chunks)
		cancel()
		if err == nil {
			return nil
		}
		m.logger.Warnw("Failed to persist terminal job state",
			logger.FieldJobID, snap.ID, logger.FieldAttempt, attempt, logger.FieldError, err)
		if attempt < terminalWriteAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	// older progress snapshots must not land after the tombstone is flushed
	r.persistMu.Lock()
	if seq > r.persisted {
		r.persisted = seq
	}
	r.persistMu.Unlock()
	return err
}

// flushTerminal writes an unflushed tombstone and forgets it on success
func (m *Manager) flushTerminal(job *Job) error {
	ctx, cancel := m.storeCtx()
	defer cancel()
	for _, c := range job.Chunks {
		if err := m.saveChunk(ctx, job.ID, c); err != nil {
			return err
		}
	}
	if err := m.saveJob(ctx, job); err != nil {
		return err
	}
	m.mu.Lock()
	if m.unflushed[job.ID] == job {
		delete(m.unflushed, job.ID)
	}
	m.mu.Unlock()
	m.logger.Infow("Persisted terminal job state", logger.FieldJobID, job.ID, logger.FieldStatus, job.Status)
	return nil
}

func (m *Manager) unflushedForMeetingLocked(meetingID string) *Job {
	for _, j := range m.unflushed {
		if j.MeetingID == meetingID {
			return j
		}
	}
	return nil
}

// flushMeeting tries to write the meeting's unflushed tombstone, if any
func (m *Manager) flushMeeting(meetingID string) error {
	m.mu.Lock()
	tomb := m.unflushedForMeetingLocked(meetingID)
	m.mu.Unlock()
	if tomb == nil {
		return nil
	}
	return m.flushTerminal(tomb)
}

func (m *Manager) flushUnflushed() {
	m.mu.Lock()
	pending := make([]*Job, 0, len(m.unflushed))
	for _, j := range m.unflushed {
		pending = append(pending, j)
	}
	m.mu.Unlock()

	for _, j := range pending {
		if err := m.flushTerminal(j); err != nil {
			m.logger.Warnw("Terminal job state still not persisted", logger.FieldJobID, j.ID, logger.FieldError, err)
		}
	}
}

// flushLoop retries unflushed terminal writes until the manager stops
func (m *Manager) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.flushUnflushed()
		}
	}
}

func (m *Manager) fail(r *run, err error) {
	if m.terminate(r, true, func(j *Job, now time.Time) { j.Fail(err, now) }) {
		m.logger.Warnw("Summary job failed", logger.FieldJobID, r.job.ID, logger.FieldError, err.Error())
	}
}

// execute runs one job to a terminal state
func (m *Manager) execute(r *run) {
	defer m.wg.Done()
	defer m.release(r)
	defer r.cancel()
	defer func() {
		if p := recover(); p != nil {
			m.logger.Errorw("Summary job panicked", logger.FieldJobID, r.job.ID, "panic", p)
			m.fail(r, errors.Newf("internal error: %v", p))
		}
	}()

	log := m.logger.With(logger.FieldJobID, r.job.ID, logger.FieldMeetingID, r.job.MeetingID)

	p, err := m.providers.Get(r.plan.providerType)
	if err != nil {
		m.fail(r, errors.Wrap(err, "provider unavailable"))
		return
	}

	s := summary.NewSummarizer(p, m.budget, log)
	cfg := summary.Config{
		JobID:        r.job.ID,
		Template:     r.plan.template,
		Model:        r.plan.config.Model,
		CustomPrompt: r.plan.config.CustomPrompt,
		CallTimeout:  m.cfg.CallTimeout,
		Retry:        m.cfg.Retry,
	}

	results, failure := m.dispatch(r, s, cfg)
	if failure != nil {
		m.fail(r, failure)
		return
	}
	if r.ctx.Err() != nil {
		// cancelled or stalled jobs are already terminal; otherwise the manager is stopping
		m.fail(r, errors.New(ShutdownReason))
		return
	}

	m.touch(r)
	merged, err := summary.NewMerger(s, m.cfg.ReducePass).Merge(r.ctx, results, len(r.plan.chunks), cfg)
	if err != nil {
		if r.ctx.Err() != nil {
			m.fail(r, errors.New(ShutdownReason))
			return
		}
		m.fail(r, err)
		return
	}

	m.complete(r, merged)
}

// dispatch summarizes chunks in index order with at most cfg.Workers in flight.
// The first chunk failure cancels the run; no chunk is dispatched after cancellation.
func (m *Manager) dispatch(r *run, s *summary.Summarizer, cfg summary.Config) ([]summary.ChunkResult, error) {
	chunks := r.plan.chunks
	sem := make(chan struct{}, m.cfg.Workers)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]summary.ChunkResult, 0, len(chunks))
		failure error
	)

	for _, c := range chunks {
		select {
		case sem <- struct{}{}:
		case <-r.ctx.Done():
		}
		if r.ctx.Err() != nil {
			break
		}
		if c.Index == 0 {
			m.markProcessing(r)
		}

		wg.Add(1)
		go func(c chunk.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					m.logger.Errorw("Chunk worker panicked", logger.FieldJobID, r.job.ID, logger.FieldChunkIndex, c.Index, "panic", p)
					mu.Lock()
					if failure == nil {
						failure = &errors.ChunkFailure{Index: c.Index, Cause: errors.Newf("internal error: %v", p)}
					}
					mu.Unlock()
					r.cancel()
				}
			}()

			res := summarizeSafely(r.ctx, s, c, len(chunks), cfg)
			m.recordChunk(r, c, res)

			if res.OK() {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return
			}
			if errors.Is(res.Err, context.Canceled) || r.ctx.Err() != nil {
				return
			}
			mu.Lock()
			if failure == nil {
				failure = &errors.ChunkFailure{Index: c.Index, Cause: res.Err}
			}
			mu.Unlock()
			r.cancel()
		}(c)
	}
	wg.Wait()

	return results, failure
}

func summarizeSafely(ctx context.Context, s *summary.Summarizer, c chunk.Chunk, total int, cfg summary.Config) (res summary.ChunkResult) {
	defer func() {
		if p := recover(); p != nil {
			res = summary.ChunkResult{Index: c.Index, Err: errors.Newf("internal error: %v", p)}
		}
	}()
	return s.Summarize(ctx, c, total, cfg)
}

func (m *Manager) markProcessing(r *run) {
	r.mu.Lock()
	if r.job.Status != JobStatusPending {
		r.mu.Unlock()
		return
	}
	now := m.now()
	r.job.Start(now)
	r.lastProgress = now
	snap, seq := r.stamp()
	r.mu.Unlock()

	ctx, cancel := m.storeCtx()
	defer cancel()
	if err := m.persist(ctx, r, snap, seq, nil); err != nil {
		m.logger.Warnw("Failed to persist processing state", logger.FieldJobID, snap.ID, logger.FieldError, err)
	}
	m.notify(snap)
}

// recordChunk stores a chunk's final outcome unless the job is already terminal.
// Results from cancelled calls are discarded.
func (m *Manager) recordChunk(r *run, c chunk.Chunk, res summary.ChunkResult) {
	if errors.Is(res.Err, context.Canceled) {
		return
	}

	r.mu.Lock()
	if r.job.Status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	now := m.now()
	rec := &r.job.Chunks[c.Index]
	rec.Attempts = res.Attempts
	rec.Done = true
	if res.OK() {
		rec.Output = res.Raw
		rec.Error = ""
		r.job.Progress.Current++
	} else if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	r.job.UpdatedAt = now
	r.lastProgress = now
	record := *rec
	snap, seq := r.stamp()
	r.mu.Unlock()

	ctx, cancel := m.storeCtx()
	defer cancel()
	if err := m.persist(ctx, r, snap, seq, []ChunkRecord{record}); err != nil {
		m.logger.Warnw("Failed to persist chunk progress", logger.FieldJobID, snap.ID, logger.FieldChunkIndex, c.Index, logger.FieldError, err)
	}
	m.notify(snap)
}

func (m *Manager) touch(r *run) {
	r.mu.Lock()
	r.lastProgress = m.now()
	r.mu.Unlock()
}

// complete hands the summary to the sink and marks the job completed, unless it was
// cancelled first. Once the sink call starts, Cancel and the watchdog leave the job alone.
func (m *Manager) complete(r *run, merged *summary.Summary) {
	r.mu.Lock()
	if r.job.Status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.completing = true
	r.lastProgress = m.now()
	r.mu.Unlock()

	var sinkErr error
	if m.sink != nil {
		sinkErr = m.saveSummary(r.job.MeetingID, r.job.ID, merged)
	}
	done := m.terminate(r, true, func(j *Job, now time.Time) {
		if sinkErr != nil {
			j.Fail(errors.Wrap(sinkErr, "failed to save meeting summary"), now)
			return
		}
		j.Complete(merged, now)
	})
	if !done {
		return
	}
	if sinkErr != nil {
		m.logger.Errorw("Summary job failed to save result", logger.FieldJobID, r.job.ID, logger.FieldError, sinkErr)
		return
	}
	m.logger.Infow("Summary job completed",
		logger.FieldJobID, r.job.ID,
		logger.FieldMeetingID, r.job.MeetingID,
		"sections", merged.Len(),
		"blocks", merged.BlockCount())
}

// watchdog fails jobs whose chunk state has not changed within cfg.Watchdog
func (m *Manager) watchdog() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkStalled()
		}
	}
}

func (m *Manager) checkStalled() {
	m.mu.Lock()
	runs := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	now := m.now()
	for _, r := range runs {
		r.mu.Lock()
		idle := now.Sub(r.lastProgress)
		stalled := !r.job.Status.IsTerminal() && idle > m.cfg.Watchdog
		r.mu.Unlock()
		if !stalled {
			continue
		}

		err := errors.Newf("no progress for %s; job stalled", idle.Truncate(time.Second))
		if m.terminate(r, false, func(j *Job, now time.Time) { j.Fail(err, now) }) {
			m.logger.Warnw("Watchdog failed stalled job", logger.FieldJobID, r.job.ID, "idle", idle.String())
		}
		r.cancel()
	}
}
