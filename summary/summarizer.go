package summary

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/ai/provider"
	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/logger"
	"github.com/teranos/recap/pulse/budget"
	"github.com/teranos/recap/summary/chunk"
)

// RetryPolicy bounds retries of RateLimited and Transient provider failures
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is 3 attempts, 1s base doubling up to 30s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Second, Max: 30 * time.Second, Multiplier: 2}
}

// Backoff returns the wait before retry number attempt (1-based).
// The exponential delay is equal-jittered; a larger retryAfter from the backend wins, both capped at Max.
func (p RetryPolicy) Backoff(attempt int, retryAfter time.Duration, jitter func() float64) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := time.Duration(float64(p.Base) * math.Pow(mult, float64(attempt-1)))
	if p.Max > 0 && (d > p.Max || d <= 0) {
		d = p.Max
	}
	half := d / 2
	d = half + time.Duration(jitter()*float64(d-half))

	if retryAfter > d {
		d = retryAfter
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Config is the per-job summarization configuration
type Config struct {
	JobID        string
	Template     *Template
	Model        string
	CustomPrompt string
	CallTimeout  time.Duration
	Retry        RetryPolicy
}

// ChunkResult is the final outcome of one chunk after retries
type ChunkResult struct {
	Index    int
	Summary  *Summary
	Raw      string
	Err      error
	Attempts int
}

// OK reports whether the chunk succeeded
func (r ChunkResult) OK() bool { return r.Err == nil && r.Summary != nil }

// Summarizer runs provider calls with the retry policy and the shared budget
type Summarizer struct {
	provider provider.Provider
	budget   budget.Budget
	logger   *zap.SugaredLogger

	// injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewSummarizer creates a summarizer for one provider. b may be nil for no budget.
func NewSummarizer(p provider.Provider, b budget.Budget, log *zap.SugaredLogger) *Summarizer {
	if b == nil {
		b = budget.Unlimited{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Summarizer{
		provider: p,
		budget:   b,
		logger:   log,
		sleep:    sleepContext,
		jitter:   lockedJitter(),
	}
}

// Provider returns the provider name
func (s *Summarizer) Provider() string { return s.provider.Name() }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lockedJitter() func() float64 {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()
	}
}

// Summarize produces the ChunkResult for c. It never returns a partial
// success; failures are carried in the result.
func (s *Summarizer) Summarize(ctx context.Context, c chunk.Chunk, total int, cfg Config) ChunkResult {
	system, user := ChunkPrompt(cfg.Template, c.Text, c.Index, total, cfg.CustomPrompt)
	req := llm.Request{
		SystemPrompt:  system,
		UserPrompt:    user,
		Model:         cfg.Model,
		OperationType: "chunk-summary",
		EntityID:      cfg.JobID,
	}

	sum, raw, attempts, err := s.generate(ctx, req, cfg, c.Index)
	return ChunkResult{Index: c.Index, Summary: sum, Raw: raw, Err: err, Attempts: attempts}
}

// generate calls the provider until success, a non-retryable failure,
// cancellation or the attempt limit. Undecodable output counts as a transient failure.
func (s *Summarizer) generate(ctx context.Context, req llm.Request, cfg Config, index int) (*Summary, string, int, error) {
	policy := cfg.Retry
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	log := s.logger.With(logger.FieldJobID, cfg.JobID, logger.FieldChunkIndex, index, logger.FieldProvider, s.provider.Name())

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := s.budget.Wait(ctx, s.provider.Name()); err != nil {
			if ctx.Err() != nil {
				return nil, "", attempt - 1, ctx.Err()
			}
			return nil, "", attempt - 1, errors.Wrap(err, "provider budget unavailable")
		}

		sum, raw, err := s.attempt(ctx, req, cfg)
		if err == nil {
			if attempt > 1 {
				log.Infow("Provider call succeeded after retry", logger.FieldAttempt, attempt)
			}
			return sum, raw, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, "", attempt, ctx.Err()
		}
		if !llm.IsRetryable(err) {
			log.Warnw("Provider call failed permanently", logger.FieldAttempt, attempt, logger.FieldError, err)
			return nil, raw, attempt, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		backoff := policy.Backoff(attempt, llm.RetryAfterOf(err), s.jitter)
		log.Warnw("Provider call failed, retrying",
			logger.FieldAttempt, attempt,
			logger.FieldBackoff, backoff.String(),
			logger.FieldError, err)
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, "", attempt, err
		}
	}

	return nil, "", policy.MaxAttempts, errors.Wrapf(lastErr, "gave up after %d attempts", policy.MaxAttempts)
}

func (s *Summarizer) attempt(ctx context.Context, req llm.Request, cfg Config) (*Summary, string, error) {
	callCtx := ctx
	if cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
	}

	resp, err := s.provider.Generate(callCtx, req)
	if err != nil {
		// a per-call deadline is the provider being slow, not the job being cancelled
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, "", llm.Transient(s.provider.Name(), err, "call timed out after %s", cfg.CallTimeout)
		}
		return nil, "", err
	}

	sum, err := Decode(resp.Text, cfg.Template)
	if err != nil {
		return nil, resp.Text, llm.Transient(s.provider.Name(), err, "unusable output")
	}
	return sum, resp.Text, nil
}
