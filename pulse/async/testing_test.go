package async

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/ai/provider"
	"github.com/teranos/recap/errors"
	recaptest "github.com/teranos/recap/internal/testing"
	"github.com/teranos/recap/summary"
)

// fakeProvider answers each call through respond, keyed by the 0-based transcript part
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	respond func(ctx context.Context, part int, req llm.Request) (string, error)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	text, err := p.respond(ctx, partOf(req), req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: text, Model: "fake-model"}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func partOf(req llm.Request) int {
	i := strings.Index(req.UserPrompt, "part ")
	if i < 0 {
		return 0
	}
	var part, total int
	if _, err := fmt.Sscanf(req.UserPrompt[i:], "part %d of %d", &part, &total); err != nil {
		return 0
	}
	return part - 1
}

func keyPoints(points ...string) string {
	quoted := make([]string, len(points))
	for i, p := range points {
		quoted[i] = fmt.Sprintf(`{"type":"bullet","content":%q}`, p)
	}
	return fmt.Sprintf(`{"key_points":{"title":"Key Points","blocks":[%s]}}`, strings.Join(quoted, ","))
}

// echoParts summarizes every part as "point <n>"
func echoParts(ctx context.Context, part int, _ llm.Request) (string, error) {
	return keyPoints(fmt.Sprintf("point %d", part)), nil
}

// blockUntilCancelled never answers on its own
func blockUntilCancelled(ctx context.Context, _ int, _ llm.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type staticResolver struct {
	p   provider.Provider
	err error
}

func (r staticResolver) Get(provider.ProviderType) (provider.Provider, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.p, nil
}

// gatedResolver holds execute in provider lookup until gate is closed
type gatedResolver struct {
	p       provider.Provider
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (r *gatedResolver) Get(provider.ProviderType) (provider.Provider, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.gate
	return r.p, nil
}

// flakyStore wraps a real store with injectable write failures
type flakyStore struct {
	*Store

	mu             sync.Mutex
	failTerminal   bool
	terminalFails  int
	panicChunkOnce bool
	panicked       bool
}

func (s *flakyStore) SaveJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	fail := s.failTerminal && job.Status.IsTerminal()
	if fail {
		s.terminalFails++
	}
	s.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return s.Store.SaveJob(ctx, job)
}

func (s *flakyStore) SaveChunk(ctx context.Context, jobID string, c ChunkRecord) error {
	s.mu.Lock()
	doPanic := s.panicChunkOnce && c.Done && !s.panicked
	if doPanic {
		s.panicked = true
	}
	s.mu.Unlock()
	if doPanic {
		panic("sqlite driver exploded")
	}
	return s.Store.SaveChunk(ctx, jobID, c)
}

func (s *flakyStore) setFailTerminal(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTerminal = v
}

func (s *flakyStore) terminalFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalFails
}

func (s *flakyStore) chunkPanicked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panicked
}

// transcript returns text that splits into exactly n chunks with the test config
func transcript(n int) string {
	return strings.Repeat("x", n*100)
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.ChunkSize = 100
	cfg.Overlap = 0
	cfg.Workers = 3
	cfg.Retry = summary.RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
	cfg.CallTimeout = 5 * time.Second
	cfg.Watchdog = 0
	cfg.ReducePass = false
	cfg.DefaultProvider = "openrouter"
	return cfg
}

// newTestManager returns a started manager over an in-memory store
func newTestManager(t *testing.T, p provider.Provider, mutate func(*ManagerConfig)) (*Manager, *Store) {
	t.Helper()

	store := NewStore(recaptest.CreateTestDB(t))
	cfg := testManagerConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := NewManager(store, store, staticResolver{p: p}, nil, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)
	return mgr, store
}

func waitTerminal(t *testing.T, mgr *Manager, id string) *Job {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := mgr.Wait(ctx, id)
	require.NoError(t, err, "job %s did not reach a terminal state", id)
	return job
}
