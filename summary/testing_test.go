package summary

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teranos/recap/ai/llm"
)

// scriptedProvider returns queued outcomes in order, then repeats the last one
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	outcomes []outcome
	calls    []llm.Request
}

type outcome struct {
	text string
	err  error
}

func newScripted(outcomes ...outcome) *scriptedProvider {
	return &scriptedProvider{name: "fake", outcomes: outcomes}
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	n := len(p.calls)
	var o outcome
	if n <= len(p.outcomes) {
		o = p.outcomes[n-1]
	} else {
		o = p.outcomes[len(p.outcomes)-1]
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.err != nil {
		return nil, o.err
	}
	return &llm.Response{Text: o.text, Model: req.Model}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func sectionJSON(points ...string) string {
	quoted := make([]string, len(points))
	for i, p := range points {
		quoted[i] = fmt.Sprintf(`{"type":"bullet","content":%q}`, p)
	}
	return fmt.Sprintf(`{"key_points":{"title":"Key Points","blocks":[%s]}}`, strings.Join(quoted, ","))
}
