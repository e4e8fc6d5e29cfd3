// Package budget paces provider calls across every running summary job.
// Each provider gets its own token bucket; providers without a configured
// rate are unlimited.
package budget

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/recap/am"
	"github.com/teranos/recap/errors"
)

// Budget gates provider calls
type Budget interface {
	// Wait blocks until a call to provider may proceed or ctx is done
	Wait(ctx context.Context, provider string) error
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context, _ string) error { return ctx.Err() }

// Pool holds one limiter per provider
type Pool struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewPool builds limiters from provider name to calls per minute. burst < 1 is treated as 1.
func NewPool(callsPerMinute map[string]int, burst int) *Pool {
	p := &Pool{}
	p.Update(callsPerMinute, burst)
	return p
}

// NewPoolFromConfig builds a pool from the [budget] section
func NewPoolFromConfig(cfg am.BudgetConfig) *Pool {
	return NewPool(cfg.CallsPerMinute, cfg.Burst)
}

// Update replaces the limits. In-flight waiters finish against the old limiter.
func (p *Pool) Update(callsPerMinute map[string]int, burst int) {
	if burst < 1 {
		burst = 1
	}
	limiters := make(map[string]*rate.Limiter, len(callsPerMinute))
	for name, perMinute := range callsPerMinute {
		if perMinute <= 0 {
			continue
		}
		limiters[name] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}

	p.mu.Lock()
	p.limiters = limiters
	p.mu.Unlock()
}

// Wait blocks until provider has budget
func (p *Pool) Wait(ctx context.Context, provider string) error {
	p.mu.RLock()
	l, ok := p.limiters[provider]
	p.mu.RUnlock()
	if !ok {
		return ctx.Err()
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// rate.Limiter refuses waits that would outlast the deadline
		return errors.Wrapf(context.DeadlineExceeded, "budget for %s: %v", provider, err)
	}
	return nil
}

// Limit returns the configured calls per minute for provider, 0 if unlimited
func (p *Pool) Limit(provider string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.limiters[provider]
	if !ok {
		return 0
	}
	return int(float64(l.Limit())*60 + 0.5)
}
