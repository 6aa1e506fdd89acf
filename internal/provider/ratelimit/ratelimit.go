package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chainfetch/internal/provider"
)

// Limiter enforces a minimum spacing between granted acquisitions, per
// provider. Each provider gets a leaky bucket of one (burst 1), so the first
// call passes at once and every further grant waits out the interval.
// Concurrent callers are granted in arrival order: reservations are taken
// under the bucket's lock and each one is scheduled after the previous.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

func New(descs ...provider.Descriptor) *Limiter {
	l := &Limiter{buckets: make(map[string]*rate.Limiter, len(descs))}
	for _, d := range descs {
		l.Register(d.Name, d.MinInterval)
	}
	return l
}

// Register sets the minimum interval for name. Zero or negative means no
// spacing. Re-registering replaces the bucket.
func (l *Limiter) Register(name string, interval time.Duration) {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	l.mu.Lock()
	l.buckets[name] = rate.NewLimiter(limit, 1)
	l.mu.Unlock()
}

// Acquire suspends the caller until it may issue the next request to name.
// Unknown providers are never delayed. The only error is ctx ending first.
func (l *Limiter) Acquire(ctx context.Context, name string) error {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.Wait(ctx)
}

// Interval reports the configured spacing for name.
func (l *Limiter) Interval(name string) time.Duration {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if !ok || b.Limit() == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(b.Limit()))
}
