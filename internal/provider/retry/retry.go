// Package retry wraps a single provider call with bounded retries on
// transient failures.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"chainfetch/internal/provider"
)

// Policy is derived from a provider descriptor and is safe to share.
type Policy struct {
	// MaxRetries is the total number of attempts, the first one included.
	// Values below 1 are treated as 1.
	MaxRetries  int
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential part of the delay. Zero means uncapped.
	MaxBackoff time.Duration
	// MaxJitter caps the random delay added to each wait. Zero uses half of
	// BaseBackoff, negative disables jitter.
	MaxJitter time.Duration
	// OnRetry is called before each backoff wait with the attempt number that
	// just failed (1-based), its result and the wait ahead.
	OnRetry func(attempt int, res provider.Result, wait time.Duration)
}

func FromDescriptor(d provider.Descriptor) Policy {
	return Policy{
		MaxRetries:  d.MaxRetries,
		BaseBackoff: d.BaseBackoff,
		MaxBackoff:  d.MaxBackoff,
	}
}

func (p Policy) attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

func (p Policy) jitterCap() time.Duration {
	switch {
	case p.MaxJitter < 0:
		return 0
	case p.MaxJitter == 0:
		return p.BaseBackoff / 2
	default:
		return min(p.MaxJitter, p.BaseBackoff/2)
	}
}

// Run calls attempt until it succeeds, returns a non-transient result or the
// attempts are used up. Success, Empty and Fatal results come back as
// returned by attempt; exhaustion returns the last Transient result. If ctx
// ends during a backoff wait the result is Transient and wraps ctx.Err().
func (p Policy) Run(ctx context.Context, attempt func(ctx context.Context) provider.Result) provider.Result {
	var (
		last provider.Result
		n    int
	)
	op := func() error {
		n++
		last = attempt(ctx)
		switch last.Status {
		case provider.StatusSuccess:
			return nil
		case provider.StatusTransient:
			return last.Err()
		default:
			return backoff.Permanent(last.Err())
		}
	}
	notify := func(_ error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(n, last, wait)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(NewBackOff(p), uint64(p.attempts()-1)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil && last.Status == provider.StatusTransient {
		if cerr := ctx.Err(); cerr != nil {
			return provider.Transient(errors.Join(last.Reason, cerr))
		}
	}
	return last
}

// BackOff yields BaseBackoff * 2^i plus uniform jitter for the i-th retry.
type BackOff struct {
	base, max, jitter time.Duration
	n                 int
}

var _ backoff.BackOff = (*BackOff)(nil)

func NewBackOff(p Policy) *BackOff {
	return &BackOff{base: p.BaseBackoff, max: p.MaxBackoff, jitter: p.jitterCap()}
}

func (b *BackOff) NextBackOff() time.Duration {
	d := b.base
	for i := 0; i < b.n && (b.max <= 0 || d < b.max); i++ {
		d *= 2
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	b.n++
	if b.jitter > 0 {
		d += time.Duration(rand.Int64N(int64(b.jitter)))
	}
	return d
}

func (b *BackOff) Reset() { b.n = 0 }
