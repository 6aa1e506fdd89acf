package coordinator

import (
	"context"
	"fmt"
	"time"

	"chainfetch/internal/logx"
	"chainfetch/internal/metrics"
	"chainfetch/internal/provider"
	"chainfetch/internal/provider/queue"
	"chainfetch/internal/provider/ratelimit"
	"chainfetch/internal/provider/retry"
	"chainfetch/internal/synthetic"
)

// Source tells where a response payload came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceProvider  Source = "provider"
	SourceSynthetic Source = "synthetic"
)

// Response is what a chain hands back to callers. Payload is never nil on a
// nil error.
type Response struct {
	Source      Source
	Provider    string // provider that served the payload, empty for cache and synthetic
	Fingerprint provider.Fingerprint
	Payload     []byte
	// Shared is set when the payload came from a fetch started by another caller.
	Shared bool
}

// Chain is an ordered list of providers for one scope, ending in a synthetic
// generator.
type Chain struct {
	co      *Coordinator
	name    string
	ttl     time.Duration
	timeout time.Duration
	links   []*link
	gen     synthetic.Generator
}

func (ch *Chain) Name() string { return ch.name }

// Providers returns the provider names in fallback order.
func (ch *Chain) Providers() []string {
	names := make([]string, len(ch.links))
	for i, l := range ch.links {
		names[i] = l.desc.Name
	}
	return names
}

// Fetch returns the payload for req from the cache, the first provider that
// answers, or the synthetic generator.
//
// timeout (or the chain default when timeout <= 0) and ctx only bound the
// wait. When either ends first, Fetch returns an error matching
// provider.ErrTimeout and provider.ErrTransient while the fetch carries on in
// the background and still fills the cache.
func (ch *Chain) Fetch(ctx context.Context, req provider.Request, timeout time.Duration) (Response, error) {
	c := ch.co
	if c.isClosed() {
		return Response{}, ErrClosed
	}

	req = req.Normalized()
	fp := req.Fingerprint()

	if e, ok := c.store.Get(ctx, fp); ok {
		c.metrics.CacheHit(ch.name)
		return Response{Source: SourceCache, Fingerprint: fp, Payload: e.Payload}, nil
	}
	c.metrics.CacheMiss(ch.name)

	if timeout <= 0 {
		timeout = ch.timeout
	}
	wait := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The flight must outlive the caller that happened to start it.
	flightCtx := context.WithoutCancel(ctx)
	// Set only when this caller's closure runs the flight. The result arrives
	// on resCh after the closure returns, so reading it there is safe.
	leader := false
	resCh := c.flights.DoChan(string(fp), func() (any, error) {
		leader = true
		if !c.enter() {
			return Response{}, ErrClosed
		}
		defer c.wg.Done()

		fctx, cancel := context.WithTimeout(flightCtx, c.flightTimeout)
		defer cancel()
		return ch.resolve(fctx, fp, req), nil
	})

	select {
	case r := <-resCh:
		if r.Err != nil {
			return Response{}, r.Err
		}
		resp := r.Val.(Response)
		if r.Shared && !leader {
			resp.Shared = true
			c.metrics.Shared(ch.name)
		}
		return resp, nil
	case <-wait.Done():
		c.metrics.Timeout(ch.name)
		c.log.Warn("fetch wait ended before result", logx.Fields{
			"chain":       ch.name,
			"fingerprint": fp.String(),
			"error":       wait.Err(),
		})
		return Response{Fingerprint: fp}, fmt.Errorf("%s: %w: %w: %w", fp, provider.ErrTimeout, provider.ErrTransient, wait.Err())
	}
}

// resolve walks the providers in order. It runs once per fingerprint at a
// time, detached from callers.
func (ch *Chain) resolve(ctx context.Context, fp provider.Fingerprint, req provider.Request) Response {
	c := ch.co

	// A flight that finished just before this one started may have filled it.
	if e, ok := c.store.Get(ctx, fp); ok {
		return Response{Source: SourceCache, Fingerprint: fp, Payload: e.Payload}
	}

	for _, l := range ch.links {
		res := l.call(ctx, req)
		if res.OK() {
			ttl := l.desc.TTL
			if ttl <= 0 {
				ttl = ch.ttl
			}
			c.store.Set(ctx, fp, res.Payload, ttl)
			c.log.Debug("provider served", logx.Fields{
				"chain":       ch.name,
				"provider":    l.desc.Name,
				"fingerprint": fp.String(),
			})
			return Response{Source: SourceProvider, Provider: l.desc.Name, Fingerprint: fp, Payload: res.Payload}
		}

		c.metrics.Fallback(ch.name, l.desc.Name, res.Status.String())
		c.log.Warn("provider failed, falling back", logx.Fields{
			"chain":       ch.name,
			"provider":    l.desc.Name,
			"fingerprint": fp.String(),
			"status":      res.Status.String(),
			"error":       res.Err(),
		})
	}

	c.metrics.Synthetic(ch.name)
	c.log.Warn("all providers failed, serving synthetic data", logx.Fields{
		"chain":       ch.name,
		"fingerprint": fp.String(),
	})
	return Response{Source: SourceSynthetic, Fingerprint: fp, Payload: ch.gen.Generate(fp, req)}
}

// link is a registered provider with its queue and retry policy.
type link struct {
	desc    provider.Descriptor
	p       provider.Provider
	queue   *queue.Queue
	limiter *ratelimit.Limiter
	policy  retry.Policy
	metrics *metrics.Metrics
}

// call schedules one retried provider call on the provider's queue and waits
// for it. Retries inside the task go through the limiter again so spacing
// holds for every outbound call, not just the first of a task.
func (l *link) call(ctx context.Context, req provider.Request) provider.Result {
	fut := l.queue.Schedule(func(qctx context.Context) provider.Result {
		ctx, stop := joinCancel(ctx, qctx)
		defer stop()

		first := true
		return l.policy.Run(ctx, func(ctx context.Context) provider.Result {
			if !first {
				if err := l.limiter.Acquire(ctx, l.desc.Name); err != nil {
					return provider.Transientf("%s: rate limiter: %w", l.desc.Name, err)
				}
			}
			first = false

			start := time.Now()
			res := l.p.Fetch(ctx, req)
			l.metrics.ProviderResult(l.desc.Name, res.Status.String(), time.Since(start))
			return res
		})
	})

	res, err := fut.Wait(ctx)
	if err != nil {
		return provider.Transientf("%s: waiting for queue: %w", l.desc.Name, err)
	}
	return res
}

// joinCancel returns a context derived from ctx that is also canceled when
// other ends.
func joinCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(other, func() { cancel(context.Cause(other)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}
