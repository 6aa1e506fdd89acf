// Package coordinator ties the cache, rate limiter, request queues and retry
// policies into fallback chains that always produce a payload.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"chainfetch/internal/logx"
	"chainfetch/internal/metrics"
	"chainfetch/internal/provider"
	"chainfetch/internal/provider/cache"
	"chainfetch/internal/provider/queue"
	"chainfetch/internal/provider/ratelimit"
	"chainfetch/internal/provider/retry"
	"chainfetch/internal/synthetic"
)

var (
	ErrClosed            = errors.New("coordinator closed")
	ErrUnknownChain      = errors.New("unknown chain")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrDuplicateChain    = errors.New("chain already registered")
)

// DefaultFlightTimeout bounds a detached provider fetch when no
// WithFlightTimeout option is given.
const DefaultFlightTimeout = 2 * time.Minute

// Coordinator owns every shared piece of fetch state. Build one per process
// and pass it down; nothing here is global.
type Coordinator struct {
	store   *cache.Store
	limiter *ratelimit.Limiter
	log     logx.Logger
	metrics *metrics.Metrics

	flightTimeout time.Duration
	flights       singleflight.Group
	wg            sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	links  map[string]*link
	chains map[string]*Chain
}

type Option func(*Coordinator)

func WithLogger(l logx.Logger) Option { return func(c *Coordinator) { c.log = logx.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLimiter shares an existing limiter. Registered providers are added to it.
func WithLimiter(l *ratelimit.Limiter) Option { return func(c *Coordinator) { c.limiter = l } }

// WithFlightTimeout bounds how long a detached fetch may keep working after
// every caller has stopped waiting.
func WithFlightTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.flightTimeout = d }
}

// New builds a coordinator over store. A nil store means an in-memory cache.
func New(store *cache.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		log:           logx.Nop{},
		flightTimeout: DefaultFlightTimeout,
		links:         make(map[string]*link),
		chains:        make(map[string]*Chain),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = cache.New(nil, cache.WithLogger(c.log))
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	return c
}

// Register adds a provider with its descriptor. The descriptor's name is the
// key chains refer to; p.Name() is only used in logs.
func (c *Coordinator) Register(desc provider.Descriptor, p provider.Provider) error {
	if desc.Name == "" {
		return fmt.Errorf("register provider: %w: empty name", ErrUnknownProvider)
	}
	if p == nil {
		return fmt.Errorf("register provider %s: nil provider", desc.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.links[desc.Name]; ok {
		return fmt.Errorf("register provider %s: %w", desc.Name, ErrDuplicateProvider)
	}

	c.limiter.Register(desc.Name, desc.MinInterval)
	l := &link{
		desc:    desc,
		p:       p,
		limiter: c.limiter,
		metrics: c.metrics,
		queue: queue.New(desc.Name, c.limiter,
			queue.WithLogger(c.log),
			queue.WithDepthGauge(c.metrics.QueueDepth(desc.Name)),
		),
	}
	l.policy = retry.FromDescriptor(desc)
	l.policy.OnRetry = func(attempt int, res provider.Result, wait time.Duration) {
		c.metrics.Retry(desc.Name)
		c.log.Debug("provider call retrying", logx.Fields{
			"provider": desc.Name,
			"attempt":  attempt,
			"wait":     wait.String(),
			"error":    res.Err(),
		})
	}
	c.links[desc.Name] = l

	c.log.Info("provider registered", logx.Fields{
		"provider":     desc.Name,
		"min_interval": desc.MinInterval.String(),
		"max_retries":  desc.MaxRetries,
	})
	return nil
}

// ChainConfig describes one fallback chain. Name doubles as the fingerprint
// scope the chain serves.
type ChainConfig struct {
	Name string
	// TTL applies to payloads cached by this chain unless the serving
	// provider's descriptor sets its own.
	TTL       time.Duration
	Providers []string
	// Timeout is the default caller wait when Fetch gets no explicit timeout.
	// Zero waits as long as the caller's context allows.
	Timeout time.Duration
}

// NewChain builds and registers a chain over already registered providers.
// A nil generator picks the synthetic generator for the chain's scope.
func (c *Coordinator) NewChain(cfg ChainConfig, gen synthetic.Generator) (*Chain, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("new chain: %w: empty name", ErrUnknownChain)
	}
	if gen == nil {
		gen = synthetic.ForScope(cfg.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := c.chains[cfg.Name]; ok {
		return nil, fmt.Errorf("new chain %s: %w", cfg.Name, ErrDuplicateChain)
	}

	links := make([]*link, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		l, ok := c.links[name]
		if !ok {
			return nil, fmt.Errorf("new chain %s: %w: %s", cfg.Name, ErrUnknownProvider, name)
		}
		links = append(links, l)
	}

	ch := &Chain{
		co:      c,
		name:    cfg.Name,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		links:   links,
		gen:     gen,
	}
	c.chains[cfg.Name] = ch
	return ch, nil
}

// Chain returns the chain registered under name.
func (c *Coordinator) Chain(name string) (*Chain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chains[name]
	return ch, ok
}

// Chains lists registered chain names in sorted order.
func (c *Coordinator) Chains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.chains))
	for name := range c.chains {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Fetch routes req to the chain named by its scope.
func (c *Coordinator) Fetch(ctx context.Context, req provider.Request, timeout time.Duration) (Response, error) {
	req = req.Normalized()
	ch, ok := c.Chain(req.Scope)
	if !ok {
		return Response{}, fmt.Errorf("fetch %s: %w", req.Scope, ErrUnknownChain)
	}
	return ch.Fetch(ctx, req, timeout)
}

// Invalidate drops cached entries for an exact fingerprint or a scope prefix
// and reports how many were removed. A fetch already in flight may write its
// result afterwards.
func (c *Coordinator) Invalidate(ctx context.Context, scope string) int {
	n := c.store.Invalidate(ctx, scope)
	c.log.Info("cache invalidated", logx.Fields{"scope": scope, "removed": n})
	return n
}

// Close stops every queue, waits for in-flight fetches to settle and closes
// the cache backend. Later fetches fail with ErrClosed.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	links := make([]*link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	for _, l := range links {
		l.queue.Close()
	}
	c.wg.Wait()
	if err := c.store.Close(ctx); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

// enter registers an in-flight fetch unless the coordinator is closed.
func (c *Coordinator) enter() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
