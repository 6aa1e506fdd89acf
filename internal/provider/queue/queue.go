// Package queue serializes outbound calls to one provider through its rate
// limiter. However many callers schedule work, a queue runs at most one task
// at a time, in scheduling order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainfetch/internal/logx"
	"chainfetch/internal/provider"
)

// ErrClosed resolves tasks scheduled on, or still pending in, a closed queue.
var ErrClosed = errors.New("request queue closed")

// Acquirer is the rate limiter contract a queue needs.
type Acquirer interface {
	Acquire(ctx context.Context, name string) error
}

// Task performs one scheduled unit of work. ctx is canceled when the queue
// closes.
type Task func(ctx context.Context) provider.Result

// Future is the pending result of a scheduled task.
type Future struct {
	done chan struct{}
	res  provider.Result
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(r provider.Result) {
	f.res = r
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the task result. It must only be called after Done is closed.
func (f *Future) Result() provider.Result { return f.res }

// Wait blocks until the task resolves or ctx ends. Giving up on a future does
// not cancel the task; it still runs and resolves.
func (f *Future) Wait(ctx context.Context) (provider.Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return provider.Result{}, ctx.Err()
	}
}

type item struct {
	task       Task
	fut        *Future
	enqueuedAt time.Time
}

// Queue is the per-provider FIFO with a single worker goroutine.
type Queue struct {
	name    string
	limiter Acquirer
	log     logx.Logger
	depth   prometheus.Gauge

	mu      sync.Mutex
	pending []*item
	closed  bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type Option func(*Queue)

func WithLogger(l logx.Logger) Option { return func(q *Queue) { q.log = logx.OrNop(l) } }

// WithDepthGauge exports the number of waiting tasks.
func WithDepthGauge(g prometheus.Gauge) Option { return func(q *Queue) { q.depth = g } }

// New starts the worker for provider name. limiter may be nil for no spacing.
func New(name string, limiter Acquirer, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:    name,
		limiter: limiter,
		log:     logx.Nop{},
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

func (q *Queue) Name() string { return q.name }

// Schedule appends task and returns its future. Never blocks.
func (q *Queue) Schedule(task Task) *Future {
	fut := newFuture()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		fut.resolve(provider.Transient(fmt.Errorf("%s: %w", q.name, ErrClosed)))
		return fut
	}
	q.pending = append(q.pending, &item{task: task, fut: fut, enqueuedAt: time.Now()})
	q.setDepth(len(q.pending))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return fut
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the worker. Waiting tasks resolve with ErrClosed; a running
// task sees its context canceled. Close blocks until the worker exits.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		pending := q.pending
		q.pending = nil
		q.setDepth(0)
		q.mu.Unlock()

		for _, it := range pending {
			it.fut.resolve(provider.Transient(fmt.Errorf("%s: %w", q.name, ErrClosed)))
		}
		q.cancel()
	})
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		it, ok := q.next()
		if !ok {
			return
		}
		if q.limiter != nil {
			if err := q.limiter.Acquire(q.ctx, q.name); err != nil {
				it.fut.resolve(provider.Transient(fmt.Errorf("%s: rate limiter: %w", q.name, err)))
				continue
			}
		}
		q.log.Debug("queue task started", logx.Fields{"provider": q.name, "waited": time.Since(it.enqueuedAt).String()})
		it.fut.resolve(q.exec(it.task))
	}
}

// next pops the oldest task, sleeping on the wake channel while the queue is
// empty. It reports false once the queue is closed.
func (q *Queue) next() (*item, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			it := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.setDepth(len(q.pending))
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) exec(task Task) (res provider.Result) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue task panicked", logx.Fields{"provider": q.name, "panic": fmt.Sprint(r)})
			res = provider.Fatalf("%s: task panicked: %v", q.name, r)
		}
	}()
	return task(q.ctx)
}

func (q *Queue) setDepth(n int) {
	if q.depth != nil {
		q.depth.Set(float64(n))
	}
}
