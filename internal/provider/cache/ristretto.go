package cache

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"
)

// RistrettoConfig sizes an admission-controlled in-process cache.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64 // bytes, since each value costs its length
	BufferItems int64
	Metrics     bool
}

// Ristretto is a bounded in-process backend. It cannot list keys, so prefix
// invalidation relies on the Store index.
type Ristretto struct {
	c *rc.Cache
}

var _ Backend = (*Ristretto)(nil)

func NewRistretto(cfg RistrettoConfig) (*Ristretto, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c}, nil
}

func (r *Ristretto) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		r.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for the write buffer so the value is visible to the next Get.
// A write dropped by admission control is not an error; it is a later miss.
func (r *Ristretto) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	r.c.SetWithTTL(key, value, int64(len(value)), ttl)
	r.c.Wait()
	return nil
}

func (r *Ristretto) Del(_ context.Context, key string) error {
	r.c.Del(key)
	return nil
}

func (r *Ristretto) Close(context.Context) error {
	r.c.Wait()
	r.c.Close()
	return nil
}

// Metrics exposes ristretto's own hit/miss counters when enabled.
func (r *Ristretto) Metrics() *rc.Metrics { return r.c.Metrics }
