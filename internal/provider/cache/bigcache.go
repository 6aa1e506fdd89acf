package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"
)

type BigCacheConfig struct {
	Shards             int           // power of two; 0 keeps the bigcache default (1024)
	LifeWindow         time.Duration // global entry lifetime; should exceed the longest ttl
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // 0 = unlimited
}

// BigCache is a GC-friendly in-process backend with a single global
// lifetime. Per-entry ttl is still enforced by Store on read.
type BigCache struct {
	c *bc.BigCache
}

var (
	_ Backend = (*BigCache)(nil)
	_ Lister  = (*BigCache)(nil)
)

func NewBigCache(ctx context.Context, cfg BigCacheConfig) (*BigCache, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = 10 * time.Minute
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &BigCache{c: c}, nil
}

func (b *BigCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, err := b.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *BigCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	return b.c.Set(key, value)
}

func (b *BigCache) Del(_ context.Context, key string) error {
	if err := b.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (b *BigCache) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	it := b.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			return out, err
		}
		if strings.HasPrefix(e.Key(), prefix) {
			out = append(out, e.Key())
		}
	}
	return out, nil
}

func (b *BigCache) Close(context.Context) error { return b.c.Close() }
