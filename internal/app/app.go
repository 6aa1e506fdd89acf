// Package app assembles a coordinator from configuration. The HTTP server and
// the CLI share it so both run the exact same provider stack.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"chainfetch/internal/config"
	"chainfetch/internal/coordinator"
	"chainfetch/internal/httpx"
	"chainfetch/internal/logx"
	"chainfetch/internal/metrics"
	"chainfetch/internal/provider"
	"chainfetch/internal/provider/alchemy"
	"chainfetch/internal/provider/cache"
	"chainfetch/internal/provider/moralis"
	"chainfetch/internal/provider/rpcnode"
)

// App is a running coordinator plus the resources it holds.
type App struct {
	Coordinator *coordinator.Coordinator
	closers     []func()
}

// Close shuts the coordinator down and releases provider connections.
func (a *App) Close(ctx context.Context) error {
	err := a.Coordinator.Close(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	return err
}

// New builds the cache, registers every enabled provider and creates one chain
// per configured scope. Chains skip providers that are disabled.
func New(ctx context.Context, cfg config.Config, log logx.Logger, m *metrics.Metrics) (*App, error) {
	log = logx.OrNop(log)

	store, err := NewStore(ctx, cfg.Cache, log)
	if err != nil {
		return nil, err
	}

	a := &App{}
	a.Coordinator = coordinator.New(store,
		coordinator.WithLogger(log),
		coordinator.WithMetrics(m),
	)

	enabled := make(map[string]bool, len(cfg.Providers))
	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		if !pc.Enabled {
			continue
		}
		p, closeFn, err := NewProvider(ctx, name, pc)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		if closeFn != nil {
			a.closers = append(a.closers, closeFn)
		}
		if err := a.Coordinator.Register(pc.Descriptor(name), p); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		enabled[name] = true
	}

	for scope, cc := range cfg.Chains {
		links := make([]string, 0, len(cc.Providers))
		for _, name := range cc.Providers {
			if enabled[name] {
				links = append(links, name)
			}
		}
		if len(links) == 0 {
			log.Warn("chain has no enabled providers, serving synthetic data only", logx.Fields{"chain": scope})
		}
		if _, err := a.Coordinator.NewChain(coordinator.ChainConfig{
			Name:      scope,
			TTL:       cc.TTL(),
			Providers: links,
			Timeout:   cc.Timeout(),
		}, nil); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

// NewStore builds the cache store for the configured backend and codec.
func NewStore(ctx context.Context, cc config.Cache, log logx.Logger) (*cache.Store, error) {
	codec, err := cache.CodecByName(cc.Codec)
	if err != nil {
		return nil, err
	}

	var backend cache.Backend
	switch cc.Backend {
	case "", "memory":
		backend = cache.NewMemory()
	case "ristretto":
		backend, err = cache.NewRistretto(cache.RistrettoConfig{
			NumCounters: cc.Ristretto.NumCounters,
			MaxCost:     cc.Ristretto.MaxCostBytes,
			BufferItems: cc.Ristretto.BufferItems,
		})
	case "bigcache":
		backend, err = cache.NewBigCache(ctx, cache.BigCacheConfig{
			Shards:             cc.BigCache.Shards,
			LifeWindow:         time.Duration(cc.BigCache.LifeWindowSec) * time.Second,
			HardMaxCacheSizeMB: cc.BigCache.HardMaxCacheMB,
		})
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cc.Redis.Addr,
			Username: cc.Redis.Username,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		if perr := rdb.Ping(ctx).Err(); perr != nil {
			// Not fatal: the store treats backend errors as misses and redis
			// may come up later.
			log.Warn("redis not reachable", logx.Fields{"addr": cc.Redis.Addr, "error": perr})
		}
		backend, err = cache.NewRedis(cache.RedisConfig{Client: rdb, Prefix: cc.Redis.Prefix, CloseClient: true})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("cache backend %s: %w", cc.Backend, err)
	}

	log.Info("cache ready", logx.Fields{"backend": cc.Backend, "codec": cc.Codec})
	return cache.New(backend, cache.WithCodec(codec), cache.WithLogger(log)), nil
}

// NewProvider builds the client for one provider section. The returned
// close func, when non-nil, releases connections the provider holds.
func NewProvider(ctx context.Context, name string, pc config.Provider) (provider.Provider, func(), error) {
	timeout := time.Duration(pc.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch pc.Kind {
	case config.KindAlchemy:
		hc := httpx.New(timeout)
		opts := []alchemy.Option{
			alchemy.WithName(name),
			alchemy.WithHTTPClient(hc.HTTP),
			alchemy.WithHeader(http.Header{"User-Agent": []string{hc.UserAgent}}),
		}
		if pc.Endpoint != "" {
			opts = append(opts, alchemy.WithBaseURL(pc.Endpoint))
		}
		c, err := alchemy.NewClient(pc.APIKey, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return c, nil, nil

	case config.KindMoralis:
		return moralis.New(moralis.Config{
			Name:    name,
			BaseURL: pc.Endpoint,
			APIKey:  pc.APIKey,
		}, httpx.New(timeout)), nil, nil

	case config.KindRPCNode:
		endpoints := pc.Endpoints
		if len(endpoints) == 0 && pc.Endpoint != "" {
			endpoints = []string{pc.Endpoint}
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		p, closeFn, err := rpcnode.Dial(dctx, rpcnode.Config{Name: name, Chain: pc.Chain, Tokens: pc.Tokens}, endpoints...)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return p, closeFn, nil

	default:
		return nil, nil, fmt.Errorf("provider %s: %w: kind %q", name, errUnknownKind, pc.Kind)
	}
}

var errUnknownKind = errors.New("unknown provider kind")
