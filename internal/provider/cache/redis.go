package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("redis backend: nil client")

type RedisConfig struct {
	Client      goredis.UniversalClient
	Prefix      string // namespace prepended to every key, e.g. "chainfetch:"
	CloseClient bool   // set only when this backend exclusively owns the client
}

// Redis shares cached entries between dashboard replicas. Keys carry the
// entry ttl so redis expires them on its own as well.
type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var (
	_ Backend = (*Redis)(nil)
	_ Lister  = (*Redis)(nil)
)

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, prefix: cfg.Prefix, closeClient: cfg.CloseClient}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}

// Keys scans for prefix and returns keys without the backend namespace.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	it := r.rdb.Scan(ctx, 0, escapeGlob(r.prefix+prefix)+"*", 200).Iterator()
	for it.Next(ctx) {
		out = append(out, strings.TrimPrefix(it.Val(), r.prefix))
	}
	return out, it.Err()
}

// Close releases the client only when this backend owns it. Safe to call
// multiple times.
func (r *Redis) Close(context.Context) error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
