package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"chainfetch/internal/logx"
	"chainfetch/internal/provider"
)

// Entry is one cached provider payload. Entries are immutable: a refetch
// writes a whole new entry.
type Entry struct {
	Fingerprint provider.Fingerprint `json:"fingerprint" msgpack:"fingerprint" cbor:"1,keyasint"`
	Payload     []byte               `json:"payload" msgpack:"payload" cbor:"2,keyasint"`
	CreatedAt   time.Time            `json:"created_at" msgpack:"created_at" cbor:"3,keyasint"`
	TTL         time.Duration        `json:"ttl" msgpack:"ttl" cbor:"4,keyasint"`
}

// Expired reports whether the entry is older than its ttl at now.
func (e Entry) Expired(now time.Time) bool { return now.Sub(e.CreatedAt) > e.TTL }

// Store maps fingerprints to cached payloads on top of a byte Backend.
// Expiry is checked lazily on read. A local index of written fingerprints
// backs prefix invalidation on backends that cannot list their keys.
//
// Store never fails toward callers: backend and codec errors are logged and
// surface as misses.
type Store struct {
	backend Backend
	codec   Codec
	log     logx.Logger
	now     func() time.Time

	mu    sync.Mutex
	index map[provider.Fingerprint]struct{}
}

type Option func(*Store)

// WithCodec sets the entry codec. Default is Msgpack.
func WithCodec(c Codec) Option { return func(s *Store) { s.codec = c } }

func WithLogger(l logx.Logger) Option { return func(s *Store) { s.log = logx.OrNop(l) } }

// WithClock replaces time.Now, used to stamp and expire entries.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a Store over b. A nil backend means an in-process Memory backend.
func New(b Backend, opts ...Option) *Store {
	if b == nil {
		b = NewMemory()
	}
	s := &Store{
		backend: b,
		codec:   Msgpack{},
		log:     logx.Nop{},
		now:     time.Now,
		index:   make(map[provider.Fingerprint]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live entry for fp. Missing, expired and undecodable
// entries are misses.
func (s *Store) Get(ctx context.Context, fp provider.Fingerprint) (Entry, bool) {
	raw, ok, err := s.backend.Get(ctx, string(fp))
	if err != nil {
		s.log.Warn("cache get failed", logx.Fields{"fingerprint": fp, "error": err})
		return Entry{}, false
	}
	if !ok {
		s.forget(fp)
		return Entry{}, false
	}
	e, err := s.codec.Decode(raw)
	if err != nil || e.Fingerprint != fp {
		s.log.Warn("dropping undecodable cache entry", logx.Fields{"fingerprint": fp, "error": err})
		_ = s.backend.Del(ctx, string(fp))
		s.forget(fp)
		return Entry{}, false
	}
	if e.Expired(s.now()) {
		return Entry{}, false
	}
	return e, true
}

// Set stores payload under fp stamped with the current time, replacing any
// previous entry. A non-positive ttl disables caching for the call.
func (s *Store) Set(ctx context.Context, fp provider.Fingerprint, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := Entry{
		Fingerprint: fp,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   s.now(),
		TTL:         ttl,
	}
	raw, err := s.codec.Encode(e)
	if err != nil {
		s.log.Error("cache encode failed", logx.Fields{"fingerprint": fp, "error": err})
		return
	}
	if err := s.backend.Set(ctx, string(fp), raw, ttl); err != nil {
		s.log.Warn("cache set failed", logx.Fields{"fingerprint": fp, "error": err})
		return
	}
	s.mu.Lock()
	s.index[fp] = struct{}{}
	s.mu.Unlock()
}

// Invalidate removes the entry for an exact fingerprint, or every entry whose
// fingerprint lies within scope (see provider.Fingerprint.Within). It returns
// how many keys were removed.
func (s *Store) Invalidate(ctx context.Context, scope string) int {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return 0
	}
	targets := make(map[provider.Fingerprint]struct{})
	s.mu.Lock()
	for fp := range s.index {
		if fp.Within(scope) {
			targets[fp] = struct{}{}
		}
	}
	s.mu.Unlock()

	if lister, ok := s.backend.(Lister); ok {
		keys, err := lister.Keys(ctx, strings.TrimSuffix(scope, ":"))
		if err != nil {
			s.log.Warn("cache key listing failed", logx.Fields{"scope": scope, "error": err})
		}
		for _, k := range keys {
			if fp := provider.Fingerprint(k); fp.Within(scope) {
				targets[fp] = struct{}{}
			}
		}
	}

	removed := 0
	for fp := range targets {
		if err := s.backend.Del(ctx, string(fp)); err != nil {
			s.log.Warn("cache delete failed", logx.Fields{"fingerprint": fp, "error": err})
			continue
		}
		s.forget(fp)
		removed++
	}
	s.log.Debug("cache invalidated", logx.Fields{"scope": scope, "removed": removed})
	return removed
}

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error { return s.backend.Close(ctx) }

func (s *Store) forget(fp provider.Fingerprint) {
	s.mu.Lock()
	delete(s.index, fp)
	s.mu.Unlock()
}
