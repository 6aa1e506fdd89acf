package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"chainfetch/internal/coordinator"
	"chainfetch/internal/metrics"
	"chainfetch/internal/provider"
	"chainfetch/internal/provider/cache"
	"chainfetch/internal/synthetic"
)

// stub is a scripted provider counting its calls.
type stub struct {
	name  string
	calls atomic.Int32
	fn    func(n int, req provider.Request) provider.Result
}

func (s *stub) Name() string { return s.name }

func (s *stub) Fetch(_ context.Context, req provider.Request) provider.Result {
	n := int(s.calls.Add(1))
	return s.fn(n, req)
}

func returns(name string, r provider.Result) *stub {
	return &stub{name: name, fn: func(int, provider.Request) provider.Result { return r }}
}

func nftRequest(tokenID string) provider.Request {
	return provider.Request{
		Scope:    provider.ScopeNFT,
		Endpoint: provider.EndpointMetadata,
		Params: map[string]string{
			"contract": "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D",
			"token_id": tokenID,
		},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	co    *coordinator.Coordinator
	store *cache.Store
	chain *coordinator.Chain
}

func setup(t *testing.T, ttl time.Duration, storeOpts []cache.Option, providers ...*stub) fixture {
	t.Helper()

	store := cache.New(nil, storeOpts...)
	co := coordinator.New(store)
	t.Cleanup(func() { require.NoError(t, co.Close(context.Background())) })

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		require.NoError(t, co.Register(provider.Descriptor{
			Name:        p.name,
			MaxRetries:  1,
			BaseBackoff: time.Millisecond,
		}, p))
		names = append(names, p.name)
	}
	ch, err := co.NewChain(coordinator.ChainConfig{Name: provider.ScopeNFT, TTL: ttl, Providers: names}, nil)
	require.NoError(t, err)
	return fixture{co: co, store: store, chain: ch}
}

func TestCacheHitIsIdempotent(t *testing.T) {
	t.Parallel()

	p := returns("alchemy", provider.Success([]byte(`{"name":"ape"}`)))
	f := setup(t, time.Minute, nil, p)

	first, err := f.co.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceProvider, first.Source)
	require.Equal(t, "alchemy", first.Provider)

	second, err := f.co.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceCache, second.Source)
	require.Equal(t, first.Payload, second.Payload)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.EqualValues(t, 1, p.calls.Load())
}

func TestExpiredEntryIsRefetched(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := &stub{name: "alchemy", fn: func(n int, _ provider.Request) provider.Result {
		return provider.Success(fmt.Appendf(nil, `{"n":%d}`, n))
	}}
	f := setup(t, time.Minute, []cache.Option{cache.WithClock(clock.Now)}, p)

	_, err := f.co.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	resp, err := f.co.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceCache, resp.Source, "an entry exactly ttl old is still fresh")

	clock.Advance(time.Millisecond)
	resp, err = f.co.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceProvider, resp.Source)
	require.JSONEq(t, `{"n":2}`, string(resp.Payload))
	require.EqualValues(t, 2, p.calls.Load())
}

func TestProviderCallsAreSpaced(t *testing.T) {
	t.Parallel()

	const interval = 100 * time.Millisecond
	var (
		mu     sync.Mutex
		stamps []time.Time
	)
	p := &stub{name: "alchemy", fn: func(int, provider.Request) provider.Result {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return provider.Success([]byte(`{}`))
	}}

	co := coordinator.New(nil)
	t.Cleanup(func() { require.NoError(t, co.Close(context.Background())) })
	require.NoError(t, co.Register(provider.Descriptor{Name: "alchemy", MinInterval: interval, MaxRetries: 1}, p))
	_, err := co.NewChain(coordinator.ChainConfig{Name: provider.ScopeNFT, TTL: time.Minute, Providers: []string{"alchemy"}}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := co.Fetch(context.Background(), nftRequest(fmt.Sprint(i)), 5*time.Second)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), interval-2*time.Millisecond)
	}
}

func TestRetriesUntilLastAttempt(t *testing.T) {
	t.Parallel()

	const maxRetries = 3
	p := &stub{name: "alchemy", fn: func(n int, _ provider.Request) provider.Result {
		if n < maxRetries {
			return provider.Transientf("429 too many requests")
		}
		return provider.Success([]byte(`{"ok":true}`))
	}}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	co := coordinator.New(nil, coordinator.WithMetrics(m))
	t.Cleanup(func() { require.NoError(t, co.Close(context.Background())) })
	require.NoError(t, co.Register(provider.Descriptor{
		Name:        "alchemy",
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
	}, p))
	_, err := co.NewChain(coordinator.ChainConfig{Name: provider.ScopeNFT, TTL: time.Minute, Providers: []string{"alchemy"}}, nil)
	require.NoError(t, err)

	resp, err := co.Fetch(t.Context(), nftRequest("7"), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceProvider, resp.Source)
	require.EqualValues(t, maxRetries, p.calls.Load())

	expected := `
# HELP chainfetch_provider_retries_total Retries scheduled after transient provider errors
# TYPE chainfetch_provider_retries_total counter
chainfetch_provider_retries_total{provider="alchemy"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chainfetch_provider_retries_total"))
}

func TestFallbackStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()

	a := returns("a", provider.Empty())
	b := returns("b", provider.Success([]byte(`"x"`)))
	c := returns("c", provider.Success([]byte(`"never"`)))
	f := setup(t, time.Minute, nil, a, b, c)

	resp, err := f.chain.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.NoError(t, err)
	require.Equal(t, `"x"`, string(resp.Payload))
	require.Equal(t, "b", resp.Provider)
	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 1, b.calls.Load())
	require.Zero(t, c.calls.Load())
}

func TestAllProvidersFailServesUncachedSynthetic(t *testing.T) {
	t.Parallel()

	a := returns("a", provider.Fatalf("invalid contract"))
	b := returns("b", provider.Fatalf("invalid contract"))
	f := setup(t, time.Minute, nil, a, b)

	req := nftRequest("9")
	resp, err := f.chain.Fetch(t.Context(), req, time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceSynthetic, resp.Source)
	require.Equal(t, synthetic.NFTMetadata{}.Generate(req.Fingerprint(), req.Normalized()), resp.Payload)

	_, ok := f.store.Get(t.Context(), req.Fingerprint())
	require.False(t, ok)

	// Not cached: the next fetch asks the providers again.
	_, err = f.chain.Fetch(t.Context(), req, time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 2, a.calls.Load())
}

func TestCustomGenerator(t *testing.T) {
	t.Parallel()

	co := coordinator.New(nil)
	t.Cleanup(func() { require.NoError(t, co.Close(context.Background())) })
	require.NoError(t, co.Register(provider.Descriptor{Name: "a", MaxRetries: 1}, returns("a", provider.Empty())))
	_, err := co.NewChain(coordinator.ChainConfig{Name: provider.ScopeNFT, Providers: []string{"a"}},
		synthetic.GeneratorFunc(func(provider.Fingerprint, provider.Request) []byte { return []byte(`"placeholder"`) }))
	require.NoError(t, err)

	resp, err := co.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.NoError(t, err)
	require.Equal(t, `"placeholder"`, string(resp.Payload))
}

func TestConcurrentIdenticalFetchesShareOneCall(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p := &stub{name: "alchemy", fn: func(int, provider.Request) provider.Result {
		once.Do(func() { close(started) })
		<-release
		return provider.Success([]byte(`{"shared":true}`))
	}}
	f := setup(t, time.Minute, nil, p)

	type out struct {
		resp coordinator.Response
		err  error
	}
	results := make(chan out, 2)
	fetch := func() {
		resp, err := f.chain.Fetch(context.Background(), nftRequest("5"), 5*time.Second)
		results <- out{resp, err}
	}

	go fetch()
	<-started
	go fetch()
	time.Sleep(20 * time.Millisecond)
	close(release)

	shared := 0
	for range 2 {
		r := <-results
		require.NoError(t, r.err)
		require.JSONEq(t, `{"shared":true}`, string(r.resp.Payload))
		if r.resp.Shared {
			shared++
		}
	}
	require.EqualValues(t, 1, p.calls.Load())
	// Only the caller that joined is marked; the one that started the fetch is not.
	require.Equal(t, 1, shared)
}

func TestTimeoutReturnsButFetchStillCaches(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := &stub{name: "alchemy", fn: func(int, provider.Request) provider.Result {
		<-release
		return provider.Success([]byte(`{"late":true}`))
	}}
	f := setup(t, time.Minute, nil, p)

	req := nftRequest("3")
	_, err := f.chain.Fetch(t.Context(), req, 20*time.Millisecond)
	require.ErrorIs(t, err, provider.ErrTimeout)
	require.ErrorIs(t, err, provider.ErrTransient)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := f.store.Get(context.Background(), req.Fingerprint())
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := f.chain.Fetch(t.Context(), req, time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceCache, resp.Source)
	require.EqualValues(t, 1, p.calls.Load())
}

func TestProviderTTLOverridesChainTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := cache.New(nil, cache.WithClock(clock.Now))
	co := coordinator.New(store)
	t.Cleanup(func() { require.NoError(t, co.Close(context.Background())) })

	p := returns("alchemy", provider.Success([]byte(`{}`)))
	require.NoError(t, co.Register(provider.Descriptor{Name: "alchemy", MaxRetries: 1, TTL: 10 * time.Second}, p))
	_, err := co.NewChain(coordinator.ChainConfig{Name: provider.ScopeNFT, TTL: time.Hour, Providers: []string{"alchemy"}}, nil)
	require.NoError(t, err)

	req := nftRequest("1")
	_, err = co.Fetch(t.Context(), req, time.Second)
	require.NoError(t, err)

	clock.Advance(11 * time.Second)
	_, ok := store.Get(t.Context(), req.Fingerprint())
	require.False(t, ok)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	p := returns("alchemy", provider.Success([]byte(`{}`)))
	f := setup(t, time.Minute, nil, p)

	for _, id := range []string{"1", "2"} {
		_, err := f.co.Fetch(t.Context(), nftRequest(id), time.Second)
		require.NoError(t, err)
	}
	require.Equal(t, 1, f.co.Invalidate(t.Context(), nftRequest("1").Fingerprint().String()))
	require.Equal(t, 1, f.co.Invalidate(t.Context(), provider.ScopeNFT))

	resp, err := f.co.Fetch(t.Context(), nftRequest("2"), time.Second)
	require.NoError(t, err)
	require.Equal(t, coordinator.SourceProvider, resp.Source)
	require.EqualValues(t, 3, p.calls.Load())
}

func TestRegistrationErrors(t *testing.T) {
	t.Parallel()

	co := coordinator.New(nil)
	p := returns("a", provider.Empty())
	require.NoError(t, co.Register(provider.Descriptor{Name: "a"}, p))
	require.ErrorIs(t, co.Register(provider.Descriptor{Name: "a"}, p), coordinator.ErrDuplicateProvider)

	_, err := co.NewChain(coordinator.ChainConfig{Name: "nft", Providers: []string{"missing"}}, nil)
	require.ErrorIs(t, err, coordinator.ErrUnknownProvider)

	_, err = co.NewChain(coordinator.ChainConfig{Name: "nft", Providers: []string{"a"}}, nil)
	require.NoError(t, err)
	_, err = co.NewChain(coordinator.ChainConfig{Name: "nft", Providers: []string{"a"}}, nil)
	require.ErrorIs(t, err, coordinator.ErrDuplicateChain)
	require.Equal(t, []string{"nft"}, co.Chains())

	_, err = co.Fetch(t.Context(), provider.Request{Scope: "blocks", Endpoint: "latest"}, time.Second)
	require.ErrorIs(t, err, coordinator.ErrUnknownChain)

	require.NoError(t, co.Close(t.Context()))
	require.NoError(t, co.Close(t.Context()))
	_, err = co.Fetch(t.Context(), nftRequest("1"), time.Second)
	require.True(t, errors.Is(err, coordinator.ErrClosed))
}
