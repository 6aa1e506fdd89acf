package provider

import (
	"context"
	"time"
)

// Scopes group fingerprints by the kind of data they describe. A scope is also
// the name of the fallback chain serving it.
const (
	ScopeNFT       = "nft"
	ScopeBalances  = "balances"
	ScopeContracts = "contracts"
)

// Logical endpoints within a scope.
const (
	EndpointMetadata = "metadata"
	EndpointTokens   = "tokens"
)

// Well-known request parameters.
const (
	ParamChain    = "chain"
	ParamContract = "contract"
	ParamTokenID  = "token_id"
	ParamAddress  = "address"
)

// Provider is implemented by every upstream data source (REST API, JSON-RPC node).
// Fetch performs exactly one call and classifies its outcome; retries, spacing
// and caching are layered on top by the coordinator.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) Result
}

// Func adapts a plain function to the Provider interface.
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) Result
}

func (f Func) Name() string { return f.ProviderName }

func (f Func) Fetch(ctx context.Context, req Request) Result { return f.Fn(ctx, req) }

// Descriptor is the static, per-provider configuration. It is built once at
// startup and never mutated.
type Descriptor struct {
	Name        string
	MinInterval time.Duration // minimum spacing between two calls to this provider
	MaxRetries  int           // total attempts per scheduled call, including the first
	BaseBackoff time.Duration // first retry delay, doubled on each further retry
	MaxBackoff  time.Duration // 0 means uncapped
	TTL         time.Duration // cache ttl for payloads served by this provider; 0 uses the chain ttl
}
