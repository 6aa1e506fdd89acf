// Package rpcnode serves balances, contract data and token URIs straight from
// an Ethereum JSON-RPC node. It is the provider of last resort before
// synthetic data: slower and narrower than the indexed APIs, but it needs no
// third-party quota.
package rpcnode

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"chainfetch/internal/httpx"
	"chainfetch/internal/normalize"
	"chainfetch/internal/provider"
)

// Backend is the part of ethclient.Client used here.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

// tokenABI covers the ERC-20 and ERC-721 view methods the provider calls.
const tokenABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]}
]`

var tokens = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		panic(fmt.Sprintf("rpcnode: parse token abi: %v", err))
	}
	return parsed
}()

type Config struct {
	Name string
	// Chain is the canonical chain the node belongs to. Requests for other
	// chains are rejected.
	Chain string
	// Tokens lists the ERC-20 contracts whose balances are reported; a node
	// cannot enumerate a wallet's holdings.
	Tokens []string
}

type Provider struct {
	cfg     Config
	backend Backend
	tokens  []common.Address
}

func New(cfg Config, backend Backend) (*Provider, error) {
	if backend == nil {
		return nil, errors.New("rpcnode: nil backend")
	}
	if cfg.Name == "" {
		cfg.Name = "rpcnode"
	}
	cfg.Chain = normalize.Chain(cfg.Chain)

	p := &Provider{cfg: cfg, backend: backend}
	for _, t := range cfg.Tokens {
		if !normalize.IsAddress(t) {
			return nil, fmt.Errorf("rpcnode %s: token %q is not an address", cfg.Name, t)
		}
		p.tokens = append(p.tokens, common.HexToAddress(t))
	}
	return p, nil
}

// Dial connects to the first reachable endpoint. The returned close func
// releases the connection.
func Dial(ctx context.Context, cfg Config, endpoints ...string) (*Provider, func(), error) {
	var errs []error
	for _, ep := range endpoints {
		client, err := ethclient.DialContext(ctx, ep)
		if err != nil {
			errs = append(errs, httpx.Redact(err))
			continue
		}
		p, err := New(cfg, client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return p, client.Close, nil
	}
	if len(errs) == 0 {
		return nil, nil, fmt.Errorf("rpcnode %s: no endpoints", cfg.Name)
	}
	return nil, nil, fmt.Errorf("rpcnode %s: dial: %w", cfg.Name, errors.Join(errs...))
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) provider.Result {
	if chain := req.Param(provider.ParamChain); chain != p.cfg.Chain {
		return provider.Fatalf("%s: %w: network %q", p.cfg.Name, provider.ErrUnsupported, chain)
	}

	switch {
	case req.Scope == provider.ScopeNFT && req.Endpoint == provider.EndpointMetadata:
		contract, err := req.RequireAddress(provider.ParamContract)
		if err != nil {
			return provider.Fatal(err)
		}
		tokenID, err := req.Require(provider.ParamTokenID)
		if err != nil {
			return provider.Fatal(err)
		}
		id, ok := new(big.Int).SetString(tokenID, 10)
		if !ok || id.Sign() < 0 {
			return provider.Fatalf("%s: %w: token_id %q", p.cfg.Name, provider.ErrInvalidParam, tokenID)
		}
		return p.tokenURI(ctx, common.HexToAddress(contract), id)

	case req.Scope == provider.ScopeBalances && req.Endpoint == provider.EndpointTokens:
		owner, err := req.RequireAddress(provider.ParamAddress)
		if err != nil {
			return provider.Fatal(err)
		}
		return p.balances(ctx, common.HexToAddress(owner))

	case req.Scope == provider.ScopeContracts && req.Endpoint == provider.EndpointMetadata:
		contract, err := req.RequireAddress(provider.ParamAddress)
		if err != nil {
			return provider.Fatal(err)
		}
		return p.contract(ctx, common.HexToAddress(contract))

	default:
		return provider.Fatalf("%s: %w: %s/%s", p.cfg.Name, provider.ErrUnsupported, req.Scope, req.Endpoint)
	}
}

// call runs a view method of contract and returns its first output.
func (p *Provider) call(ctx context.Context, contract common.Address, method string, args ...any) (any, error) {
	data, err := tokens.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errNoReturn
	}
	vals, err := tokens.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, errNoReturn
	}
	return vals[0], nil
}

// errNoReturn is what calling a missing method on a non-contract looks like.
var errNoReturn = errors.New("call returned no data")

// classify maps node errors to results: reverts and empty returns mean the
// contract does not have the data, malformed requests are fatal, anything
// else (transport, rate limiting, node overload) is transient.
func (p *Provider) classify(op string, err error) provider.Result {
	// Node URLs often embed an API key.
	err = httpx.Redact(err)
	if errors.Is(err, errNoReturn) || strings.Contains(err.Error(), "execution reverted") {
		return provider.Empty()
	}
	var rerr rpc.Error
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode() {
		case -32600, -32601, -32602:
			return provider.Fatalf("%s: %s: %w", p.cfg.Name, op, err)
		}
	}
	return provider.Transientf("%s: %s: %w", p.cfg.Name, op, err)
}
