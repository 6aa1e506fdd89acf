package alchemy

import (
	"context"

	"chainfetch/internal/provider"
)

// networks lists the canonical chain names Alchemy serves.
var networks = map[string]struct{}{
	"eth-mainnet":     {},
	"eth-sepolia":     {},
	"polygon-mainnet": {},
	"arb-mainnet":     {},
	"opt-mainnet":     {},
	"base-mainnet":    {},
}

// Fetch implements provider.Provider.
func (c *Client) Fetch(ctx context.Context, req provider.Request) provider.Result {
	network := req.Param(provider.ParamChain)
	if _, ok := networks[network]; !ok {
		return provider.Fatalf("%s: %w: network %q", c.name, provider.ErrUnsupported, network)
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
		return c.GetNFTMetadata(ctx, network, contract, tokenID)

	case req.Scope == provider.ScopeBalances && req.Endpoint == provider.EndpointTokens:
		owner, err := req.RequireAddress(provider.ParamAddress)
		if err != nil {
			return provider.Fatal(err)
		}
		return c.GetTokenBalances(ctx, network, owner)

	case req.Scope == provider.ScopeContracts && req.Endpoint == provider.EndpointMetadata:
		contract, err := req.RequireAddress(provider.ParamAddress)
		if err != nil {
			return provider.Fatal(err)
		}
		return c.GetContractMetadata(ctx, network, contract)

	default:
		return provider.Fatalf("%s: %w: %s/%s", c.name, provider.ErrUnsupported, req.Scope, req.Endpoint)
	}
}
