package rpcnode

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"chainfetch/internal/provider"
)

type nftDocument struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
	TokenURI string `json:"token_uri"`
}

func (p *Provider) tokenURI(ctx context.Context, contract common.Address, id *big.Int) provider.Result {
	v, err := p.call(ctx, contract, "tokenURI", id)
	if err != nil {
		return p.classify("tokenURI", err)
	}
	uri, _ := v.(string)
	if uri == "" {
		return provider.Empty()
	}
	return p.encode(nftDocument{Contract: lower(contract), TokenID: id.String(), TokenURI: uri})
}

type tokenBalance struct {
	Contract string `json:"contract"`
	Balance  string `json:"balance"`
}

type balancesDocument struct {
	Address string         `json:"address"`
	Native  string         `json:"native_balance"`
	Tokens  []tokenBalance `json:"tokens"`
}

// balances reports the native balance and the configured ERC-20 tokens.
// A token whose call fails is skipped; a failing native balance fails the
// whole result.
func (p *Provider) balances(ctx context.Context, owner common.Address) provider.Result {
	native, err := p.backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return p.classify("eth_getBalance", err)
	}

	doc := balancesDocument{
		Address: lower(owner),
		Native:  dec(native),
		Tokens:  make([]tokenBalance, 0, len(p.tokens)),
	}
	for _, token := range p.tokens {
		v, err := p.call(ctx, token, "balanceOf", owner)
		if err != nil {
			if ctx.Err() != nil {
				return p.classify("balanceOf", err)
			}
			continue
		}
		bal, _ := v.(*big.Int)
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		doc.Tokens = append(doc.Tokens, tokenBalance{Contract: lower(token), Balance: dec(bal)})
	}
	if native.Sign() == 0 && len(doc.Tokens) == 0 {
		return provider.Empty()
	}
	return p.encode(doc)
}

type contractDocument struct {
	Address      string `json:"address"`
	BytecodeSize int    `json:"bytecode_size"`
	TokenType    string `json:"token_type"`
	Name         string `json:"name,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
	Decimals     *uint8 `json:"decimals,omitempty"`
	TotalSupply  string `json:"total_supply,omitempty"`
}

// contract describes the code at addr. ERC-20 fields are filled when the
// contract answers them; an address without code is Empty.
func (p *Provider) contract(ctx context.Context, addr common.Address) provider.Result {
	code, err := p.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return p.classify("eth_getCode", err)
	}
	if len(code) == 0 {
		return provider.Empty()
	}

	doc := contractDocument{Address: lower(addr), BytecodeSize: len(code), TokenType: "unknown"}
	if v, err := p.call(ctx, addr, "name"); err == nil {
		doc.Name, _ = v.(string)
	}
	if v, err := p.call(ctx, addr, "symbol"); err == nil {
		doc.Symbol, _ = v.(string)
	}
	if v, err := p.call(ctx, addr, "totalSupply"); err == nil {
		if supply, ok := v.(*big.Int); ok {
			doc.TotalSupply = dec(supply)
		}
	}
	if v, err := p.call(ctx, addr, "decimals"); err == nil {
		if d, ok := v.(uint8); ok {
			doc.Decimals = &d
			doc.TokenType = "ERC20"
		}
	}
	if err := ctx.Err(); err != nil {
		return p.classify("contract metadata", err)
	}
	return p.encode(doc)
}

func (p *Provider) encode(v any) provider.Result {
	b, err := json.Marshal(v)
	if err != nil {
		return provider.Fatalf("%s: encode: %v", p.cfg.Name, err)
	}
	return provider.Success(b)
}

func lower(a common.Address) string { return strings.ToLower(a.Hex()) }

// dec renders a non-negative 256-bit amount in decimal.
func dec(v *big.Int) string {
	if u, overflow := uint256.FromBig(v); !overflow && v.Sign() >= 0 {
		return u.Dec()
	}
	return v.String()
}
