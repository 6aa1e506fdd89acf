package alchemy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"chainfetch/internal/httpx"
	"chainfetch/internal/normalize"
	"chainfetch/internal/provider"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// result classifies a JSON-RPC error. Invalid request and params errors will
// not improve on retry; everything else (rate limits, upstream trouble) may.
func (e *rpcError) result() provider.Result {
	switch e.Code {
	case -32600, -32601, -32602:
		return provider.Fatal(e)
	default:
		return provider.Transient(e)
	}
}

type tokenBalancesResult struct {
	Address       string `json:"address"`
	TokenBalances []struct {
		ContractAddress string  `json:"contractAddress"`
		TokenBalance    *string `json:"tokenBalance"`
		Error           *string `json:"error"`
	} `json:"tokenBalances"`
}

// TokenBalance is one non-zero ERC-20 holding. Balance is a decimal string of
// base units.
type TokenBalance struct {
	Contract string `json:"contract"`
	Balance  string `json:"balance"`
}

// Balances is the payload served for the balances scope.
type Balances struct {
	Address string         `json:"address"`
	Tokens  []TokenBalance `json:"tokens"`
}

// GetTokenBalances retrieves the ERC-20 balances of owner through the
// alchemy_getTokenBalances JSON-RPC method. Zero balances are dropped; an
// owner with none left is Empty.
func (c *Client) GetTokenBalances(ctx context.Context, network, owner string) provider.Result {
	res := c.rpc(ctx, network, "alchemy_getTokenBalances", owner, "erc20")
	if !res.OK() {
		return res
	}

	var raw tokenBalancesResult
	if err := json.Unmarshal(res.Payload, &raw); err != nil {
		return provider.Transientf("%s: decoding token balances: %w", c.name, err)
	}

	out := Balances{Address: owner, Tokens: make([]TokenBalance, 0, len(raw.TokenBalances))}
	for _, tb := range raw.TokenBalances {
		if tb.Error != nil || tb.TokenBalance == nil {
			continue
		}
		v := new(uint256.Int).SetBytes(common.FromHex(*tb.TokenBalance))
		if v.IsZero() {
			continue
		}
		out.Tokens = append(out.Tokens, TokenBalance{
			Contract: normalize.Address(tb.ContractAddress),
			Balance:  v.Dec(),
		})
	}
	if len(out.Tokens) == 0 {
		return provider.Empty()
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return provider.Fatalf("%s: encoding balances: %w", c.name, err)
	}
	return provider.Success(payload)
}

// rpc performs one JSON-RPC call against the node endpoint of network and
// returns the raw result as the payload.
func (c *Client) rpc(ctx context.Context, network, method string, params ...any) provider.Result {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return provider.Fatalf("%s: encoding %s: %w", c.name, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(network, "/v2", ""), bytes.NewReader(body))
	if err != nil {
		return provider.Fatalf("%s: creating request: %w", c.name, err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Content-Type", "application/json")

	res := httpx.Classify(c.httpClient.Do(req))
	if !res.OK() {
		return res
	}

	var resp rpcResponse
	if err := json.Unmarshal(res.Payload, &resp); err != nil {
		return provider.Transientf("%s: decoding %s response: %w", c.name, method, err)
	}
	if resp.Error != nil {
		return resp.Error.result()
	}
	if httpx.IsBlank(resp.Result) {
		return provider.Empty()
	}
	return provider.Success(resp.Result)
}
