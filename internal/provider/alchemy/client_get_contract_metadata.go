package alchemy

import (
	"context"
	"encoding/json"
	"net/url"

	"chainfetch/internal/provider"
)

// GetContractMetadata retrieves name, symbol, token type and supply of a
// contract.
// GET /nft/v3/{key}/getContractMetadata?contractAddress=..
func (c *Client) GetContractMetadata(ctx context.Context, network, contract string) provider.Result {
	query := url.Values{}
	query.Set("contractAddress", contract)

	res := c.get(ctx, c.url(network, "/nft/v3", "/getContractMetadata")+"?"+query.Encode())
	if !res.OK() {
		return res
	}

	var doc struct {
		TokenType string `json:"tokenType"`
	}
	if err := json.Unmarshal(res.Payload, &doc); err != nil {
		return provider.Transientf("%s: decoding contract metadata: %w", c.name, err)
	}
	if doc.TokenType == "NOT_A_CONTRACT" {
		return provider.Empty()
	}
	return res
}
