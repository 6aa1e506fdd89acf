package alchemy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"chainfetch/internal/httpx"
	"chainfetch/internal/provider"
)

// nftMetadata is the part of the v3 getNFTMetadata response used to tell a
// real document from a placeholder.
type nftMetadata struct {
	TokenID   string `json:"tokenId"`
	TokenType string `json:"tokenType"`
	Name      string `json:"name"`
	Raw       struct {
		TokenURI string          `json:"tokenUri"`
		Metadata json.RawMessage `json:"metadata"`
		Error    string          `json:"error"`
	} `json:"raw"`
}

// GetNFTMetadata retrieves the metadata of one token.
// GET /nft/v3/{key}/getNFTMetadata?contractAddress=..&tokenId=..
func (c *Client) GetNFTMetadata(ctx context.Context, network, contract, tokenID string) provider.Result {
	query := url.Values{}
	query.Set("contractAddress", contract)
	query.Set("tokenId", tokenID)

	res := c.get(ctx, c.url(network, "/nft/v3", "/getNFTMetadata")+"?"+query.Encode())
	if !res.OK() {
		return res
	}

	var doc nftMetadata
	if err := json.Unmarshal(res.Payload, &doc); err != nil {
		return provider.Transientf("%s: decoding nft metadata: %w", c.name, err)
	}
	// Alchemy answers 200 for tokens it could not resolve, with only an error
	// in raw.error.
	if doc.Name == "" && doc.Raw.TokenURI == "" && httpx.IsBlank(doc.Raw.Metadata) && doc.Raw.Error != "" {
		return provider.Empty()
	}
	return res
}

// get performs a GET and classifies the response.
func (c *Client) get(ctx context.Context, u string) provider.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return provider.Fatalf("%s: creating request: %w", c.name, err)
	}
	req.Header = c.header.Clone()
	return httpx.Classify(c.httpClient.Do(req))
}
