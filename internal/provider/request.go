package provider

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"

	"chainfetch/internal/normalize"
)

// Request is a logical data request: which collection (scope), which
// endpoint within it and the parameters identifying the object.
type Request struct {
	Scope    string
	Endpoint string
	Params   map[string]string
}

// Normalized returns a copy of r with canonical parameters. Chain defaults to
// normalize.DefaultChain so "no chain" and "eth" share a fingerprint.
func (r Request) Normalized() Request {
	params := normalize.Params(r.Params)
	if _, ok := params[ParamChain]; !ok {
		params[ParamChain] = normalize.DefaultChain
	}
	return Request{
		Scope:    strings.ToLower(strings.TrimSpace(r.Scope)),
		Endpoint: strings.ToLower(strings.TrimSpace(r.Endpoint)),
		Params:   params,
	}
}

// Param returns the (normalized) value of key, or "".
func (r Request) Param(key string) string { return r.Params[key] }

// Fingerprint derives the cache key of r: "<scope>:<endpoint>:<hash>" where
// hash covers the normalized, key-sorted parameters. Argument order and
// spelling variants handled by normalize do not change the result.
func (r Request) Fingerprint() Fingerprint {
	n := r.Normalized()
	q := url.Values{}
	for k, v := range n.Params {
		q.Set(k, v)
	}
	// Encode sorts by key.
	sum := sha256.Sum256([]byte(q.Encode()))
	return Fingerprint(fmt.Sprintf("%s:%s:%x", n.Scope, n.Endpoint, sum[:8]))
}

// Fingerprint is the opaque, deterministic key of a logical request.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Scope returns the leading scope segment.
func (f Fingerprint) Scope() string {
	s, _, _ := strings.Cut(string(f), ":")
	return s
}

// Within reports whether f equals scope or lies below it
// ("nft" and "nft:metadata" both contain "nft:metadata:ab12...").
func (f Fingerprint) Within(scope string) bool {
	scope = strings.TrimSuffix(scope, ":")
	if scope == "" {
		return false
	}
	s := string(f)
	return s == scope || strings.HasPrefix(s, scope+":")
}

// Require returns the value of key or a fatal ErrMissingParam error.
func (r Request) Require(key string) (string, error) {
	v := r.Params[key]
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return v, nil
}

// RequireAddress is Require plus a check that the value is a hex address.
func (r Request) RequireAddress(key string) (string, error) {
	v, err := r.Require(key)
	if err != nil {
		return "", err
	}
	if !normalize.IsAddress(v) {
		return "", fmt.Errorf("%w: %s %q is not an address", ErrInvalidParam, key, v)
	}
	return normalize.Address(v), nil
}

// NFTMetadata builds the request for one token's metadata.
func NFTMetadata(chain, contract, tokenID string) Request {
	return Request{Scope: ScopeNFT, Endpoint: EndpointMetadata, Params: map[string]string{
		ParamChain:    chain,
		ParamContract: contract,
		ParamTokenID:  tokenID,
	}}
}

// TokenBalances builds the request for the fungible token holdings of address.
func TokenBalances(chain, address string) Request {
	return Request{Scope: ScopeBalances, Endpoint: EndpointTokens, Params: map[string]string{
		ParamChain:   chain,
		ParamAddress: address,
	}}
}

// ContractMetadata builds the request for a contract's name, symbol and supply.
func ContractMetadata(chain, address string) Request {
	return Request{Scope: ScopeContracts, Endpoint: EndpointMetadata, Params: map[string]string{
		ParamChain:   chain,
		ParamAddress: address,
	}}
}

// Validate checks that the well-known parameters present in r are usable:
// addresses are hex addresses and a token id is present for NFT requests.
func (r Request) Validate() error {
	for _, key := range []string{ParamContract, ParamAddress} {
		if _, ok := r.Params[key]; ok {
			if _, err := r.RequireAddress(key); err != nil {
				return err
			}
		}
	}
	if r.Scope == ScopeNFT {
		if _, err := r.Require(ParamTokenID); err != nil {
			return err
		}
	}
	return nil
}
