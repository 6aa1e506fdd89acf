// Package normalize canonicalizes request parameters so that logically equal
// requests produce equal fingerprints.
package normalize

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// chainAliases maps the many spellings the dashboard and users send to one
// canonical network name.
//
//	eth, ethereum, mainnet, homestead -> eth-mainnet
//	matic, polygon                    -> polygon-mainnet
//	arb, arbitrum, arbitrum-one       -> arb-mainnet
//	op, optimism                      -> opt-mainnet
//	base                              -> base-mainnet
//	sepolia                           -> eth-sepolia
var chainAliases = map[string]string{
	"eth":             "eth-mainnet",
	"ethereum":        "eth-mainnet",
	"mainnet":         "eth-mainnet",
	"homestead":       "eth-mainnet",
	"eth-mainnet":     "eth-mainnet",
	"matic":           "polygon-mainnet",
	"polygon":         "polygon-mainnet",
	"polygon-mainnet": "polygon-mainnet",
	"arb":             "arb-mainnet",
	"arbitrum":        "arb-mainnet",
	"arbitrum-one":    "arb-mainnet",
	"arb-mainnet":     "arb-mainnet",
	"op":              "opt-mainnet",
	"optimism":        "opt-mainnet",
	"opt-mainnet":     "opt-mainnet",
	"base":            "base-mainnet",
	"base-mainnet":    "base-mainnet",
	"sepolia":         "eth-sepolia",
	"eth-sepolia":     "eth-sepolia",
}

// DefaultChain is assumed when a request names no chain.
const DefaultChain = "eth-mainnet"

// Chain returns the canonical network name. Unknown names are lower-cased and
// passed through; empty input yields DefaultChain.
func Chain(s string) string {
	c := strings.ToLower(strings.TrimSpace(s))
	if c == "" {
		return DefaultChain
	}
	if norm, ok := chainAliases[c]; ok {
		return norm
	}
	return c
}

// Address lower-cases a hex address so checksummed and plain spellings match.
// Anything that is not a 20-byte hex address is only trimmed.
func Address(s string) string {
	a := strings.TrimSpace(s)
	if !common.IsHexAddress(a) {
		return a
	}
	return strings.ToLower(common.HexToAddress(a).Hex())
}

// IsAddress reports whether s is a 20-byte hex address (with or without 0x).
func IsAddress(s string) bool { return common.IsHexAddress(strings.TrimSpace(s)) }

// TokenID renders decimal and 0x-prefixed hex token ids the same way (decimal).
// Unparseable ids are trimmed and returned as is.
func TokenID(s string) string {
	t := strings.TrimSpace(s)
	base := 10
	if digits, ok := strings.CutPrefix(strings.ToLower(t), "0x"); ok {
		t, base = digits, 16
	}
	n, ok := new(big.Int).SetString(t, base)
	if !ok || n.Sign() < 0 {
		return strings.TrimSpace(s)
	}
	return n.String()
}

// Params returns a normalized copy of in: keys trimmed and lower-cased,
// empty values dropped, chain/address/token id values canonicalized.
func Params(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		switch {
		case key == "chain" || key == "network":
			key, val = "chain", Chain(val)
		case key == "token_id" || key == "tokenid":
			key, val = "token_id", TokenID(val)
		case key == "address" || key == "contract" || key == "owner" || strings.HasSuffix(key, "_address"):
			val = Address(val)
		}
		out[key] = val
	}
	return out
}
