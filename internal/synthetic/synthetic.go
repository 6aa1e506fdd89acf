// Package synthetic produces placeholder payloads for requests no provider
// could answer. Output is a pure function of the fingerprint: the same
// request always yields the same bytes, across processes.
package synthetic

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/holiman/uint256"

	"chainfetch/internal/provider"
)

// Generator never fails; a generator that cannot describe the request still
// returns a minimal synthetic document.
type Generator interface {
	Generate(fp provider.Fingerprint, req provider.Request) []byte
}

type GeneratorFunc func(fp provider.Fingerprint, req provider.Request) []byte

func (f GeneratorFunc) Generate(fp provider.Fingerprint, req provider.Request) []byte {
	return f(fp, req)
}

// ForScope returns the generator serving a chain scope. Unknown scopes get
// Minimal.
func ForScope(scope string) Generator {
	switch scope {
	case provider.ScopeNFT:
		return NFTMetadata{}
	case provider.ScopeBalances:
		return TokenBalances{}
	case provider.ScopeContracts:
		return ContractMetadata{}
	default:
		return Minimal{}
	}
}

func rng(fp provider.Fingerprint) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fp))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only plain structs of strings and numbers are encoded here.
		panic(fmt.Sprintf("synthetic: encode: %v", err))
	}
	return b
}

// Minimal is the fallback document: it echoes the fingerprint only.
type Minimal struct{}

func (Minimal) Generate(fp provider.Fingerprint, _ provider.Request) []byte {
	return encode(struct {
		Synthetic   bool   `json:"synthetic"`
		Fingerprint string `json:"fingerprint"`
	}{true, fp.String()})
}

var (
	adjectives = []string{"Azure", "Crimson", "Golden", "Silent", "Lunar", "Feral", "Neon", "Hollow", "Iron", "Velvet"}
	nouns      = []string{"Ape", "Punk", "Fox", "Golem", "Voyager", "Sigil", "Koi", "Oracle", "Rover", "Wyrm"}
	traitTypes = []string{"Background", "Body", "Eyes", "Headwear", "Accessory"}
	traitVals  = []string{"Common", "Uncommon", "Rare", "Epic", "Legendary"}
)

type attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

type nftDocument struct {
	Synthetic   bool        `json:"synthetic"`
	Chain       string      `json:"chain"`
	Contract    string      `json:"contract"`
	TokenID     string      `json:"token_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []attribute `json:"attributes"`
}

// NFTMetadata imitates an ERC-721 metadata document.
type NFTMetadata struct{}

func (NFTMetadata) Generate(fp provider.Fingerprint, req provider.Request) []byte {
	r := rng(fp)
	name := fmt.Sprintf("%s %s", adjectives[r.IntN(len(adjectives))], nouns[r.IntN(len(nouns))])
	tokenID := req.Param(provider.ParamTokenID)
	if tokenID != "" {
		name += " #" + tokenID
	}

	attrs := make([]attribute, 0, len(traitTypes))
	for _, tt := range traitTypes {
		if r.IntN(4) == 0 {
			continue
		}
		attrs = append(attrs, attribute{TraitType: tt, Value: traitVals[r.IntN(len(traitVals))]})
	}

	return encode(nftDocument{
		Synthetic:   true,
		Chain:       req.Param(provider.ParamChain),
		Contract:    req.Param(provider.ParamContract),
		TokenID:     tokenID,
		Name:        name,
		Description: "Placeholder metadata, no provider could serve this token.",
		Image:       fmt.Sprintf("https://placehold.co/512x512/%06x/ffffff?text=%s", r.IntN(1<<24), fp.Scope()),
		Attributes:  attrs,
	})
}

type tokenBalance struct {
	Contract string `json:"contract"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Balance  string `json:"balance"`
}

type balancesDocument struct {
	Synthetic bool           `json:"synthetic"`
	Chain     string         `json:"chain"`
	Address   string         `json:"address"`
	Native    string         `json:"native_balance"`
	Tokens    []tokenBalance `json:"tokens"`
}

var wellKnownTokens = []struct {
	contract string
	symbol   string
	decimals uint8
}{
	{"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "USDC", 6},
	{"0xdac17f958d2ee523a2206206994597c13d831ec7", "USDT", 6},
	{"0x6b175474e89094c44da98b954eedeac495271d0f", "DAI", 18},
	{"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "WETH", 18},
	{"0x514910771af9ca656af840dff83e8264ecf986ca", "LINK", 18},
}

// TokenBalances imitates a wallet's native and ERC-20 balances. Amounts are
// decimal strings of base units.
type TokenBalances struct{}

func (TokenBalances) Generate(fp provider.Fingerprint, req provider.Request) []byte {
	r := rng(fp)
	doc := balancesDocument{
		Synthetic: true,
		Chain:     req.Param(provider.ParamChain),
		Address:   req.Param(provider.ParamAddress),
		Native:    amount(r, 18),
		Tokens:    make([]tokenBalance, 0, len(wellKnownTokens)),
	}
	for _, t := range wellKnownTokens {
		if r.IntN(3) == 0 {
			continue
		}
		doc.Tokens = append(doc.Tokens, tokenBalance{
			Contract: t.contract,
			Symbol:   t.symbol,
			Decimals: t.decimals,
			Balance:  amount(r, t.decimals),
		})
	}
	return encode(doc)
}

// amount returns a value between 0 and 10000 whole units, in base units.
func amount(r *rand.Rand, decimals uint8) string {
	whole := uint256.NewInt(r.Uint64N(10_000))
	frac := uint256.NewInt(r.Uint64N(1_000_000))
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	v := new(uint256.Int).Mul(whole, scale)
	if decimals >= 6 {
		fracScale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals-6)))
		v.Add(v, frac.Mul(frac, fracScale))
	}
	return v.Dec()
}

type contractDocument struct {
	Synthetic   bool   `json:"synthetic"`
	Chain       string `json:"chain"`
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TokenType   string `json:"token_type"`
	TotalSupply string `json:"total_supply"`
}

// ContractMetadata imitates a token contract summary.
type ContractMetadata struct{}

func (ContractMetadata) Generate(fp provider.Fingerprint, req provider.Request) []byte {
	r := rng(fp)
	adj, noun := adjectives[r.IntN(len(adjectives))], nouns[r.IntN(len(nouns))]
	doc := contractDocument{
		Synthetic: true,
		Chain:     req.Param(provider.ParamChain),
		Address:   req.Param(provider.ParamAddress),
		Name:      adj + " " + noun,
		Symbol:    fmt.Sprintf("%c%c%c", adj[0], noun[0], 'A'+rune(r.IntN(26))),
	}
	if r.IntN(2) == 0 {
		doc.TokenType = "ERC721"
		doc.TotalSupply = uint256.NewInt(1 + r.Uint64N(10_000)).Dec()
	} else {
		doc.TokenType = "ERC20"
		doc.TotalSupply = amount(r, 18)
	}
	return encode(doc)
}
