package moralis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"chainfetch/internal/httpx"
	"chainfetch/internal/provider"
)

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Headers map[string]string
	// ChainMap overrides or extends the canonical chain -> Moralis chain id
	// mapping.
	ChainMap map[string]string
	// IncludeSpam keeps tokens Moralis flags as possible spam in balances.
	IncludeSpam bool
}

// defaultChains maps canonical chain names to the values Moralis accepts in
// its chain query parameter.
var defaultChains = map[string]string{
	"eth-mainnet":     "eth",
	"eth-sepolia":     "sepolia",
	"polygon-mainnet": "polygon",
	"arb-mainnet":     "arbitrum",
	"opt-mainnet":     "optimism",
	"base-mainnet":    "base",
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "moralis"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://deep-index.moralis.io/api/v2.2"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) chain(canonical string) (string, bool) {
	if v := p.cfg.ChainMap[canonical]; v != "" {
		return v, true
	}
	v, ok := defaultChains[canonical]
	return v, ok
}

func (p *Provider) Fetch(ctx context.Context, req provider.Request) provider.Result {
	chain, ok := p.chain(req.Param(provider.ParamChain))
	if !ok {
		return provider.Fatalf("%s: %w: network %q", p.cfg.Name, provider.ErrUnsupported, req.Param(provider.ParamChain))
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
		return p.nftMetadata(ctx, chain, contract, tokenID)

	case req.Scope == provider.ScopeBalances && req.Endpoint == provider.EndpointTokens:
		owner, err := req.RequireAddress(provider.ParamAddress)
		if err != nil {
			return provider.Fatal(err)
		}
		return p.tokenBalances(ctx, chain, owner)

	case req.Scope == provider.ScopeContracts && req.Endpoint == provider.EndpointMetadata:
		contract, err := req.RequireAddress(provider.ParamAddress)
		if err != nil {
			return provider.Fatal(err)
		}
		return p.contractMetadata(ctx, chain, contract)

	default:
		return provider.Fatalf("%s: %w: %s/%s", p.cfg.Name, provider.ErrUnsupported, req.Scope, req.Endpoint)
	}
}

// GET /nft/{address}/{token_id}?chain=..&normalizeMetadata=true
func (p *Provider) nftMetadata(ctx context.Context, chain, contract, tokenID string) provider.Result {
	q := url.Values{}
	q.Set("chain", chain)
	q.Set("normalizeMetadata", "true")
	return p.get(ctx, "/nft/"+contract+"/"+url.PathEscape(tokenID), q)
}

type erc20Balance struct {
	TokenAddress string `json:"token_address"`
	Symbol       string `json:"symbol"`
	Decimals     int    `json:"decimals"`
	Balance      string `json:"balance"`
	PossibleSpam bool   `json:"possible_spam"`
}

type tokenBalance struct {
	Contract string `json:"contract"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Balance  string `json:"balance"`
}

type balances struct {
	Address string         `json:"address"`
	Tokens  []tokenBalance `json:"tokens"`
}

// GET /{address}/erc20?chain=..
func (p *Provider) tokenBalances(ctx context.Context, chain, owner string) provider.Result {
	q := url.Values{}
	q.Set("chain", chain)
	res := p.get(ctx, "/"+owner+"/erc20", q)
	if !res.OK() {
		return res
	}

	var list []erc20Balance
	if err := json.Unmarshal(res.Payload, &list); err != nil {
		return provider.Transientf("%s: decode balances: %w", p.cfg.Name, err)
	}
	out := balances{Address: owner, Tokens: make([]tokenBalance, 0, len(list))}
	for _, b := range list {
		if b.PossibleSpam && !p.cfg.IncludeSpam {
			continue
		}
		if b.Balance == "" || strings.Trim(b.Balance, "0") == "" {
			continue
		}
		out.Tokens = append(out.Tokens, tokenBalance{
			Contract: strings.ToLower(b.TokenAddress),
			Symbol:   b.Symbol,
			Decimals: b.Decimals,
			Balance:  b.Balance,
		})
	}
	if len(out.Tokens) == 0 {
		return provider.Empty()
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return provider.Fatalf("%s: encode balances: %w", p.cfg.Name, err)
	}
	return provider.Success(payload)
}

// GET /erc20/metadata?chain=..&addresses[]=..
func (p *Provider) contractMetadata(ctx context.Context, chain, contract string) provider.Result {
	q := url.Values{}
	q.Set("chain", chain)
	q.Add("addresses[]", contract)
	res := p.get(ctx, "/erc20/metadata", q)
	if !res.OK() {
		return res
	}

	var list []json.RawMessage
	if err := json.Unmarshal(res.Payload, &list); err != nil {
		return provider.Transientf("%s: decode contract metadata: %w", p.cfg.Name, err)
	}
	for _, raw := range list {
		var head struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return provider.Transientf("%s: decode contract metadata: %w", p.cfg.Name, err)
		}
		// Moralis returns a row of nulls for addresses it knows nothing about.
		if head.Name != "" || head.Symbol != "" {
			return provider.Success(raw)
		}
	}
	return provider.Empty()
}

func (p *Provider) get(ctx context.Context, path string, q url.Values) provider.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return provider.Fatalf("%s: creating request: %w", p.cfg.Name, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", p.cfg.APIKey)
	}
	return httpx.Classify(p.client.Do(ctx, req))
}
