package rpcnode

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/url"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"chainfetch/internal/provider"
)

var (
	dai   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	bayc  = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	owner = common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")
)

type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }

type codedError struct{ code int }

func (e codedError) Error() string  { return "rpc failure" }
func (e codedError) ErrorCode() int { return e.code }

// fakeBackend answers view calls from per-contract method tables.
type fakeBackend struct {
	balances map[common.Address]*big.Int
	code     map[common.Address][]byte
	views    map[common.Address]map[string][]any
	err      error
}

func (f *fakeBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[account]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (f *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.code[account], nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	method, err := tokens.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	vals, ok := f.views[*msg.To][method.Name]
	if !ok {
		return nil, revertError{}
	}
	return method.Outputs.Pack(vals...)
}

func newProvider(t *testing.T, b Backend, watch ...common.Address) *Provider {
	t.Helper()
	list := make([]string, 0, len(watch))
	for _, a := range watch {
		list = append(list, a.Hex())
	}
	p, err := New(Config{Chain: "ethereum", Tokens: list}, b)
	require.NoError(t, err)
	return p
}

func request(scope, endpoint string, params map[string]string) provider.Request {
	return provider.Request{Scope: scope, Endpoint: endpoint, Params: params}.Normalized()
}

func TestBalances(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		balances: map[common.Address]*big.Int{owner: big.NewInt(2_000_000_000_000_000_000)},
		views: map[common.Address]map[string][]any{
			usdc: {"balanceOf": {big.NewInt(1_500_000)}},
			dai:  {"balanceOf": {big.NewInt(0)}},
		},
	}
	p := newProvider(t, b, usdc, dai)

	res := p.Fetch(t.Context(), request(provider.ScopeBalances, provider.EndpointTokens, map[string]string{"address": owner.Hex()}))
	require.True(t, res.OK(), res.Err())

	var doc balancesDocument
	require.NoError(t, json.Unmarshal(res.Payload, &doc))
	require.Equal(t, balancesDocument{
		Address: "0xd8da6bf26964af9d7eed9e03e53415d37aa96045",
		Native:  "2000000000000000000",
		Tokens:  []tokenBalance{{Contract: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Balance: "1500000"}},
	}, doc)
}

func TestBalancesEmptyWallet(t *testing.T) {
	t.Parallel()

	p := newProvider(t, &fakeBackend{}, usdc)
	res := p.Fetch(t.Context(), request(provider.ScopeBalances, provider.EndpointTokens, map[string]string{"address": owner.Hex()}))
	require.Equal(t, provider.StatusEmpty, res.Status)
}

func TestContractMetadata(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		code: map[common.Address][]byte{dai: {0x60, 0x80, 0x60, 0x40}, bayc: {0x60, 0x80}},
		views: map[common.Address]map[string][]any{
			dai: {
				"name":        {"Dai Stablecoin"},
				"symbol":      {"DAI"},
				"decimals":    {uint8(18)},
				"totalSupply": {big.NewInt(5_000_000)},
			},
			bayc: {
				"name":   {"BoredApeYachtClub"},
				"symbol": {"BAYC"},
			},
		},
	}
	p := newProvider(t, b)

	res := p.Fetch(t.Context(), request(provider.ScopeContracts, provider.EndpointMetadata, map[string]string{"address": dai.Hex()}))
	require.True(t, res.OK(), res.Err())
	require.JSONEq(t, `{
		"address":"0x6b175474e89094c44da98b954eedeac495271d0f",
		"bytecode_size":4,
		"token_type":"ERC20",
		"name":"Dai Stablecoin",
		"symbol":"DAI",
		"decimals":18,
		"total_supply":"5000000"
	}`, string(res.Payload))

	res = p.Fetch(t.Context(), request(provider.ScopeContracts, provider.EndpointMetadata, map[string]string{"address": bayc.Hex()}))
	require.True(t, res.OK(), res.Err())
	require.JSONEq(t, `{
		"address":"0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
		"bytecode_size":2,
		"token_type":"unknown",
		"name":"BoredApeYachtClub",
		"symbol":"BAYC"
	}`, string(res.Payload))

	// No code at the address.
	res = p.Fetch(t.Context(), request(provider.ScopeContracts, provider.EndpointMetadata, map[string]string{"address": owner.Hex()}))
	require.Equal(t, provider.StatusEmpty, res.Status)
}

func TestTokenURI(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{views: map[common.Address]map[string][]any{
		bayc: {"tokenURI": {"ipfs://QmeSjSinHpPnmXmspMjwiXyN6zS4E9zccariGR3jxcaWtq/42"}},
	}}
	p := newProvider(t, b)

	res := p.Fetch(t.Context(), request(provider.ScopeNFT, provider.EndpointMetadata, map[string]string{
		"contract": bayc.Hex(), "token_id": "0x2a",
	}))
	require.True(t, res.OK(), res.Err())
	require.JSONEq(t, `{
		"contract":"0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
		"token_id":"42",
		"token_uri":"ipfs://QmeSjSinHpPnmXmspMjwiXyN6zS4E9zccariGR3jxcaWtq/42"
	}`, string(res.Payload))

	// A contract without tokenURI reverts.
	res = p.Fetch(t.Context(), request(provider.ScopeNFT, provider.EndpointMetadata, map[string]string{
		"contract": dai.Hex(), "token_id": "1",
	}))
	require.Equal(t, provider.StatusEmpty, res.Status)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want provider.Status
	}{
		"transport":      {errors.New("dial tcp: connection refused"), provider.StatusTransient},
		"rate limited":   {codedError{code: -32005}, provider.StatusTransient},
		"invalid params": {codedError{code: -32602}, provider.StatusFatal},
		"reverted":       {revertError{}, provider.StatusEmpty},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := newProvider(t, &fakeBackend{err: tc.err})
			res := p.Fetch(t.Context(), request(provider.ScopeBalances, provider.EndpointTokens, map[string]string{"address": owner.Hex()}))
			require.Equal(t, tc.want, res.Status)
		})
	}
}

func TestTransportErrorHidesEndpoint(t *testing.T) {
	t.Parallel()

	p := newProvider(t, &fakeBackend{err: &url.Error{
		Op:  "Post",
		URL: "https://eth-mainnet.example.com/v2/secret-key",
		Err: errors.New("connection refused"),
	}})

	res := p.Fetch(t.Context(), request(provider.ScopeBalances, provider.EndpointTokens, map[string]string{"address": owner.Hex()}))

	require.Equal(t, provider.StatusTransient, res.Status)
	require.NotContains(t, res.Err().Error(), "secret-key")
	require.Contains(t, res.Err().Error(), "eth-mainnet.example.com")
}

func TestFetchRejects(t *testing.T) {
	t.Parallel()

	p := newProvider(t, &fakeBackend{})

	res := p.Fetch(t.Context(), request(provider.ScopeBalances, provider.EndpointTokens, map[string]string{
		"chain": "polygon", "address": owner.Hex(),
	}))
	require.ErrorIs(t, res.Err(), provider.ErrUnsupported)

	res = p.Fetch(t.Context(), request(provider.ScopeNFT, provider.EndpointMetadata, map[string]string{
		"contract": bayc.Hex(), "token_id": "ape",
	}))
	require.ErrorIs(t, res.Err(), provider.ErrInvalidParam)

	res = p.Fetch(t.Context(), request(provider.ScopeBalances, provider.EndpointTokens, nil))
	require.ErrorIs(t, res.Err(), provider.ErrMissingParam)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Tokens: []string{"usdc"}}, &fakeBackend{})
	require.Error(t, err)

	_, err = New(Config{}, nil)
	require.Error(t, err)

	p, err := New(Config{Chain: "eth"}, &fakeBackend{})
	require.NoError(t, err)
	require.Equal(t, "rpcnode", p.Name())
	require.Equal(t, "eth-mainnet", p.cfg.Chain)
}

func TestDialWithoutEndpoints(t *testing.T) {
	t.Parallel()

	_, _, err := Dial(t.Context(), Config{Name: "node"})
	require.ErrorContains(t, err, "no endpoints")
}
