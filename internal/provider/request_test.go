package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprint_OrderAndSpellingIndependent(t *testing.T) {
	t.Parallel()

	a := Request{Scope: ScopeNFT, Endpoint: EndpointMetadata, Params: map[string]string{
		"chain":    "eth",
		"contract": "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D",
		"token_id": "0x01",
	}}
	b := Request{Scope: "NFT", Endpoint: " metadata", Params: map[string]string{
		"token_id": "1",
		"contract": "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
		"chain":    "mainnet",
	}}
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	// missing chain defaults to mainnet
	c := Request{Scope: ScopeNFT, Endpoint: EndpointMetadata, Params: map[string]string{
		"contract": "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
		"token_id": "1",
	}}
	require.Equal(t, a.Fingerprint(), c.Fingerprint())

	d := Request{Scope: ScopeNFT, Endpoint: EndpointMetadata, Params: map[string]string{
		"contract": "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
		"token_id": "2",
	}}
	require.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestFingerprint_ScopeAndWithin(t *testing.T) {
	t.Parallel()

	fp := Request{Scope: ScopeNFT, Endpoint: EndpointMetadata, Params: map[string]string{"token_id": "7"}}.Fingerprint()
	require.Equal(t, ScopeNFT, fp.Scope())
	require.True(t, fp.Within("nft"))
	require.True(t, fp.Within("nft:"))
	require.True(t, fp.Within("nft:metadata"))
	require.True(t, fp.Within(fp.String()))
	require.False(t, fp.Within("nf"))
	require.False(t, fp.Within("balances"))
	require.False(t, fp.Within(""))
}

func TestResult_ErrWrapsSentinel(t *testing.T) {
	t.Parallel()

	require.NoError(t, Success([]byte("x")).Err())
	require.ErrorIs(t, Empty().Err(), ErrEmpty)

	reason := errors.New("429 too many requests")
	err := Transient(reason).Err()
	require.ErrorIs(t, err, ErrTransient)
	require.ErrorIs(t, err, reason)

	require.ErrorIs(t, Fatalf("bad address %q", "0x1").Err(), ErrFatal)
	require.Equal(t, "transient", StatusTransient.String())
}

func TestRequest_RequireAddress(t *testing.T) {
	t.Parallel()

	req := Request{Params: map[string]string{
		"address": "0xD8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
		"owner":   "vitalik.eth",
	}}.Normalized()

	addr, err := req.RequireAddress(ParamAddress)
	require.NoError(t, err)
	require.Equal(t, "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", addr)

	_, err = req.RequireAddress("owner")
	require.ErrorIs(t, err, ErrInvalidParam)

	_, err = req.Require(ParamTokenID)
	require.ErrorIs(t, err, ErrMissingParam)
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	ok := NFTMetadata("eth", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D", "0x01").Normalized()
	require.NoError(t, ok.Validate())
	require.Equal(t, "1", ok.Param(ParamTokenID))

	err := NFTMetadata("eth", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D", "").Normalized().Validate()
	require.ErrorIs(t, err, ErrMissingParam)

	err = TokenBalances("eth", "vitalik.eth").Normalized().Validate()
	require.ErrorIs(t, err, ErrInvalidParam)

	require.NoError(t, ContractMetadata("", "0xdac17f958d2ee523a2206206994597c13d831ec7").Normalized().Validate())
}
