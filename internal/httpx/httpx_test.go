package httpx_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainfetch/internal/httpx"
	"chainfetch/internal/provider"
)

func response(code int, body string) *http.Response {
	req, _ := http.NewRequest(http.MethodGet, "https://eth-mainnet.example.com/v3/secret-key/getNFTMetadata", nil)
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body)), Request: req}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		body string
		want provider.Status
	}{
		{"ok", http.StatusOK, `{"name":"ape"}`, provider.StatusSuccess},
		{"blank", http.StatusOK, "  ", provider.StatusEmpty},
		{"null", http.StatusOK, "null", provider.StatusEmpty},
		{"empty object", http.StatusOK, "{}", provider.StatusEmpty},
		{"empty array", http.StatusOK, " [] ", provider.StatusEmpty},
		{"no content", http.StatusNoContent, "", provider.StatusEmpty},
		{"not found", http.StatusNotFound, `{"error":"token not found"}`, provider.StatusEmpty},
		{"rate limited", http.StatusTooManyRequests, "slow down", provider.StatusTransient},
		{"request timeout", http.StatusRequestTimeout, "", provider.StatusTransient},
		{"bad gateway", http.StatusBadGateway, "", provider.StatusTransient},
		{"unavailable", http.StatusServiceUnavailable, "", provider.StatusTransient},
		{"bad request", http.StatusBadRequest, "invalid address", provider.StatusFatal},
		{"unauthorized", http.StatusUnauthorized, "bad key", provider.StatusFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := httpx.Classify(response(tc.code, tc.body), nil)
			require.Equal(t, tc.want, res.Status)
			if tc.want == provider.StatusSuccess {
				require.Equal(t, tc.body, string(res.Payload))
			}
		})
	}
}

func TestClassifyStatusErrorHidesPath(t *testing.T) {
	t.Parallel()

	res := httpx.Classify(response(http.StatusForbidden, "nope"), nil)

	var serr *httpx.StatusError
	require.ErrorAs(t, res.Err(), &serr)
	require.Equal(t, http.StatusForbidden, serr.Code)
	require.Equal(t, "eth-mainnet.example.com", serr.Host)
	require.NotContains(t, res.Err().Error(), "secret-key")
	require.ErrorIs(t, res.Err(), provider.ErrFatal)
}

func TestClassifyTransportErrorHidesPath(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	// Act
	resp, err := http.Get(srv.URL + "/eth-mainnet/nft/v3/secret-key/getNFTMetadata?contractAddress=0xabc")
	res := httpx.Classify(resp, err)

	// Assert
	require.Equal(t, provider.StatusTransient, res.Status)
	require.NotContains(t, res.Err().Error(), "secret-key")
	require.NotContains(t, res.Err().Error(), "contractAddress")
	require.Contains(t, res.Err().Error(), addr)

	var uerr *httpx.URLError
	require.ErrorAs(t, res.Err(), &uerr)
	require.Equal(t, "Get", uerr.Op)
	require.Equal(t, addr, uerr.Host)
	var opErr *net.OpError
	require.ErrorAs(t, res.Err(), &opErr)
}

func TestRedactKeepsContextErrors(t *testing.T) {
	t.Parallel()

	err := httpx.Redact(&url.Error{Op: "Post", URL: "https://eth.example/v2/secret-key", Err: context.DeadlineExceeded})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, "Post eth.example: context deadline exceeded", err.Error())

	plain := errors.New("boom")
	require.Equal(t, plain, httpx.Redact(plain))
}

func TestClassifyNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	res := httpx.Classify(nil, errors.New("connection reset by peer"))
	require.Equal(t, provider.StatusTransient, res.Status)

	res = httpx.Classify(nil, context.Canceled)
	require.ErrorIs(t, res.Err(), context.Canceled)
}

func TestClientDoSetsDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "chainfetch/1.0", r.Header.Get("User-Agent"))
		require.Equal(t, "k", r.Header.Get("X-API-Key"))
		require.Equal(t, "own", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := httpx.New(time.Second)
	c.Headers = map[string]string{"X-API-Key": "k", "Accept": "application/json"}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "own")

	res := httpx.Classify(c.Do(t.Context(), req))
	require.True(t, res.OK())
	require.JSONEq(t, `{"ok":true}`, string(res.Payload))
}

func TestClientDoHonoursContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	res := httpx.Classify(httpx.New(5*time.Second).Do(ctx, req))
	require.Equal(t, provider.StatusTransient, res.Status)
}
