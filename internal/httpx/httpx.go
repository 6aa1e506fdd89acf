package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"chainfetch/internal/provider"
)

// MaxBody caps how much of a provider response is read.
const MaxBody = 8 << 20

// Client is a small wrapper around http.Client with sane defaults.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: "chainfetch/1.0"}
}

// Do sends req bound to ctx, filling in the user agent and default headers
// the request does not set itself.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req.WithContext(ctx))
}

// StatusError is the reason attached to non-2xx results. Only the host is
// kept since some providers carry the API key in the path.
type StatusError struct {
	Method string
	Host   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s -> %d: %s", e.Method, e.Host, e.Code, e.Body)
}

// Classify turns the outcome of an HTTP call into a provider result and
// closes the response body.
//
//	network error, timeout, 408, 425, 429, 5xx -> Transient
//	204, 404                                   -> Empty
//	other 4xx                                  -> Fatal
//	2xx with a blank, null, {} or [] body      -> Empty
//	other 2xx                                  -> Success(body)
func Classify(resp *http.Response, err error) provider.Result {
	if err != nil {
		err = Redact(err)
		if errors.Is(err, context.Canceled) {
			return provider.Transient(err)
		}
		return provider.Transientf("http: %w", err)
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	switch {
	case code == http.StatusNoContent || code == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return provider.Empty()
	case code >= 200 && code < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBody))
		if err != nil {
			return provider.Transientf("read body: %w", err)
		}
		if IsBlank(body) {
			return provider.Empty()
		}
		return provider.Success(body)
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
	serr := &StatusError{Code: code, Body: string(bytes.TrimSpace(b))}
	if resp.Request != nil {
		serr.Method = resp.Request.Method
		serr.Host = resp.Request.URL.Host
	}
	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code >= 500:
		return provider.Transient(serr)
	default:
		return provider.Fatal(serr)
	}
}

// URLError is a *url.Error reduced to its host. Providers carry API keys in
// paths and query strings, which must not end up in logs.
type URLError struct {
	Op   string
	Host string
	Err  error
}

func (e *URLError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err) }

func (e *URLError) Unwrap() error { return e.Err }

// Redact replaces a *url.Error found in err's chain with a URLError. Other
// errors are returned unchanged.
func Redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	var host string
	if u, perr := url.Parse(uerr.URL); perr == nil {
		host = u.Host
	}
	return &URLError{Op: uerr.Op, Host: host, Err: uerr.Err}
}

// IsBlank reports whether a JSON body carries no data.
func IsBlank(body []byte) bool {
	switch string(bytes.TrimSpace(body)) {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}
