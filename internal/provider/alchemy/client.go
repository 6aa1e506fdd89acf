package alchemy

import (
	"errors"
	"net/http"
	"strings"
)

// defaultBaseURL is expanded per request; {network} becomes the canonical
// chain name (eth-mainnet, polygon-mainnet ...), which Alchemy uses as its
// subdomain.
const defaultBaseURL = "https://{network}.g.alchemy.com"

// ErrMissingAPIKey is returned by NewClient when no key is given.
var ErrMissingAPIKey = errors.New("alchemy: missing api key")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alchemy_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Alchemy NFT and token APIs.
type Client struct {
	// name is reported by Name and used in error messages.
	name string
	// key is the API key. Alchemy takes it as a path segment.
	key string
	// baseURL may contain the {network} placeholder.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// Option is a configuration option for the Alchemy client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API. It may contain {network}.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithName overrides the provider name, "alchemy" by default.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// NewClient creates a new Alchemy client.
func NewClient(key string, options ...Option) (*Client, error) {
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	var client = &Client{
		name:       "alchemy",
		key:        key,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	client.header.Set("Accept", "application/json")
	for _, option := range options {
		option(client)
	}
	return client, nil
}

func (c *Client) Name() string { return c.name }

// url builds the request URL for network. path starts with a slash and
// excludes the key, which is inserted after the API prefix.
func (c *Client) url(network, prefix, path string) string {
	base := strings.ReplaceAll(c.baseURL, "{network}", network)
	return base + prefix + "/" + c.key + path
}
