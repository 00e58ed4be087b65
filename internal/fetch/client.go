package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

// maxRedirects bounds redirect chains so a redirect loop cannot stall a crawl.
const maxRedirects = 10

// clientConfig collects NewClient options.
type clientConfig struct {
	proxyAddress   string
	maxIdlePerHost int
}

// ClientOption configures NewClient.
type ClientOption func(*clientConfig)

// WithProxy routes all connections through the SOCKS5 proxy at address
// ("host:port"). An empty address means a direct connection.
func WithProxy(address string) ClientOption {
	return func(c *clientConfig) {
		c.proxyAddress = address
	}
}

// WithMaxIdleConnsPerHost sets the idle connection pool size per host.
// It should match the number of concurrent workers talking to one site.
func WithMaxIdleConnsPerHost(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxIdlePerHost = n
		}
	}
}

// NewClient creates an *http.Client for crawling.
//
// Design decisions:
//   - A cookie jar backed by the public suffix list keeps session cookies set
//     by the site (e.g. after a redirect) without leaking them across domains
//   - Redirects are limited to maxRedirects
//   - timeout applies to each request including reading the body, so it must
//     be generous enough for the largest expected document
func NewClient(timeout time.Duration, opts ...ClientOption) (*http.Client, error) {
	cfg := clientConfig{maxIdlePerHost: 4}
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.maxIdlePerHost
	transport.IdleConnTimeout = 30 * time.Second

	if cfg.proxyAddress != "" {
		if !isValidProxyAddress(cfg.proxyAddress) {
			return nil, ErrInvalidProxyAddress
		}
		dialer, err := proxy.SOCKS5("tcp", cfg.proxyAddress, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		transport.DialContext = contextDialer(dialer)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

// contextDialer adapts a proxy.Dialer to the DialContext signature.
// The x/net SOCKS5 dialer supports contexts natively; other dialers fall back
// to a plain Dial.
func contextDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

// isValidProxyAddress checks that address is "host:port" with a port in 1..65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}
