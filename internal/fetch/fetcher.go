package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/harvest/internal/metrics"
)

// DefaultUserAgent identifies harvest in HTTP requests.
const DefaultUserAgent = "harvest/1.0 (+https://github.com/nao1215/harvest)"

// Fetcher performs a single HTTP GET.
//
// A non-2xx status is not an error at this level: the Response is returned so
// the caller can classify it. The error return is reserved for transport
// failures (DNS, connection, timeout, cancelled context).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
}

// Response is the structured result of a fetch.
// The caller owns Body and must close it.
type Response struct {
	// URL is the final URL after redirects.
	URL string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Reason is the reason phrase of the status line.
	Reason string

	// Header holds the response headers.
	Header http.Header

	// Body streams the response body.
	Body io.ReadCloser
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns a *StatusError when the status is not 2xx, otherwise nil.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{URL: r.URL, StatusCode: r.StatusCode, Reason: r.Reason}
}

// MediaType returns the lower-cased media type of the Content-Type header
// without parameters, or "" when the header is absent.
func (r *Response) MediaType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		// Keep the part before ';' so a malformed parameter does not hide the type.
		mt, _, _ = strings.Cut(ct, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// HTTPFetcher implements Fetcher on top of an *http.Client.
type HTTPFetcher struct {
	// client performs the requests; it carries timeout, jar and proxy.
	client *http.Client

	// userAgent is the User-Agent header to send.
	userAgent string

	// session supplies cookies and headers from the session collaborator.
	session Session

	// limiter enforces politeness per host; nil disables it.
	limiter *HostLimiter

	// metrics records round trips; nil disables it.
	metrics *metrics.Metrics

	logger *slog.Logger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithSession applies the cookies and headers of an authenticated session.
func WithSession(s Session) Option {
	return func(f *HTTPFetcher) {
		f.session = s
	}
}

// WithLimiter sets the per-host politeness limiter.
func WithLimiter(l *HostLimiter) Option {
	return func(f *HTTPFetcher) {
		f.limiter = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *HTTPFetcher) {
		f.metrics = m
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher creates an HTTPFetcher. When client is nil, http.DefaultClient
// is used.
func NewHTTPFetcher(client *http.Client, opts ...Option) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &HTTPFetcher{
		client:    client,
		userAgent: DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = slog.Default()
	}

	return f
}

// Fetch issues a GET for rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	f.session.apply(req)

	if err := f.limiter.Wait(ctx, req.URL.Host); err != nil {
		return nil, err
	}

	f.logger.Debug("fetching", "url", rawURL, "request_headers", req.Header)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ObserveFetch(0, time.Since(start))
		return nil, err
	}
	f.metrics.ObserveFetch(resp.StatusCode, time.Since(start))

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// reasonPhrase extracts the reason phrase from the status line, falling back
// to the standard text when the server sent none.
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
