package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/nao1215/harvest/internal/extract"
	"github.com/nao1215/harvest/internal/fetch"
	"github.com/nao1215/harvest/internal/metrics"
	"github.com/nao1215/harvest/internal/model"
)

const (
	// DefaultMaxDepth is the default number of hops followed from the seed.
	DefaultMaxDepth = 20

	// DefaultConcurrency is the default number of pages fetched in parallel.
	DefaultConcurrency = 4

	// DefaultMaxBodySize limits how much of a page is read for links.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB
)

var (
	// ErrSeedFetch is returned when the seed page itself cannot be fetched.
	// Without it there is no page to crawl from, so the crawl is aborted.
	ErrSeedFetch = errors.New("failed to fetch seed page")

	// ErrInvalidSeed is returned when the seed is not an absolute http(s) URL.
	ErrInvalidSeed = errors.New("invalid seed URL")
)

// Engine crawls a site from a seed page, following links that pass the
// recurse policy and collecting links that pass the select policy.
//
// Design decision: the traversal uses an explicit worklist owned by a single
// coordinator goroutine instead of recursion. Deep or cyclic sites cannot grow
// the call stack, and only the coordinator claims URLs and schedules visits,
// so page fetches can run in parallel while every URL is fetched once.
type Engine struct {
	// fetcher performs page requests. Session cookies and politeness are
	// its concern.
	fetcher fetch.Fetcher

	// maxDepth limits how many hops from the seed are expanded.
	// 0 means only the seed page is fetched and scanned.
	maxDepth int

	// maxPages limits the number of pages fetched. 0 means unlimited.
	maxPages int

	// concurrency is the number of page visits in flight.
	concurrency int

	// maxBodySize limits the bytes read from each page.
	maxBodySize int64

	// selector is the CSS selector of the link scope.
	selector string

	// selectPolicy decides which links are collected as results.
	selectPolicy Policy

	// recursePolicy decides which links are fetched and expanded.
	// nil means Subsite of the root.
	recursePolicy Policy

	// root overrides the seed as the subsite root of the default
	// recurse policy.
	root *url.URL

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the maximum crawl depth.
// 0 = only the seed page, 1 = the seed plus the pages it links to, etc.
// Negative values are treated as 0.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = max(depth, 0)
	}
}

// WithMaxPages sets the maximum number of pages to fetch. 0 means unlimited.
func WithMaxPages(maxPages int) Option {
	return func(e *Engine) {
		e.maxPages = max(maxPages, 0)
	}
}

// WithConcurrency sets the number of pages fetched in parallel.
// With 1 the crawl is strictly depth-first.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMaxBodySize sets the maximum number of bytes read from a page.
func WithMaxBodySize(size int64) Option {
	return func(e *Engine) {
		if size > 0 {
			e.maxBodySize = size
		}
	}
}

// WithScopeSelector sets the CSS selector of the elements whose links are
// considered, e.g. "div#content".
func WithScopeSelector(selector string) Option {
	return func(e *Engine) {
		e.selector = selector
	}
}

// WithSelectPolicy sets the policy deciding which links are collected.
func WithSelectPolicy(p Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.selectPolicy = p
		}
	}
}

// WithRecursePolicy sets the policy deciding which links are followed.
// It replaces the default subsite containment entirely.
func WithRecursePolicy(p Policy) Option {
	return func(e *Engine) {
		e.recursePolicy = p
	}
}

// WithRoot sets the subsite root used by the default recurse policy instead
// of the seed. It lets a crawl start deep inside a site while following
// links anywhere below root.
func WithRoot(root *url.URL) Option {
	return func(e *Engine) {
		e.root = root
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a new Engine that fetches pages with fetcher.
func NewEngine(fetcher fetch.Fetcher, opts ...Option) *Engine {
	e := &Engine{
		fetcher:      fetcher,
		maxDepth:     DefaultMaxDepth,
		concurrency:  DefaultConcurrency,
		maxBodySize:  DefaultMaxBodySize,
		selector:     extract.DefaultSelector,
		selectPolicy: SuffixPolicy(".pdf"),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	return e
}

// Crawl crawls from seed and returns the links collected on every page.
//
// Only a failure to fetch the seed is returned as an error (ErrSeedFetch).
// Failures on other pages end that branch and are recorded in
// Result.Failures. When ctx is cancelled no new page is scheduled, pages in
// flight are drained, and the partial result is returned with Cancelled set.
func (e *Engine) Crawl(ctx context.Context, seed string) (*Result, error) {
	u, _, err := model.ParseURL(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	return e.Run(ctx, NewState(u))
}

// visitResult is what a page visit reports back to the coordinator.
type visitResult struct {
	task task

	// links are the in-scope links of the page; nil for non-HTML pages.
	links model.URLSet

	// err is a transport error, a *fetch.StatusError or a parse error.
	err error
}

// Run crawls from the frontier of state. Crawl is the usual entry point;
// Run lets a caller inspect state while or after the crawl runs.
func (e *Engine) Run(ctx context.Context, state *State) (*Result, error) {
	extractor, err := extract.Compile(e.selector)
	if err != nil {
		return nil, err
	}

	recurse := e.recursePolicy
	if recurse == nil {
		root := e.root
		if root == nil {
			root = state.seed
		}
		recurse = Subsite(root)
	}

	result := &Result{
		Seed:  state.Seed(),
		Pages: make(map[string]model.URLSet),
	}

	results := make(chan visitResult)
	inFlight := 0
	started := 0

	for {
		if ctx.Err() != nil {
			result.Cancelled = true
		}

		for !result.Cancelled && inFlight < e.concurrency {
			if e.maxPages > 0 && started >= e.maxPages {
				if state.Pending() > 0 && !result.Truncated {
					result.Truncated = true
					e.logger.Info("page limit reached", "max_pages", e.maxPages, "pending", state.Pending())
				}
				break
			}
			t, ok := state.pop()
			if !ok {
				break
			}
			started++
			inFlight++
			go func() {
				results <- e.visit(ctx, extractor, t)
			}()
		}
		e.metrics.SetFrontier(state.Pending())

		if inFlight == 0 {
			break
		}

		v := <-results
		inFlight--

		if v.err != nil {
			if v.task.depth == 0 {
				// The seed is alone in flight until its links are known.
				return nil, fmt.Errorf("%w %s: %w", ErrSeedFetch, v.task.key, v.err)
			}
			if ctx.Err() != nil && errors.Is(v.err, ctx.Err()) {
				// Interrupted by cancellation; the page itself is fine.
				result.Cancelled = true
				continue
			}
			failure := crawlFailure(v.task.key, v.err)
			e.logger.Warn("page fetch failed", "url", v.task.key, "depth", v.task.depth, "reason", failure.Detail())
			e.metrics.ObserveOutcome(failure)
			result.Failures = append(result.Failures, failure)
			continue
		}

		e.expand(state, result, recurse, v)
	}

	result.Visited = state.Visited()
	slices.SortFunc(result.Failures, func(a, b model.Outcome) int {
		return strings.Compare(a.URL, b.URL)
	})

	return result, nil
}

// expand records the selected links of a visited page and pushes its
// recurse-eligible links onto the frontier.
func (e *Engine) expand(state *State, result *Result, recurse Policy, v visitResult) {
	selected := model.NewURLSet()
	result.Pages[v.task.key] = selected
	e.metrics.PageCrawled()

	if v.links == nil {
		return
	}

	links := v.links.Sorted()
	var next []task
	depthExhausted := 0

	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}

		if e.selectPolicy.Allow(u) {
			selected.Add(link)
		}

		if !recurse.Allow(u) || state.IsVisited(link) {
			continue
		}
		if v.task.depth >= e.maxDepth {
			depthExhausted++
			continue
		}
		if state.Claim(link) {
			next = append(next, task{url: u, key: link, depth: v.task.depth + 1})
		}
	}

	if depthExhausted > 0 {
		e.logger.Debug("depth limit reached, not following links",
			"url", v.task.key, "depth", v.task.depth, "links", depthExhausted)
	}

	// Push in reverse so the first link in document order is popped first.
	for i := len(next) - 1; i >= 0; i-- {
		state.push(next[i])
	}

	e.logger.Debug("page scanned", "url", v.task.key, "depth", v.task.depth,
		"links", len(links), "selected", selected.Len(), "queued", len(next))
}

// visit fetches one page and extracts its in-scope links.
func (e *Engine) visit(ctx context.Context, extractor *extract.Extractor, t task) (v visitResult) {
	v.task = t
	defer func() {
		if r := recover(); r != nil {
			v.links = nil
			v.err = fmt.Errorf("panic while visiting page: %v", r)
		}
	}()

	resp, err := e.fetcher.Fetch(ctx, t.key)
	if err != nil {
		v.err = err
		return v
	}
	defer resp.Body.Close()

	if err := resp.Err(); err != nil {
		v.err = err
		return v
	}

	if mt := resp.MediaType(); mt != "" && !isHTML(mt) {
		// Documents reached through the recurse policy are recorded but
		// not parsed.
		v.links = nil
		return v
	}

	base := t.url
	if final, err := url.Parse(resp.URL); err == nil && final.Host != "" {
		base = final
	}

	links, err := extractor.Extract(io.LimitReader(resp.Body, e.maxBodySize), resp.Header.Get("Content-Type"), base)
	if err != nil {
		v.err = err
		return v
	}
	v.links = links
	return v
}

// crawlFailure converts a page visit error into a transport_error outcome.
func crawlFailure(pageURL string, err error) model.Outcome {
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		return model.TransportError(pageURL, model.SourceCrawl, statusErr.StatusCode, statusErr.Reason)
	}
	return model.TransportError(pageURL, model.SourceCrawl, 0, err.Error())
}

// isHTML reports whether mediaType is an HTML document type.
func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
