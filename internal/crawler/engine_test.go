package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/harvest/internal/extract"
	"github.com/nao1215/harvest/internal/fetch"
	"github.com/nao1215/harvest/internal/model"
)

// fakePage is a canned response of fakeFetcher.
type fakePage struct {
	status      int
	contentType string
	body        string
}

// fakeFetcher serves pages from memory and counts requests per URL.
type fakeFetcher struct {
	pages   map[string]fakePage
	onFetch func(rawURL string)

	mu     sync.Mutex
	counts map[string]int
}

func newFakeFetcher(pages map[string]fakePage) *fakeFetcher {
	return &fakeFetcher{pages: pages, counts: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Response, error) {
	f.mu.Lock()
	f.counts[rawURL]++
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(rawURL)
	}

	page, ok := f.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("dial tcp: lookup %s: no such host", rawURL)
	}
	if page.status == 0 {
		page.status = http.StatusOK
	}
	if page.contentType == "" {
		page.contentType = "text/html; charset=utf-8"
	}

	header := make(http.Header)
	header.Set("Content-Type", page.contentType)
	return &fetch.Response{
		URL:        rawURL,
		StatusCode: page.status,
		Reason:     http.StatusText(page.status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(page.body)),
	}, nil
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[rawURL]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

// deptSite builds the example department site rooted at base.
func deptSite(base string) map[string]fakePage {
	return map[string]fakePage{
		base + "/dept/": {body: `<html><body>
			<div id="nav"><a href="/news/index.html">News</a><a href="/dept/nav.pdf">Nav</a></div>
			<div id="content">
				<a href="page-b.html">Page B</a>
				<a href="report.pdf">Report</a>
				<a href="/dept/">Home</a>
			</div></body></html>`},
		base + "/dept/page-b.html": {body: `<html><body><div id="content">
			<a href="/dept/">Back</a>
			<a href="sub/">Sub</a>
			<a href="b.pdf">B</a>
		</div></body></html>`},
		base + "/dept/sub/": {body: `<html><body><div id="content">
			<a href="deep/">Deep</a>
			<a href="c.pdf">C</a>
			<a href="/dept/page-b.html">B again</a>
		</div></body></html>`},
		base + "/dept/sub/deep/":  {body: `<div id="content"><a href="d.pdf">D</a></div>`},
		base + "/news/index.html": {body: `<a href="news.pdf">news</a>`},
	}
}

func setOf(urls ...string) model.URLSet {
	return model.NewURLSet(urls...)
}

func assertPages(t *testing.T, got map[string]model.URLSet, want map[string]model.URLSet) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("expected %d pages, got %d: %v", len(want), len(got), got)
	}
	for page, links := range want {
		gotLinks, ok := got[page]
		if !ok {
			t.Errorf("expected page %s in result", page)
			continue
		}
		if !reflect.DeepEqual(gotLinks.Sorted(), links.Sorted()) {
			t.Errorf("page %s: got %v, want %v", page, gotLinks.Sorted(), links.Sorted())
		}
	}
}

// TestEngineCrawl tests the crawl traversal.
func TestEngineCrawl(t *testing.T) {
	t.Parallel()

	const base = "https://example.edu"

	t.Run("department scenario with depth 2", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(deptSite(base))
		engine := NewEngine(f, WithScopeSelector("div#content"), WithMaxDepth(2), WithConcurrency(1))

		result, err := engine.Crawl(context.Background(), base+"/dept/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertPages(t, result.Pages, map[string]model.URLSet{
			base + "/dept/":            setOf(base + "/dept/report.pdf"),
			base + "/dept/page-b.html": setOf(base + "/dept/b.pdf"),
			base + "/dept/sub/":        setOf(base + "/dept/sub/c.pdf"),
		})

		if f.count(base+"/dept/sub/deep/") != 0 {
			t.Error("expected page beyond max depth not to be fetched")
		}
		if f.count(base+"/news/index.html") != 0 {
			t.Error("expected navigation outside the scope not to be followed")
		}
		if f.count(base+"/dept/report.pdf") != 0 {
			t.Error("expected selected document not to be fetched by the crawl")
		}
		if len(result.Failures) != 0 {
			t.Errorf("expected no failures, got %v", result.Failures)
		}
		if result.Cancelled || result.Truncated {
			t.Error("expected complete crawl")
		}
	})

	t.Run("max depth 0 scans only the seed", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(deptSite(base))
		engine := NewEngine(f, WithScopeSelector("div#content"), WithMaxDepth(0))

		result, err := engine.Crawl(context.Background(), base+"/dept/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if f.total() != 1 {
			t.Errorf("expected exactly 1 fetch, got %d", f.total())
		}
		assertPages(t, result.Pages, map[string]model.URLSet{
			base + "/dept/": setOf(base + "/dept/report.pdf"),
		})
		if !reflect.DeepEqual(result.Visited, []string{base + "/dept/"}) {
			t.Errorf("expected only the seed visited, got %v", result.Visited)
		}
	})

	t.Run("failed page ends only its branch", func(t *testing.T) {
		t.Parallel()

		site := deptSite(base)
		site[base+"/dept/page-b.html"] = fakePage{status: http.StatusNotFound, body: "not found"}
		f := newFakeFetcher(site)
		engine := NewEngine(f, WithScopeSelector("div#content"), WithMaxDepth(2))

		result, err := engine.Crawl(context.Background(), base+"/dept/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertPages(t, result.Pages, map[string]model.URLSet{
			base + "/dept/": setOf(base + "/dept/report.pdf"),
		})

		if len(result.Failures) != 1 {
			t.Fatalf("expected 1 failure, got %d: %v", len(result.Failures), result.Failures)
		}
		failure := result.Failures[0]
		if failure.URL != base+"/dept/page-b.html" {
			t.Errorf("expected failure for page-b.html, got %s", failure.URL)
		}
		if failure.Kind != model.OutcomeTransportError || failure.Source != model.SourceCrawl {
			t.Errorf("expected crawl transport_error, got %s/%s", failure.Kind, failure.Source)
		}
		if failure.StatusCode != http.StatusNotFound || failure.Reason != "Not Found" {
			t.Errorf("expected 404 Not Found, got %d %q", failure.StatusCode, failure.Reason)
		}
	})

	t.Run("transport failure on a sibling keeps the rest", func(t *testing.T) {
		t.Parallel()

		site := map[string]fakePage{
			base + "/":       {body: `<a href="a.html">a</a><a href="gone.html">gone</a><a href="x.pdf">x</a>`},
			base + "/a.html": {body: `<a href="y.pdf">y</a>`},
		}
		f := newFakeFetcher(site)
		engine := NewEngine(f, WithConcurrency(2))

		result, err := engine.Crawl(context.Background(), base+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		selected := result.Selected()
		if !selected.Has(base+"/x.pdf") || !selected.Has(base+"/y.pdf") {
			t.Errorf("expected both documents, got %v", selected.Sorted())
		}
		if len(result.Failures) != 1 || result.Failures[0].StatusCode != 0 {
			t.Errorf("expected one connection failure, got %v", result.Failures)
		}
	})

	t.Run("seed failure is fatal", func(t *testing.T) {
		t.Parallel()

		site := map[string]fakePage{base + "/": {status: http.StatusInternalServerError}}
		engine := NewEngine(newFakeFetcher(site))

		result, err := engine.Crawl(context.Background(), base+"/")
		if !errors.Is(err, ErrSeedFetch) {
			t.Fatalf("expected ErrSeedFetch, got %v", err)
		}
		var statusErr *fetch.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected wrapped status error, got %v", err)
		}
		if result != nil {
			t.Error("expected no result")
		}
	})

	t.Run("invalid seed", func(t *testing.T) {
		t.Parallel()

		engine := NewEngine(newFakeFetcher(nil))
		if _, err := engine.Crawl(context.Background(), "ftp://example.edu/"); !errors.Is(err, ErrInvalidSeed) {
			t.Errorf("expected ErrInvalidSeed, got %v", err)
		}
	})

	t.Run("invalid selector", func(t *testing.T) {
		t.Parallel()

		engine := NewEngine(newFakeFetcher(nil), WithScopeSelector("div["))
		if _, err := engine.Crawl(context.Background(), base+"/"); !errors.Is(err, extract.ErrInvalidSelector) {
			t.Errorf("expected ErrInvalidSelector, got %v", err)
		}
	})

	t.Run("non-html page is recorded but not parsed", func(t *testing.T) {
		t.Parallel()

		site := map[string]fakePage{
			base + "/":         {body: `<a href="doc.html">doc</a>`},
			base + "/doc.html": {contentType: "application/pdf", body: `<a href="hidden.pdf">x</a>`},
		}
		engine := NewEngine(newFakeFetcher(site))

		result, err := engine.Crawl(context.Background(), base+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		links, ok := result.Pages[base+"/doc.html"]
		if !ok {
			t.Fatal("expected non-html page to be recorded")
		}
		if links.Len() != 0 {
			t.Errorf("expected empty set, got %v", links.Sorted())
		}
	})

	t.Run("select and recurse are independent", func(t *testing.T) {
		t.Parallel()

		site := map[string]fakePage{
			base + "/":          {body: `<a href="list.html">list</a>`},
			base + "/list.html": {body: `<a href="a.pdf">a</a>`},
		}
		engine := NewEngine(newFakeFetcher(site),
			WithSelectPolicy(AnyOf(SuffixPolicy(".pdf"), SuffixPolicy(".html"))),
		)

		result, err := engine.Crawl(context.Background(), base+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertPages(t, result.Pages, map[string]model.URLSet{
			base + "/":          setOf(base + "/list.html"),
			base + "/list.html": setOf(base + "/a.pdf"),
		})
	})

	t.Run("root overrides containment", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(deptSite(base))
		engine := NewEngine(f,
			WithScopeSelector("div#content"),
			WithRoot(mustURL(t, base+"/dept/")),
		)

		result, err := engine.Crawl(context.Background(), base+"/dept/sub/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, ok := result.Pages[base+"/dept/page-b.html"]; !ok {
			t.Errorf("expected page outside the seed directory but inside root, got %v", result.Visited)
		}
	})

	t.Run("max pages truncates the crawl", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(deptSite(base))
		engine := NewEngine(f, WithScopeSelector("div#content"), WithMaxPages(2), WithConcurrency(1))

		result, err := engine.Crawl(context.Background(), base+"/dept/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if f.total() != 2 {
			t.Errorf("expected 2 fetches, got %d", f.total())
		}
		if !result.Truncated {
			t.Error("expected Truncated to be set")
		}
	})

	t.Run("cancellation stops scheduling", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := newFakeFetcher(deptSite(base))
		f.onFetch = func(rawURL string) {
			if rawURL == base+"/dept/" {
				cancel()
			}
		}
		engine := NewEngine(f, WithScopeSelector("div#content"))

		result, err := engine.Crawl(ctx, base+"/dept/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !result.Cancelled {
			t.Error("expected Cancelled to be set")
		}
		if f.total() != 1 {
			t.Errorf("expected no fetch after cancellation, got %d", f.total())
		}
		if _, ok := result.Pages[base+"/dept/"]; !ok {
			t.Error("expected the seed page in the partial result")
		}
	})
}

// TestEngineDedup tests that no URL is fetched twice, even with many
// cross-linked pages and parallel visits.
func TestEngineDedup(t *testing.T) {
	t.Parallel()

	const base = "https://example.edu"
	const n = 30

	site := make(map[string]fakePage, n)
	for i := range n {
		var body strings.Builder
		for j := range n {
			fmt.Fprintf(&body, `<a href="/p%d.html">%d</a><a href="/p%d.html#frag">%d</a>`, j, j, (i+j)%n, j)
		}
		fmt.Fprintf(&body, `<a href="/doc%d.pdf">doc</a><a href="/">home</a>`, i)
		site[fmt.Sprintf("%s/p%d.html", base, i)] = fakePage{body: body.String()}
	}
	site[base+"/"] = fakePage{body: `<a href="/p0.html">start</a>`}

	for _, workers := range []int{1, 8} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			t.Parallel()

			f := newFakeFetcher(site)
			engine := NewEngine(f, WithConcurrency(workers))

			result, err := engine.Crawl(context.Background(), base+"/")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			for url, c := range f.counts {
				if c != 1 {
					t.Errorf("%s fetched %d times", url, c)
				}
			}
			if f.total() != n+1 {
				t.Errorf("expected %d fetches, got %d", n+1, f.total())
			}

			seen := make(map[string]bool)
			for _, v := range result.Visited {
				if seen[v] {
					t.Errorf("%s visited twice", v)
				}
				seen[v] = true
			}

			stats := result.Stats()
			if stats.Pages != n+1 || stats.Selected != n || stats.Failures != 0 {
				t.Errorf("unexpected stats: %+v", stats)
			}
		})
	}
}

// TestEngineHTTP runs the crawl against a real HTTP server.
func TestEngineHTTP(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := make(map[string]int)

	mux := http.NewServeMux()
	mux.HandleFunc("/dept/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()

		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path != "/dept/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<div id="content"><a href="page-b.html">B</a><a href="report.pdf">R</a></div>`)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	engine := NewEngine(fetch.NewHTTPFetcher(server.Client()), WithScopeSelector("div#content"), WithMaxDepth(2))
	result, err := engine.Crawl(context.Background(), server.URL+"/dept/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertPages(t, result.Pages, map[string]model.URLSet{
		server.URL + "/dept/": setOf(server.URL + "/dept/report.pdf"),
	})
	if len(result.Failures) != 1 || result.Failures[0].StatusCode != http.StatusNotFound {
		t.Errorf("expected one 404 failure, got %v", result.Failures)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits["/dept/report.pdf"] != 0 {
		t.Error("expected the crawl not to fetch selected documents")
	}
}
