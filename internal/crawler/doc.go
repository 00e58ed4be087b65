// Package crawler discovers documents on a website.
//
// # Architecture
//
// The Engine walks a site from a seed page. For each page it extracts the
// links inside a CSS scope and evaluates two independent policies:
//
//   - the select policy decides whether a link is collected as a result
//     (by default: its path ends in ".pdf")
//   - the recurse policy decides whether a link is fetched and expanded
//     (by default: Subsite containment below the seed)
//
// The crawl is bounded by a maximum depth counted in hops from the seed.
// At depth 0 only the seed is fetched and scanned.
//
// # Components
//
//   - Engine: coordinates the crawl and runs page visits in parallel
//   - State: the visited set and the frontier of one crawl
//   - Policy: predicates over URLs, composable with AllOf, AnyOf and Not
//
// # Failures
//
// A page that cannot be fetched ends its branch only. It is recorded as a
// transport_error outcome and its siblings are still crawled. The single
// exception is the seed: without it nothing can be crawled, so Crawl returns
// ErrSeedFetch.
//
// # Usage
//
//	engine := crawler.NewEngine(fetcher,
//		crawler.WithScopeSelector("div#content"),
//		crawler.WithMaxDepth(2),
//	)
//	result, err := engine.Crawl(ctx, "https://example.edu/dept/")
package crawler
