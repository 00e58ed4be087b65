// Package fetch performs single HTTP GET requests for the crawler and the
// downloader.
//
// # Components
//
//   - Fetcher: the interface both the crawler and the downloader depend on
//   - HTTPFetcher: the net/http implementation with session headers, politeness
//     limits and metrics
//   - NewClient: builds an *http.Client with a cookie jar and an optional SOCKS5
//     proxy
//   - HostLimiter: per-host token bucket plus minimum delay between requests
//
// # Sessions
//
// The package never logs in. An external collaborator produces the cookies and
// headers of an authenticated session and hands them over as a Session, which
// is applied to every request.
//
// # Usage
//
//	client, err := fetch.NewClient(30*time.Second, fetch.WithProxy("127.0.0.1:9050"))
//	f := fetch.NewHTTPFetcher(client, fetch.WithSession(session))
//	resp, err := f.Fetch(ctx, "https://example.edu/dept/")
package fetch
