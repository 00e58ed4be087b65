package crawler

import (
	"github.com/nao1215/harvest/internal/model"
)

// Result is the outcome of a crawl.
type Result struct {
	// Seed is the normalized seed URL.
	Seed string

	// Pages maps every successfully fetched page to the links on it that
	// passed the select policy. A page with no such links maps to an
	// empty set.
	Pages map[string]model.URLSet

	// Failures holds one transport_error outcome per page that could not be
	// fetched, sorted by URL.
	Failures []model.Outcome

	// Visited lists every URL claimed during the crawl, in lexical order.
	Visited []string

	// Cancelled is set when the context ended before the frontier was empty.
	Cancelled bool

	// Truncated is set when the page limit stopped the crawl early.
	Truncated bool
}

// Stats contains crawl statistics.
type Stats struct {
	// Pages is the number of pages fetched and scanned.
	Pages int

	// Visited is the number of unique URLs claimed.
	Visited int

	// Failures is the number of pages that could not be fetched.
	Failures int

	// Selected is the number of unique links collected.
	Selected int
}

// Selected returns the union of the links collected on every page.
func (r *Result) Selected() model.URLSet {
	all := model.NewURLSet()
	for _, links := range r.Pages {
		all.Merge(links)
	}
	return all
}

// Stats returns the crawl statistics.
func (r *Result) Stats() Stats {
	return Stats{
		Pages:    len(r.Pages),
		Visited:  len(r.Visited),
		Failures: len(r.Failures),
		Selected: r.Selected().Len(),
	}
}
