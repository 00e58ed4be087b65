package model

import (
	"sort"
	"time"
)

// Summary is the aggregated view of a batch of outcomes.
// It is a plain data structure handed to report writers and the history
// database; building it performs no I/O.
type Summary struct {
	// Seed is the URL the crawl started from.
	Seed string `json:"seed"`

	// GeneratedAt is when the summary was taken. NewSummary leaves it zero;
	// Run.Summarize stamps it.
	GeneratedAt time.Time `json:"generated_at"`

	// Saved is the number of documents written to disk.
	Saved int `json:"saved"`

	// AlreadyPresent is the number of documents skipped because the local
	// copy is current.
	AlreadyPresent int `json:"already_present"`

	// WrongContentType is the number of responses with an unexpected media type.
	WrongContentType int `json:"wrong_content_type"`

	// Errors is the number of transport errors, from the crawl and download
	// phases combined.
	Errors int `json:"errors"`

	// Problems lists every outcome that is not OutcomeSaved, sorted by URL so
	// that failures are actionable without re-running.
	Problems []Outcome `json:"problems"`

	// SavedURLs lists the URLs of saved documents in lexical order.
	SavedURLs []string `json:"saved_urls"`
}

// NewSummary partitions outcomes into per-kind counts. The result depends
// only on its arguments.
func NewSummary(seed string, outcomes []Outcome) *Summary {
	s := &Summary{
		Seed:      seed,
		Problems:  make([]Outcome, 0),
		SavedURLs: make([]string, 0),
	}

	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeSaved:
			s.Saved++
			s.SavedURLs = append(s.SavedURLs, o.URL)
			continue
		case OutcomeAlreadyPresent:
			s.AlreadyPresent++
		case OutcomeWrongContentType:
			s.WrongContentType++
		case OutcomeTransportError:
			s.Errors++
		}
		s.Problems = append(s.Problems, o)
	}

	sort.Strings(s.SavedURLs)
	sort.SliceStable(s.Problems, func(i, j int) bool {
		if s.Problems[i].URL != s.Problems[j].URL {
			return s.Problems[i].URL < s.Problems[j].URL
		}
		return s.Problems[i].Kind < s.Problems[j].Kind
	})

	return s
}

// Total returns the number of outcomes the summary was built from.
func (s *Summary) Total() int {
	return s.Saved + s.AlreadyPresent + s.WrongContentType + s.Errors
}

// HasErrors reports whether any transport error was recorded.
func (s *Summary) HasErrors() bool {
	return s.Errors > 0
}

// ProblemsOf returns the non-saved outcomes of the given kind.
func (s *Summary) ProblemsOf(kind OutcomeKind) []Outcome {
	out := make([]Outcome, 0)
	for _, o := range s.Problems {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// CountedKinds lists the outcome kinds in report order.
var CountedKinds = []OutcomeKind{
	OutcomeSaved,
	OutcomeAlreadyPresent,
	OutcomeWrongContentType,
	OutcomeTransportError,
}

// Counts returns the per-kind counts keyed by kind name.
func (s *Summary) Counts() map[string]int {
	return map[string]int{
		OutcomeSaved.String():            s.Saved,
		OutcomeAlreadyPresent.String():   s.AlreadyPresent,
		OutcomeWrongContentType.String(): s.WrongContentType,
		OutcomeTransportError.String():   s.Errors,
	}
}
