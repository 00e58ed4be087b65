package model

import "time"

// Run carries the state of one harvest through the pipeline steps.
// Steps read what earlier steps produced and append their own results.
type Run struct {
	// Seed is the normalized seed URL.
	Seed string `json:"seed"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Pages maps each crawled page to the URLs it yielded that passed the
	// selection policy.
	Pages map[string]URLSet `json:"pages"`

	// Visited is the number of URLs claimed during the crawl.
	Visited int `json:"visited"`

	// Outcomes collects crawl failures and download outcomes in the order
	// they were produced.
	Outcomes []Outcome `json:"outcomes"`

	// DryRun skips downloading; the run then reports only the crawl.
	DryRun bool `json:"dry_run"`

	// TimedOut is set when the run context expired before all steps finished.
	TimedOut bool `json:"timed_out"`

	// Error holds the message of a fatal step error.
	Error string `json:"error,omitempty"`

	// PerformedSteps lists the names of the steps that ran.
	PerformedSteps []string `json:"performed_steps"`

	// Summary is filled in once all steps have run.
	Summary *Summary `json:"summary,omitempty"`
}

// NewRun creates a Run for the given seed.
func NewRun(seed string) *Run {
	return &Run{
		Seed:           seed,
		StartedAt:      time.Now(),
		Pages:          make(map[string]URLSet),
		Outcomes:       make([]Outcome, 0),
		PerformedSteps: make([]string, 0),
	}
}

// Selected returns every URL selected on any page, deduplicated and sorted.
func (r *Run) Selected() []string {
	all := NewURLSet()
	for _, set := range r.Pages {
		all.Merge(set)
	}
	return all.Sorted()
}

// Summarize builds the summary from the outcomes collected so far, stamps
// it with the current time and stores it on the run.
func (r *Run) Summarize() *Summary {
	r.Summary = NewSummary(r.Seed, r.Outcomes)
	r.Summary.GeneratedAt = time.Now()
	return r.Summary
}
