package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoSeed is returned when no seed URL is given.
	ErrNoSeed = errors.New("no seed specified: provide one or more seed URLs")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidCrawlTimeout is returned when the crawl timeout is negative.
	// Use 0 for no overall limit.
	ErrInvalidCrawlTimeout = errors.New("invalid crawl timeout: must be non-negative")

	// ErrInvalidCrawlDepth is returned when the crawl depth is negative.
	ErrInvalidCrawlDepth = errors.New("invalid crawl depth: must be non-negative")

	// ErrInvalidMaxPages is returned when the page limit is negative.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be non-negative")

	// ErrInvalidWorkers is returned when the crawl concurrency is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrInvalidDownloads is returned when the download concurrency is not
	// positive.
	ErrInvalidDownloads = errors.New("invalid downloads: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrNoSuffix is returned when no document suffix is configured.
	// Without one nothing would ever be selected.
	ErrNoSuffix = errors.New("no suffix specified: at least one document suffix is required")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidRate is returned when the request rate is negative.
	ErrInvalidRate = errors.New("invalid requests per second: must be non-negative")

	// ErrInvalidRoot is returned when a crawl root is not an absolute http(s)
	// URL.
	ErrInvalidRoot = errors.New("invalid root: must be an absolute http or https URL")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")
)
