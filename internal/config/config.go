package config

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/harvest/internal/fetch"
)

// Default configuration values.
const (
	// DefaultTimeout bounds each HTTP request. Document servers are usually
	// quick to answer, but large files on slow links need headroom.
	DefaultTimeout = 30 * time.Second

	// DefaultCrawlDepth is the number of hops followed from the seed.
	// Document indexes are rarely deeper than a handful of levels; 20 keeps
	// runaway sites in check without cutting real trees short.
	DefaultCrawlDepth = 20

	// DefaultScopeSelector considers every link of a page.
	DefaultScopeSelector = "html"

	// DefaultWorkers is the number of pages fetched in parallel.
	DefaultWorkers = 4

	// DefaultDownloads is the number of documents downloaded in parallel.
	DefaultDownloads = 4

	// DefaultBatchSize is the number of seeds harvested concurrently.
	// Every seed already runs its own workers, so this stays small.
	DefaultBatchSize = 2

	// DefaultMaxPages is the maximum number of pages crawled per seed.
	// 0 means unlimited; the depth limit and the subsite boundary bound
	// the crawl instead.
	DefaultMaxPages = 0

	// DefaultDestDir is the directory documents are saved below.
	DefaultDestDir = "."

	// DefaultMaxBodySize limits how much of a page is read for links.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultUserAgent identifies harvest in HTTP requests so operators can
	// recognize its traffic in their logs.
	DefaultUserAgent = fetch.DefaultUserAgent

	// AppName is the application name used for XDG directory paths.
	AppName = "harvest"
)

// DefaultSuffixes are the path suffixes of the documents collected by default.
var DefaultSuffixes = []string{".pdf"}

// DefaultContentTypes are the media types accepted for download by default.
var DefaultContentTypes = []string{"application/pdf"}

// Config holds all configuration options for harvest.
// This struct is populated from CLI flags and the .harvest file and passed
// through the application via dependency injection rather than global state.
//
// Design decision: We use a single flat struct instead of nested structs
// (e.g., CrawlConfig, DownloadConfig) for simplicity. Site-specific values
// live in SiteConfig and are merged in per seed.
type Config struct {
	// Seeds are the URLs the crawls start from.
	Seeds []string

	// Root overrides the seed as the subsite boundary of the crawl.
	// Empty means each seed is its own root.
	Root string

	// ScopeSelector is the CSS selector of the page region whose links
	// are considered.
	ScopeSelector string

	// Suffixes are the path suffixes of the links to collect.
	// Matching is case-insensitive.
	Suffixes []string

	// FollowPatterns restrict recursion to paths matching one of these
	// glob patterns.
	FollowPatterns []string

	// IgnorePatterns exclude matching paths from recursion.
	IgnorePatterns []string

	// CrawlDepth is the maximum number of hops followed from the seed.
	// Depth 0 means only the seed page is scanned.
	CrawlDepth int

	// MaxPages is the maximum number of pages crawled per seed.
	// 0 means unlimited.
	MaxPages int

	// DestDir is the local root that mirrors the URL paths of the
	// downloaded documents.
	DestDir string

	// Timeout is the timeout for each HTTP request.
	Timeout time.Duration

	// CrawlTimeout bounds a whole run. 0 means no limit.
	// When it expires the partial results are still reported.
	CrawlTimeout time.Duration

	// Workers is the number of pages fetched in parallel per seed.
	Workers int

	// Downloads is the number of documents downloaded in parallel per seed.
	Downloads int

	// BatchSize is the number of seeds harvested concurrently.
	BatchSize int

	// ContentTypes are the media types accepted for download.
	ContentTypes []string

	// CrawlDelay is the minimum delay between two requests to one host.
	CrawlDelay time.Duration

	// RequestsPerSecond limits the request rate per host. 0 disables it.
	RequestsPerSecond float64

	// Cookie is a raw Cookie header replayed on every request.
	// It comes from an authenticated session obtained outside harvest.
	Cookie string

	// Headers are extra request headers such as Authorization.
	Headers map[string]string

	// ProxyAddress is an optional SOCKS5 proxy in "host:port" format.
	ProxyAddress string

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// MaxBodySize is the maximum number of bytes read from an HTML page.
	MaxBodySize int64

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .harvest in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// SiteConfigs holds site-specific configurations loaded from the
	// config file.
	SiteConfigs *File

	// JSONReport enables JSON report output instead of human-readable format.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown report output.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When set, the report is written to this file instead of stdout.
	ReportFile string

	// DryRun crawls and reports the selected URLs without downloading.
	DryRun bool

	// MetricsFile is the path of a Prometheus textfile written after the
	// run. Empty disables it.
	MetricsFile string

	// DBDir is the directory path for storing the history database.
	// Defaults to XDG data directory (~/.local/share/harvest on Linux).
	DBDir string

	// SaveToDB indicates whether runs are recorded in the history database.
	SaveToDB bool
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., timeout, suffixes).
// This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		ScopeSelector: DefaultScopeSelector,
		Suffixes:      append([]string(nil), DefaultSuffixes...),
		CrawlDepth:    DefaultCrawlDepth,
		MaxPages:      DefaultMaxPages,
		DestDir:       DefaultDestDir,
		Timeout:       DefaultTimeout,
		Workers:       DefaultWorkers,
		Downloads:     DefaultDownloads,
		BatchSize:     DefaultBatchSize,
		ContentTypes:  append([]string(nil), DefaultContentTypes...),
		UserAgent:     DefaultUserAgent,
		MaxBodySize:   DefaultMaxBodySize,
		SaveToDB:      true,
		DBDir:         XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for harvest.
// On Linux: ~/.local/share/harvest
// On macOS: ~/Library/Application Support/harvest
// On Windows: %LOCALAPPDATA%\harvest
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for harvest.
// On Linux: ~/.config/harvest
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
// The first error found is returned because fixing one error often makes
// others irrelevant.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return ErrNoSeed
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.CrawlTimeout < 0 {
		return ErrInvalidCrawlTimeout
	}

	if c.CrawlDepth < 0 {
		return ErrInvalidCrawlDepth
	}

	if c.MaxPages < 0 {
		return ErrInvalidMaxPages
	}

	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if c.Downloads <= 0 {
		return ErrInvalidDownloads
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if len(c.Suffixes) == 0 {
		return ErrNoSuffix
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}

	if c.RequestsPerSecond < 0 {
		return ErrInvalidRate
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	if c.Root != "" && !isHTTPURL(c.Root) {
		return ErrInvalidRoot
	}

	return nil
}

// isHTTPURL reports whether raw is an absolute http or https URL.
func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
