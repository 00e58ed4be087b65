package config

import (
	"maps"
	"net/url"
	"strings"
	"time"
)

// SiteConfig holds site-specific configuration for a single host.
// This allows customizing crawl behavior and session data per site.
type SiteConfig struct {
	// Cookie is an HTTP cookie to use when crawling this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the global crawl depth for this site.
	// If zero, the global CrawlDepth is used.
	Depth int `yaml:"depth,omitempty"`

	// Selector overrides the scope selector, e.g. "div#content".
	Selector string `yaml:"selector,omitempty"`

	// Suffixes override the document suffixes collected on this site.
	Suffixes []string `yaml:"suffixes,omitempty"`

	// ContentTypes override the media types accepted for download.
	ContentTypes []string `yaml:"contentTypes,omitempty"`

	// Root overrides the subsite boundary for seeds on this site.
	Root string `yaml:"root,omitempty"`

	// Delay is the minimum delay between two requests to this site.
	Delay time.Duration `yaml:"delay,omitempty"`

	// IgnorePatterns are URL patterns to skip during crawling.
	// Patterns are matched against the URL path using glob syntax.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns are URL patterns to follow during crawling.
	// If specified, only URLs matching these patterns are crawled.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// File represents the structure of the .harvest configuration file.
type File struct {
	// Sites maps hosts to their site-specific configurations.
	// Keys are a host with an optional port, e.g. "docs.example.com".
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults contains default site configuration applied to all sites
	// unless overridden in the site-specific configuration.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for a specific host.
// It merges the site-specific configuration with defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	if site, ok := cf.Sites[strings.ToLower(host)]; ok {
		result = Merge(result, site)
	}
	return result
}

// ForURL returns the configuration for the host of rawURL.
// An entry for "host:port" wins over one for the bare host name.
func (cf *File) ForURL(rawURL string) SiteConfig {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return cf.Defaults
	}

	host := strings.ToLower(u.Host)
	if _, ok := cf.Sites[host]; ok {
		return cf.GetSiteConfig(host)
	}
	return cf.GetSiteConfig(u.Hostname())
}

// Merge returns base with every non-zero field of override applied.
// Headers are merged key by key; lists are replaced as a whole.
func Merge(base, override SiteConfig) SiteConfig {
	result := base

	if override.Cookie != "" {
		result.Cookie = override.Cookie
	}
	if override.Depth != 0 {
		result.Depth = override.Depth
	}
	if len(override.Headers) > 0 {
		headers := make(map[string]string, len(base.Headers)+len(override.Headers))
		maps.Copy(headers, base.Headers)
		maps.Copy(headers, override.Headers)
		result.Headers = headers
	}
	if override.Selector != "" {
		result.Selector = override.Selector
	}
	if len(override.Suffixes) > 0 {
		result.Suffixes = override.Suffixes
	}
	if len(override.ContentTypes) > 0 {
		result.ContentTypes = override.ContentTypes
	}
	if override.Root != "" {
		result.Root = override.Root
	}
	if override.Delay != 0 {
		result.Delay = override.Delay
	}
	if len(override.IgnorePatterns) > 0 {
		result.IgnorePatterns = override.IgnorePatterns
	}
	if len(override.FollowPatterns) > 0 {
		result.FollowPatterns = override.FollowPatterns
	}

	return result
}

// Apply returns a copy of c for one seed with the site configuration
// applied on top. Like the per-site depth, every value set for the site
// overrides the global one; headers are merged key by key.
func (c *Config) Apply(site SiteConfig) *Config {
	merged := *c

	if site.Cookie != "" {
		merged.Cookie = site.Cookie
	}
	if len(site.Headers) > 0 {
		headers := make(map[string]string, len(c.Headers)+len(site.Headers))
		maps.Copy(headers, c.Headers)
		maps.Copy(headers, site.Headers)
		merged.Headers = headers
	}
	if site.Depth > 0 {
		merged.CrawlDepth = site.Depth
	}
	if site.Selector != "" {
		merged.ScopeSelector = site.Selector
	}
	if len(site.Suffixes) > 0 {
		merged.Suffixes = site.Suffixes
	}
	if len(site.ContentTypes) > 0 {
		merged.ContentTypes = site.ContentTypes
	}
	if site.Root != "" {
		merged.Root = site.Root
	}
	if site.Delay > 0 {
		merged.CrawlDelay = site.Delay
	}
	if len(site.IgnorePatterns) > 0 {
		merged.IgnorePatterns = site.IgnorePatterns
	}
	if len(site.FollowPatterns) > 0 {
		merged.FollowPatterns = site.FollowPatterns
	}

	return &merged
}
