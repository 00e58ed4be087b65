package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".harvest"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadConfigFile loads site configurations from a YAML file.
// A missing file yields ErrConfigNotFound; whether that is fatal depends on
// whether the user named the file explicitly.
func LoadConfigFile(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	defer f.Close()

	return ParseConfig(f)
}

// ParseConfig decodes and validates a configuration file.
//
// Unknown keys are rejected so that a misspelled setting (for example
// "contenttypes") fails loudly instead of being ignored. Site keys are
// lower-cased to match the host lookup.
func ParseConfig(r io.Reader) (*File, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cf File
	if err := decoder.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := cf.Defaults.validate(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	sites := make(map[string]SiteConfig, len(cf.Sites))
	for host, site := range cf.Sites {
		if err := site.validate(); err != nil {
			return nil, fmt.Errorf("site %s: %w", host, err)
		}
		sites[strings.ToLower(strings.TrimSpace(host))] = site
	}
	cf.Sites = sites

	return &cf, nil
}

// validate checks the values a site entry may set.
func (s SiteConfig) validate() error {
	if s.Depth < 0 {
		return ErrInvalidCrawlDepth
	}
	if s.Delay < 0 {
		return ErrInvalidCrawlDelay
	}
	if s.Root != "" && !isHTTPURL(s.Root) {
		return fmt.Errorf("%w: %q", ErrInvalidRoot, s.Root)
	}
	for _, suffix := range s.Suffixes {
		if strings.TrimSpace(suffix) == "" {
			return ErrNoSuffix
		}
	}
	return nil
}

// FindConfigFile returns the configuration file to use, or "" if none
// exists. An explicit path is used as given; otherwise the candidates are
// tried in order:
//  1. .harvest in the current directory
//  2. .harvest in the user's home directory
//  3. config.yaml in the XDG config directory
func FindConfigFile(explicitPath string) string {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err == nil {
			return explicitPath
		}
		return ""
	}

	for _, candidate := range configCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// configCandidates lists the implicit configuration file locations.
func configCandidates() []string {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	return append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))
}
