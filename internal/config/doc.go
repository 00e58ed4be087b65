// Package config provides configuration structures and utilities for harvest.
// It defines the crawl, download and report options, and loads the
// per-site settings (session cookies, headers, scope) from the .harvest
// YAML file.
package config
