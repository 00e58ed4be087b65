// Package main provides the entry point for the harvest CLI.
//
// harvest crawls a website below a seed URL, collects the links to
// documents (PDFs by default) and downloads those that are new or changed
// into a local directory mirroring the URL paths.
//
// Usage:
//
//	harvest fetch <seed-url>...
//	harvest history [seed-url]
//
// See --help for all available options.
package main

// main is the entry point for harvest.
func main() {
	Execute()
}
