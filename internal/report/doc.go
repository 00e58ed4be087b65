// Package report renders the result of a harvest run.
//
// Three formats are available, all behind the Writer interface:
//   - SimpleWriter: plain text for the terminal, problems grouped by kind
//   - JSONWriter and FullJSONWriter: newline-terminated JSON documents
//   - MarkdownWriter: tables plus a mermaid pie chart of the outcomes
//
// Writers only read model.Run and model.Summary values; the crawl and
// download code never formats output itself. When several seeds are
// harvested, Totals merges their outcomes for a closing summary.
package report
