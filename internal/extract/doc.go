// Package extract finds the hyperlinks of an HTML document.
//
// Only anchors inside the elements matched by a CSS scope selector are
// considered, so navigation menus and footers can be excluded by choosing a
// narrower scope such as "div#content". Links are resolved against the
// document base and returned as a set of normalized absolute http(s) URLs.
//
// Malformed HTML never fails extraction: the parser recovers the way browsers
// do, and hrefs that cannot be resolved are dropped silently.
package extract
