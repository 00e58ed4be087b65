package crawler

import (
	"net/url"
	"path"
	"strings"
)

// Policy decides whether a discovered URL qualifies for something: being
// collected as a result (select policy) or being fetched and expanded
// (recurse policy). The two are evaluated independently, so a URL can be
// selected without being recursed into and vice versa.
type Policy interface {
	Allow(u *url.URL) bool
}

// PolicyFunc adapts an ordinary function to the Policy interface.
type PolicyFunc func(u *url.URL) bool

// Allow calls f(u).
func (f PolicyFunc) Allow(u *url.URL) bool {
	return f(u)
}

// Subsite returns the default recurse policy for root.
//
// A URL is followed only when it is contained in the subsite and looks like a
// page rather than a document:
//   - same scheme and host as root (default ports ignored)
//   - its path starts with the directory of root's path (see directoryOf)
//   - its path ends in "/" or ".html"
//
// A nil root allows nothing.
func Subsite(root *url.URL) Policy {
	if root == nil {
		return PolicyFunc(func(*url.URL) bool { return false })
	}
	scheme := strings.ToLower(root.Scheme)
	host := canonicalHost(root)
	prefix := directoryOf(root.Path)

	return PolicyFunc(func(u *url.URL) bool {
		if strings.ToLower(u.Scheme) != scheme || canonicalHost(u) != host {
			return false
		}
		p := u.Path
		if p == "" {
			p = "/"
		}
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		return strings.HasSuffix(p, "/") || strings.HasSuffix(strings.ToLower(p), ".html")
	})
}

// SuffixPolicy allows URLs whose path ends in one of suffixes, compared
// case-insensitively. It is the usual select policy (".pdf").
// With no suffixes it allows nothing.
func SuffixPolicy(suffixes ...string) Policy {
	lowered := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			lowered = append(lowered, s)
		}
	}

	return PolicyFunc(func(u *url.URL) bool {
		p := strings.ToLower(u.Path)
		for _, s := range lowered {
			if strings.HasSuffix(p, s) {
				return true
			}
		}
		return false
	})
}

// PatternPolicy filters URLs by glob patterns on their path.
//
// Logic:
//  1. If the path matches any ignore pattern, the URL is rejected
//  2. If follow patterns are set and the path matches none, the URL is rejected
//  3. Otherwise the URL is allowed
//
// Patterns use glob syntax, e.g. "/admin/*", "*.pdf", "/logout*".
func PatternPolicy(follow, ignore []string) Policy {
	return PolicyFunc(func(u *url.URL) bool {
		p := u.Path
		if p == "" {
			p = "/"
		}

		for _, pattern := range ignore {
			if matchPattern(pattern, p) {
				return false
			}
		}

		if len(follow) == 0 {
			return true
		}
		for _, pattern := range follow {
			if matchPattern(pattern, p) {
				return true
			}
		}
		return false
	})
}

// AllOf allows a URL only when every policy allows it.
// With no policies it allows everything.
func AllOf(policies ...Policy) Policy {
	return PolicyFunc(func(u *url.URL) bool {
		for _, p := range policies {
			if !p.Allow(u) {
				return false
			}
		}
		return true
	})
}

// AnyOf allows a URL when at least one policy allows it.
// With no policies it allows nothing.
func AnyOf(policies ...Policy) Policy {
	return PolicyFunc(func(u *url.URL) bool {
		for _, p := range policies {
			if p.Allow(u) {
				return true
			}
		}
		return false
	})
}

// Not inverts p.
func Not(p Policy) Policy {
	return PolicyFunc(func(u *url.URL) bool {
		return !p.Allow(u)
	})
}

// canonicalHost returns the lower-cased host of u without its default port.
func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case port == "80" && strings.EqualFold(u.Scheme, "http"):
	case port == "443" && strings.EqualFold(u.Scheme, "https"):
	default:
		host += ":" + port
	}
	return host
}

// directoryOf returns the directory a URL path stands for, always ending
// in "/". A last segment with a dot names a page and is dropped; any other
// segment is a directory written without its trailing slash.
// "/dept/" and "/dept" become "/dept/", "/dept/index.html" becomes "/dept/".
func directoryOf(p string) string {
	if p == "" {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if strings.Contains(p[i+1:], ".") {
		return p[:i+1]
	}
	return strings.TrimSuffix(p, "/") + "/"
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1", "/api/v2"
func matchPattern(pattern, urlPath string) bool {
	// "/admin/*" also covers deeper paths such as "/admin/a/b".
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if strings.HasPrefix(urlPath, prefix+"/") || urlPath == prefix {
			return true
		}
	}

	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") && !strings.ContainsAny(ext, "*?[") {
		if strings.HasSuffix(urlPath, ext) {
			return true
		}
	}

	if matched, err := path.Match(pattern, urlPath); err == nil && matched {
		return true
	}

	// Patterns without a slash are matched against the last path element.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := path.Match(pattern, path.Base(urlPath)); err == nil && matched {
			return true
		}
	}

	return false
}
