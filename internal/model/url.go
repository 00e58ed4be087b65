package model

import (
	"encoding/json"
	"net"
	"net/url"
	"sort"
	"strings"
)

// URLSet is a set of normalized URL strings.
// The zero value is not usable; create one with NewURLSet.
type URLSet map[string]struct{}

// NewURLSet creates a URLSet holding the given URLs.
// The URLs are stored as given; callers normalize them first.
func NewURLSet(urls ...string) URLSet {
	s := make(URLSet, len(urls))
	for _, u := range urls {
		s.Add(u)
	}
	return s
}

// Add inserts u into the set. It reports whether u was newly added.
func (s URLSet) Add(u string) bool {
	if _, ok := s[u]; ok {
		return false
	}
	s[u] = struct{}{}
	return true
}

// Has reports whether u is in the set.
func (s URLSet) Has(u string) bool {
	_, ok := s[u]
	return ok
}

// Len returns the number of URLs in the set.
func (s URLSet) Len() int {
	return len(s)
}

// Merge adds every member of other to s.
func (s URLSet) Merge(other URLSet) {
	for u := range other {
		s[u] = struct{}{}
	}
}

// Sorted returns the members in lexical order.
// Sets have no ordering; sorting gives reports and tests stable output.
func (s URLSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s URLSet) MarshalJSON() ([]byte, error) {
	return marshalStrings(s.Sorted())
}

// UnmarshalJSON decodes a JSON array of URLs.
func (s *URLSet) UnmarshalJSON(data []byte) error {
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return err
	}
	*s = NewURLSet(urls...)
	return nil
}

// NormalizeURL returns the canonical string form of u used for identity.
//
// Normalization rules:
//   - scheme and host are lower-cased
//   - the fragment is removed (it never changes the fetched resource)
//   - default ports (:80 for http, :443 for https) are dropped
//   - an empty path becomes "/"
//
// The query string is kept as-is because it selects different documents.
func NormalizeURL(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	if host, port, err := net.SplitHostPort(n.Host); err == nil {
		if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
			n.Host = host
			if strings.Contains(host, ":") {
				n.Host = "[" + host + "]"
			}
		}
	}

	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}

	return n.String()
}

// ParseURL parses raw as an absolute http or https URL and returns it with
// its normalized form.
func ParseURL(raw string) (*url.URL, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", &url.Error{Op: "parse", URL: raw, Err: errNotHTTP}
	}
	if u.Host == "" {
		return nil, "", &url.Error{Op: "parse", URL: raw, Err: errNoHost}
	}
	return u, NormalizeURL(u), nil
}
