package extract

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/nao1215/harvest/internal/model"
)

// DefaultSelector matches the whole document.
const DefaultSelector = "html"

// ErrInvalidSelector is returned when the scope selector cannot be compiled.
var ErrInvalidSelector = errors.New("invalid scope selector")

// droppedSchemes are href prefixes that never point at a fetchable document.
var droppedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// Extractor extracts links from the part of a document matched by a compiled
// scope selector. It is safe for concurrent use.
type Extractor struct {
	selector string
	matcher  cascadia.Sel
}

// Compile compiles selector into an Extractor. An empty selector means
// DefaultSelector.
func Compile(selector string) (*Extractor, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = DefaultSelector
	}
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSelector, selector, err)
	}
	return &Extractor{selector: selector, matcher: sel}, nil
}

// Selector returns the source text of the compiled selector.
func (e *Extractor) Selector() string {
	return e.selector
}

// Extract is a convenience wrapper that compiles selector and extracts the
// links of doc in one call.
func Extract(doc io.Reader, base *url.URL, selector string) (model.URLSet, error) {
	e, err := Compile(selector)
	if err != nil {
		return nil, err
	}
	return e.Extract(doc, "", base)
}

// Extract parses doc and returns the links found inside the scope.
//
// contentType is the Content-Type header of the response, used to pick the
// character encoding; an empty value lets the encoding be sniffed from the
// document itself. base is the URL the document was fetched from. A
// <base href> element in the document takes precedence over it.
//
// A document where the selector matches nothing yields an empty set.
func (e *Extractor) Extract(doc io.Reader, contentType string, base *url.URL) (model.URLSet, error) {
	r, err := charset.NewReader(doc, contentType)
	if err != nil {
		// Unknown encoding label: parse the raw bytes rather than give up.
		r = doc
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base = documentBase(root, base)
	links := model.NewURLSet()

	for _, scope := range cascadia.QueryAll(root, e.matcher) {
		collectAnchors(scope, func(href string) {
			if link, ok := resolve(base, href); ok {
				links.Add(link)
			}
		})
	}

	return links, nil
}

// documentBase returns the URL relative links resolve against: the first
// <base href> of the document resolved against the request URL, or the
// request URL when there is none or it is unusable.
func documentBase(root *html.Node, requestURL *url.URL) *url.URL {
	var href string
	var find func(*html.Node) bool
	find = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "base" {
			if v, ok := getAttr(n, "href"); ok {
				href = strings.TrimSpace(v)
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if find(c) {
				return true
			}
		}
		return false
	}

	if !find(root) || href == "" {
		return requestURL
	}
	ref, err := url.Parse(href)
	if err != nil {
		return requestURL
	}
	if requestURL == nil {
		return ref
	}
	return requestURL.ResolveReference(ref)
}

// collectAnchors calls fn with the href of every <a> element in the subtree
// rooted at n, including n itself.
func collectAnchors(n *html.Node, fn func(href string)) {
	if n.Type == html.ElementNode && n.Data == "a" {
		if href, ok := getAttr(n, "href"); ok {
			fn(href)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectAnchors(c, fn)
	}
}

// resolve turns href into a normalized absolute URL. It reports false for
// links that must be ignored.
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	lower := strings.ToLower(href)
	for _, scheme := range droppedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}

	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}

	return model.NormalizeURL(abs), true
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}
