package download

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// indexFile is the file name used for directory-like URLs.
const indexFile = "index.html"

// ErrUnsafePath is returned when a URL maps to a location outside the
// destination root.
var ErrUnsafePath = errors.New("URL path escapes the destination root")

// LocalPath returns the file a URL is saved to below root.
//
// The URL path is cleaned; a path that would climb above the host directory
// is rejected with ErrUnsafePath. Path components are normalized to Unicode
// NFC so the same document does not end up in two files depending on how
// the server encoded its name. The query string does not take part.
func LocalPath(root, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(u.Host)
	if host == "" || host == "." || host == ".." || strings.ContainsAny(host, `/\`) {
		return "", fmt.Errorf("%w: invalid host %q", ErrUnsafePath, u.Host)
	}

	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		p += indexFile
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rawURL)
	}

	rel := path.Clean(strings.TrimLeft(p, "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rawURL)
	}
	rel = norm.NFC.String(rel)

	hostDir := filepath.Join(root, norm.NFC.String(host))
	dest := filepath.Join(hostDir, filepath.FromSlash(rel))

	within, err := filepath.Rel(hostDir, dest)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rawURL)
	}

	return dest, nil
}
