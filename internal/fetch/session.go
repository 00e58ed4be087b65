package fetch

import (
	"net/http"
	"strings"
)

// Session carries the credentials of an already authenticated session.
// It is produced by the authentication collaborator; harvest only replays it.
type Session struct {
	// Cookie is a raw Cookie header value, e.g. "sid=abc; lang=en".
	Cookie string

	// Headers are extra request headers such as Authorization.
	Headers map[string]string
}

// IsZero reports whether the session carries nothing.
func (s Session) IsZero() bool {
	return s.Cookie == "" && len(s.Headers) == 0
}

// apply sets the session cookie and headers on req.
func (s Session) apply(req *http.Request) {
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	if s.Cookie != "" {
		req.Header.Set("Cookie", s.Cookie)
	}
}

// ParseHeaders converts "Key: Value" strings into a header map.
func ParseHeaders(lines []string) (map[string]string, error) {
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, ErrInvalidHeader
		}
		headers[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
	}
	return headers, nil
}
