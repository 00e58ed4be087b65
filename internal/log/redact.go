package log

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// urlMask replaces secrets inside URLs. It avoids characters that would be
// percent-encoded so the masked URL stays readable.
const urlMask = "REDACTED"

// secretNames are attribute keys, header names and query parameters that
// always carry secrets. Names are compared in lower case.
var secretNames = map[string]struct{}{
	// Request and response headers
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"x-auth-token":        {},
	"x-csrf-token":        {},
	"x-xsrf-token":        {},

	// Session identifiers used by common frameworks
	"sid":        {},
	"sessionid":  {},
	"session_id": {},
	"jsessionid": {},
	"phpsessid":  {},
	"csrf":       {},
	"xsrf-token": {},

	// Keys and signatures found in query strings of signed document links
	"api_key":          {},
	"apikey":           {},
	"access_token":     {},
	"refresh_token":    {},
	"signature":        {},
	"sig":              {},
	"x-amz-signature":  {},
	"x-amz-credential": {},
}

// secretFragments mark a name as secret when contained anywhere in it.
// The bare "key" is left out: it matches "primary_key", "keyboard" and the
// like, while the real key names are listed in secretNames.
var secretFragments = []string{
	"password", "passwd", "secret", "token", "auth",
	"credential", "private", "cookie", "session",
}

// secretValues match values that are secrets whatever their key.
var secretValues = []*regexp.Regexp{
	// JWT
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),
	// Authorization header values
	regexp.MustCompile(`(?i)^(bearer|token)\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
	// Opaque API keys
	regexp.MustCompile(`^[a-zA-Z0-9]{32,}$`),
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
	// Cookie strings carrying a session identifier
	regexp.MustCompile(`(?i)(^|;\s*)(session|sess|sid|phpsessid|jsessionid)[a-z_]*=`),
}

// isSecretName reports whether a key, header or parameter name denotes a
// secret.
func isSecretName(name string) bool {
	name = strings.ToLower(name)
	if _, ok := secretNames[name]; ok {
		return true
	}
	for _, fragment := range secretFragments {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}

// isSecretValue reports whether value looks like a secret on its own.
func isSecretValue(value string) bool {
	for _, pattern := range secretValues {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// redactString masks value if it is a secret and strips credentials from it
// if it is a URL. Other strings are returned unchanged.
func redactString(value string) string {
	if isSecretValue(value) {
		return MaskValue
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil {
			return redactURL(u)
		}
	}
	return value
}

// redactURL returns u as a string with its password and secret query
// parameters masked. u itself is not modified.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	masked := *u
	if _, ok := u.User.Password(); ok {
		masked.User = url.UserPassword(u.User.Username(), urlMask)
	}

	if u.RawQuery != "" {
		q := u.Query()
		changed := false
		for name := range q {
			if isSecretName(name) {
				q.Set(name, urlMask)
				changed = true
			}
		}
		if changed {
			masked.RawQuery = q.Encode()
		}
	}

	return masked.String()
}

// redactHeader returns a copy of h with the values of secret headers masked.
// Ordinary headers such as User-Agent stay readable.
func redactHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isSecretName(name) {
			out[name] = []string{MaskValue}
			continue
		}
		redacted := make([]string, len(values))
		for i, v := range values {
			redacted[i] = redactString(v)
		}
		out[name] = redacted
	}
	return out
}

// redactStringMap returns a copy of m with secret entries masked. It serves
// the header maps of sessions and site configurations.
func redactStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if isSecretName(k) {
			out[k] = MaskValue
			continue
		}
		out[k] = redactString(v)
	}
	return out
}

// redactStrings redacts every element of a string list, such as the seeds
// of a batch.
func redactStrings(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = redactString(v)
	}
	return out
}
