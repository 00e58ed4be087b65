// Package log builds the slog loggers harvest uses and masks the secrets
// that pass through them.
//
// harvest replays session material it is handed (a login cookie, extra
// request headers) and follows links that may carry signed query strings.
// SecureHandler keeps these out of log output, including verbose output:
//   - attributes whose key names a secret (cookie, authorization, sid, ...)
//   - values shaped like one (bearer and basic credentials, JWTs, session
//     cookies, long opaque keys)
//   - URL passwords and secret query parameters (token, signature, ...)
//   - secret entries of http.Header and map[string]string values
//
// Records are written as text by default or as JSON with FormatJSON:
//
//	logger := log.NewLogger(os.Stderr, verbose, log.FormatJSON)
//	logger.Debug("fetching", "url", u, "request_headers", req.Header)
//	// the Cookie header is written as ***REDACTED***
package log
