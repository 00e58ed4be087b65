package log

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// SecureHandler is an slog.Handler that masks secrets before passing
// records on to the wrapped handler.
//
// Attributes are masked when their key names a secret (cookie,
// authorization, session, ...), when their value looks like one (bearer
// tokens, JWTs, session cookies) or, for URLs, in the password and secret
// query parameters. Header maps, *url.URL values and string lists are
// inspected element by element so that a request's headers can be logged
// as a whole.
//
// Design decision: We use a handler wrapper rather than a custom logger
// because:
//  1. It integrates seamlessly with standard slog APIs
//  2. It works with any underlying handler (text, JSON, etc.)
//  3. It's compatible with any library that accepts a *slog.Logger
type SecureHandler struct {
	handler slog.Handler
}

// NewSecureHandler creates a SecureHandler wrapping handler.
// If handler is nil, slog.Default().Handler() is used.
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// Enabled reports whether the wrapped handler handles records at level.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle masks the record's attributes and passes it on.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(redactAttr(a))
		return true
	})
	return h.handler.Handle(ctx, masked)
}

// WithAttrs returns a handler with the masked attributes added.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = redactAttr(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(masked)}
}

// WithGroup returns a handler that nests attributes under name.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name)}
}

// redactAttr masks a single attribute, descending into groups.
func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		masked := make([]slog.Attr, len(group))
		for i, ga := range group {
			masked[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	}

	if isSecretName(a.Key) {
		return slog.String(a.Key, MaskValue)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, redactString(a.Value.String()))
	case slog.KindAny:
		return slog.Any(a.Key, redactAny(a.Value.Any()))
	default:
		return a
	}
}

// redactAny masks the value types harvest passes to its loggers.
// Unknown types are returned unchanged.
func redactAny(v any) any {
	switch v := v.(type) {
	case *url.URL:
		return redactURL(v)
	case http.Header:
		return redactHeader(v)
	case map[string]string:
		return redactStringMap(v)
	case []string:
		return redactStrings(v)
	case error:
		// Transport errors quote the request URL.
		return redactErrorText(v)
	default:
		return v
	}
}

// redactErrorText returns the message of a *url.Error with the quoted URL
// redacted. Other errors are returned unchanged.
func redactErrorText(err error) any {
	urlErr, ok := err.(*url.Error)
	if !ok {
		return err
	}
	return urlErr.Op + " " + redactString(urlErr.URL) + ": " + urlErr.Err.Error()
}

// Format selects the encoding of log records.
type Format string

const (
	// FormatText writes logfmt-style key=value lines.
	FormatText Format = "text"
	// FormatJSON writes one JSON object per line, for log aggregation.
	FormatJSON Format = "json"
)

// NewSecureLogger creates a text logger writing to w that masks secrets.
// Verbose selects the Debug level; otherwise only warnings and errors are
// written.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	return NewLogger(w, verbose, FormatText)
}

// NewLogger creates a logger writing to w in the given format that masks
// secrets. An unknown format falls back to text.
func NewLogger(w io.Writer, verbose bool, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(NewSecureHandler(handler))
}
