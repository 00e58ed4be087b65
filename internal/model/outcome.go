package model

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeKind classifies a single fetch attempt.
//
// Design decision: We use iota-based constants rather than string constants
// for cheap comparisons and switch exhaustiveness. MarshalText gives a stable
// snake_case name for JSON reports and the history database.
type OutcomeKind int

const (
	// OutcomeSaved means the document was written to disk.
	OutcomeSaved OutcomeKind = iota

	// OutcomeAlreadyPresent means a local copy at least as new as the remote
	// one already exists. This is an explicit skip, not an error.
	OutcomeAlreadyPresent

	// OutcomeWrongContentType means the server answered with a media type
	// other than the expected one. Nothing is written.
	OutcomeWrongContentType

	// OutcomeTransportError covers non-success HTTP statuses, connection
	// failures, timeouts and local write failures.
	OutcomeTransportError
)

// String returns the snake_case name of the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSaved:
		return "saved"
	case OutcomeAlreadyPresent:
		return "already_present"
	case OutcomeWrongContentType:
		return "wrong_content_type"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	kind, err := ParseOutcomeKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseOutcomeKind converts a name produced by String back into a kind.
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "saved":
		return OutcomeSaved, nil
	case "already_present":
		return OutcomeAlreadyPresent, nil
	case "wrong_content_type":
		return OutcomeWrongContentType, nil
	case "transport_error":
		return OutcomeTransportError, nil
	default:
		return 0, fmt.Errorf("unknown outcome kind %q", s)
	}
}

// Outcome source values.
const (
	// SourceCrawl marks outcomes produced while expanding pages.
	SourceCrawl = "crawl"

	// SourceDownload marks outcomes produced by the downloader.
	SourceDownload = "download"
)

// Outcome is the classified result of one attempt to fetch a URL.
// Only the fields relevant to Kind are populated. An Outcome is never
// modified after it is produced.
type Outcome struct {
	// URL is the normalized URL that was attempted.
	URL string `json:"url"`

	// Kind is the outcome classification.
	Kind OutcomeKind `json:"kind"`

	// Source tells whether the attempt came from the crawl or the download phase.
	Source string `json:"source"`

	// Path is the local destination path, when one was derived.
	Path string `json:"path,omitempty"`

	// LocalTime is the modification time of the existing local copy
	// (OutcomeAlreadyPresent).
	LocalTime time.Time `json:"local_time,omitzero"`

	// RemoteTime is the parsed Last-Modified header of the response.
	RemoteTime time.Time `json:"remote_time,omitzero"`

	// ContentType is the media type reported by the server
	// (OutcomeWrongContentType).
	ContentType string `json:"content_type,omitempty"`

	// StatusCode is the HTTP status code, or 0 when no response was received.
	StatusCode int `json:"status_code,omitempty"`

	// Reason is the HTTP reason phrase or the error text.
	Reason string `json:"reason,omitempty"`

	// Bytes is the number of bytes written (OutcomeSaved).
	Bytes int64 `json:"bytes,omitempty"`

	// Checksum is the hex SHA3-256 of the saved content (OutcomeSaved).
	Checksum string `json:"checksum,omitempty"`
}

// Saved builds an OutcomeSaved.
func Saved(rawURL, path string, remote time.Time, n int64, checksum string) Outcome {
	return Outcome{
		URL:        rawURL,
		Kind:       OutcomeSaved,
		Source:     SourceDownload,
		Path:       path,
		RemoteTime: remote,
		Bytes:      n,
		Checksum:   checksum,
	}
}

// AlreadyPresent builds an OutcomeAlreadyPresent.
func AlreadyPresent(rawURL, path string, local, remote time.Time) Outcome {
	return Outcome{
		URL:        rawURL,
		Kind:       OutcomeAlreadyPresent,
		Source:     SourceDownload,
		Path:       path,
		LocalTime:  local,
		RemoteTime: remote,
	}
}

// WrongContentType builds an OutcomeWrongContentType.
func WrongContentType(rawURL, actual string) Outcome {
	return Outcome{
		URL:         rawURL,
		Kind:        OutcomeWrongContentType,
		Source:      SourceDownload,
		ContentType: actual,
	}
}

// TransportError builds an OutcomeTransportError. status is 0 when the
// failure happened before a response was received.
func TransportError(rawURL, source string, status int, reason string) Outcome {
	return Outcome{
		URL:        rawURL,
		Kind:       OutcomeTransportError,
		Source:     source,
		StatusCode: status,
		Reason:     reason,
	}
}

// Detail returns a one-line human-readable explanation of the outcome.
func (o Outcome) Detail() string {
	switch o.Kind {
	case OutcomeSaved:
		return fmt.Sprintf("saved %d bytes to %s", o.Bytes, o.Path)
	case OutcomeAlreadyPresent:
		if o.RemoteTime.IsZero() {
			return fmt.Sprintf("local copy from %s kept (no Last-Modified)", formatTime(o.LocalTime))
		}
		return fmt.Sprintf("local copy from %s is not older than remote %s",
			formatTime(o.LocalTime), formatTime(o.RemoteTime))
	case OutcomeWrongContentType:
		if o.ContentType == "" {
			return "missing content type"
		}
		return "unexpected content type " + o.ContentType
	case OutcomeTransportError:
		if o.StatusCode > 0 {
			return fmt.Sprintf("HTTP %d %s", o.StatusCode, o.Reason)
		}
		return o.Reason
	default:
		return ""
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
