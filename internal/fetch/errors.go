package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProxyAddress is returned when the proxy address is not in
	// host:port form.
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrInvalidHeader is returned when a header flag is not in "Key: Value" form.
	ErrInvalidHeader = errors.New("invalid header: expected \"Key: Value\"")
)

// StatusError reports a response whose status code is not 2xx.
// It carries the reason phrase so reports can explain the failure without
// re-running the fetch.
type StatusError struct {
	// URL is the requested URL.
	URL string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Reason is the reason phrase, e.g. "Not Found".
	Reason string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s for %s", e.StatusCode, e.Reason, e.URL)
}
