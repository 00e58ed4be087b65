package model

import (
	"encoding/json"
	"errors"
)

var (
	errNotHTTP = errors.New("scheme must be http or https")
	errNoHost  = errors.New("missing host")
)

// marshalStrings encodes a string slice, writing [] rather than null for an
// empty slice so consumers can always iterate.
func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}
