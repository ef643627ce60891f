// Package geocode resolves free-text place names. The geographic detector
// uses it to decide whether a column's values are administrative areas.
package geocode

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable marks a lookup that timed out or could not reach the
// service. It says nothing about whether the place exists.
var ErrUnavailable = errors.New("geocoder unavailable")

// Geocoder reports whether a query names a known place.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (bool, error)
}

// NormalizeQuery is the cache key of a query: trimmed, inner whitespace
// collapsed and lower-cased.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
