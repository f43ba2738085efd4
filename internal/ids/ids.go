// Package ids mints the record identifiers used across the store.
package ids

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID string. IDs minted within one millisecond still sort in
// creation order.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether id is a well-formed ULID.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(strings.TrimSpace(id))
	return err == nil
}
