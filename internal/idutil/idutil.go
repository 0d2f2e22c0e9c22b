// Package idutil centralizes the id-generation helpers scattered across
// the runtime (stream tokens, synthetic message ids, correlation ids) so
// every caller shares one uuid source and one synthetic-id convention.
package idutil

import "github.com/google/uuid"

// New returns a fresh random (v4) id.
func New() string {
	return uuid.NewString()
}

// Synthetic builds a synthetic id for events that have no backing
// provider-assigned identifier (pre-stream aborts, injected continuity
// notices): prefix-"-"-uuid, so callers can recognize synthetic ids by
// their prefix without a side-channel flag.
func Synthetic(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// IsSynthetic reports whether id was minted by Synthetic with the given
// prefix.
func IsSynthetic(id, prefix string) bool {
	if len(id) <= len(prefix)+1 {
		return false
	}
	return id[:len(prefix)+1] == prefix+"-"
}
