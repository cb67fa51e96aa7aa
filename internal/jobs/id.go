// Package jobs names batches and routes batch-scoped API paths.
package jobs

import (
	"strings"

	"github.com/google/uuid"
)

// BatchPrefix starts every batch ID issued by the API.
const BatchPrefix = "batch-"

// GenerateID creates a random ID with the given prefix. The prefix should
// include a trailing dash, e.g. "batch-".
func GenerateID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id looks like one GenerateID(prefix) issued.
// Handlers use it to reject junk before touching a store.
func ValidID(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || len(rest) != 32 {
		return false
	}
	for _, c := range rest {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
