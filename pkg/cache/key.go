package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix prefixes every cache key.
const KeyPrefix = "import:cache"

// Key identifies a cached upstream resource.
type Key struct {
	// Resource is the kind of resource (e.g. "profile").
	Resource string

	// ID is the upstream id of the resource.
	ID string

	// Query holds request parameters that change the response.
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: import:cache:resource:id:query1=val1:query2=val2
//
// Example:
//
//	import:cache:profile:583231
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if r := strings.Trim(k.Resource, ":"); r != "" {
		parts = append(parts, r)
	}
	if k.ID != "" {
		parts = append(parts, k.ID)
	}

	// Query params sorted for determinism
	if len(k.Query) > 0 {
		keys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Query.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
