package cache

import (
	"net/http"
	"time"
)

// Entry is a stored upstream response.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ETag is sent back as If-None-Match.
	ETag string `json:"etag,omitempty"`

	// LastModified is sent back as If-Modified-Since when no ETag exists.
	LastModified time.Time `json:"last_modified,omitempty"`

	// StatusCode of the stored response.
	StatusCode int `json:"status_code"`

	// Header holds the response headers worth keeping.
	Header http.Header `json:"header,omitempty"`

	// CachedAt is when the response was stored or last revalidated.
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was stored or revalidated.
func (e *Entry) Age(now time.Time) time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return now.Sub(e.CachedAt)
}
