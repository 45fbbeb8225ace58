package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response headers carrying the quota.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderResource   = "X-RateLimit-Resource"
	HeaderRetryAfter = "Retry-After"
)

// FromHeaders parses the X-RateLimit-* headers. X-RateLimit-Resource, when
// present, names the quota the response was charged to.
// A response without X-RateLimit-Remaining yields an unknown snapshot and no error.
func FromHeaders(headers http.Header, now time.Time) (Snapshot, error) {
	remainStr := strings.TrimSpace(headers.Get(HeaderRemaining))
	if remainStr == "" {
		return Snapshot{}, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := strings.TrimSpace(headers.Get(HeaderReset))
	if resetStr == "" {
		return Snapshot{}, fmt.Errorf("%s header missing", HeaderReset)
	}

	resetEpoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	s := Snapshot{
		Remaining:  remain,
		ResetAt:    time.Unix(resetEpoch, 0),
		ObservedAt: now,
		Resource:   strings.TrimSpace(headers.Get(HeaderResource)),
	}

	if limitStr := strings.TrimSpace(headers.Get(HeaderLimit)); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		s.Limit = limit
	}

	return s, nil
}

// RetryAfter parses a Retry-After header in either delta-seconds or HTTP-date form.
func RetryAfter(headers http.Header, now time.Time) (time.Time, bool) {
	v := strings.TrimSpace(headers.Get(HeaderRetryAfter))
	if v == "" {
		return time.Time{}, false
	}

	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return now.Add(time.Duration(secs) * time.Second), true
	}

	if at, err := http.ParseTime(v); err == nil {
		return at, true
	}

	return time.Time{}, false
}
