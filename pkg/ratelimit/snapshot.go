// Package ratelimit models the quota an upstream API grants and decides when a
// batch may spend it. It parses the X-RateLimit-* response headers, keeps the
// freshest observation shared between jobs, and gates batches before the
// quota is exhausted.
package ratelimit

import (
	"time"
)

// Thresholds used to classify the health of a snapshot.
const (
	// ThresholdCritical marks a snapshot as critical below this many remaining calls.
	ThresholdCritical = 5

	// WarningRatio marks a snapshot as warning below this share of the limit.
	WarningRatio = 0.2
)

// Health is a coarse classification of a snapshot for logs and metrics.
type Health string

const (
	HealthUnknown  Health = "unknown"
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// Snapshot is one observation of the upstream quota.
type Snapshot struct {
	// Remaining is the number of calls left in the current window.
	// Extracted from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Limit is the window size. Extracted from the X-RateLimit-Limit header.
	Limit int `json:"limit"`

	// ResetAt is when the window resets. X-RateLimit-Reset carries epoch seconds.
	ResetAt time.Time `json:"reset_at"`

	// ObservedAt is when the headers were read.
	ObservedAt time.Time `json:"observed_at"`

	// Resource names the quota (e.g. "core", "search") when the upstream
	// keeps several. Empty when it does not say.
	Resource string `json:"resource,omitempty"`
}

// Known reports whether the snapshot carries an actual observation.
func (s Snapshot) Known() bool {
	return s.Limit > 0 || !s.ResetAt.IsZero() || !s.ObservedAt.IsZero()
}

// Covers reports whether s describes the quota named resource. An empty name
// on either side matches anything.
func (s Snapshot) Covers(resource string) bool {
	return resource == "" || s.Resource == "" || s.Resource == resource
}

// Expired reports whether the window has already reset at now.
func (s Snapshot) Expired(now time.Time) bool {
	return !s.ResetAt.IsZero() && !now.Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s Snapshot) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the observation is older than maxAge.
func (s Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.ObservedAt) > maxAge
}

// Health classifies the snapshot.
func (s Snapshot) Health() Health {
	switch {
	case !s.Known():
		return HealthUnknown
	case s.Remaining < ThresholdCritical:
		return HealthCritical
	case s.Limit > 0 && float64(s.Remaining) < float64(s.Limit)*WarningRatio:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Fresher returns whichever snapshot was observed last. Unknown snapshots lose.
func Fresher(a, b Snapshot) Snapshot {
	switch {
	case !a.Known():
		return b
	case !b.Known():
		return a
	case b.ObservedAt.After(a.ObservedAt):
		return b
	default:
		return a
	}
}
