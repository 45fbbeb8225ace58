package ratelimit

import (
	"fmt"
	"time"
)

// Decision is the result of a gate check.
type Decision struct {
	OK bool

	// WaitUntil is the reset time the caller should wait for when OK is false.
	WaitUntil time.Time

	// Reason is a human-readable explanation for a denial.
	Reason string
}

// RequiredBudget is the quota a batch of batchSize items needs, including the safety margin.
func RequiredBudget(batchSize, safetyMargin int) int {
	return batchSize + safetyMargin
}

// Allow decides whether required calls may be spent given snapshot s.
//
// Unknown snapshots and windows that have already reset are allowed: the next
// response refreshes the snapshot. Otherwise a snapshot with fewer than
// required calls remaining is denied until its reset time.
func Allow(s Snapshot, required int, now time.Time) Decision {
	if !s.Known() || s.Expired(now) {
		return Decision{OK: true}
	}

	if s.Remaining < required {
		return Decision{
			OK:        false,
			WaitUntil: s.ResetAt,
			Reason: fmt.Sprintf("rate limit budget too low: %d remaining, %d required, resets at %s",
				s.Remaining, required, s.ResetAt.UTC().Format(time.RFC3339)),
		}
	}

	return Decision{OK: true}
}
