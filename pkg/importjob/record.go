// Package importjob defines the durable and transient data of a batch import job.
package importjob

import (
	"time"

	"github.com/Sternrassler/directory-import/pkg/ratelimit"
)

// Status is the lifecycle state of an import job.
type Status string

const (
	// StatusIdle is reported for job ids without a stored record.
	StatusIdle Status = "idle"

	// StatusRunning means the job accepts DriveBatch calls.
	StatusRunning Status = "running"

	// StatusPaused means the job waits for an operator or for the rate limit to reset.
	StatusPaused Status = "paused"

	// StatusCompleted is terminal until Reset.
	StatusCompleted Status = "completed"

	// StatusError means listing candidates failed. Start retries.
	StatusError Status = "error"
)

// Resumable reports whether Start/Resume move the job back to running.
func (s Status) Resumable() bool {
	return s == StatusPaused || s == StatusError
}

// PauseCause records who paused a job.
type PauseCause string

const (
	PauseCauseNone      PauseCause = ""
	PauseCauseOperator  PauseCause = "operator"
	PauseCauseRateLimit PauseCause = "rate_limit"
)

// JobRecord is the single durable record kept per job id.
//
// Invariants:
//   - ImportedCount + SkippedCount + ErrorCount == ProcessedItems
//   - ProcessedItems <= TotalItems whenever TotalItems > 0
type JobRecord struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	TotalItems     int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`

	// CurrentPage is the 1-based page the cursor points into.
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`

	ImportedCount int `json:"imported_count"`
	SkippedCount  int `json:"skipped_count"`
	ErrorCount    int `json:"error_count"`

	RateLimitRemaining int       `json:"rate_limit_remaining"`
	RateLimitLimit     int       `json:"rate_limit_limit"`
	RateLimitResetAt   time.Time `json:"rate_limit_reset_at"`

	// RateLimitObservedAt is when the stored quota was read from the upstream.
	RateLimitObservedAt time.Time `json:"rate_limit_observed_at"`

	LastError   *string    `json:"last_error,omitempty"`
	PauseCause  PauseCause `json:"pause_cause,omitempty"`
	PauseReason string     `json:"pause_reason,omitempty"`

	RunID string `json:"run_id,omitempty"`

	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewRecord returns a zeroed running record for a fresh job.
func NewRecord(id string, now time.Time) *JobRecord {
	return &JobRecord{
		ID:             id,
		Status:         StatusRunning,
		CurrentPage:    1,
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// RateLimit returns the stored quota snapshot.
func (r *JobRecord) RateLimit() ratelimit.Snapshot {
	return ratelimit.Snapshot{
		Remaining:  r.RateLimitRemaining,
		Limit:      r.RateLimitLimit,
		ResetAt:    r.RateLimitResetAt,
		ObservedAt: r.RateLimitObservedAt,
	}
}

// SetRateLimit stores a quota snapshot. Unknown snapshots are ignored.
func (r *JobRecord) SetRateLimit(s ratelimit.Snapshot) {
	if !s.Known() {
		return
	}
	r.RateLimitRemaining = s.Remaining
	r.RateLimitLimit = s.Limit
	r.RateLimitResetAt = s.ResetAt
	r.RateLimitObservedAt = s.ObservedAt
}

// SetError stores msg as LastError. An empty msg clears it.
func (r *JobRecord) SetError(msg string) {
	if msg == "" {
		r.LastError = nil
		return
	}
	r.LastError = &msg
}

// ClearPause drops pause bookkeeping.
func (r *JobRecord) ClearPause() {
	r.PauseCause = PauseCauseNone
	r.PauseReason = ""
}

// Done reports whether the known total has been reached.
func (r *JobRecord) Done() bool {
	return r.TotalItems > 0 && r.ProcessedItems >= r.TotalItems
}

// Remaining returns how many items are left, or -1 when the total is unknown.
func (r *JobRecord) Remaining() int {
	if r.TotalItems <= 0 {
		return -1
	}
	left := r.TotalItems - r.ProcessedItems
	if left < 0 {
		return 0
	}
	return left
}

// Clone returns a deep copy.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastError != nil {
		msg := *r.LastError
		c.LastError = &msg
	}
	return &c
}
