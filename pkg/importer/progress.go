package importer

import (
	"math"
	"time"

	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// Progress is the client-facing view of a job.
type Progress struct {
	JobID  string           `json:"job_id"`
	Status importjob.Status `json:"status"`
	RunID  string           `json:"run_id,omitempty"`

	TotalItems     int     `json:"total_items"`
	ProcessedItems int     `json:"processed_items"`
	ImportedCount  int     `json:"imported_count"`
	SkippedCount   int     `json:"skipped_count"`
	ErrorCount     int     `json:"error_count"`
	CurrentPage    int     `json:"current_page"`
	Percentage     float64 `json:"percentage"`

	RateLimitRemaining int        `json:"rate_limit_remaining"`
	RateLimitLimit     int        `json:"rate_limit_limit"`
	RateLimitResetAt   *time.Time `json:"rate_limit_reset_at,omitempty"`

	LastError   *string              `json:"last_error"`
	PauseCause  importjob.PauseCause `json:"pause_cause,omitempty"`
	PauseReason string               `json:"pause_reason,omitempty"`

	CanResume           bool `json:"can_resume"`
	WaitingForRateLimit bool `json:"waiting_for_rate_limit"`

	// RetryAfterMS is how long a caller should wait before resuming a
	// rate-limit pause. Zero in every other state.
	RetryAfterMS int64 `json:"retry_after_ms"`

	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`

	Recent []importjob.Outcome `json:"recent"`
}

// RetryAfter returns RetryAfterMS as a duration.
func (p Progress) RetryAfter() time.Duration {
	return time.Duration(p.RetryAfterMS) * time.Millisecond
}

// Idle returns the default view of a job id without a record.
func Idle(id string) Progress {
	return Progress{
		JobID:  id,
		Status: importjob.StatusIdle,
		Recent: []importjob.Outcome{},
	}
}

// Project transforms a stored record and its recent outcomes into a view.
// It never mutates rec. A nil rec yields the Idle default.
func Project(id string, rec *importjob.JobRecord, recent []importjob.Outcome, now time.Time) Progress {
	if rec == nil {
		return Idle(id)
	}
	if recent == nil {
		recent = []importjob.Outcome{}
	}

	p := Progress{
		JobID:              rec.ID,
		Status:             rec.Status,
		RunID:              rec.RunID,
		TotalItems:         rec.TotalItems,
		ProcessedItems:     rec.ProcessedItems,
		ImportedCount:      rec.ImportedCount,
		SkippedCount:       rec.SkippedCount,
		ErrorCount:         rec.ErrorCount,
		CurrentPage:        rec.CurrentPage,
		Percentage:         percentage(rec),
		RateLimitRemaining: rec.RateLimitRemaining,
		RateLimitLimit:     rec.RateLimitLimit,
		RateLimitResetAt:   timePtr(rec.RateLimitResetAt),
		PauseCause:         rec.PauseCause,
		PauseReason:        rec.PauseReason,
		CanResume:          rec.Status.Resumable(),
		LastActivityAt:     timePtr(rec.LastActivityAt),
		CreatedAt:          timePtr(rec.CreatedAt),
		Recent:             recent,
	}
	if rec.LastError != nil {
		msg := *rec.LastError
		p.LastError = &msg
	}

	paused := rec.Status == importjob.StatusPaused
	resetPending := rec.RateLimitResetAt.After(now)

	p.WaitingForRateLimit = paused && rec.RateLimitRemaining == 0 && resetPending
	if paused && rec.PauseCause == importjob.PauseCauseRateLimit && resetPending {
		p.RetryAfterMS = rec.RateLimitResetAt.Sub(now).Milliseconds()
	}

	return p
}

func percentage(rec *importjob.JobRecord) float64 {
	if rec.Status == importjob.StatusCompleted {
		return 100
	}
	if rec.TotalItems <= 0 {
		return 0
	}
	pct := float64(rec.ProcessedItems) / float64(rec.TotalItems) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
