package importjob

import (
	"testing"
	"time"

	"github.com/Sternrassler/directory-import/pkg/ratelimit"
)

func TestStatus_Resumable(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusIdle, false},
		{StatusRunning, false},
		{StatusPaused, true},
		{StatusCompleted, false},
		{StatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Resumable(); got != tt.expected {
				t.Errorf("Resumable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJobRecord_SetRateLimit(t *testing.T) {
	rec := NewRecord("users", time.Now())
	reset := time.Now().Add(time.Minute).Truncate(time.Second)

	rec.SetRateLimit(ratelimit.Snapshot{Remaining: 42, Limit: 60, ResetAt: reset})
	if rec.RateLimitRemaining != 42 || rec.RateLimitLimit != 60 || !rec.RateLimitResetAt.Equal(reset) {
		t.Fatalf("SetRateLimit() stored %+v", rec.RateLimit())
	}

	// An unknown snapshot must not wipe the last observation
	rec.SetRateLimit(ratelimit.Snapshot{})
	if rec.RateLimitRemaining != 42 {
		t.Errorf("RateLimitRemaining = %d after unknown snapshot, want 42", rec.RateLimitRemaining)
	}
}

func TestJobRecord_SetError(t *testing.T) {
	rec := NewRecord("users", time.Now())

	rec.SetError("boom")
	if rec.LastError == nil || *rec.LastError != "boom" {
		t.Fatalf("LastError = %v, want boom", rec.LastError)
	}

	rec.SetError("")
	if rec.LastError != nil {
		t.Errorf("LastError = %q, want nil", *rec.LastError)
	}
}

func TestJobRecord_DoneAndRemaining(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		processed     int
		wantDone      bool
		wantRemaining int
	}{
		{name: "unknown total", total: 0, processed: 7, wantDone: false, wantRemaining: -1},
		{name: "in progress", total: 12, processed: 5, wantDone: false, wantRemaining: 7},
		{name: "exactly done", total: 12, processed: 12, wantDone: true, wantRemaining: 0},
		{name: "total shrank", total: 10, processed: 12, wantDone: true, wantRemaining: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &JobRecord{TotalItems: tt.total, ProcessedItems: tt.processed}
			if got := rec.Done(); got != tt.wantDone {
				t.Errorf("Done() = %v, want %v", got, tt.wantDone)
			}
			if got := rec.Remaining(); got != tt.wantRemaining {
				t.Errorf("Remaining() = %d, want %d", got, tt.wantRemaining)
			}
		})
	}
}

func TestJobRecord_Clone(t *testing.T) {
	rec := NewRecord("users", time.Now())
	rec.SetError("original")

	c := rec.Clone()
	*c.LastError = "changed"
	c.ProcessedItems = 99

	if *rec.LastError != "original" {
		t.Errorf("Clone shares LastError with original")
	}
	if rec.ProcessedItems != 0 {
		t.Errorf("Clone shares counters with original")
	}
	if (*JobRecord)(nil).Clone() != nil {
		t.Errorf("Clone of nil should be nil")
	}
}

func TestIdentity_String(t *testing.T) {
	if got := (Identity{ID: "1", Label: "octocat"}).String(); got != "octocat" {
		t.Errorf("String() = %q, want octocat", got)
	}
	if got := (Identity{ID: "1"}).String(); got != "1" {
		t.Errorf("String() = %q, want 1", got)
	}
}

func TestCandidatePage_Offset(t *testing.T) {
	p := &CandidatePage{Page: 2, Base: 30}

	tests := []struct {
		processed int
		want      int
	}{
		{30, 0},
		{35, 5},
		{12, 0},
	}

	for _, tt := range tests {
		if got := p.Offset(tt.processed); got != tt.want {
			t.Errorf("Offset(%d) = %d, want %d", tt.processed, got, tt.want)
		}
	}
}

func TestJobRecord_RateLimitRoundTrip(t *testing.T) {
	now := time.Now()
	rec := NewRecord("users", now)

	if rec.RateLimit().Known() {
		t.Fatalf("fresh record should carry an unknown snapshot")
	}

	s := ratelimit.Snapshot{Remaining: 7, Limit: 30, ResetAt: now.Add(time.Minute), ObservedAt: now}
	rec.SetRateLimit(s)

	got := rec.RateLimit()
	if got.Remaining != 7 || !got.ObservedAt.Equal(now) {
		t.Errorf("RateLimit() = %+v, want %+v", got, s)
	}
}
