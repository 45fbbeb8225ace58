package importer

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// ErrJobNotFound is returned by Resume for a job id without a record.
var ErrJobNotFound = errors.New("import job not found")

// FetchError reports that listing candidates failed.
// It moves the job to the error state; Start retries.
type FetchError struct {
	Page int
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("list candidates (page %d): %v", e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// RateLimitedError reports that the upstream refused a call until ResetAt.
// It pauses the job and is never counted as an item failure.
type RateLimitedError struct {
	ResetAt time.Time
	Err     error
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("rate limited until %s", e.ResetAt.UTC().Format(time.RFC3339))
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// ItemError reports that processing one identity failed.
// It is recorded in the error count and activity log, never returned to callers.
type ItemError struct {
	Identity importjob.Identity
	Err      error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Identity, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid parameter. It is returned before any state changes.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}
