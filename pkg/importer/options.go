package importer

import (
	"time"
)

// Defaults for driving a job.
const (
	DefaultBatchSize    = 5
	DefaultSafetyMargin = 5
	DefaultPollDelay    = 500 * time.Millisecond

	// MaxBatchSize bounds the work a single DriveBatch call may do.
	MaxBatchSize = 100

	// DefaultActivityLimit is the number of recent outcomes kept per job.
	DefaultActivityLimit = 25
)

// Options parameterize one DriveBatch call.
type Options struct {
	// BatchSize is the maximum number of identities processed per call.
	BatchSize int `json:"batch_size"`

	// SafetyMargin is the extra quota kept in reserve on top of BatchSize.
	SafetyMargin int `json:"safety_margin"`
}

// DefaultOptions returns the default batch options.
func DefaultOptions() Options {
	return Options{
		BatchSize:    DefaultBatchSize,
		SafetyMargin: DefaultSafetyMargin,
	}
}

// Validate rejects options that cannot drive a batch.
func (o Options) Validate() error {
	if o.BatchSize <= 0 {
		return &ConfigError{Field: "batch_size", Value: o.BatchSize, Reason: "must be positive"}
	}
	if o.BatchSize > MaxBatchSize {
		return &ConfigError{Field: "batch_size", Value: o.BatchSize, Reason: "must not exceed 100"}
	}
	if o.SafetyMargin < 0 {
		return &ConfigError{Field: "safety_margin", Value: o.SafetyMargin, Reason: "must not be negative"}
	}
	return nil
}
