// Package jobstore persists import job records and their resume context.
//
// A store holds exactly one JobRecord per job id plus the candidate page the
// job is currently working through. Every Update is a single read-modify-write
// that is durable when it returns. Stores do not coordinate between job ids
// and do not serialize drivers of the same id; that is the caller's job.
package jobstore

import (
	"context"
	"errors"

	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrNotFound indicates no record (or candidate page) exists for the job id.
	ErrNotFound = errors.New("job record not found")

	// ErrExists indicates Create was called for a job id that already has a record.
	ErrExists = errors.New("job record already exists")
)

// storeErrors tracks store operation errors by operation.
var storeErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "import_store_errors_total",
		Help: "Total number of job store operation errors",
	},
	[]string{"operation"}, // "load", "create", "update", "delete", "candidates"
)

// UpdateFunc mutates a freshly loaded record. Returning an error aborts the write.
type UpdateFunc func(rec *importjob.JobRecord) error

// Store is the durable persistence contract of the import engine.
type Store interface {
	// Load returns the record for id or ErrNotFound.
	Load(ctx context.Context, id string) (*importjob.JobRecord, error)

	// Create stores a new record. Returns ErrExists if id is taken.
	Create(ctx context.Context, rec *importjob.JobRecord) error

	// Update loads the record for id, applies fn and stores the result in one write.
	// Returns ErrNotFound if the record is gone.
	Update(ctx context.Context, id string, fn UpdateFunc) (*importjob.JobRecord, error)

	// Delete removes the record and its candidate page. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// SaveCandidates replaces the persisted candidate page of id.
	SaveCandidates(ctx context.Context, id string, page *importjob.CandidatePage) error

	// LoadCandidates returns the persisted candidate page of id or ErrNotFound.
	LoadCandidates(ctx context.Context, id string) (*importjob.CandidatePage, error)
}
