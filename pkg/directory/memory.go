package directory

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// MemoryDirectory is an in-process Sink for tests and dry runs.
type MemoryDirectory struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Upsert implements Sink.
func (d *MemoryDirectory) Upsert(_ context.Context, p Profile) (importjob.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var existing *Entry
	if e, ok := d.entries[p.ID]; ok {
		existing = &e
	}

	next, result := apply(existing, p, d.now())
	if next != nil {
		d.entries[p.ID] = *next
	}
	return result, nil
}

// Get returns the entry for id.
func (d *MemoryDirectory) Get(_ context.Context, id string) (*Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// Count returns the number of stored entries.
func (d *MemoryDirectory) Count(_ context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.entries)), nil
}
