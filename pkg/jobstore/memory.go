package jobstore

import (
	"context"
	"sync"

	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// MemoryStore keeps records in process memory. It satisfies Store for tests and
// single-process deployments that accept losing state on restart.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*importjob.JobRecord
	candidates map[string]*importjob.CandidatePage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*importjob.JobRecord),
		candidates: make(map[string]*importjob.CandidatePage),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) (*importjob.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, rec *importjob.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrExists
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*importjob.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id

	s.records[id] = next
	return next.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	delete(s.candidates, id)
	return nil
}

// SaveCandidates implements Store.
func (s *MemoryStore) SaveCandidates(_ context.Context, id string, page *importjob.CandidatePage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates[id] = clonePage(page)
	return nil
}

// LoadCandidates implements Store.
func (s *MemoryStore) LoadCandidates(_ context.Context, id string) (*importjob.CandidatePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.candidates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePage(page), nil
}

func clonePage(p *importjob.CandidatePage) *importjob.CandidatePage {
	if p == nil {
		return nil
	}
	c := *p
	c.Identities = append([]importjob.Identity(nil), p.Identities...)
	return &c
}
