package importer

import (
	"sync"

	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// activityLog keeps the most recent outcomes per job in process memory.
type activityLog struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]importjob.Outcome
}

func newActivityLog(limit int) *activityLog {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return &activityLog{
		limit:   limit,
		entries: make(map[string][]importjob.Outcome),
	}
}

func (a *activityLog) add(id string, o importjob.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := append(a.entries[id], o)
	if len(list) > a.limit {
		list = list[len(list)-a.limit:]
	}
	a.entries[id] = list
}

// recent returns the outcomes of id, newest first.
func (a *activityLog) recent(id string) []importjob.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.entries[id]
	out := make([]importjob.Outcome, len(list))
	for i, o := range list {
		out[len(list)-1-i] = o
	}
	return out
}

func (a *activityLog) clear(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, id)
}

// keyedMutex serializes drivers of the same job id within one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until id is free and returns its unlock function.
func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
