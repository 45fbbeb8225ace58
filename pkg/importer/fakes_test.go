package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/jobstore"
	"github.com/Sternrassler/directory-import/pkg/ratelimit"
	"github.com/rs/zerolog"
)

var errUpstream = errors.New("upstream unavailable")

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeLister serves identities "1".."n" in pages of size.
type fakeLister struct {
	mu    sync.Mutex
	ids   []importjob.Identity
	size  int
	total int
	errs  map[int]error
	quota ratelimit.Snapshot
	calls []int
}

func newFakeLister(n, size int) *fakeLister {
	ids := make([]importjob.Identity, n)
	for i := range ids {
		ids[i] = importjob.Identity{ID: fmt.Sprint(i + 1), Label: fmt.Sprintf("user-%d", i+1)}
	}
	return &fakeLister{ids: ids, size: size, total: n, errs: make(map[int]error)}
}

func (f *fakeLister) FetchPage(_ context.Context, page int) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, page)
	if err := f.errs[page]; err != nil {
		return nil, err
	}

	start := (page - 1) * f.size
	if start > len(f.ids) {
		start = len(f.ids)
	}
	end := start + f.size
	if end > len(f.ids) {
		end = len(f.ids)
	}

	out := make([]importjob.Identity, end-start)
	copy(out, f.ids[start:end])
	return &Page{Identities: out, Total: f.total, RateLimit: f.quota}, nil
}

func (f *fakeLister) PageSize() int {
	return f.size
}

func (f *fakeLister) setErr(page int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, page)
		return
	}
	f.errs[page] = err
}

func (f *fakeLister) pageCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

// fakeProcessor records every identity it sees.
type fakeProcessor struct {
	mu      sync.Mutex
	seen    map[string]int
	order   []string
	fail    map[string]error
	results map[string]importjob.Result
	quota   map[string]ratelimit.Snapshot
	hook    func(id importjob.Identity)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		seen:    make(map[string]int),
		fail:    make(map[string]error),
		results: make(map[string]importjob.Result),
		quota:   make(map[string]ratelimit.Snapshot),
	}
}

func (f *fakeProcessor) Process(_ context.Context, id importjob.Identity) (ItemResult, error) {
	f.mu.Lock()
	hook := f.hook
	f.seen[id.ID]++
	f.order = append(f.order, id.ID)
	err := f.fail[id.ID]
	result, ok := f.results[id.ID]
	q, hasQuota := f.quota[id.ID]
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	res := ItemResult{Result: importjob.ResultImported, Label: id.Label}
	if ok {
		res.Result = result
	}
	if hasQuota {
		res.RateLimit = &q
	}
	return res, err
}

func (f *fakeProcessor) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[id]
}

func (f *fakeProcessor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

type harness struct {
	engine    *Engine
	store     *jobstore.MemoryStore
	lister    *fakeLister
	processor *fakeProcessor
	clock     *clock
}

func newHarness(t *testing.T, total, pageSize int) *harness {
	t.Helper()

	h := &harness{
		store:     jobstore.NewMemoryStore(),
		lister:    newFakeLister(total, pageSize),
		processor: newFakeProcessor(),
		clock:     newClock(),
	}
	h.engine = h.newEngine(t)
	return h
}

// newEngine builds a second engine over the same store, as a restarted process would.
func (h *harness) newEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := DefaultConfig(h.store, h.lister, h.processor)
	cfg.Logger = zerolog.Nop()
	cfg.Now = h.clock.Now

	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return engine
}

// checkInvariants verifies the counter invariants of a progress view.
func checkInvariants(t *testing.T, p Progress) {
	t.Helper()

	if sum := p.ImportedCount + p.SkippedCount + p.ErrorCount; sum != p.ProcessedItems {
		t.Errorf("imported+skipped+errors = %d, processed = %d", sum, p.ProcessedItems)
	}
	if p.TotalItems > 0 && p.ProcessedItems > p.TotalItems {
		t.Errorf("processed %d exceeds total %d", p.ProcessedItems, p.TotalItems)
	}
	if p.CanResume != (p.Status == importjob.StatusPaused || p.Status == importjob.StatusError) {
		t.Errorf("CanResume = %v for status %s", p.CanResume, p.Status)
	}
}

// ctxStore refuses every call on a done context, as a networked store does.
type ctxStore struct {
	*jobstore.MemoryStore
}

func (s ctxStore) Load(ctx context.Context, id string) (*importjob.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Load(ctx, id)
}

func (s ctxStore) Create(ctx context.Context, rec *importjob.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Create(ctx, rec)
}

func (s ctxStore) Update(ctx context.Context, id string, fn jobstore.UpdateFunc) (*importjob.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Update(ctx, id, fn)
}

func (s ctxStore) SaveCandidates(ctx context.Context, id string, page *importjob.CandidatePage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.SaveCandidates(ctx, id, page)
}

func (s ctxStore) LoadCandidates(ctx context.Context, id string) (*importjob.CandidatePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.LoadCandidates(ctx, id)
}
