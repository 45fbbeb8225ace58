package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/directory-import/internal/testutil"
	"github.com/Sternrassler/directory-import/pkg/cache"
	"github.com/Sternrassler/directory-import/pkg/directory"
	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/jobstore"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewImporter_Validation(t *testing.T) {
	mock := testutil.NewMockAPI(1)
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	if _, err := NewImporter(nil, directory.NewMemoryDirectory()); err == nil {
		t.Error("NewImporter(nil client) should fail")
	}
	if _, err := NewImporter(c, nil); err == nil {
		t.Error("NewImporter(nil sink) should fail")
	}
}

func TestImporter_Process(t *testing.T) {
	mock := testutil.NewMockAPI(3)
	defer mock.Close()

	sink := directory.NewMemoryDirectory()
	imp, err := NewImporter(newTestClient(t, mock, nil), sink)
	if err != nil {
		t.Fatalf("NewImporter() error = %v", err)
	}
	ctx := context.Background()
	id := importjob.Identity{ID: "2"}

	steps := []struct {
		name   string
		before func()
		want   importjob.Result
	}{
		{"first import", nil, importjob.ResultImported},
		{"unchanged", nil, importjob.ResultSkipped},
		{"changed upstream", func() {
			mock.UpdateUser(2, func(u *testutil.MockUser) { u.Location = "Berlin" })
		}, importjob.ResultMerged},
	}

	for _, step := range steps {
		if step.before != nil {
			step.before()
		}
		res, err := imp.Process(ctx, id)
		if err != nil {
			t.Fatalf("%s: Process() error = %v", step.name, err)
		}
		if res.Result != step.want {
			t.Errorf("%s: Process() = %s, want %s", step.name, res.Result, step.want)
		}
		if res.Label != "user-2" {
			t.Errorf("%s: Label = %q, want user-2", step.name, res.Label)
		}
		if res.RateLimit == nil || res.RateLimit.Limit != 5000 {
			t.Errorf("%s: RateLimit = %+v, want observed quota", step.name, res.RateLimit)
		}
	}

	entry, err := sink.Get(ctx, "2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Profile.Location != "Berlin" || entry.Profile.Name != "User 2" {
		t.Errorf("stored profile = %+v", entry.Profile)
	}
}

func TestImporter_PassesRateLimitThrough(t *testing.T) {
	mock := testutil.NewMockAPI(1)
	defer mock.Close()
	mock.SetQuota(60, 0, time.Now().Add(time.Hour))

	imp, err := NewImporter(newTestClient(t, mock, nil), directory.NewMemoryDirectory())
	if err != nil {
		t.Fatalf("NewImporter() error = %v", err)
	}

	_, err = imp.Process(context.Background(), importjob.Identity{ID: "1"})
	var rl *importer.RateLimitedError
	if !errors.As(err, &rl) {
		t.Errorf("Process() error = %v, want RateLimitedError", err)
	}
}

func TestFetchProfile_ConditionalRequests(t *testing.T) {
	mock := testutil.NewMockAPI(2)
	defer mock.Close()

	manager := cache.NewManager(setupTestRedis(t), time.Hour)
	c := newTestClient(t, mock, func(cfg *Config) { cfg.Cache = manager })
	sink := directory.NewMemoryDirectory()
	imp, err := NewImporter(c, sink)
	if err != nil {
		t.Fatalf("NewImporter() error = %v", err)
	}
	ctx := context.Background()
	id := importjob.Identity{ID: "1"}

	first, err := imp.Process(ctx, id)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	second, err := imp.Process(ctx, id)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if first.Result != importjob.ResultImported || second.Result != importjob.ResultSkipped {
		t.Errorf("results = %s, %s; want imported, skipped", first.Result, second.Result)
	}
	if mock.ConditionalCount() != 1 {
		t.Errorf("conditional requests = %d, want 1", mock.ConditionalCount())
	}
	if second.RateLimit.Remaining != first.RateLimit.Remaining {
		t.Errorf("304 spent quota: remaining %d → %d", first.RateLimit.Remaining, second.RateLimit.Remaining)
	}

	entry, err := manager.Get(ctx, cache.Key{Resource: "profile", ID: "1"})
	if err != nil || entry.ETag == "" {
		t.Errorf("cache entry = %+v, %v; want entry with ETag", entry, err)
	}

	mock.UpdateUser(1, func(u *testutil.MockUser) { u.Company = "ACME" })
	third, err := imp.Process(ctx, id)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if third.Result != importjob.ResultMerged {
		t.Errorf("Process() after change = %s, want merged", third.Result)
	}
}

func TestClient_DrivesEngine(t *testing.T) {
	mock := testutil.NewMockAPI(12)
	defer mock.Close()

	c := newTestClient(t, mock, func(cfg *Config) { cfg.PerPage = 5 })
	sink := directory.NewMemoryDirectory()
	imp, err := NewImporter(c, sink)
	if err != nil {
		t.Fatalf("NewImporter() error = %v", err)
	}

	engine, err := importer.New(importer.DefaultConfig(jobstore.NewMemoryStore(), c, imp))
	if err != nil {
		t.Fatalf("importer.New() error = %v", err)
	}

	ctx := context.Background()
	if _, err := engine.Start(ctx, "users"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var p importer.Progress
	for i := 0; i < 10; i++ {
		p, err = engine.DriveBatch(ctx, "users", importer.DefaultOptions())
		if err != nil {
			t.Fatalf("DriveBatch() error = %v", err)
		}
		if p.Status != importjob.StatusRunning {
			break
		}
	}

	if p.Status != importjob.StatusCompleted || p.ProcessedItems != 12 || p.ImportedCount != 12 {
		t.Errorf("progress = %s %d/%d imported %d, want completed 12/12 imported 12",
			p.Status, p.ProcessedItems, p.TotalItems, p.ImportedCount)
	}
	if n, _ := sink.Count(ctx); n != 12 {
		t.Errorf("directory holds %d profiles, want 12", n)
	}
	if p.RateLimitLimit != 5000 {
		t.Errorf("RateLimitLimit = %d, want 5000", p.RateLimitLimit)
	}
}

func TestImporter_FailureReportsQuota(t *testing.T) {
	mock := testutil.NewMockAPI(1)
	defer mock.Close()
	mock.SetQuota(5000, 42, time.Now().Add(time.Hour))

	imp, err := NewImporter(newTestClient(t, mock, nil), directory.NewMemoryDirectory())
	if err != nil {
		t.Fatalf("NewImporter() error = %v", err)
	}

	res, err := imp.Process(context.Background(), importjob.Identity{ID: "99"})
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 404 {
		t.Fatalf("Process() error = %v, want 404", err)
	}
	if res.RateLimit == nil {
		t.Fatal("Process() dropped the quota of the failed call")
	}
	if res.RateLimit.Remaining != 41 || res.RateLimit.Resource != ResourceCore {
		t.Errorf("RateLimit = %+v, want 41 remaining on core", *res.RateLimit)
	}
}
