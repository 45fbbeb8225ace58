// Package importer drives resumable, rate-limit-aware batch imports.
//
// A job walks a paginated list of candidate identities, fetches detail for
// each one and merges it into a directory. Every call does a bounded amount of
// work and persists its cursor before returning, so a job survives restarts
// and can be driven by any caller: an HTTP handler, a CLI loop, a scheduler.
//
// Lifecycle:
//
//	idle ──Start──▶ running ──DriveBatch──▶ completed
//	                 │  ▲
//	   Pause / quota │  │ Start / Resume
//	                 ▼  │
//	                paused        error ──Start──▶ running
//
// Reset returns any job to idle by deleting its record.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/jobstore"
	"github.com/Sternrassler/directory-import/pkg/ratelimit"
)

// Config holds the engine's collaborators.
type Config struct {
	// Store persists job records. Required.
	Store jobstore.Store

	// Lister enumerates candidates. Required.
	Lister ListFetcher

	// Processor fetches and merges one candidate. Required.
	Processor ItemProcessor

	// Tracker shares quota observations between jobs.
	// Defaults to an in-process tracker.
	Tracker *ratelimit.Tracker

	// QuotaResource names the upstream quota items are charged to, matched
	// against Snapshot.Resource. Snapshots of other quotas (a separate search
	// quota, say) are shared through the tracker but never gate a batch.
	// Empty treats every snapshot as the same quota.
	QuotaResource string

	// Logger for structured logging.
	Logger zerolog.Logger

	// ActivityLimit is the number of recent outcomes kept per job.
	ActivityLimit int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig(store jobstore.Store, lister ListFetcher, processor ItemProcessor) Config {
	return Config{
		Store:         store,
		Lister:        lister,
		Processor:     processor,
		Logger:        zerolog.Nop(),
		ActivityLimit: DefaultActivityLimit,
		Now:           time.Now,
	}
}

// Engine runs import jobs. It is safe for concurrent use.
type Engine struct {
	store     jobstore.Store
	lister    ListFetcher
	processor ItemProcessor
	tracker   *ratelimit.Tracker
	resource  string
	logger    zerolog.Logger
	now       func() time.Time

	activity *activityLog
	locks    *keyedMutex
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, &ConfigError{Field: "store", Value: nil, Reason: "required"}
	}
	if cfg.Lister == nil {
		return nil, &ConfigError{Field: "lister", Value: nil, Reason: "required"}
	}
	if cfg.Processor == nil {
		return nil, &ConfigError{Field: "processor", Value: nil, Reason: "required"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracker == nil {
		cfg.Tracker = ratelimit.NewTracker(nil, "", cfg.Logger)
	}

	return &Engine{
		store:     cfg.Store,
		lister:    cfg.Lister,
		processor: cfg.Processor,
		tracker:   cfg.Tracker,
		resource:  cfg.QuotaResource,
		logger:    cfg.Logger.With().Str("component", "importer").Logger(),
		now:       cfg.Now,
		activity:  newActivityLog(cfg.ActivityLimit),
		locks:     newKeyedMutex(),
	}, nil
}

// Start begins a fresh job, or continues a paused or failed one.
//
// A fresh job lists page 1 to learn the total and persists a running record.
// If that listing fails the record is persisted in the error state and the
// failure is reported through the returned progress. Calling Start on a
// running or completed job returns its progress unchanged.
func (e *Engine) Start(ctx context.Context, id string) (Progress, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.store.Load(ctx, id)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return e.startFresh(ctx, id)
	case err != nil:
		return Progress{}, fmt.Errorf("load job %s: %w", id, err)
	}

	if rec.Status.Resumable() {
		return e.resume(ctx, rec)
	}

	e.logger.Debug().
		Str("job_id", id).
		Str("status", string(rec.Status)).
		Msg("Start ignored, job already started")
	return e.project(id, rec), nil
}

// Resume moves a paused or failed job back to running.
// Returns ErrJobNotFound if no record exists.
func (e *Engine) Resume(ctx context.Context, id string) (Progress, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.store.Load(ctx, id)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return Progress{}, ErrJobNotFound
	case err != nil:
		return Progress{}, fmt.Errorf("load job %s: %w", id, err)
	}

	if !rec.Status.Resumable() {
		return e.project(id, rec), nil
	}
	return e.resume(ctx, rec)
}

// Pause stops a running job at the next batch boundary. A batch in flight
// still persists its progress and the job stays paused. Other states are
// returned unchanged.
func (e *Engine) Pause(ctx context.Context, id string) (Progress, error) {
	var from importjob.Status
	rec, err := e.store.Update(ctx, id, func(rec *importjob.JobRecord) error {
		from = rec.Status
		if rec.Status != importjob.StatusRunning {
			return nil
		}
		rec.Status = importjob.StatusPaused
		rec.PauseCause = importjob.PauseCauseOperator
		rec.PauseReason = "paused by operator"
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return Idle(id), nil
	case err != nil:
		return Progress{}, fmt.Errorf("pause job %s: %w", id, err)
	}

	if from == importjob.StatusRunning {
		e.transition(id, from, rec.Status)
		e.logger.Info().Str("job_id", id).Int("processed", rec.ProcessedItems).Msg("Import job paused")
	}
	return e.project(id, rec), nil
}

// Reset deletes the job's record and resume context. The job reads as idle afterwards.
func (e *Engine) Reset(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset job %s: %w", id, err)
	}
	e.activity.clear(id)
	transitionsTotal.WithLabelValues(string(importjob.StatusIdle)).Inc()
	e.logger.Info().Str("job_id", id).Msg("Import job reset")
	return nil
}

// GetProgress returns the current view of a job without changing it.
// Unknown ids read as idle.
func (e *Engine) GetProgress(ctx context.Context, id string) (Progress, error) {
	rec, err := e.store.Load(ctx, id)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return Idle(id), nil
	case err != nil:
		return Progress{}, fmt.Errorf("load job %s: %w", id, err)
	}
	return e.project(id, rec), nil
}

func (e *Engine) startFresh(ctx context.Context, id string) (Progress, error) {
	now := e.now()
	rec := importjob.NewRecord(id, now)
	rec.RunID = uuid.NewString()
	rec.PageSize = e.lister.PageSize()

	page, fetchErr := e.lister.FetchPage(ctx, 1)
	if fetchErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Progress{}, ctxErr
		}
		e.applyFetchFailure(rec, 1, fetchErr)
	} else {
		e.observe(ctx, page.RateLimit)
		if e.gates(page.RateLimit) {
			rec.SetRateLimit(page.RateLimit)
		}
		if page.Total > 0 {
			rec.TotalItems = page.Total
		}
		if rec.PageSize <= 0 {
			rec.PageSize = len(page.Identities)
		}
	}

	if err := e.store.Create(ctx, rec); err != nil {
		if errors.Is(err, jobstore.ErrExists) {
			// Another process started the same id first.
			existing, loadErr := e.store.Load(ctx, id)
			if loadErr != nil {
				return Progress{}, fmt.Errorf("load job %s: %w", id, loadErr)
			}
			return e.project(id, existing), nil
		}
		return Progress{}, fmt.Errorf("create job %s: %w", id, err)
	}

	if fetchErr == nil {
		candidates := &importjob.CandidatePage{Page: 1, Identities: page.Identities, FetchedAt: now}
		if err := e.store.SaveCandidates(ctx, id, candidates); err != nil {
			return Progress{}, fmt.Errorf("save candidates of job %s: %w", id, err)
		}
	}

	e.transition(id, importjob.StatusIdle, rec.Status)
	e.logger.Info().
		Str("job_id", id).
		Str("run_id", rec.RunID).
		Str("status", string(rec.Status)).
		Int("total", rec.TotalItems).
		Int("page_size", rec.PageSize).
		Msg("Import job started")

	return e.project(id, rec), nil
}

func (e *Engine) resume(ctx context.Context, rec *importjob.JobRecord) (Progress, error) {
	id := rec.ID
	from := rec.Status
	runID := uuid.NewString()

	updated, err := e.store.Update(ctx, id, func(cur *importjob.JobRecord) error {
		if !cur.Status.Resumable() {
			return nil
		}
		from = cur.Status
		cur.Status = importjob.StatusRunning
		cur.ClearPause()
		cur.SetError("")
		cur.RunID = runID
		cur.LastActivityAt = e.now()
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return Idle(id), nil
	case err != nil:
		return Progress{}, fmt.Errorf("resume job %s: %w", id, err)
	}

	if updated.RunID == runID {
		e.transition(id, from, updated.Status)
		e.logger.Info().
			Str("job_id", id).
			Str("run_id", runID).
			Str("from", string(from)).
			Int("processed", updated.ProcessedItems).
			Msg("Import job resumed")
	}
	return e.project(id, updated), nil
}

// applyFetchFailure moves rec to paused for a rate-limited listing call and
// to error for any other failure.
func (e *Engine) applyFetchFailure(rec *importjob.JobRecord, page int, err error) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		rec.Status = importjob.StatusPaused
		rec.PauseCause = importjob.PauseCauseRateLimit
		rec.PauseReason = rl.Error()
		rec.RateLimitRemaining = 0
		rec.RateLimitResetAt = rl.ResetAt
		rec.RateLimitObservedAt = e.now()
		e.logger.Warn().
			Str("job_id", rec.ID).
			Int("page", page).
			Time("reset_at", rl.ResetAt).
			Msg("Listing rate limited, pausing job")
		return
	}

	fe := &FetchError{Page: page, Err: err}
	rec.Status = importjob.StatusError
	rec.SetError(fe.Error())
	e.logger.Error().
		Err(err).
		Str("job_id", rec.ID).
		Int("page", page).
		Msg("Listing candidates failed")
}

func (e *Engine) observe(ctx context.Context, s ratelimit.Snapshot) {
	if !s.Known() {
		return
	}
	if err := e.tracker.Observe(ctx, s); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to share rate limit snapshot")
	}
}

// gates reports whether s is an observation of the quota batches spend.
func (e *Engine) gates(s ratelimit.Snapshot) bool {
	return s.Known() && s.Covers(e.resource)
}

// quota returns the freshest snapshot known for rec.
func (e *Engine) quota(ctx context.Context, rec *importjob.JobRecord) ratelimit.Snapshot {
	s := rec.RateLimit()
	latest, err := e.tracker.Latest(ctx, e.resource)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to read shared rate limit snapshot")
		return s
	}
	return ratelimit.Fresher(s, latest)
}

func (e *Engine) transition(id string, from, to importjob.Status) {
	if from == to {
		return
	}
	transitionsTotal.WithLabelValues(string(to)).Inc()
	e.logger.Debug().
		Str("job_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Import job transition")
}

func (e *Engine) project(id string, rec *importjob.JobRecord) Progress {
	return Project(id, rec, e.activity.recent(id), e.now())
}
