package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/jobstore"
	"github.com/Sternrassler/directory-import/pkg/pagination"
	"github.com/Sternrassler/directory-import/pkg/ratelimit"
)

// batch accumulates what happened during one DriveBatch call.
type batch struct {
	attempted int
	imported  int
	skipped   int
	failed    int
	lastErr   string

	// quota is the freshest snapshot seen while processing items.
	quota ratelimit.Snapshot

	// pause is set when the batch stopped because of the rate limit.
	pause *ratePause

	ctxErr error
}

// persistTimeout bounds state writes that outlive a cancelled caller.
const persistTimeout = 10 * time.Second

// detach returns a context for persisting work already done. It keeps ctx's
// values but not its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

type ratePause struct {
	until  time.Time
	reason string

	// exhausted means the upstream refused a call, so no quota is left.
	exhausted bool
}

// DriveBatch processes up to opts.BatchSize candidates of a running job and
// persists the advanced cursor before returning.
//
// Calls on jobs that are not running are no-ops. A quota too low for the batch
// pauses the job without touching the cursor. Domain outcomes (item failures,
// listing failures, rate-limit pauses) are reported through the returned
// progress; the error return is reserved for invalid options, store failures
// and context cancellation.
func (e *Engine) DriveBatch(ctx context.Context, id string, opts Options) (Progress, error) {
	if err := opts.Validate(); err != nil {
		return Progress{}, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	start := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	rec, err := e.store.Load(ctx, id)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		batchesTotal.WithLabelValues("noop").Inc()
		return Idle(id), nil
	case err != nil:
		batchesTotal.WithLabelValues("failed").Inc()
		return Progress{}, fmt.Errorf("load job %s: %w", id, err)
	}

	if rec.Status != importjob.StatusRunning {
		batchesTotal.WithLabelValues("noop").Inc()
		return e.project(id, rec), nil
	}

	if rec.Done() {
		return e.complete(ctx, id, nil, "all candidates processed")
	}

	quota := e.quota(ctx, rec)
	decision := ratelimit.Allow(quota, ratelimit.RequiredBudget(opts.BatchSize, opts.SafetyMargin), e.now())
	if !decision.OK {
		e.tracker.RecordDenial("batch", decision)
		return e.pauseForQuota(ctx, id, quota, decision)
	}

	candidates, listed, err := e.candidates(ctx, rec)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			batchesTotal.WithLabelValues("failed").Inc()
			return Progress{}, fmt.Errorf("job %s: %w", id, err)
		}
		return e.failListing(ctx, rec, fe)
	}

	pageSize := rec.PageSize
	if pageSize <= 0 {
		pageSize = len(candidates.Identities)
	}

	from, to := pagination.Window(candidates.Offset(rec.ProcessedItems), opts.BatchSize, len(candidates.Identities))
	if left := rec.Remaining(); left >= 0 && to-from > left {
		to = from + left
	}
	if from >= to {
		return e.complete(ctx, id, listed, "candidate list exhausted")
	}

	b := e.process(ctx, id, candidates.Identities[from:to], opts)

	// Items already upserted must be counted even when ctx was cancelled mid-batch.
	pctx, cancel := detach(ctx)
	defer cancel()

	now := e.now()
	var prev importjob.Status
	updated, err := e.store.Update(pctx, id, func(cur *importjob.JobRecord) error {
		prev = cur.Status

		if cur.PageSize <= 0 {
			cur.PageSize = pageSize
		}
		if listed != nil {
			if e.gates(listed.RateLimit) {
				cur.SetRateLimit(listed.RateLimit)
			}
			if listed.Total > 0 {
				cur.TotalItems = listed.Total
			}
		}

		cur.ProcessedItems += b.attempted
		cur.ImportedCount += b.imported
		cur.SkippedCount += b.skipped
		cur.ErrorCount += b.failed
		if cur.TotalItems > 0 && cur.ProcessedItems > cur.TotalItems {
			cur.TotalItems = cur.ProcessedItems
		}

		if b.attempted > 0 {
			cur.LastActivityAt = now
			cur.SetError(b.lastErr)
		}
		cur.SetRateLimit(b.quota)

		if from+b.attempted >= len(candidates.Identities) {
			cur.CurrentPage = candidates.Page + 1
		}

		// A concurrent Pause wins over whatever this batch decided.
		if cur.Status != importjob.StatusRunning {
			return nil
		}

		switch {
		case b.pause != nil:
			cur.Status = importjob.StatusPaused
			cur.PauseCause = importjob.PauseCauseRateLimit
			cur.PauseReason = b.pause.reason
			if !b.pause.until.IsZero() {
				cur.RateLimitResetAt = b.pause.until
			}
			if b.pause.exhausted {
				cur.RateLimitRemaining = 0
				cur.RateLimitObservedAt = now
			}
		case cur.Done():
			cur.Status = importjob.StatusCompleted
			cur.ClearPause()
		}
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		e.activity.clear(id)
		e.logger.Info().Str("job_id", id).Msg("Import job reset during batch, discarding results")
		batchesTotal.WithLabelValues("noop").Inc()
		return Idle(id), b.ctxErr
	case err != nil:
		batchesTotal.WithLabelValues("failed").Inc()
		return Progress{}, fmt.Errorf("persist batch of job %s: %w", id, err)
	}

	e.transition(id, prev, updated.Status)
	batchesTotal.WithLabelValues(batchResult(updated.Status)).Inc()

	e.logger.Info().
		Str("job_id", id).
		Str("status", string(updated.Status)).
		Int("attempted", b.attempted).
		Int("imported", b.imported).
		Int("skipped", b.skipped).
		Int("errors", b.failed).
		Int("processed", updated.ProcessedItems).
		Int("total", updated.TotalItems).
		Int("page", updated.CurrentPage).
		Msg("Batch processed")

	return e.project(id, updated), b.ctxErr
}

// process runs the processor over items, stopping early on a rate-limit
// signal or context cancellation. The quota reported with every item, failed
// or not, is checked before the next one is attempted.
func (e *Engine) process(ctx context.Context, id string, items []importjob.Identity, opts Options) batch {
	var b batch

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			b.ctxErr = err
			return b
		}

		res, err := e.processor.Process(ctx, item)
		if res.RateLimit != nil && res.RateLimit.Known() {
			e.observe(ctx, *res.RateLimit)
			if e.gates(*res.RateLimit) {
				b.quota = ratelimit.Fresher(b.quota, *res.RateLimit)
			}
		}

		if err != nil {
			var rl *RateLimitedError
			if errors.As(err, &rl) {
				b.pause = &ratePause{until: rl.ResetAt, reason: rl.Error(), exhausted: true}
				e.tracker.RecordDenial("upstream", ratelimit.Decision{WaitUntil: rl.ResetAt, Reason: rl.Error()})
				return b
			}
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				b.ctxErr = ctxErr
				return b
			}

			ie := &ItemError{Identity: item, Err: err}
			b.attempted++
			b.failed++
			b.lastErr = ie.Error()
			e.record(id, item, importjob.ResultError, ie.Error())
			e.logger.Warn().Err(err).Str("job_id", id).Str("item", item.String()).Msg("Item import failed")
		} else {
			b.attempted++
			result := res.Result
			switch result {
			case importjob.ResultSkipped:
				b.skipped++
			case importjob.ResultError:
				b.failed++
				b.lastErr = (&ItemError{Identity: item, Err: errors.New(res.Label)}).Error()
			case "":
				result = importjob.ResultImported
				b.imported++
			default:
				b.imported++
			}
			e.record(id, item, result, res.Label)
		}

		// Stop before the quota runs dry mid-batch.
		if res.RateLimit != nil && e.gates(*res.RateLimit) {
			d := ratelimit.Allow(*res.RateLimit, 1+opts.SafetyMargin, e.now())
			if !d.OK {
				b.pause = &ratePause{until: d.WaitUntil, reason: d.Reason}
				e.tracker.RecordDenial("item", d)
				return b
			}
		}
	}

	return b
}

// candidates returns the persisted page the cursor points into, listing it
// when the resume context is missing or belongs to another page. The listing
// result is returned so its total and quota can be persisted. Listing
// failures are returned as *FetchError.
func (e *Engine) candidates(ctx context.Context, rec *importjob.JobRecord) (*importjob.CandidatePage, *Page, error) {
	page := rec.CurrentPage
	if page <= 0 {
		page = 1
	}

	// Entering a new page: the cursor sits on the page boundary.
	base := rec.ProcessedItems

	cached, err := e.store.LoadCandidates(ctx, rec.ID)
	switch {
	case err == nil && cached.Page == page:
		return cached, nil, nil
	case err == nil:
	case errors.Is(err, jobstore.ErrNotFound):
		// Resume context lost: assume full pages before the cursor.
		base -= pagination.Offset(rec.ProcessedItems, rec.PageSize)
	default:
		e.logger.Warn().Err(err).Str("job_id", rec.ID).Msg("Failed to load resume context, listing again")
		base -= pagination.Offset(rec.ProcessedItems, rec.PageSize)
	}

	listed, err := e.lister.FetchPage(ctx, page)
	if err != nil {
		return nil, nil, &FetchError{Page: page, Err: err}
	}
	e.observe(ctx, listed.RateLimit)

	cp := &importjob.CandidatePage{
		Page:       page,
		Base:       base,
		Identities: listed.Identities,
		FetchedAt:  e.now(),
	}
	if err := e.store.SaveCandidates(ctx, rec.ID, cp); err != nil {
		return nil, nil, fmt.Errorf("save candidates: %w", err)
	}

	e.logger.Debug().
		Str("job_id", rec.ID).
		Int("page", page).
		Int("candidates", len(listed.Identities)).
		Msg("Listed candidate page")

	return cp, listed, nil
}

// failListing pauses the job for a rate-limited listing and moves it to the
// error state for any other listing failure. A cancelled context leaves the
// job untouched.
func (e *Engine) failListing(ctx context.Context, rec *importjob.JobRecord, fe *FetchError) (Progress, error) {
	id := rec.ID
	if ctxErr := ctx.Err(); ctxErr != nil {
		batchesTotal.WithLabelValues("failed").Inc()
		return e.project(id, rec), ctxErr
	}

	var prev importjob.Status
	updated, err := e.store.Update(ctx, id, func(cur *importjob.JobRecord) error {
		prev = cur.Status
		if cur.Status != importjob.StatusRunning {
			return nil
		}
		e.applyFetchFailure(cur, fe.Page, fe.Err)
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		batchesTotal.WithLabelValues("noop").Inc()
		return Idle(id), nil
	case err != nil:
		batchesTotal.WithLabelValues("failed").Inc()
		return Progress{}, fmt.Errorf("persist listing failure of job %s: %w", id, err)
	}

	var rl *RateLimitedError
	if errors.As(fe, &rl) {
		e.tracker.RecordDenial("upstream", ratelimit.Decision{WaitUntil: rl.ResetAt, Reason: rl.Error()})
	}
	e.transition(id, prev, updated.Status)
	batchesTotal.WithLabelValues(batchResult(updated.Status)).Inc()
	return e.project(id, updated), nil
}

// pauseForQuota pauses a running job because quota s cannot cover the batch.
func (e *Engine) pauseForQuota(ctx context.Context, id string, s ratelimit.Snapshot, d ratelimit.Decision) (Progress, error) {
	ctx, cancel := detach(ctx)
	defer cancel()

	var prev importjob.Status
	updated, err := e.store.Update(ctx, id, func(cur *importjob.JobRecord) error {
		prev = cur.Status
		cur.SetRateLimit(s)
		if cur.Status != importjob.StatusRunning {
			return nil
		}
		cur.Status = importjob.StatusPaused
		cur.PauseCause = importjob.PauseCauseRateLimit
		cur.PauseReason = d.Reason
		if !d.WaitUntil.IsZero() {
			cur.RateLimitResetAt = d.WaitUntil
		}
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		batchesTotal.WithLabelValues("noop").Inc()
		return Idle(id), nil
	case err != nil:
		batchesTotal.WithLabelValues("failed").Inc()
		return Progress{}, fmt.Errorf("pause job %s: %w", id, err)
	}

	e.transition(id, prev, updated.Status)
	batchesTotal.WithLabelValues(batchResult(updated.Status)).Inc()
	e.logger.Info().
		Str("job_id", id).
		Int("rate_limit_remaining", updated.RateLimitRemaining).
		Time("reset_at", updated.RateLimitResetAt).
		Msg("Import job paused for rate limit")
	return e.project(id, updated), nil
}

// complete marks a running job completed. listed carries the listing call
// that found the list exhausted, if any.
func (e *Engine) complete(ctx context.Context, id string, listed *Page, reason string) (Progress, error) {
	ctx, cancel := detach(ctx)
	defer cancel()

	var prev importjob.Status
	updated, err := e.store.Update(ctx, id, func(cur *importjob.JobRecord) error {
		prev = cur.Status
		if listed != nil && e.gates(listed.RateLimit) {
			cur.SetRateLimit(listed.RateLimit)
		}
		if cur.Status != importjob.StatusRunning {
			return nil
		}
		// The upstream list can shrink while a job runs; the total follows what was seen.
		if !cur.Done() {
			cur.TotalItems = cur.ProcessedItems
		}
		cur.Status = importjob.StatusCompleted
		cur.ClearPause()
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		batchesTotal.WithLabelValues("noop").Inc()
		return Idle(id), nil
	case err != nil:
		batchesTotal.WithLabelValues("failed").Inc()
		return Progress{}, fmt.Errorf("complete job %s: %w", id, err)
	}

	e.transition(id, prev, updated.Status)
	batchesTotal.WithLabelValues(batchResult(updated.Status)).Inc()
	if updated.Status == importjob.StatusCompleted {
		e.logger.Info().
			Str("job_id", id).
			Str("reason", reason).
			Int("processed", updated.ProcessedItems).
			Int("imported", updated.ImportedCount).
			Int("skipped", updated.SkippedCount).
			Int("errors", updated.ErrorCount).
			Msg("Import job completed")
	}
	return e.project(id, updated), nil
}

func (e *Engine) record(id string, item importjob.Identity, result importjob.Result, msg string) {
	itemsTotal.WithLabelValues(string(result)).Inc()
	e.activity.add(id, importjob.Outcome{
		Identity: item,
		Result:   result,
		Message:  msg,
		At:       e.now(),
	})
}

func batchResult(s importjob.Status) string {
	switch s {
	case importjob.StatusPaused:
		return "paused"
	case importjob.StatusCompleted:
		return "completed"
	case importjob.StatusError:
		return "failed"
	default:
		return "processed"
	}
}
