// Package runner drives an import job to the end of its run from a single goroutine.
//
// The importer engine never sleeps; it does one bounded batch per call. The
// runner is one of its external schedulers: it repeats DriveBatch with a short
// delay while the job runs, waits out rate-limit pauses and resumes the job
// afterwards, and stops when the job completes, fails, or an operator pauses it.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/logging"
)

// Default wait policy.
const (
	DefaultMaxWait    = 15 * time.Minute
	DefaultResetSlack = time.Second
)

// Driver is the part of the engine the runner needs.
type Driver interface {
	DriveBatch(ctx context.Context, id string, opts importer.Options) (importer.Progress, error)
	Resume(ctx context.Context, id string) (importer.Progress, error)
}

// Config holds runner configuration.
type Config struct {
	// Options are passed to every DriveBatch call.
	Options importer.Options

	// PollDelay is the pause between batches of a running job.
	PollDelay time.Duration

	// MaxWait caps a single wait for a rate-limit reset. The runner re-checks
	// the job afterwards and waits again if the window is still closed.
	MaxWait time.Duration

	// ResetSlack is added to every rate-limit wait to absorb clock skew.
	ResetSlack time.Duration

	// OnProgress is called with every progress view the runner sees.
	OnProgress func(importer.Progress)

	// Logger for structured logging.
	Logger zerolog.Logger
}

// DefaultConfig returns a runner config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Options:    importer.DefaultOptions(),
		PollDelay:  importer.DefaultPollDelay,
		MaxWait:    DefaultMaxWait,
		ResetSlack: DefaultResetSlack,
		Logger:     zerolog.Nop(),
	}
}

// Runner repeats DriveBatch until a job stops running.
type Runner struct {
	driver Driver
	cfg    Config
	logger zerolog.Logger

	// after is time.After, replaceable in tests.
	after func(time.Duration) <-chan time.Time
}

// New creates a runner for driver.
func New(driver Driver, cfg Config) (*Runner, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollDelay < 0 {
		return nil, &importer.ConfigError{Field: "poll_delay", Value: cfg.PollDelay, Reason: "must not be negative"}
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.ResetSlack < 0 {
		cfg.ResetSlack = 0
	}

	return &Runner{
		driver: driver,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "runner").Logger(),
		after:  time.After,
	}, nil
}

// Run drives job id until it completes, fails, is paused by an operator or
// disappears. Rate-limit pauses are waited out and resumed. The returned
// progress is the last view seen; the error is a store failure or ctx's error.
func (r *Runner) Run(ctx context.Context, id string) (importer.Progress, error) {
	logger := logging.ForJob(r.logger, id, "")

	for {
		p, err := r.driver.DriveBatch(ctx, id, r.cfg.Options)
		if err != nil {
			return p, err
		}
		r.report(p)

		switch p.Status {
		case importjob.StatusRunning:
			if err := r.sleep(ctx, r.cfg.PollDelay); err != nil {
				return p, err
			}

		case importjob.StatusPaused:
			if p.PauseCause != importjob.PauseCauseRateLimit {
				logger.Info().Int("processed", p.ProcessedItems).Msg("Job paused by operator, runner stopping")
				return p, nil
			}

			wait := r.waitFor(p)
			logger.Info().
				Int("processed", p.ProcessedItems).
				Int("rate_limit_remaining", p.RateLimitRemaining).
				Dur("wait", wait).
				Msg("Waiting for rate limit reset")

			if err := r.sleep(ctx, wait); err != nil {
				return p, err
			}

			p, err = r.driver.Resume(ctx, id)
			if err != nil {
				return p, err
			}
			r.report(p)

			// Someone else moved the job on while we were waiting.
			if p.Status != importjob.StatusRunning {
				return p, nil
			}

		default:
			logger.Info().
				Str("status", string(p.Status)).
				Int("processed", p.ProcessedItems).
				Int("total", p.TotalItems).
				Msg("Runner finished")
			return p, nil
		}
	}
}

// waitFor returns how long to wait before resuming a rate-limit pause.
func (r *Runner) waitFor(p importer.Progress) time.Duration {
	wait := p.RetryAfter() + r.cfg.ResetSlack
	if wait > r.cfg.MaxWait {
		wait = r.cfg.MaxWait
	}
	return wait
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.after(d):
		return nil
	}
}

func (r *Runner) report(p importer.Progress) {
	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(p)
	}
}
