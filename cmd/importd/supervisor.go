package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/directory-import/pkg/runner"
)

// supervisor keeps at most one runner goroutine per job.
type supervisor struct {
	runner *runner.Runner
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

func newSupervisor(r *runner.Runner, logger zerolog.Logger) *supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &supervisor{
		runner: r,
		logger: logger.With().Str("component", "supervisor").Logger(),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
}

// Launch starts a runner for id unless one is already active.
// It reports whether a runner was started.
func (s *supervisor) Launch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	if _, ok := s.active[id]; ok {
		return false
	}
	s.active[id] = struct{}{}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, id)
			s.mu.Unlock()
		}()

		p, err := s.runner.Run(s.ctx, id)
		if err != nil && s.ctx.Err() == nil {
			s.logger.Error().Err(err).Str("job_id", id).Msg("Runner failed")
			return
		}
		s.logger.Info().
			Str("job_id", id).
			Str("status", string(p.Status)).
			Int("processed", p.ProcessedItems).
			Msg("Runner stopped")
	}()
	return true
}

// Active reports whether a runner for id is running.
func (s *supervisor) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// Stop cancels all runners and waits for them to return.
func (s *supervisor) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
