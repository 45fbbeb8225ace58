package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKeyPrefix prefixes the key holding the latest snapshot of a quota scope.
const RedisKeyPrefix = "import:rate_limit:"

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "import_rate_limit_remaining",
		Help: "Calls remaining in the current upstream rate limit window",
	}, []string{"scope", "resource"})

	rateLimitDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rate_limit_denials_total",
		Help: "Total number of gate denials by stage (batch, item, upstream)",
	}, []string{"stage"})
)

// Tracker keeps the freshest snapshot of every quota in one scope (typically
// one API token), keyed by the snapshot's resource. Jobs sharing a token see
// each other's observations through it. With a nil Redis client the snapshots
// are kept in process only.
type Tracker struct {
	redis  *redis.Client
	scope  string
	logger zerolog.Logger

	mu     sync.Mutex
	latest map[string]Snapshot
}

// NewTracker creates a new rate limit tracker for scope.
func NewTracker(redisClient *redis.Client, scope string, logger zerolog.Logger) *Tracker {
	if scope == "" {
		scope = "default"
	}
	return &Tracker{
		redis:  redisClient,
		scope:  scope,
		logger: logger,
		latest: make(map[string]Snapshot),
	}
}

func (t *Tracker) key(resource string) string {
	if resource == "" {
		return RedisKeyPrefix + t.scope
	}
	return RedisKeyPrefix + t.scope + ":" + resource
}

// Latest returns the freshest known snapshot of resource. An unknown snapshot
// is returned when nothing has been observed yet.
func (t *Tracker) Latest(ctx context.Context, resource string) (Snapshot, error) {
	t.mu.Lock()
	local := t.latest[resource]
	t.mu.Unlock()

	if t.redis == nil {
		return local, nil
	}

	data, err := t.redis.Get(ctx, t.key(resource)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return local, nil
		}
		return local, fmt.Errorf("get rate limit snapshot: %w", err)
	}

	var stored Snapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return local, fmt.Errorf("parse rate limit snapshot: %w", err)
	}

	return Fresher(local, stored), nil
}

// Observe records s under its resource if it is fresher than what the
// tracker already holds for that resource.
func (t *Tracker) Observe(ctx context.Context, s Snapshot) error {
	if !s.Known() {
		return nil
	}

	t.mu.Lock()
	if held, ok := t.latest[s.Resource]; ok && s.ObservedAt.Before(held.ObservedAt) {
		t.mu.Unlock()
		return nil
	}
	t.latest[s.Resource] = s
	t.mu.Unlock()

	rateLimitRemaining.WithLabelValues(t.scope, s.Resource).Set(float64(s.Remaining))

	switch s.Health() {
	case HealthCritical:
		t.logger.Error().
			Str("resource", s.Resource).
			Int("rate_limit_remaining", s.Remaining).
			Time("reset_at", s.ResetAt).
			Msg("Upstream rate limit CRITICAL")
	case HealthWarning:
		t.logger.Warn().
			Str("resource", s.Resource).
			Int("rate_limit_remaining", s.Remaining).
			Int("rate_limit_limit", s.Limit).
			Time("reset_at", s.ResetAt).
			Msg("Upstream rate limit WARNING")
	default:
		t.logger.Debug().
			Str("resource", s.Resource).
			Int("rate_limit_remaining", s.Remaining).
			Time("reset_at", s.ResetAt).
			Msg("Upstream rate limit state updated")
	}

	if t.redis == nil {
		return nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal rate limit snapshot: %w", err)
	}

	// Keep the key around until the window has reset; afterwards the snapshot is meaningless.
	ttl := s.TimeUntilReset(s.ObservedAt)
	if ttl <= 0 {
		return nil
	}
	if err := t.redis.Set(ctx, t.key(s.Resource), data, ttl).Err(); err != nil {
		return fmt.Errorf("store rate limit snapshot in redis: %w", err)
	}

	return nil
}

// RecordDenial counts and logs a gate denial at stage.
func (t *Tracker) RecordDenial(stage string, d Decision) {
	rateLimitDenialsTotal.WithLabelValues(stage).Inc()
	t.logger.Warn().
		Str("stage", stage).
		Time("wait_until", d.WaitUntil).
		Msg(d.Reason)
}
