package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// Redis key layout.
const (
	entryKeyPrefix = "import:directory:"
	loginIndexKey  = "import:directory:logins"
	maxTxRetries   = 5
)

var upsertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "import_directory_upserts_total",
		Help: "Total number of directory upserts by result",
	},
	[]string{"result"}, // "imported", "merged", "skipped", "error"
)

// RedisDirectory is a Sink backed by Redis.
// Each entry is a JSON document; a hash maps logins to ids.
type RedisDirectory struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisDirectory creates a Redis-backed directory.
func NewRedisDirectory(redisClient *redis.Client) *RedisDirectory {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisDirectory{
		redis: redisClient,
		now:   time.Now,
	}
}

func entryKey(id string) string {
	return entryKeyPrefix + id
}

// Upsert implements Sink.
func (d *RedisDirectory) Upsert(ctx context.Context, p Profile) (importjob.Result, error) {
	if p.ID == "" {
		upsertsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("profile id is required")
	}

	key := entryKey(p.ID)
	var result importjob.Result

	txf := func(tx *redis.Tx) error {
		var existing *Entry
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		default:
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("decode directory entry: %w", err)
			}
			existing = &e
		}

		next, res := apply(existing, p, d.now())
		result = res
		if next == nil {
			return nil
		}

		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal directory entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			if existing != nil && existing.Profile.Login != "" && existing.Profile.Login != next.Profile.Login {
				pipe.HDel(ctx, loginIndexKey, existing.Profile.Login)
			}
			if next.Profile.Login != "" {
				pipe.HSet(ctx, loginIndexKey, next.Profile.Login, p.ID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := d.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			upsertsTotal.WithLabelValues(string(result)).Inc()
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			upsertsTotal.WithLabelValues("error").Inc()
			return "", err
		}
	}

	upsertsTotal.WithLabelValues("error").Inc()
	return "", fmt.Errorf("upsert profile %s: %w after %d attempts", p.ID, redis.TxFailedErr, maxTxRetries)
}

// Get returns the entry for id.
func (d *RedisDirectory) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := d.redis.Get(ctx, entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode directory entry: %w", err)
	}
	return &e, nil
}

// Lookup returns the entry for login.
func (d *RedisDirectory) Lookup(ctx context.Context, login string) (*Entry, error) {
	id, err := d.redis.HGet(ctx, loginIndexKey, login).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return d.Get(ctx, id)
}

// Count returns the number of indexed logins.
func (d *RedisDirectory) Count(ctx context.Context) (int64, error) {
	n, err := d.redis.HLen(ctx, loginIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return n, nil
}
