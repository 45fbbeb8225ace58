package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	RedisKeyPrefix       = "import:job:"
	redisCandidateSuffix = ":candidates"

	// maxTxRetries bounds optimistic-lock retries of Update.
	maxTxRetries = 5
)

// RedisStore persists records as JSON strings in Redis.
// Update runs under WATCH so a concurrent Pause or Reset is never overwritten blindly.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store backed by redisClient.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

func recordKey(id string) string {
	return RedisKeyPrefix + id
}

func candidateKey(id string) string {
	return RedisKeyPrefix + id + redisCandidateSuffix
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id string) (*importjob.JobRecord, error) {
	data, err := s.redis.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		storeErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeRecord(data)
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, rec *importjob.JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, recordKey(rec.ID), data, 0).Result()
	if err != nil {
		storeErrors.WithLabelValues("create").Inc()
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*importjob.JobRecord, error) {
	key := recordKey(id)
	var updated *importjob.JobRecord

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("redis get: %w", err)
		}

		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.ID = id

		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal job record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = rec
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			// Key changed between WATCH and EXEC; reload and reapply
			continue
		case errors.Is(err, ErrNotFound):
			return nil, ErrNotFound
		default:
			storeErrors.WithLabelValues("update").Inc()
			return nil, err
		}
	}

	storeErrors.WithLabelValues("update").Inc()
	return nil, fmt.Errorf("update job %s: %w after %d attempts", id, redis.TxFailedErr, maxTxRetries)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, recordKey(id), candidateKey(id)).Err(); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// SaveCandidates implements Store.
func (s *RedisStore) SaveCandidates(ctx context.Context, id string, page *importjob.CandidatePage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal candidate page: %w", err)
	}
	if err := s.redis.Set(ctx, candidateKey(id), data, 0).Err(); err != nil {
		storeErrors.WithLabelValues("candidates").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// LoadCandidates implements Store.
func (s *RedisStore) LoadCandidates(ctx context.Context, id string) (*importjob.CandidatePage, error) {
	data, err := s.redis.Get(ctx, candidateKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		storeErrors.WithLabelValues("candidates").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var page importjob.CandidatePage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("parse candidate page: %w", err)
	}
	return &page, nil
}

func decodeRecord(data []byte) (*importjob.JobRecord, error) {
	var rec importjob.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse job record: %w", err)
	}
	return &rec, nil
}
