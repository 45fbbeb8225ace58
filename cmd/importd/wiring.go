package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/directory-import/pkg/cache"
	"github.com/Sternrassler/directory-import/pkg/directory"
	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/jobstore"
	"github.com/Sternrassler/directory-import/pkg/ratelimit"
	"github.com/Sternrassler/directory-import/pkg/source"
)

// app holds the wired components of one process.
type app struct {
	settings  settings
	engine    *importer.Engine
	directory directory.Sink
	redis     *redis.Client
	logger    zerolog.Logger
}

// newApp wires storage, upstream client and engine according to s.
func newApp(ctx context.Context, s settings, logger zerolog.Logger) (*app, error) {
	if err := s.options().Validate(); err != nil {
		return nil, err
	}

	a := &app{settings: s, logger: logger}

	var (
		store   jobstore.Store
		tracker *ratelimit.Tracker
		cacheM  *cache.Manager
	)

	switch s.Storage {
	case "memory":
		store = jobstore.NewMemoryStore()
		a.directory = directory.NewMemoryDirectory()
		tracker = ratelimit.NewTracker(nil, s.RateLimitScope, logger)

	case "redis", "":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", s.RedisAddr, err)
		}
		logger.Info().Str("addr", s.RedisAddr).Msg("Connected to Redis")

		store = jobstore.NewRedisStore(a.redis)
		a.directory = directory.NewRedisDirectory(a.redis)
		tracker = ratelimit.NewTracker(a.redis, s.RateLimitScope, logger)
		cacheM = cache.NewManager(a.redis, s.CacheRetention)

	default:
		return nil, fmt.Errorf("unknown storage %q (want redis or memory)", s.Storage)
	}

	srcCfg := source.DefaultConfig(s.UserAgent, s.Query)
	srcCfg.BaseURL = s.UpstreamURL
	srcCfg.Token = s.Token
	srcCfg.PerPage = s.PerPage
	srcCfg.MaxResults = s.MaxResults
	srcCfg.Timeout = s.Timeout
	srcCfg.Cache = cacheM
	srcCfg.Logger = logger

	client, err := source.New(srcCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	processor, err := source.NewImporter(client, a.directory)
	if err != nil {
		a.Close()
		return nil, err
	}

	cfg := importer.DefaultConfig(store, client, processor)
	cfg.Tracker = tracker
	cfg.QuotaResource = source.ResourceCore
	cfg.Logger = logger

	a.engine, err = importer.New(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// ping checks the storage backend.
func (a *app) ping(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (a *app) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
