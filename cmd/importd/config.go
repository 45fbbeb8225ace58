package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/runner"
	"github.com/Sternrassler/directory-import/pkg/source"
)

// settings is the resolved configuration of one process.
type settings struct {
	Storage string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UpstreamURL    string
	Token          string
	UserAgent      string
	Query          string
	PerPage        int
	MaxResults     int
	Timeout        time.Duration
	RateLimitScope string
	CacheRetention time.Duration

	BatchSize    int
	SafetyMargin int
	PollDelay    time.Duration
	MaxWait      time.Duration

	ServerPort      string
	ShutdownTimeout time.Duration
	AutoRun         bool
}

// settingDefaultConfig binds IMPORTD_* environment variables and sets defaults.
// A key like upstream.per_page is read from IMPORTD_UPSTREAM_PER_PAGE.
func settingDefaultConfig() {
	viper.SetEnvPrefix("IMPORTD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("storage", "redis")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("upstream.url", source.DefaultBaseURL)
	viper.SetDefault("upstream.token", "")
	viper.SetDefault("upstream.user_agent", "directory-import/"+Version)
	viper.SetDefault("upstream.query", "")
	viper.SetDefault("upstream.per_page", source.DefaultPerPage)
	viper.SetDefault("upstream.max_results", source.DefaultMaxResults)
	viper.SetDefault("upstream.timeout", source.DefaultTimeout.String())
	viper.SetDefault("upstream.rate_limit_scope", "default")
	viper.SetDefault("upstream.cache_retention", "168h")

	viper.SetDefault("import.batch_size", importer.DefaultBatchSize)
	viper.SetDefault("import.safety_margin", importer.DefaultSafetyMargin)
	viper.SetDefault("import.poll_delay", importer.DefaultPollDelay.String())
	viper.SetDefault("import.max_wait", runner.DefaultMaxWait.String())

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.auto_run", true)
}

func loadSettings() settings {
	return settings{
		Storage: strings.ToLower(viper.GetString("storage")),

		RedisAddr:     viper.GetString("redis.addr"),
		RedisPassword: viper.GetString("redis.password"),
		RedisDB:       viper.GetInt("redis.db"),

		UpstreamURL:    viper.GetString("upstream.url"),
		Token:          viper.GetString("upstream.token"),
		UserAgent:      viper.GetString("upstream.user_agent"),
		Query:          viper.GetString("upstream.query"),
		PerPage:        viper.GetInt("upstream.per_page"),
		MaxResults:     viper.GetInt("upstream.max_results"),
		Timeout:        viper.GetDuration("upstream.timeout"),
		RateLimitScope: viper.GetString("upstream.rate_limit_scope"),
		CacheRetention: viper.GetDuration("upstream.cache_retention"),

		BatchSize:    viper.GetInt("import.batch_size"),
		SafetyMargin: viper.GetInt("import.safety_margin"),
		PollDelay:    viper.GetDuration("import.poll_delay"),
		MaxWait:      viper.GetDuration("import.max_wait"),

		ServerPort:      viper.GetString("server.port"),
		ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		AutoRun:         viper.GetBool("server.auto_run"),
	}
}

// options returns the batch options of s.
func (s settings) options() importer.Options {
	return importer.Options{BatchSize: s.BatchSize, SafetyMargin: s.SafetyMargin}
}

// runnerConfig returns the runner configuration of s.
func (s settings) runnerConfig() runner.Config {
	cfg := runner.DefaultConfig()
	cfg.Options = s.options()
	cfg.PollDelay = s.PollDelay
	if s.MaxWait > 0 {
		cfg.MaxWait = s.MaxWait
	}
	return cfg
}
