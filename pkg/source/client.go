// Package source talks to the upstream directory API: it lists candidate
// accounts through the search endpoint and fetches their profiles.
//
// Every response updates the observed quota from the X-RateLimit-* headers.
// A 403 or 429 that signals an exhausted quota becomes an
// importer.RateLimitedError so the engine pauses instead of failing.
// Server and network errors are retried with exponential backoff; other
// client errors are returned at once. Profile requests are revalidated with
// ETags when a cache is configured, and a 304 costs no quota.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/directory-import/pkg/cache"
	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/ratelimit"
)

// Defaults for the upstream API.
const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultPerPage    = 30
	MaxPerPage        = 100
	DefaultMaxResults = 1000
	DefaultTimeout    = 30 * time.Second

	// DefaultRateLimitBackoff is used for a 429 that names no reset time.
	DefaultRateLimitBackoff = time.Minute
)

// Quotas named by X-RateLimit-Resource. Profile fetches spend the core quota;
// search listing has a separate, much smaller one.
const (
	ResourceCore   = "core"
	ResourceSearch = "search"
)

// Endpoint labels for metrics and logs.
const (
	endpointSearch  = "search"
	endpointProfile = "profile"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, without trailing slash.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// UserAgent header (required upstream).
	UserAgent string

	// Query is the search expression that selects candidates (e.g. "location:berlin").
	Query string

	// Sort and Order keep pages stable while a job runs.
	Sort  string
	Order string

	// PerPage is the page size of the search listing.
	PerPage int

	// MaxResults caps the listing; the search endpoint serves no more. Zero means no cap.
	MaxResults int

	// Timeout for a single HTTP request.
	Timeout time.Duration

	// Retry overrides the per-class retry policy when MaxAttempts is set.
	Retry RetryConfig

	// Cache enables conditional profile requests. Optional.
	Cache *cache.Manager

	// Logger for structured logging.
	Logger zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent, query string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		UserAgent:  userAgent,
		Query:      query,
		Sort:       "joined",
		Order:      "asc",
		PerPage:    DefaultPerPage,
		MaxResults: DefaultMaxResults,
		Timeout:    DefaultTimeout,
		Logger:     zerolog.Nop(),
	}
}

// Client is the upstream API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if strings.TrimSpace(cfg.Query) == "" {
		return nil, fmt.Errorf("search query is required")
	}

	if cfg.PerPage < 1 || cfg.PerPage > MaxPerPage {
		return nil, fmt.Errorf("per_page must be between 1 and %d (got %d)", MaxPerPage, cfg.PerPage)
	}

	if cfg.MaxResults < 0 {
		return nil, fmt.Errorf("max_results must not be negative (got %d)", cfg.MaxResults)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		cache:      cfg.Cache,
		config:     cfg,
		logger:     cfg.Logger.With().Str("component", "source").Logger(),
		now:        time.Now,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// PageSize implements importer.ListFetcher.
func (c *Client) PageSize() int {
	return c.config.PerPage
}

// get performs a GET with retries. On success the response body is open and
// the status is 2xx or 304. The snapshot is the quota read from the last
// response that carried one, and is returned with errors too: a failed call
// still spent quota.
func (c *Client) get(ctx context.Context, endpoint, rawURL string, prepare func(*http.Request)) (*http.Response, ratelimit.Snapshot, error) {
	var (
		resp *http.Response
		snap ratelimit.Snapshot
	)

	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() (ErrorClass, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return ErrorClassClient, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.config.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.Token)
		}
		if prepare != nil {
			prepare(req)
		}

		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("url", rawURL).
			Msg("Executing upstream request")

		start := time.Now()
		r, err := c.httpClient.Do(req)
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return ErrorClassNetwork, &UpstreamError{
				Endpoint:   endpoint,
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        err,
			}
		}

		now := c.now()
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()

		s, perr := ratelimit.FromHeaders(r.Header, now)
		if perr != nil {
			c.logger.Warn().Err(perr).Str("endpoint", endpoint).Msg("Failed to parse rate limit headers")
		}
		if s.Known() {
			snap = s
		}

		if r.StatusCode < 400 {
			resp = r
			return "", nil
		}

		message := readMessage(r)

		if rl := rateLimitError(r, s, now); rl != nil {
			rl.Err = &UpstreamError{
				Endpoint:   endpoint,
				StatusCode: r.StatusCode,
				ErrorClass: ErrorClassRateLimit,
				Message:    message,
			}
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", r.StatusCode).
				Time("reset_at", rl.ResetAt).
				Msg("Upstream rate limit reached")
			return ErrorClassRateLimit, rl
		}

		class := classifyStatus(r.StatusCode)
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", r.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		return class, &UpstreamError{
			Endpoint:   endpoint,
			StatusCode: r.StatusCode,
			ErrorClass: class,
			Message:    message,
		}
	})
	if err != nil {
		return nil, snap, err
	}

	return resp, snap, nil
}

// rateLimitError reports whether a 403/429 response refused the call for
// quota reasons, and until when.
func rateLimitError(resp *http.Response, s ratelimit.Snapshot, now time.Time) *importer.RateLimitedError {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}

	if at, ok := ratelimit.RetryAfter(resp.Header, now); ok {
		return &importer.RateLimitedError{ResetAt: at}
	}
	if s.Known() && s.Remaining == 0 {
		return &importer.RateLimitedError{ResetAt: s.ResetAt}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &importer.RateLimitedError{ResetAt: now.Add(DefaultRateLimitBackoff)}
	}
	// A plain 403 is a permission problem.
	return nil
}

// readMessage drains and closes an error response, returning its message.
func readMessage(resp *http.Response) string {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return resp.Status
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return resp.Status
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}
