package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/directory-import/pkg/cache"
	"github.com/Sternrassler/directory-import/pkg/directory"
	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/ratelimit"
)

type profileResponse struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Email       string    `json:"email"`
	Bio         string    `json:"bio"`
	Blog        string    `json:"blog"`
	AvatarURL   string    `json:"avatar_url"`
	HTMLURL     string    `json:"html_url"`
	Followers   int       `json:"followers"`
	PublicRepos int       `json:"public_repos"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p profileResponse) toProfile() directory.Profile {
	return directory.Profile{
		ID:          strconv.FormatInt(p.ID, 10),
		Login:       p.Login,
		Name:        p.Name,
		Company:     p.Company,
		Location:    p.Location,
		Email:       p.Email,
		Bio:         p.Bio,
		Blog:        p.Blog,
		AvatarURL:   p.AvatarURL,
		HTMLURL:     p.HTMLURL,
		Followers:   p.Followers,
		PublicRepos: p.PublicRepos,
		UpdatedAt:   p.UpdatedAt,
	}
}

// profileURL prefers the reference listed with the identity when it points at the API.
func (c *Client) profileURL(id importjob.Identity) string {
	if id.Ref != "" && strings.HasPrefix(id.Ref, c.baseURL.String()+"/") {
		return id.Ref
	}
	return c.resolve("/user/"+id.ID, nil)
}

// FetchProfile fetches the profile of id. With a cache configured the request
// is conditional, and a 304 answers from the cached body. The returned quota
// is set on failures as well whenever the upstream answered.
func (c *Client) FetchProfile(ctx context.Context, id importjob.Identity) (directory.Profile, ratelimit.Snapshot, error) {
	key := cache.Key{Resource: endpointProfile, ID: id.ID}

	var cached *cache.Entry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			cached = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("identity", id.String()).Msg("Cache get error")
		}
	}

	prepare := func(req *http.Request) {
		if cache.CanRevalidate(cached) {
			cache.AddConditionalHeaders(req, cached)
		}
	}

	resp, snap, err := c.get(ctx, endpointProfile, c.profileURL(id), prepare)
	if err != nil {
		return directory.Profile{}, snap, err
	}
	defer resp.Body.Close()

	var data []byte
	switch {
	case resp.StatusCode == http.StatusNotModified:
		if cached == nil {
			return directory.Profile{}, snap, fmt.Errorf("unexpected 304 for %s without cached entry", id)
		}
		cache.NotModifiedResponses.Inc()
		if err := c.cache.Touch(ctx, key); err != nil {
			c.logger.Warn().Err(err).Str("identity", id.String()).Msg("Failed to refresh cache entry")
		}
		c.logger.Debug().Str("identity", id.String()).Msg("304 Not Modified - using cache")
		data = cached.Data

	default:
		if c.cache != nil {
			entry, err := cache.ResponseToEntry(resp, c.now())
			if err != nil {
				return directory.Profile{}, snap, err
			}
			if err := c.cache.Set(ctx, key, entry); err != nil {
				c.logger.Warn().Err(err).Str("identity", id.String()).Msg("Failed to cache response")
			}
			data = entry.Data
		} else {
			data, err = io.ReadAll(resp.Body)
			if err != nil {
				return directory.Profile{}, snap, fmt.Errorf("read profile: %w", err)
			}
		}
	}

	var body profileResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return directory.Profile{}, snap, fmt.Errorf("decode profile %s: %w", id, err)
	}
	if body.ID == 0 {
		return directory.Profile{}, snap, fmt.Errorf("profile %s has no id", id)
	}

	return body.toProfile(), snap, nil
}
