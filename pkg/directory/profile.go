// Package directory stores imported profiles keyed by upstream identity.
//
// Upsert decides how an incoming profile relates to what is already stored:
// a new identity is imported, a changed one is merged field by field, and an
// identical one is skipped. Content equality is decided by a hash of the
// profile's fields, so re-importing unchanged data never rewrites an entry.
package directory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// ErrNotFound indicates no entry exists for the id or login.
var ErrNotFound = errors.New("directory entry not found")

// Profile is the detail fetched for one identity.
type Profile struct {
	ID          string    `json:"id"`
	Login       string    `json:"login"`
	Name        string    `json:"name,omitempty"`
	Company     string    `json:"company,omitempty"`
	Location    string    `json:"location,omitempty"`
	Email       string    `json:"email,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Blog        string    `json:"blog,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	Followers   int       `json:"followers"`
	PublicRepos int       `json:"public_repos"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Hash returns a stable digest of the profile's content.
func (p Profile) Hash() string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Merge overlays the non-empty fields of incoming onto p.
func (p Profile) Merge(incoming Profile) Profile {
	out := p
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setString(&out.Login, incoming.Login)
	setString(&out.Name, incoming.Name)
	setString(&out.Company, incoming.Company)
	setString(&out.Location, incoming.Location)
	setString(&out.Email, incoming.Email)
	setString(&out.Bio, incoming.Bio)
	setString(&out.Blog, incoming.Blog)
	setString(&out.AvatarURL, incoming.AvatarURL)
	setString(&out.HTMLURL, incoming.HTMLURL)

	// Counters are always current upstream.
	out.Followers = incoming.Followers
	out.PublicRepos = incoming.PublicRepos
	if !incoming.UpdatedAt.IsZero() {
		out.UpdatedAt = incoming.UpdatedAt
	}
	return out
}

// Entry is a stored profile with bookkeeping.
type Entry struct {
	Profile Profile `json:"profile"`

	// Hash is the content hash of the last incoming profile.
	Hash string `json:"hash"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sink receives fetched profiles.
type Sink interface {
	// Upsert stores p and reports whether it was imported, merged or skipped.
	Upsert(ctx context.Context, p Profile) (importjob.Result, error)
}

// apply computes the new entry for incoming given the existing one (nil if none).
// A nil return means nothing changed.
func apply(existing *Entry, incoming Profile, now time.Time) (*Entry, importjob.Result) {
	hash := incoming.Hash()

	if existing == nil {
		return &Entry{
			Profile:     incoming,
			Hash:        hash,
			FirstSeenAt: now,
			UpdatedAt:   now,
		}, importjob.ResultImported
	}

	if existing.Hash == hash {
		return nil, importjob.ResultSkipped
	}

	return &Entry{
		Profile:     existing.Profile.Merge(incoming),
		Hash:        hash,
		FirstSeenAt: existing.FirstSeenAt,
		UpdatedAt:   now,
	}, importjob.ResultMerged
}
