package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/pagination"
)

type searchResponse struct {
	TotalCount        *int         `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []searchItem `json:"items"`
}

type searchItem struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	URL   string `json:"url"`
}

// FetchPage implements importer.ListFetcher. It lists one page of accounts
// matching the configured query. Pages beyond MaxResults come back empty.
func (c *Client) FetchPage(ctx context.Context, page int) (*importer.Page, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1 (got %d)", page)
	}

	perPage := c.config.PerPage
	first := (page - 1) * perPage
	if c.config.MaxResults > 0 && first >= c.config.MaxResults {
		return &importer.Page{Total: c.config.MaxResults}, nil
	}

	query := url.Values{}
	query.Set("q", c.config.Query)
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page))
	if c.config.Sort != "" {
		query.Set("sort", c.config.Sort)
	}
	if c.config.Order != "" {
		query.Set("order", c.config.Order)
	}

	resp, snap, err := c.get(ctx, endpointSearch, c.resolve("/search/users", query), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	identities := make([]importjob.Identity, 0, len(body.Items))
	for _, item := range body.Items {
		if c.config.MaxResults > 0 && first+len(identities) >= c.config.MaxResults {
			break
		}
		identities = append(identities, importjob.Identity{
			ID:    strconv.FormatInt(item.ID, 10),
			Label: item.Login,
			Ref:   item.URL,
		})
	}

	total := 0
	switch {
	case body.TotalCount != nil:
		total = *body.TotalCount
	default:
		// Without a count the last page link gives an upper bound.
		if last, ok := pagination.LastPage(resp.Header.Get("Link")); ok {
			total = last * perPage
		}
	}
	if c.config.MaxResults > 0 && total > c.config.MaxResults {
		total = c.config.MaxResults
	}

	if body.IncompleteResults {
		c.logger.Warn().Int("page", page).Msg("Search results incomplete")
	}

	c.logger.Debug().
		Int("page", page).
		Int("items", len(identities)).
		Int("total", total).
		Int("rate_limit_remaining", snap.Remaining).
		Msg("Listed candidates")

	return &importer.Page{
		Identities: identities,
		Total:      total,
		RateLimit:  snap,
	}, nil
}
