package importer

import (
	"context"

	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/ratelimit"
)

// Page is one page of candidates returned by a ListFetcher.
type Page struct {
	Identities []importjob.Identity

	// Total is the number of candidates across all pages, or 0 when unknown.
	Total int

	// RateLimit is the quota observed on the listing call.
	RateLimit ratelimit.Snapshot
}

// ListFetcher enumerates candidate identities page by page.
type ListFetcher interface {
	// FetchPage returns the 1-based page. An empty page signals exhaustion.
	// A *RateLimitedError pauses the job instead of failing it.
	FetchPage(ctx context.Context, page int) (*Page, error)

	// PageSize is the number of identities on every full page.
	PageSize() int
}

// ItemResult is the successful outcome of processing one identity.
type ItemResult struct {
	// Result is imported, merged or skipped.
	Result importjob.Result

	// Label is a short human-readable description for the activity log.
	Label string

	// RateLimit is the quota observed while processing, nil when no call was
	// made. Processors set it alongside an error as well.
	RateLimit *ratelimit.Snapshot
}

// ItemProcessor turns one identity into a stored directory entry.
type ItemProcessor interface {
	// Process fetches detail for id and merges it into the directory.
	// A *RateLimitedError stops the batch without counting the item.
	// Any other error counts the item as failed and the batch continues.
	// The returned ItemResult.RateLimit is read even when err is non-nil.
	Process(ctx context.Context, id importjob.Identity) (ItemResult, error)
}

// ListFetcherFunc adapts a function and fixed page size to ListFetcher.
type ListFetcherFunc struct {
	Size  int
	Fetch func(ctx context.Context, page int) (*Page, error)
}

// FetchPage implements ListFetcher.
func (f ListFetcherFunc) FetchPage(ctx context.Context, page int) (*Page, error) {
	return f.Fetch(ctx, page)
}

// PageSize implements ListFetcher.
func (f ListFetcherFunc) PageSize() int {
	return f.Size
}

// ItemProcessorFunc adapts a function to ItemProcessor.
type ItemProcessorFunc func(ctx context.Context, id importjob.Identity) (ItemResult, error)

// Process implements ItemProcessor.
func (f ItemProcessorFunc) Process(ctx context.Context, id importjob.Identity) (ItemResult, error) {
	return f(ctx, id)
}
