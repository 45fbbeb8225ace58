package source

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/directory-import/pkg/directory"
	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/importjob"
)

// Importer fetches each identity's profile and stores it in a directory.
// It implements importer.ItemProcessor.
type Importer struct {
	client *Client
	sink   directory.Sink
	logger zerolog.Logger
}

// NewImporter creates an item processor writing to sink.
func NewImporter(client *Client, sink directory.Sink) (*Importer, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	return &Importer{
		client: client,
		sink:   sink,
		logger: client.logger,
	}, nil
}

// Process implements importer.ItemProcessor.
func (i *Importer) Process(ctx context.Context, id importjob.Identity) (importer.ItemResult, error) {
	profile, snap, err := i.client.FetchProfile(ctx, id)

	// Failed calls still report the quota they spent.
	var out importer.ItemResult
	if snap.Known() {
		out.RateLimit = &snap
	}
	if err != nil {
		return out, err
	}

	result, err := i.sink.Upsert(ctx, profile)
	if err != nil {
		return out, fmt.Errorf("store profile %s: %w", id, err)
	}

	i.logger.Debug().
		Str("identity", id.String()).
		Str("result", string(result)).
		Msg("Profile stored")

	out.Result = result
	out.Label = profile.Login
	return out, nil
}
