package matchmaking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Directory lists fleets from the remote service and resolves them by name.
// Nothing is cached; each attempt fetches fresh data.
type Directory struct {
	svc Service
}

func NewDirectory(svc Service) *Directory {
	return &Directory{svc: svc}
}

// ListFleets returns the fleet identifiers known to the service.
// ErrEmptyResult is returned (non-fatal) when the service has none.
func (d *Directory) ListFleets(ctx context.Context) ([]string, error) {
	ids, err := d.svc.ListFleets(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("directory: list fleets failed")
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	log.Debug().Int("count", len(ids)).Msg("directory: fleets listed")
	if len(ids) == 0 {
		return nil, ErrEmptyResult
	}
	return ids, nil
}

// ResolveFleetByName returns the id of the fleet called name.
func (d *Directory) ResolveFleetByName(ctx context.Context, name string) (string, error) {
	ids, err := d.ListFleets(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if id == name {
			return id, nil
		}
	}
	return "", fmt.Errorf("fleet %q: %w", name, ErrNotFound)
}
