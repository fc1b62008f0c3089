package matchmaking

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Reserver claims player slots on game sessions.
type Reserver struct {
	svc Service
}

func NewReserver(svc Service) *Reserver {
	return &Reserver{svc: svc}
}

// Reserve creates a player session on gameSessionID for playerID.
// ErrSessionFull and ErrSessionGone are expected races and are returned as is.
func (r *Reserver) Reserve(ctx context.Context, gameSessionID, playerID string) (*PlayerSession, error) {
	ps, err := r.svc.CreatePlayerSession(ctx, gameSessionID, playerID)
	switch {
	case errors.Is(err, ErrSessionFull), errors.Is(err, ErrSessionGone):
		log.Info().Err(err).Str("gameSessionId", gameSessionID).Msg("reserver: reservation lost race")
		return nil, err
	case err != nil:
		log.Warn().Err(err).Str("gameSessionId", gameSessionID).Msg("reserver: create player session failed")
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	case ps == nil || ps.ID == "":
		return nil, fmt.Errorf("%w: empty player session", ErrDirectoryUnavailable)
	}
	log.Info().Str("playerSessionId", ps.ID).Str("gameSessionId", ps.GameSessionID).Str("endpoint", ps.Endpoint()).Msg("reserver: player session created")
	return ps, nil
}
