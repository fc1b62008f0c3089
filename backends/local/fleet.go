package local

import (
	"context"
	"errors"
	"sync"

	"gamesession-matchmaker/matchmaking"
	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/reservation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Fleet emulates the hosting service for a single well-known local fleet.
// Reservations are written to the same ledger the local game server
// authenticates against.
type Fleet struct {
	id       string
	ledger   reservation.Ledger
	capacity int

	mu       sync.RWMutex
	sessions []matchmaking.GameSession
}

func New(fleetID string, ledger reservation.Ledger, capacity int) *Fleet {
	return &Fleet{id: fleetID, ledger: ledger, capacity: capacity}
}

// AddSession registers a session; an empty ID is generated.
func (f *Fleet) AddSession(s matchmaking.GameSession) matchmaking.GameSession {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.ID == "" {
		s.ID = "gsess-" + uuid.NewString()
	}
	if s.Status == "" {
		s.Status = matchmaking.StatusActive
	}
	s.FleetID = f.id
	f.sessions = append(f.sessions, s)
	log.Info().Str("fleet", f.id).Str("gameSessionId", s.ID).Str("ip", s.IPAddress).Int("port", s.Port).Msg("local fleet: session added")
	return s
}

// SetStatus changes the status of a registered session.
func (f *Fleet) SetStatus(id string, status matchmaking.SessionStatus) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.sessions {
		if f.sessions[i].ID == id {
			f.sessions[i].Status = status
			return true
		}
	}
	return false
}

func (f *Fleet) ListFleets(ctx context.Context) ([]string, error) {
	return []string{f.id}, nil
}

func (f *Fleet) DescribeGameSessions(ctx context.Context, fleetID string) ([]matchmaking.GameSession, error) {
	if fleetID != f.id {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]matchmaking.GameSession, len(f.sessions))
	copy(out, f.sessions)
	return out, nil
}

func (f *Fleet) CreatePlayerSession(ctx context.Context, gameSessionID, playerID string) (*matchmaking.PlayerSession, error) {
	session, ok := f.lookup(gameSessionID)
	if !ok || !session.Active() {
		metrics.ReservationsTotal.WithLabelValues("gone").Inc()
		return nil, matchmaking.ErrSessionGone
	}
	rec, err := f.ledger.Reserve(ctx, session.ID, playerID, f.capacity)
	if errors.Is(err, reservation.ErrSessionFull) {
		metrics.ReservationsTotal.WithLabelValues("full").Inc()
		return nil, matchmaking.ErrSessionFull
	}
	if err != nil {
		metrics.ReservationsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("gameSessionId", session.ID).Msg("local fleet: reservation failed")
		return nil, err
	}
	metrics.ReservationsTotal.WithLabelValues("success").Inc()
	return &matchmaking.PlayerSession{
		ID:            rec.ID,
		GameSessionID: session.ID,
		PlayerID:      playerID,
		IPAddress:     session.IPAddress,
		DNSName:       session.DNSName,
		Port:          session.Port,
		Status:        matchmaking.PlayerSessionReserved,
	}, nil
}

func (f *Fleet) lookup(id string) (matchmaking.GameSession, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, s := range f.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return matchmaking.GameSession{}, false
}
