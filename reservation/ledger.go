package reservation

import (
	"context"
	"errors"
	"time"

	"gamesession-matchmaker/matchmaking"
)

type State string

// DefaultTTL bounds how long a RESERVED record holds its slot before it must be accepted.
const DefaultTTL = time.Minute

const (
	StateReserved State = "RESERVED"
	StateAccepted State = "ACCEPTED"
)

// Record is the server-side view of a player reservation.
type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	PlayerID   string    `json:"playerId"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
	AcceptedAt time.Time `json:"acceptedAt,omitempty"`
}

// Expired reports whether an unaccepted record is older than ttl at now.
func (r Record) Expired(now time.Time, ttl time.Duration) bool {
	return r.State == StateReserved && ttl > 0 && !now.Before(r.CreatedAt.Add(ttl))
}

var (
	ErrNotFound       = errors.New("reservation not found")
	ErrConsumed       = errors.New("reservation already consumed")
	ErrPlayerMismatch = errors.New("reservation belongs to another player")
	// ErrSessionFull is shared with the client-side taxonomy.
	ErrSessionFull = matchmaking.ErrSessionFull
)

// Ledger tracks reservations for game sessions. Accept is a single-use
// transition from RESERVED to ACCEPTED; a second Accept returns ErrConsumed.
// RESERVED records expire after a TTL and stop counting toward capacity;
// ACCEPTED records live until Release.
type Ledger interface {
	Reserve(ctx context.Context, sessionID, playerID string, capacity int) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Accept(ctx context.Context, id, playerID string) (Record, error)
	Release(ctx context.Context, id string) error
}
