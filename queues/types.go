package queues

import "context"

const (
	EnvelopeVersion   = "1.0"
	AttemptResultType = "join-attempt-result"
)

// JoinRequest asks a client process to join a game session. An empty Target
// joins the local/dev server; "*" joins any active session of the fleet.
type JoinRequest struct {
	TicketID string `json:"ticketId"`
	Target   string `json:"target"`
	PlayerID string `json:"playerId,omitempty"`
}

type AttemptStatus string

const (
	StatusConnected AttemptStatus = "Connected"
	StatusFailed    AttemptStatus = "Failed"
)

// AttemptResult reports the terminal outcome of one join attempt.
type AttemptResult struct {
	EnvelopeVersion string        `json:"envelopeVersion"`
	Type            string        `json:"type"`
	TicketID        string        `json:"ticketId"`
	Attempt         uint64        `json:"attempt"`
	Status          AttemptStatus `json:"status"`
	Reason          string        `json:"reason,omitempty"`
	Message         string        `json:"message,omitempty"`
	GameSessionID   *string       `json:"gameSessionId,omitempty"`
	Endpoint        *string       `json:"endpoint,omitempty"`
	DurationMs      int64         `json:"durationMs"`
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *JoinRequest) error) error
}

type Publisher interface {
	PublishResult(ctx context.Context, res *AttemptResult) error
}
