package matchmaking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// LoopbackSentinel is the endpoint-match target that selects the local/dev session.
const LoopbackSentinel = "127.0.0.1"

// Policy picks one session out of a list of active sessions.
type Policy interface {
	Select(sessions []GameSession) (GameSession, bool)
	String() string
}

type firstActive struct{}

// FirstActive picks the first ACTIVE session in directory order (quickplay).
func FirstActive() Policy { return firstActive{} }

func (firstActive) Select(sessions []GameSession) (GameSession, bool) {
	for _, s := range sessions {
		if s.Active() {
			return s, true
		}
	}
	return GameSession{}, false
}

func (firstActive) String() string { return "first-active" }

type endpointMatch struct{ ip string }

// EndpointMatch picks the first ACTIVE session whose IP equals ip.
// The loopback sentinel matches the local/dev session, which is the first active one.
func EndpointMatch(ip string) Policy { return endpointMatch{ip: ip} }

func (p endpointMatch) Select(sessions []GameSession) (GameSession, bool) {
	if p.ip == LoopbackSentinel || p.ip == "localhost" {
		return firstActive{}.Select(sessions)
	}
	for _, s := range sessions {
		if s.Active() && s.IPAddress == p.ip {
			return s, true
		}
	}
	return GameSession{}, false
}

func (p endpointMatch) String() string { return "endpoint-match(" + p.ip + ")" }

// Locator queries a fleet for sessions and selects one by policy.
type Locator struct {
	svc Service
}

func NewLocator(svc Service) *Locator {
	return &Locator{svc: svc}
}

// ListActiveSessions returns the ACTIVE sessions of fleetID in directory order.
func (l *Locator) ListActiveSessions(ctx context.Context, fleetID string) ([]GameSession, error) {
	all, err := l.svc.DescribeGameSessions(ctx, fleetID)
	if err != nil {
		log.Warn().Err(err).Str("fleet", fleetID).Msg("locator: describe game sessions failed")
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	active := make([]GameSession, 0, len(all))
	for _, s := range all {
		if s.Active() {
			active = append(active, s)
		}
	}
	log.Debug().Str("fleet", fleetID).Int("total", len(all)).Int("active", len(active)).Msg("locator: sessions described")
	return active, nil
}

// SelectSession applies policy to sessions. ErrNoMatch is a normal outcome.
func (l *Locator) SelectSession(sessions []GameSession, policy Policy) (GameSession, error) {
	s, ok := policy.Select(sessions)
	if !ok {
		return GameSession{}, ErrNoMatch
	}
	return s, nil
}
