package matchmaking

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// SessionStatus is the lifecycle status of a game session as reported by the directory.
type SessionStatus string

const (
	StatusActivating SessionStatus = "ACTIVATING"
	StatusActive     SessionStatus = "ACTIVE"
	StatusTerminated SessionStatus = "TERMINATED"
	StatusError      SessionStatus = "ERROR"
)

// PlayerSessionStatus mirrors the reservation state returned by CreatePlayerSession.
type PlayerSessionStatus string

const (
	PlayerSessionReserved PlayerSessionStatus = "RESERVED"
	PlayerSessionActive   PlayerSessionStatus = "ACTIVE"
)

// Fleet is a named pool of game server processes.
type Fleet struct {
	ID string `json:"fleetId"`
}

// GameSession is an immutable snapshot of one running server process.
// It may be stale by the time a reservation is attempted.
type GameSession struct {
	ID        string        `json:"gameSessionId"`
	FleetID   string        `json:"fleetId"`
	Status    SessionStatus `json:"status"`
	IPAddress string        `json:"ipAddress"`
	DNSName   string        `json:"dnsName,omitempty"`
	Port      int           `json:"port"`
}

func (s GameSession) Active() bool {
	return s.Status == StatusActive
}

// PlayerSession is a single-use reservation of a player slot on a game session.
type PlayerSession struct {
	ID            string              `json:"playerSessionId"`
	GameSessionID string              `json:"gameSessionId"`
	PlayerID      string              `json:"playerId"`
	IPAddress     string              `json:"ipAddress"`
	DNSName       string              `json:"dnsName,omitempty"`
	Port          int                 `json:"port"`
	Status        PlayerSessionStatus `json:"status"`
}

// Endpoint returns host:port of the reservation. The IP address is preferred;
// the DNS name is used only when no IP was returned.
func (p *PlayerSession) Endpoint() string {
	host := p.IPAddress
	if host == "" {
		host = p.DNSName
	}
	return net.JoinHostPort(host, strconv.Itoa(p.Port))
}

// Service is the remote directory/reservation API. The core depends only on this shape.
type Service interface {
	ListFleets(ctx context.Context) ([]string, error)
	DescribeGameSessions(ctx context.Context, fleetID string) ([]GameSession, error)
	CreatePlayerSession(ctx context.Context, gameSessionID, playerID string) (*PlayerSession, error)
}

var (
	// ErrDirectoryUnavailable is returned when the remote directory cannot be reached.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	// ErrEmptyResult means the directory answered with no fleets.
	ErrEmptyResult = errors.New("empty result")
	// ErrNotFound means a fleet with the requested name does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoMatch means session selection found no candidate.
	ErrNoMatch = errors.New("no matching session")
	// ErrSessionFull means the session has no free player slots.
	ErrSessionFull = errors.New("game session full")
	// ErrSessionGone means the session terminated or disappeared since it was located.
	ErrSessionGone = errors.New("game session gone")
)
