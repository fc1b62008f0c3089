package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/reservation"
	"gamesession-matchmaker/transport"

	"github.com/rs/zerolog/log"
)

const (
	DefaultServerTimeout = 10 * time.Second
	DefaultRejectGrace   = time.Second
)

// Server runs the server half of the handshake against a reservation ledger.
type Server struct {
	ledger  reservation.Ledger
	timeout time.Duration
	grace   time.Duration
}

func NewServer(ledger reservation.Ledger, timeout, grace time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultServerTimeout
	}
	if grace <= 0 {
		grace = DefaultRejectGrace
	}
	return &Server{ledger: ledger, timeout: timeout, grace: grace}
}

// Authenticate waits for one Request on a freshly accepted connection.
// A deferred close is armed when the call starts and disarmed on success, so an
// abandoned connection is closed after the timeout. On success the reservation is
// consumed and the record returned. On failure a rejection is sent and the
// connection is closed after the grace period.
func (s *Server) Authenticate(ctx context.Context, conn transport.Conn) (reservation.Record, error) {
	var expired atomic.Bool
	deadline := time.AfterFunc(s.timeout, func() {
		expired.Store(true)
		log.Warn().Str("remote", conn.RemoteAddr()).Dur("timeout", s.timeout).Msg("auth: no request before timeout; closing")
		_ = conn.Close()
	})

	req, err := s.readRequest(ctx, conn)
	if err != nil {
		deadline.Stop()
		if expired.Load() {
			metrics.AuthTotal.WithLabelValues("timeout").Inc()
			return reservation.Record{}, ErrTimeout
		}
		if errors.Is(err, errMalformed) {
			metrics.AuthTotal.WithLabelValues("rejected").Inc()
			s.reject(ctx, conn, "Authentication failed. Malformed authentication request")
			return reservation.Record{}, &RejectedError{Message: err.Error()}
		}
		_ = conn.Close()
		return reservation.Record{}, err
	}

	rec, err := s.ledger.Accept(ctx, req.PlayerSessionID, req.PlayerID)
	if !deadline.Stop() {
		// The deferred close already fired; the connection is gone.
		metrics.AuthTotal.WithLabelValues("timeout").Inc()
		if err == nil {
			_ = s.ledger.Release(context.Background(), rec.ID)
		}
		return reservation.Record{}, ErrTimeout
	}
	if err != nil {
		reason := rejectReason(req, err)
		log.Warn().Err(err).Str("playerSessionId", req.PlayerSessionID).Str("playerId", req.PlayerID).Msg("auth: rejecting connection")
		metrics.AuthTotal.WithLabelValues("rejected").Inc()
		s.reject(ctx, conn, reason)
		return rec, &RejectedError{Message: reason}
	}

	if err := s.send(ctx, conn, Response{Code: CodeAccepted, Message: "Authentication successful"}); err != nil {
		log.Error().Err(err).Str("playerSessionId", rec.ID).Msg("auth: failed to send acceptance")
		_ = conn.Close()
		return rec, err
	}
	metrics.AuthTotal.WithLabelValues("accepted").Inc()
	log.Info().Str("playerSessionId", rec.ID).Str("playerId", rec.PlayerID).Str("remote", conn.RemoteAddr()).Msg("auth: connection admitted")
	return rec, nil
}

var errMalformed = errors.New("malformed auth request")

func (s *Server) readRequest(ctx context.Context, conn transport.Conn) (Request, error) {
	msg, err := conn.Receive(ctx)
	if err != nil {
		return Request{}, err
	}
	if msg.Type != TypeRequest {
		return Request{}, fmt.Errorf("%w: unexpected message type %q", errMalformed, msg.Type)
	}
	var req Request
	if err := msg.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if req.PlayerSessionID == "" {
		return Request{}, fmt.Errorf("%w: empty player session id", errMalformed)
	}
	return req, nil
}

// reject sends a rejection and closes the connection after the grace period,
// giving the message time to reach the client.
func (s *Server) reject(ctx context.Context, conn transport.Conn, reason string) {
	if err := s.send(ctx, conn, Response{Code: CodeRejected, Message: reason}); err != nil {
		log.Warn().Err(err).Msg("auth: failed to send rejection")
		_ = conn.Close()
		return
	}
	time.AfterFunc(s.grace, func() { _ = conn.Close() })
}

func (s *Server) send(ctx context.Context, conn transport.Conn, res Response) error {
	msg, err := transport.NewMessage(TypeResponse, res)
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

func rejectReason(req Request, err error) string {
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		return fmt.Sprintf("Authentication failed. The server could not find any Player Sessions with the Player Session ID %s", req.PlayerSessionID)
	case errors.Is(err, reservation.ErrConsumed):
		return fmt.Sprintf("Authentication failed. Player Session %s has already been used", req.PlayerSessionID)
	case errors.Is(err, reservation.ErrPlayerMismatch):
		return fmt.Sprintf("Authentication failed. Player Session %s was not issued to player %s", req.PlayerSessionID, req.PlayerID)
	}
	return "Authentication failed. Reservation could not be verified"
}
