package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gamesession-matchmaker/transport"

	"github.com/rs/zerolog/log"
)

const DefaultClientTimeout = 10 * time.Second

// Client runs the client half of the handshake.
type Client struct {
	Timeout time.Duration
}

// Authenticate sends exactly one Request and waits for exactly one Response.
// A rejection is returned as *RejectedError; the caller tears the connection down.
func (c *Client) Authenticate(ctx context.Context, conn transport.Conn, playerSessionID, playerID string) (Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := transport.NewMessage(TypeRequest, Request{PlayerSessionID: playerSessionID, PlayerID: playerID})
	if err != nil {
		return Response{}, err
	}
	if err := conn.Send(ctx, msg); err != nil {
		return Response{}, fmt.Errorf("send auth request: %w", err)
	}
	log.Debug().Str("playerSessionId", playerSessionID).Str("remote", conn.RemoteAddr()).Msg("auth: request sent")

	for {
		in, err := conn.Receive(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, ErrTimeout
		}
		if err != nil {
			return Response{}, err
		}
		if in.Type != TypeResponse {
			log.Debug().Str("type", in.Type).Msg("auth: ignoring message before auth response")
			continue
		}
		var res Response
		if err := in.Decode(&res); err != nil {
			return Response{}, fmt.Errorf("decode auth response: %w", err)
		}
		if !res.Accepted() {
			log.Warn().Uint8("code", res.Code).Str("message", res.Message).Msg("auth: rejected by server")
			return res, &RejectedError{Message: res.Message}
		}
		log.Info().Str("message", res.Message).Msg("auth: accepted")
		return res, nil
	}
}
