package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gamesession-matchmaker/matchmaking"

	"github.com/rs/zerolog/log"
)

// Client implements matchmaking.Service against the HTTP API served by NewHandler.
type Client struct {
	baseURL     string
	credentials string
	http        *http.Client
}

func NewClient(baseURL, credentials string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		http:        &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListFleets(ctx context.Context) ([]string, error) {
	var out listFleetsResponse
	if err := c.do(ctx, http.MethodGet, "/fleets", nil, &out); err != nil {
		return nil, err
	}
	return out.FleetIDs, nil
}

func (c *Client) DescribeGameSessions(ctx context.Context, fleetID string) ([]matchmaking.GameSession, error) {
	var out describeGameSessionsResponse
	if err := c.do(ctx, http.MethodGet, "/fleets/"+url.PathEscape(fleetID)+"/game-sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.GameSessions, nil
}

func (c *Client) CreatePlayerSession(ctx context.Context, gameSessionID, playerID string) (*matchmaking.PlayerSession, error) {
	var out createPlayerSessionResponse
	path := "/game-sessions/" + url.PathEscape(gameSessionID) + "/player-sessions"
	if err := c.do(ctx, http.MethodPost, path, createPlayerSessionRequest{PlayerID: playerID}, &out); err != nil {
		return nil, err
	}
	return out.PlayerSession, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credentials != "" {
		token, err := signToken(c.credentials, time.Now())
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("latency", time.Since(start)).Msg("httpapi: request done")

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch resp.StatusCode {
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", matchmaking.ErrSessionFull, e.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", matchmaking.ErrSessionGone, e.Message)
		}
		return fmt.Errorf("httpapi: %s %s: status %d: %s %s", method, path, resp.StatusCode, e.Code, e.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
