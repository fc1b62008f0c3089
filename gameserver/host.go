package gameserver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gamesession-matchmaker/auth"
	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/reservation"
	"gamesession-matchmaker/transport"

	"github.com/rs/zerolog/log"
)

// PlayerTracker is told about admitted and departed players, e.g. the Agones SDK.
type PlayerTracker interface {
	PlayerConnect(playerID string) error
	PlayerDisconnect(playerID string) error
}

// Player is one admitted connection.
type Player struct {
	PlayerSessionID string
	PlayerID        string
	Remote          string
	AdmittedAt      time.Time
}

// Host accepts client connections, admits them through the auth handshake and
// keeps the roster of admitted players.
type Host struct {
	auth    *auth.Server
	ledger  reservation.Ledger
	tracker PlayerTracker
	ready   atomic.Bool

	mu      sync.Mutex
	players map[string]Player
	conns   map[transport.Conn]struct{}
}

func NewHost(ledger reservation.Ledger, server *auth.Server, tracker PlayerTracker) *Host {
	return &Host{
		auth:    server,
		ledger:  ledger,
		tracker: tracker,
		players: make(map[string]Player),
		conns:   make(map[transport.Conn]struct{}),
	}
}

func (h *Host) SetReady(ready bool) { h.ready.Store(ready) }

func (h *Host) Ready() bool { return h.ready.Load() }

// Handler serves the websocket endpoint.
func (h *Host) Handler(pingPeriod time.Duration) http.Handler {
	return transport.Handler(h.Serve, pingPeriod)
}

// Serve handles one connection until it closes.
func (h *Host) Serve(conn transport.Conn) {
	h.track(conn, true)
	defer h.track(conn, false)

	rec, err := h.auth.Authenticate(context.Background(), conn)
	if err != nil {
		// a rejection closes the connection after its grace period
		if errors.Is(err, auth.ErrRejected) {
			<-conn.Done()
		}
		return
	}

	p := Player{PlayerSessionID: rec.ID, PlayerID: rec.PlayerID, Remote: conn.RemoteAddr(), AdmittedAt: time.Now()}
	h.admit(p)
	defer h.depart(p)

	for {
		msg, err := conn.Receive(context.Background())
		if err != nil {
			return
		}
		switch msg.Type {
		case auth.TypeRequest:
			log.Debug().Str("playerSessionId", p.PlayerSessionID).Msg("gameserver: ignoring auth request on admitted connection")
		default:
			log.Debug().Str("playerSessionId", p.PlayerSessionID).Str("type", msg.Type).Msg("gameserver: message")
		}
	}
}

// Players returns the admitted players ordered by admission time.
func (h *Host) Players() []Player {
	h.mu.Lock()
	out := make([]Player, 0, len(h.players))
	for _, p := range h.players {
		out = append(out, p)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AdmittedAt.Before(out[j].AdmittedAt) })
	return out
}

// Shutdown stops accepting players and closes every open connection.
func (h *Host) Shutdown() {
	h.SetReady(false)
	h.mu.Lock()
	conns := make([]transport.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Host) track(conn transport.Conn, open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if open {
		h.conns[conn] = struct{}{}
		return
	}
	delete(h.conns, conn)
}

func (h *Host) admit(p Player) {
	h.mu.Lock()
	h.players[p.PlayerSessionID] = p
	n := len(h.players)
	h.mu.Unlock()

	metrics.AdmittedPlayers.Inc()
	log.Info().Str("playerSessionId", p.PlayerSessionID).Str("playerId", p.PlayerID).Str("remote", p.Remote).Int("players", n).Msg("gameserver: player admitted")
	if h.tracker != nil {
		if err := h.tracker.PlayerConnect(p.PlayerID); err != nil {
			log.Warn().Err(err).Str("playerId", p.PlayerID).Msg("gameserver: player tracker connect failed")
		}
	}
}

func (h *Host) depart(p Player) {
	h.mu.Lock()
	delete(h.players, p.PlayerSessionID)
	n := len(h.players)
	h.mu.Unlock()

	metrics.AdmittedPlayers.Dec()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.ledger.Release(ctx, p.PlayerSessionID); err != nil {
		log.Warn().Err(err).Str("playerSessionId", p.PlayerSessionID).Msg("gameserver: failed to release reservation")
	}
	if h.tracker != nil {
		if err := h.tracker.PlayerDisconnect(p.PlayerID); err != nil {
			log.Warn().Err(err).Str("playerId", p.PlayerID).Msg("gameserver: player tracker disconnect failed")
		}
	}
	log.Info().Str("playerSessionId", p.PlayerSessionID).Str("playerId", p.PlayerID).Int("players", n).Msg("gameserver: player left")
}
