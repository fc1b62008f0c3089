package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gamesession-matchmaker/auth"
	"gamesession-matchmaker/matchmaking"
	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/transport"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("orchestrator: not connected")
	ErrNotFailed    = errors.New("orchestrator: no failed attempt to retry")
	ErrSuperseded   = errors.New("orchestrator: attempt superseded")
)

// Config is the injected configuration record of the orchestrator.
type Config struct {
	Local          bool
	FleetName      string
	PlayerID       string
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
	// OnResult is called once per attempt reaching Connected or Failed.
	OnResult func(Result)
}

type attempt struct {
	id      uint64
	target  string
	mode    Mode
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (a *attempt) finish() { a.once.Do(func() { close(a.done) }) }

// Orchestrator drives one client from a join request to an authenticated
// connection. Attempts are strictly sequential; a new request supersedes the
// previous one and the superseded attempt never touches state again.
type Orchestrator struct {
	cfg       Config
	directory *matchmaking.Directory
	locator   *matchmaking.Locator
	reserver  *matchmaking.Reserver
	dialer    transport.Dialer
	auth      *auth.Client

	mu      sync.Mutex
	seq     uint64
	current *attempt
	conn    transport.Conn
	snap    atomic.Pointer[Snapshot]
}

func New(svc matchmaking.Service, dialer transport.Dialer, cfg Config) *Orchestrator {
	if cfg.PlayerID == "" {
		cfg.PlayerID = uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	o := &Orchestrator{
		cfg:       cfg,
		directory: matchmaking.NewDirectory(svc),
		locator:   matchmaking.NewLocator(svc),
		reserver:  matchmaking.NewReserver(svc),
		dialer:    dialer,
		auth:      &auth.Client{Timeout: cfg.AuthTimeout},
	}
	o.snap.Store(&Snapshot{State: Idle})
	return o
}

func (o *Orchestrator) PlayerID() string { return o.cfg.PlayerID }

// Snapshot returns the current state. RTT is read from the live connection.
func (o *Orchestrator) Snapshot() Snapshot {
	s := *o.snap.Load()
	o.mu.Lock()
	if o.conn != nil && s.State == Connected {
		s.RTT = o.conn.RTT()
	}
	o.mu.Unlock()
	return s
}

// RequestJoin starts a new attempt for target and returns its id. Any attempt
// in flight is canceled and any established connection torn down first.
func (o *Orchestrator) RequestJoin(target string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startLocked(target, "")
}

// RequestRetry restarts after a failure. Lost reservation races restart from
// LocatingSession with the already resolved fleet; other failures re-run the join.
func (o *Orchestrator) RequestRetry() (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.snap.Load()
	if s.State != Failed {
		return 0, ErrNotFailed
	}
	fleetID := ""
	if (s.Reason == ReasonSessionFull || s.Reason == ReasonSessionGone) && s.FleetID != "" {
		fleetID = s.FleetID
	}
	return o.startLocked(s.Target, fleetID), nil
}

// RequestLeave closes the connection and returns to Idle. Only valid when Connected.
func (o *Orchestrator) RequestLeave() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.snap.Load()
	if s.State != Connected || o.current == nil {
		return ErrNotConnected
	}
	o.current.cancel()
	o.current.finish()
	o.current = nil
	o.closeConnLocked()
	o.snap.Store(&Snapshot{Attempt: s.Attempt, State: Idle, Mode: s.Mode, Target: s.Target, FleetID: s.FleetID})
	log.Info().Uint64("attempt", s.Attempt).Msg("orchestrator: left session")
	return nil
}

// Await blocks until attempt id reaches Connected or Failed. ErrSuperseded is
// returned if a newer attempt replaced it first.
func (o *Orchestrator) Await(ctx context.Context, id uint64) (Snapshot, error) {
	o.mu.Lock()
	a := o.current
	o.mu.Unlock()

	if a == nil || a.id != id {
		s := o.Snapshot()
		if s.Attempt == id && s.State.Terminal() {
			return s, nil
		}
		return s, ErrSuperseded
	}
	select {
	case <-a.done:
		s := o.Snapshot()
		if s.Attempt != id || !s.State.Terminal() {
			return s, ErrSuperseded
		}
		return s, nil
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

// Close cancels any attempt and tears down the connection.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.cancel()
		o.current.finish()
		o.current = nil
	}
	o.closeConnLocked()
}

func (o *Orchestrator) startLocked(target, fleetID string) uint64 {
	if prev := o.current; prev != nil {
		if prevState := o.snap.Load().State; !prevState.Joinable() {
			log.Info().Uint64("attempt", prev.id).Str("state", prevState.String()).Msg("orchestrator: superseding attempt in flight")
		}
		prev.cancel()
		prev.finish()
	}
	o.closeConnLocked()

	o.seq++
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		id:      o.seq,
		target:  target,
		mode:    modeFor(o.cfg.Local, target),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	o.current = a
	o.snap.Store(&Snapshot{Attempt: a.id, State: Idle, Mode: a.mode, Target: target, StartedAt: a.started})
	log.Info().Uint64("attempt", a.id).Str("target", target).Str("mode", a.mode.String()).Str("playerId", o.cfg.PlayerID).Msg("orchestrator: join requested")

	go o.run(a, fleetID)
	return a.id
}

func (o *Orchestrator) closeConnLocked() {
	if o.conn != nil {
		_ = o.conn.Close()
		o.conn = nil
	}
}

// transition moves attempt a to state if a is still current.
func (o *Orchestrator) transition(a *attempt, state State, mutate func(*Snapshot)) bool {
	return o.transitionTo(a, state, mutate) != nil
}

// transitionTo is transition returning the published snapshot, nil if a is stale.
func (o *Orchestrator) transitionTo(a *attempt, state State, mutate func(*Snapshot)) *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != a || a.ctx.Err() != nil {
		return nil
	}
	next := *o.snap.Load()
	next.State = state
	if mutate != nil {
		mutate(&next)
	}
	o.snap.Store(&next)
	log.Debug().Uint64("attempt", a.id).Str("state", state.String()).Msg("orchestrator: transition")
	return &next
}

func (o *Orchestrator) fail(a *attempt, reason Reason, message string, err error) {
	s := o.transitionTo(a, Failed, func(s *Snapshot) {
		s.Reason = reason
		s.Message = message
		o.closeConnLocked()
	})
	if s == nil {
		return
	}
	var ev *zerolog.Event
	if reason.Expected() {
		ev = log.Info()
	} else {
		ev = log.Warn().Err(err)
	}
	ev.Uint64("attempt", a.id).Str("reason", string(reason)).Str("message", message).Msg("orchestrator: attempt failed")
	o.report(a, s)
}

func (o *Orchestrator) report(a *attempt, s *Snapshot) {
	duration := time.Since(a.started)
	label := string(s.Reason)
	if s.State == Connected {
		label = Connected.String()
	}
	metrics.AttemptsTotal.WithLabelValues(label).Inc()
	metrics.AttemptDuration.Observe(duration.Seconds())
	a.finish()
	if o.cfg.OnResult != nil {
		o.cfg.OnResult(Result{
			Attempt:     a.id,
			Target:      a.target,
			Mode:        a.mode,
			State:       s.State,
			Reason:      s.Reason,
			Message:     s.Message,
			Reservation: s.Reservation,
			Duration:    duration,
		})
	}
}

func (o *Orchestrator) run(a *attempt, fleetID string) {
	ctx := a.ctx

	switch {
	case fleetID != "":
	case a.mode == ModeLocal:
		fleetID = o.cfg.FleetName
	default:
		if !o.transition(a, ResolvingFleet, nil) {
			return
		}
		id, err := o.directory.ResolveFleetByName(ctx, o.cfg.FleetName)
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, matchmaking.ErrEmptyResult), errors.Is(err, matchmaking.ErrNotFound):
			o.fail(a, ReasonNoFleet, "No fleet is available right now. Try again later.", err)
			return
		case err != nil:
			o.fail(a, ReasonDirectoryUnavailable, "The matchmaking service is unavailable. Please retry.", err)
			return
		}
		fleetID = id
	}

	if !o.transition(a, LocatingSession, func(s *Snapshot) { s.FleetID = fleetID }) {
		return
	}
	sessions, err := o.locator.ListActiveSessions(ctx, fleetID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		o.fail(a, ReasonDirectoryUnavailable, "The matchmaking service is unavailable. Please retry.", err)
		return
	}
	log.Info().Uint64("attempt", a.id).Str("fleet", fleetID).Int("active", len(sessions)).Msg("orchestrator: active game sessions found")
	session, err := o.locator.SelectSession(sessions, policyFor(a.target))
	if err != nil {
		o.fail(a, ReasonNoSession, "No game session is available. Try again later.", err)
		return
	}

	if !o.transition(a, Reserving, nil) {
		return
	}
	ps, err := o.reserver.Reserve(ctx, session.ID, o.cfg.PlayerID)
	if ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(err, matchmaking.ErrSessionFull):
		o.fail(a, ReasonSessionFull, "The game session is full. Retry to find another session.", err)
		return
	case errors.Is(err, matchmaking.ErrSessionGone):
		o.fail(a, ReasonSessionGone, "The game session ended before it could be joined. Retry to find another session.", err)
		return
	case err != nil:
		o.fail(a, ReasonDirectoryUnavailable, "The matchmaking service is unavailable. Please retry.", err)
		return
	}

	reserved := *ps
	if !o.transition(a, Connecting, func(s *Snapshot) { s.Reservation = &reserved }) {
		return
	}
	log.Info().Uint64("attempt", a.id).Str("gameSessionId", reserved.GameSessionID).Str("dnsName", reserved.DNSName).Str("endpoint", reserved.Endpoint()).Msg("orchestrator: reservation created; connecting")
	dialCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	conn, err := o.dialer.Dial(dialCtx, reserved.Endpoint())
	cancel()
	if ctx.Err() != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		o.fail(a, ReasonConnectTimeout, fmt.Sprintf("Could not connect to the game server at %s.", reserved.Endpoint()), err)
		return
	}
	if !o.transition(a, Authenticating, func(*Snapshot) { o.conn = conn }) {
		_ = conn.Close()
		return
	}

	res, err := o.auth.Authenticate(ctx, conn, reserved.ID, o.cfg.PlayerID)
	if ctx.Err() != nil {
		return
	}
	var rejected *auth.RejectedError
	switch {
	case errors.As(err, &rejected):
		o.fail(a, ReasonAuthRejected, rejected.Message, err)
		return
	case errors.Is(err, auth.ErrTimeout):
		o.fail(a, ReasonAuthTimeout, "The game server did not answer the authentication request.", err)
		return
	case err != nil:
		o.fail(a, ReasonDisconnected, "Connection to the game server was lost during authentication.", err)
		return
	}

	s := o.transitionTo(a, Connected, func(s *Snapshot) { s.Message = res.Message })
	if s == nil {
		return
	}
	log.Info().Uint64("attempt", a.id).Str("endpoint", reserved.Endpoint()).Str("playerSessionId", reserved.ID).Msg("orchestrator: connected")
	o.report(a, s)
	o.watch(a, conn)
}

// watch turns a remote close of an established connection into Failed(Disconnected).
func (o *Orchestrator) watch(a *attempt, conn transport.Conn) {
	select {
	case <-conn.Done():
		ok := o.transition(a, Failed, func(s *Snapshot) {
			s.Reason = ReasonDisconnected
			s.Message = "Connection to the game server was lost."
			o.conn = nil
		})
		if ok {
			log.Warn().Uint64("attempt", a.id).Msg("orchestrator: connection lost")
		}
	case <-a.ctx.Done():
	}
}
