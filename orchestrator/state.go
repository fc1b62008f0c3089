package orchestrator

import (
	"strings"
	"time"

	"gamesession-matchmaker/matchmaking"
)

type State int

const (
	Idle State = iota
	ResolvingFleet
	LocatingSession
	Reserving
	Connecting
	Authenticating
	Connected
	Failed
)

var stateNames = [...]string{"Idle", "ResolvingFleet", "LocatingSession", "Reserving", "Connecting", "Authenticating", "Connected", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal reports whether an attempt ends in this state.
func (s State) Terminal() bool { return s == Connected || s == Failed }

// Joinable reports whether a new join request is expected in this state.
func (s State) Joinable() bool { return s == Idle || s.Terminal() }

// Reason qualifies a Failed state.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonDirectoryUnavailable Reason = "DirectoryUnavailable"
	ReasonNoFleet              Reason = "NoFleet"
	ReasonNoSession            Reason = "NoSession"
	ReasonSessionFull          Reason = "SessionFull"
	ReasonSessionGone          Reason = "SessionGone"
	ReasonConnectTimeout       Reason = "ConnectTimeout"
	ReasonAuthRejected         Reason = "AuthRejected"
	ReasonAuthTimeout          Reason = "AuthTimeout"
	ReasonDisconnected         Reason = "Disconnected"
)

// Expected reports outcomes that are normal empty results rather than errors.
func (r Reason) Expected() bool { return r == ReasonNoFleet || r == ReasonNoSession }

type Mode int

const (
	ModeRemote Mode = iota
	ModeLocal
)

func (m Mode) String() string {
	if m == ModeLocal {
		return "Local"
	}
	return "Remote"
}

// Quickplay requests any active session of the configured fleet.
const Quickplay = "*"

// IsLoopback reports whether target designates the local/dev server.
func IsLoopback(target string) bool {
	switch strings.TrimSpace(target) {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func modeFor(local bool, target string) Mode {
	if local || IsLoopback(target) {
		return ModeLocal
	}
	return ModeRemote
}

func policyFor(target string) matchmaking.Policy {
	target = strings.TrimSpace(target)
	if target == Quickplay || IsLoopback(target) {
		return matchmaking.FirstActive()
	}
	return matchmaking.EndpointMatch(target)
}

// Snapshot is a read-only view of the orchestrator. It is replaced atomically
// on every transition and never mutated afterwards.
type Snapshot struct {
	Attempt     uint64
	State       State
	Mode        Mode
	Reason      Reason
	Message     string
	Target      string
	FleetID     string
	Reservation *matchmaking.PlayerSession
	StartedAt   time.Time
	RTT         time.Duration
}

// Endpoint returns the connect endpoint of the current reservation, empty if none.
func (s Snapshot) Endpoint() string {
	if s.Reservation == nil {
		return ""
	}
	return s.Reservation.Endpoint()
}

// Result is reported once per attempt that reaches Connected or Failed.
type Result struct {
	Attempt     uint64
	Target      string
	Mode        Mode
	State       State
	Reason      Reason
	Message     string
	Reservation *matchmaking.PlayerSession
	Duration    time.Duration
}
