package local

import (
	"context"
	"testing"

	"gamesession-matchmaker/matchmaking"
	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/reservation"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFleet_DescribeAndReserve(t *testing.T) {
	ctx := context.Background()
	ledger := reservation.NewMemory()
	f := New("fleet-123", ledger, 1)
	s := f.AddSession(matchmaking.GameSession{IPAddress: "127.0.0.1", Port: 7777})
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "fleet-123", s.FleetID)
	assert.Equal(t, matchmaking.StatusActive, s.Status)

	ids, err := f.ListFleets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fleet-123"}, ids)

	sessions, err := f.DescribeGameSessions(ctx, "fleet-123")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	other, err := f.DescribeGameSessions(ctx, "fleet-other")
	require.NoError(t, err)
	assert.Empty(t, other)

	ps, err := f.CreatePlayerSession(ctx, s.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", ps.Endpoint())
	rec, err := ledger.Get(ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.PlayerID)

	_, err = f.CreatePlayerSession(ctx, s.ID, "p2")
	assert.ErrorIs(t, err, matchmaking.ErrSessionFull)
}

func TestFleet_ReserveOnGoneSession(t *testing.T) {
	ctx := context.Background()
	f := New("fleet-123", reservation.NewMemory(), 0)
	s := f.AddSession(matchmaking.GameSession{IPAddress: "127.0.0.1", Port: 7777})

	_, err := f.CreatePlayerSession(ctx, "gsess-unknown", "p1")
	assert.ErrorIs(t, err, matchmaking.ErrSessionGone)

	require.True(t, f.SetStatus(s.ID, matchmaking.StatusTerminated))
	_, err = f.CreatePlayerSession(ctx, s.ID, "p1")
	assert.ErrorIs(t, err, matchmaking.ErrSessionGone)
	assert.False(t, f.SetStatus("gsess-unknown", matchmaking.StatusActive))
}

func TestFleet_ReservationMetrics(t *testing.T) {
	ctx := context.Background()
	f := New("fleet-123", reservation.NewMemory(), 1)
	s := f.AddSession(matchmaking.GameSession{IPAddress: "127.0.0.1", Port: 7777})

	count := func(result string) float64 {
		return testutil.ToFloat64(metrics.ReservationsTotal.WithLabelValues(result))
	}
	success, full, gone := count("success"), count("full"), count("gone")

	_, err := f.CreatePlayerSession(ctx, s.ID, "p1")
	require.NoError(t, err)
	_, err = f.CreatePlayerSession(ctx, s.ID, "p2")
	require.ErrorIs(t, err, matchmaking.ErrSessionFull)
	_, err = f.CreatePlayerSession(ctx, "gsess-unknown", "p3")
	require.ErrorIs(t, err, matchmaking.ErrSessionGone)

	assert.Equal(t, success+1, count("success"))
	assert.Equal(t, full+1, count("full"))
	assert.Equal(t, gone+1, count("gone"))
}
