package redisledger

import (
	"context"
	"os"
	"testing"
	"time"

	"gamesession-matchmaker/reservation"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLedger connects to REDIS_ADDR; the tests are skipped without it.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return newTestLedgerTTL(t, time.Minute)
}

func newTestLedgerTTL(t *testing.T, ttl time.Duration) *Ledger {
	t.Helper()
	if testing.Short() {
		t.Skip("short")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	l, err := New(Config{Addr: addr, Prefix: "test-" + uuid.NewString() + ":", TTL: ttl, Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNew_MissingAddr(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestLedger_ReserveAccept(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Reserve(ctx, "s1", "p1", 0)
	require.NoError(t, err)

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StateReserved, got.State)
	assert.Equal(t, "p1", got.PlayerID)

	_, err = l.Accept(ctx, rec.ID, "p2")
	assert.ErrorIs(t, err, reservation.ErrPlayerMismatch)

	accepted, err := l.Accept(ctx, rec.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, reservation.StateAccepted, accepted.State)

	_, err = l.Accept(ctx, rec.ID, "p1")
	assert.ErrorIs(t, err, reservation.ErrConsumed)

	_, err = l.Accept(ctx, "missing", "p1")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestLedger_CapacityAndRelease(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	r1, err := l.Reserve(ctx, "s1", "p1", 1)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "s1", "p2", 1)
	assert.ErrorIs(t, err, reservation.ErrSessionFull)

	require.NoError(t, l.Release(ctx, r1.ID))
	_, err = l.Reserve(ctx, "s1", "p2", 1)
	assert.NoError(t, err)
}

func TestLedger_UnacceptedReservationExpires(t *testing.T) {
	l := newTestLedgerTTL(t, 200*time.Millisecond)
	ctx := context.Background()

	stale, err := l.Reserve(ctx, "s1", "p1", 2)
	require.NoError(t, err)
	admitted, err := l.Reserve(ctx, "s1", "p2", 2)
	require.NoError(t, err)
	_, err = l.Accept(ctx, admitted.ID, "p2")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "s1", "p3", 2)
	require.ErrorIs(t, err, reservation.ErrSessionFull)

	time.Sleep(300 * time.Millisecond)

	// releasing an expired reservation is a no-op and the slot is reclaimed anyway
	require.NoError(t, l.Release(ctx, stale.ID))
	_, err = l.Accept(ctx, stale.ID, "p1")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
	_, err = l.Reserve(ctx, "s1", "p3", 2)
	require.NoError(t, err)

	// the admitted player outlives the TTL and still holds a slot
	got, err := l.Get(ctx, admitted.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StateAccepted, got.State)
	_, err = l.Reserve(ctx, "s1", "p4", 2)
	assert.ErrorIs(t, err, reservation.ErrSessionFull)

	require.NoError(t, l.Release(ctx, admitted.ID))
	_, err = l.Reserve(ctx, "s1", "p4", 2)
	assert.NoError(t, err)
}
