package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AcceptIsSingleUse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec, err := m.Reserve(ctx, "s1", "p1", 0)
	require.NoError(t, err)
	assert.Equal(t, StateReserved, rec.State)

	got, err := m.Accept(ctx, rec.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, got.State)
	assert.False(t, got.AcceptedAt.IsZero())

	_, err = m.Accept(ctx, rec.ID, "p1")
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestMemory_Accept(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Reserve(ctx, "s1", "p1", 0)
	require.NoError(t, err)

	tests := []struct {
		name     string
		id       string
		playerID string
		wantErr  error
	}{
		{name: "unknown id", id: "nope", playerID: "p1", wantErr: ErrNotFound},
		{name: "wrong player", id: rec.ID, playerID: "p2", wantErr: ErrPlayerMismatch},
		{name: "accepted", id: rec.ID, playerID: "p1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Accept(ctx, tt.id, tt.playerID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMemory_CapacityAndRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	r1, err := m.Reserve(ctx, "s1", "p1", 2)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, "s1", "p2", 2)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, "s1", "p3", 2)
	assert.ErrorIs(t, err, ErrSessionFull)

	// other sessions are unaffected
	_, err = m.Reserve(ctx, "s2", "p3", 2)
	assert.NoError(t, err)

	require.NoError(t, m.Release(ctx, r1.ID))
	assert.Equal(t, 1, m.Count("s1"))
	_, err = m.Get(ctx, r1.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Reserve(ctx, "s1", "p3", 2)
	assert.NoError(t, err)
	assert.NoError(t, m.Release(ctx, "unknown"))
}

func TestMemory_ConcurrentAccept(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Reserve(ctx, "s1", "p1", 0)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Accept(ctx, rec.ID, "p1"); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestMemory_UnacceptedReservationExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory().WithTTL(time.Minute)
	m.now = func() time.Time { return now }

	stale, err := m.Reserve(ctx, "s1", "p1", 2)
	require.NoError(t, err)
	admitted, err := m.Reserve(ctx, "s1", "p2", 2)
	require.NoError(t, err)
	_, err = m.Accept(ctx, admitted.ID, "p2")
	require.NoError(t, err)

	_, err = m.Reserve(ctx, "s1", "p3", 2)
	assert.ErrorIs(t, err, ErrSessionFull)

	now = now.Add(time.Minute)

	// the stale slot is reclaimed; the accepted one is kept
	_, err = m.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, m.Count("s1"))
	_, err = m.Accept(ctx, stale.ID, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Reserve(ctx, "s1", "p3", 2)
	require.NoError(t, err)
	got, err := m.Get(ctx, admitted.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, got.State)
}

func TestRecord_Expired(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		state State
		age   time.Duration
		ttl   time.Duration
		want  bool
	}{
		{name: "fresh", state: StateReserved, age: 30 * time.Second, ttl: time.Minute},
		{name: "stale", state: StateReserved, age: time.Minute, ttl: time.Minute, want: true},
		{name: "accepted never expires", state: StateAccepted, age: time.Hour, ttl: time.Minute},
		{name: "expiry disabled", state: StateReserved, age: time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{State: tt.state, CreatedAt: created}
			assert.Equal(t, tt.want, rec.Expired(created.Add(tt.age), tt.ttl))
		})
	}
}
