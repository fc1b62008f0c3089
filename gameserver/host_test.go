package gameserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gamesession-matchmaker/auth"
	"gamesession-matchmaker/reservation"
	"gamesession-matchmaker/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeTracker) PlayerConnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "connect:"+id)
	return nil
}

func (f *fakeTracker) PlayerDisconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "disconnect:"+id)
	return nil
}

func (f *fakeTracker) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newHost(t *testing.T) (*Host, *reservation.Memory, *fakeTracker) {
	t.Helper()
	ledger := reservation.NewMemory()
	tracker := &fakeTracker{}
	return NewHost(ledger, auth.NewServer(ledger, time.Second, 20*time.Millisecond), tracker), ledger, tracker
}

func serve(h *Host, conn transport.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		h.Serve(conn)
		close(done)
	}()
	return done
}

func TestHost_AdmitAndRelease(t *testing.T) {
	h, ledger, tracker := newHost(t)
	ctx := context.Background()
	rec, err := ledger.Reserve(ctx, "s1", "p1", 1)
	require.NoError(t, err)

	client, server := transport.Pipe()
	done := serve(h, server)

	res, err := (&auth.Client{Timeout: time.Second}).Authenticate(ctx, client, rec.ID, "p1")
	require.NoError(t, err)
	assert.True(t, res.Accepted())

	require.Eventually(t, func() bool { return len(h.Players()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "p1", h.Players()[0].PlayerID)
	assert.Equal(t, 1, ledger.Count("s1"))

	// further auth requests on an admitted connection are ignored
	msg, err := transport.NewMessage(auth.TypeRequest, auth.Request{PlayerSessionID: rec.ID, PlayerID: "p1"})
	require.NoError(t, err)
	require.NoError(t, client.Send(ctx, msg))
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = client.Receive(shortCtx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, client.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve did not return after disconnect")
	}
	assert.Empty(t, h.Players())
	assert.Zero(t, ledger.Count("s1"))
	assert.Equal(t, []string{"connect:p1", "disconnect:p1"}, tracker.list())
}

func TestHost_RejectionHoldsUntilClosed(t *testing.T) {
	h, _, tracker := newHost(t)
	client, server := transport.Pipe()
	done := serve(h, server)

	res, err := (&auth.Client{Timeout: time.Second}).Authenticate(context.Background(), client, "psess-unknown", "p1")
	assert.ErrorIs(t, err, auth.ErrRejected)
	assert.Equal(t, auth.CodeRejected, res.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve did not return after grace period")
	}
	select {
	case <-client.Done():
	default:
		t.Fatal("rejected connection left open")
	}
	assert.Empty(t, h.Players())
	assert.Empty(t, tracker.list())
}

func TestHost_Shutdown(t *testing.T) {
	h, ledger, _ := newHost(t)
	h.SetReady(true)
	rec, err := ledger.Reserve(context.Background(), "s1", "p1", 0)
	require.NoError(t, err)

	client, server := transport.Pipe()
	done := serve(h, server)
	_, err = (&auth.Client{}).Authenticate(context.Background(), client, rec.ID, "p1")
	require.NoError(t, err)

	h.Shutdown()
	assert.False(t, h.Ready())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connection not closed on shutdown")
	}
}

func TestHost_Websocket(t *testing.T) {
	h, ledger, _ := newHost(t)
	srv := httptest.NewServer(h.Handler(0))
	defer srv.Close()

	rec, err := ledger.Reserve(context.Background(), "s1", "p1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := (&transport.WebsocketDialer{}).Dial(ctx, strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	defer conn.Close()

	res, err := (&auth.Client{Timeout: time.Second}).Authenticate(ctx, conn, rec.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Authentication successful", res.Message)
	require.Eventually(t, func() bool { return len(h.Players()) == 1 }, time.Second, 5*time.Millisecond)
}
