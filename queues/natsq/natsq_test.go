package natsq

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"gamesession-matchmaker/queues"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" || testing.Short() {
		t.Skip("NATS_URL not set")
	}
	conn, err := Connect(url, "natsq-test")
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestSubscriber_RequestReply(t *testing.T) {
	conn := connect(t)
	subject := "test.join." + uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan queues.JoinRequest, 1)
	started := make(chan error, 1)
	go func() {
		started <- NewSubscriber(conn, subject, "q").Start(ctx, func(ctx context.Context, req *queues.JoinRequest) error {
			got <- *req
			return nil
		})
	}()
	require.NoError(t, conn.Flush())
	time.Sleep(50 * time.Millisecond)

	reply, err := conn.Request(subject, []byte(`{"ticketId":"t1","target":"*"}`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(reply.Data))
	assert.Equal(t, queues.JoinRequest{TicketID: "t1", Target: "*"}, <-got)

	reply, err = conn.Request(subject, []byte(`{"target":"*"}`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "invalid join request", string(reply.Data))

	cancel()
	assert.NoError(t, <-started)
}

func TestPublisher_PublishResult(t *testing.T) {
	conn := connect(t)
	subject := "test.results." + uuid.NewString()
	sub, err := conn.SubscribeSync(subject)
	require.NoError(t, err)

	res := &queues.AttemptResult{EnvelopeVersion: queues.EnvelopeVersion, Type: queues.AttemptResultType, TicketID: "t1", Status: queues.StatusFailed, Reason: "NoSession"}
	require.NoError(t, NewPublisher(conn, subject).PublishResult(context.Background(), res))

	msg, err := sub.NextMsg(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Failed", msg.Header.Get("status"))
	var out queues.AttemptResult
	require.NoError(t, json.Unmarshal(msg.Data, &out))
	assert.Equal(t, *res, out)
}
