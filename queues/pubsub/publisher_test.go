package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gamesession-matchmaker/queues"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublisher_PublishResult(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}
	ctx := context.Background()
	srv, client := newTestClient(t)

	endpoint := "1.2.3.4:7777"
	tests := []struct {
		name    string
		topic   func() *pubsub.Topic
		res     *queues.AttemptResult
		wantErr bool
	}{
		{
			name: "success",
			topic: func() *pubsub.Topic {
				topic, err := client.CreateTopic(ctx, "results")
				require.NoError(t, err)
				return topic
			},
			res: &queues.AttemptResult{EnvelopeVersion: queues.EnvelopeVersion, Type: queues.AttemptResultType, TicketID: "t1", Attempt: 1, Status: queues.StatusConnected, Endpoint: &endpoint},
		},
		{
			name:    "missing topic",
			topic:   func() *pubsub.Topic { return client.Topic("missing-topic") },
			res:     &queues.AttemptResult{EnvelopeVersion: queues.EnvelopeVersion, Type: queues.AttemptResultType, TicketID: "t2", Status: queues.StatusFailed, Reason: "NoSession"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Publisher{projectID: "test-project", client: client, topic: tt.topic()}
			err := p.PublishResult(ctx, tt.res)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got queues.AttemptResult
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "t1", got.TicketID)
	assert.Equal(t, queues.StatusConnected, got.Status)
	assert.Equal(t, "Connected", msgs[0].Attributes["status"])
}

func TestSubscriber_Start(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "joins")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "joins-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	for _, data := range []string{`not json`, `{"target":"1.2.3.4"}`, `{"ticketId":"t1","target":"*"}`} {
		_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(data)}).Get(ctx)
		require.NoError(t, err)
	}

	got := make(chan queues.JoinRequest, 4)
	s := &Subscriber{subscriptionName: "joins-sub", client: client, sub: sub}
	err = s.Start(ctx, func(ctx context.Context, req *queues.JoinRequest) error {
		got <- *req
		cancel()
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, queues.JoinRequest{TicketID: "t1", Target: "*"}, <-got)
}
