package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"gamesession-matchmaker/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
)

// Subscriber receives join requests from a subscription.
type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

// Start blocks receiving messages until ctx is canceled. Malformed payloads are
// acked and dropped; handler errors are nacked for redelivery.
func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *queues.JoinRequest) error) error {
	if s.sub == nil {
		client, err := newClient(ctx, s.projectID, s.credsFile)
		if err != nil {
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		// one join request at a time; a newer request supersedes the last anyway
		s.sub.ReceiveSettings.MaxOutstandingMessages = 1
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub: subscriber initialized")
	}

	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		recvAt := time.Now()
		var req queues.JoinRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			log.Error().Err(err).Str("messageID", m.ID).Msg("pubsub: dropping undecodable join request")
			m.Ack()
			return
		}
		if req.TicketID == "" {
			log.Error().Str("messageID", m.ID).Msg("pubsub: dropping join request without ticket id")
			m.Ack()
			return
		}

		log.Info().Str("ticketId", req.TicketID).Str("target", req.Target).Msg("pubsub: handling join request")
		if err := handler(ctx, &req); err != nil {
			log.Error().Err(err).Str("ticketId", req.TicketID).Msg("pubsub: handler failed; will retry")
			m.Nack()
			return
		}
		log.Debug().Str("ticketId", req.TicketID).Dur("latency", time.Since(recvAt)).Msg("pubsub: join request handled")
		m.Ack()
	})
}
