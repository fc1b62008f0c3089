package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"gamesession-matchmaker/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
)

// Publisher reports join attempt results on a topic. The client is created
// lazily on the first publish.
type Publisher struct {
	projectID   string
	resultTopic string
	credsFile   string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, resultTopic, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, resultTopic: resultTopic, credsFile: credsFile}
}

func (p *Publisher) ensureTopic(ctx context.Context) (*gpubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	client, err := newClient(ctx, p.projectID, p.credsFile)
	if err != nil {
		return nil, err
	}
	p.client = client
	p.topic = client.Topic(p.resultTopic)
	log.Info().Str("topic", p.resultTopic).Msg("pubsub: publisher initialized")
	return p.topic, nil
}

func (p *Publisher) PublishResult(ctx context.Context, res *queues.AttemptResult) error {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Str("ticketId", res.TicketID).Msg("pubsub: failed to marshal attempt result")
		return err
	}
	msg := &gpubsub.Message{
		Data:       b,
		Attributes: map[string]string{"type": res.Type, "status": string(res.Status)},
	}
	// wait for the server ack so callers can log delivery failures
	id, err := topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("ticketId", res.TicketID).Msg("pubsub: failed to publish attempt result")
		return err
	}
	log.Debug().Str("messageID", id).Str("ticketId", res.TicketID).Str("status", string(res.Status)).Str("reason", res.Reason).Msg("pubsub: published attempt result")
	return nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	p.topic.Stop()
	err := p.client.Close()
	p.client, p.topic = nil, nil
	return err
}
