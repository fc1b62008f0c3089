package natsq

import (
	"context"
	"encoding/json"
	"time"

	"gamesession-matchmaker/queues"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Connect dials NATS, reconnecting forever.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("natsq: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrlRedacted()).Msg("natsq: reconnected")
		}),
	)
}

// Subscriber receives join requests through a queue group, so each request is
// handled by exactly one client of the group. A request with a reply subject
// gets "ok" or the handler error back.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	queue   string
}

func NewSubscriber(conn *nats.Conn, subject, queue string) *Subscriber {
	return &Subscriber{conn: conn, subject: subject, queue: queue}
}

func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *queues.JoinRequest) error) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(m *nats.Msg) {
		recvAt := time.Now()
		var req queues.JoinRequest
		if err := json.Unmarshal(m.Data, &req); err != nil || req.TicketID == "" {
			log.Error().Err(err).Str("subject", m.Subject).Msg("natsq: dropping invalid join request")
			respond(m, "invalid join request")
			return
		}
		log.Info().Str("ticketId", req.TicketID).Str("target", req.Target).Msg("natsq: handling join request")
		if err := handler(ctx, &req); err != nil {
			log.Error().Err(err).Str("ticketId", req.TicketID).Msg("natsq: handler failed")
			respond(m, err.Error())
			return
		}
		log.Debug().Str("ticketId", req.TicketID).Dur("latency", time.Since(recvAt)).Msg("natsq: join request handled")
		respond(m, "ok")
	})
	if err != nil {
		return err
	}
	log.Info().Str("subject", s.subject).Str("queue", s.queue).Msg("natsq: subscriber started")
	<-ctx.Done()
	return sub.Drain()
}

func respond(m *nats.Msg, body string) {
	if m.Reply == "" {
		return
	}
	if err := m.Respond([]byte(body)); err != nil {
		log.Warn().Err(err).Msg("natsq: failed to respond")
	}
}

// Publisher reports attempt results on a subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) PublishResult(ctx context.Context, res *queues.AttemptResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = b
	msg.Header.Set("type", res.Type)
	msg.Header.Set("status", string(res.Status))
	if err := p.conn.PublishMsg(msg); err != nil {
		log.Error().Err(err).Str("ticketId", res.TicketID).Msg("natsq: failed to publish attempt result")
		return err
	}
	// flush so a result is not lost when the process exits right after
	return p.conn.FlushWithContext(ctx)
}
