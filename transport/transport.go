package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Message is the envelope for every message exchanged over a connection.
// Type routes the message; Payload stays raw until the receiver decodes it.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps v as the payload of a message of the given type.
func NewMessage(typ string, v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Payload: b}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// ErrClosed is returned by Send and Receive once the connection is closed.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a duplex, message-oriented connection.
// Messages already received before close are still returned by Receive.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
	// Done is closed when the connection is torn down by either side.
	Done() <-chan struct{}
	RemoteAddr() string
	// RTT is the last measured round-trip time, zero if unknown.
	RTT() time.Duration
}

// Dialer opens a connection to host:port.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}
