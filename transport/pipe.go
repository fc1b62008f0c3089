package transport

import (
	"context"
	"sync"
	"time"
)

type pipeShared struct {
	done chan struct{}
	once sync.Once
}

func (p *pipeShared) close() {
	p.once.Do(func() { close(p.done) })
}

type pipeConn struct {
	in     chan Message
	out    chan Message
	shared *pipeShared
	name   string
}

// Pipe returns two connected in-memory connections. Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := make(chan Message, 16)
	b := make(chan Message, 16)
	shared := &pipeShared{done: make(chan struct{})}
	return &pipeConn{in: a, out: b, shared: shared, name: "pipe-a"},
		&pipeConn{in: b, out: a, shared: shared, name: "pipe-b"}
}

func (p *pipeConn) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.shared.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.shared.done:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return Message{}, ErrClosed
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.shared.close()
	return nil
}

func (p *pipeConn) Done() <-chan struct{} { return p.shared.done }

func (p *pipeConn) RemoteAddr() string { return p.name }

func (p *pipeConn) RTT() time.Duration { return 0 }
