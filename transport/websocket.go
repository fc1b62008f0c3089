package transport

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	defaultPingPeriod = (pongWait * 9) / 10

	// Path served by Handler and dialed by WebsocketDialer.
	Path = "/ws"

	maxMessageSize = 64 * 1024
)

type wsConn struct {
	conn     *websocket.Conn
	incoming chan Message
	done     chan struct{}
	once     sync.Once
	writeMu  sync.Mutex
	rtt      atomic.Int64
}

func newWSConn(c *websocket.Conn, pingPeriod time.Duration) *wsConn {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	w := &wsConn{
		conn:     c,
		incoming: make(chan Message, 16),
		done:     make(chan struct{}),
	}
	go w.readLoop()
	go w.pingLoop(pingPeriod)
	return w
}

func (w *wsConn) readLoop() {
	defer w.Close()

	w.conn.SetReadLimit(maxMessageSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(appData string) error {
		if len(appData) == 8 {
			sent := int64(binary.BigEndian.Uint64([]byte(appData)))
			w.rtt.Store(time.Now().UnixNano() - sent)
		}
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := w.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("remote", w.RemoteAddr()).Msg("transport: unexpected close")
			}
			return
		}
		select {
		case w.incoming <- msg:
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
			if err := w.conn.WriteControl(websocket.PingMessage, buf, time.Now().Add(writeWait)); err != nil {
				w.Close()
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) Send(ctx context.Context, msg Message) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteJSON(msg); err != nil {
		w.Close()
		return err
	}
	return nil
}

func (w *wsConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-w.incoming:
		return msg, nil
	case <-w.done:
		select {
		case msg := <-w.incoming:
			return msg, nil
		default:
			return Message{}, ErrClosed
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (w *wsConn) Close() error {
	var err error
	w.once.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = w.conn.Close()
		close(w.done)
	})
	return err
}

func (w *wsConn) Done() <-chan struct{} { return w.done }

func (w *wsConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }

func (w *wsConn) RTT() time.Duration { return time.Duration(w.rtt.Load()) }

// WebsocketDialer connects to ws://address/ws.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: Path}
	dialer := *websocket.DefaultDialer
	if d.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.HandshakeTimeout
	}
	log.Debug().Str("url", u.String()).Msg("transport: dialing")
	c, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Warn().Str("url", u.String()).Str("status", resp.Status).Msg("transport: handshake rejected")
		}
		return nil, err
	}
	return newWSConn(c, d.PingPeriod), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Game clients are not browsers; any origin is accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades requests to websocket connections and hands each one to serve.
// The connection is closed when serve returns.
func Handler(serve func(Conn), pingPeriod time.Duration) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("transport: upgrade failed")
			return
		}
		conn := newWSConn(c, pingPeriod)
		defer conn.Close()
		serve(conn)
	})
}
