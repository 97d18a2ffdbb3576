package wsconn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/park285/chess-movesync/internal/session"
	"go.uber.org/zap"
)

// Gorilla surfaces protocol pings as FramePing so the session answers them
// itself under its own lock.
type Gorilla struct {
	conn   *websocket.Conn
	inbox  chan inbound
	logger *zap.Logger

	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func DialGorilla(ctx context.Context, url string, opts Options) (*Gorilla, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  opts.dialTimeout(),
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, url, opts.buildHeaders())
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(opts.readLimit())

	g := &Gorilla{
		conn:   conn,
		inbox:  make(chan inbound, opts.inboxSize()),
		logger: opts.logger(),
		done:   make(chan struct{}),
	}
	conn.SetPingHandler(func(appData string) error {
		g.push(inbound{frame: session.Frame{Kind: session.FramePing, Data: []byte(appData)}})
		return nil
	})
	go g.pump()
	return g, nil
}

func (g *Gorilla) pump() {
	defer close(g.done)
	defer close(g.inbox)
	for {
		typ, data, err := g.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case g.closing.Load():
			case errors.As(err, &ce):
				g.logger.Info("ws_peer_close", zap.Int("status", ce.Code))
			default:
				g.push(inbound{err: err})
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		g.push(inbound{frame: session.Frame{Kind: session.FrameText, Data: data}})
	}
}

// push blocks while the inbox is full; only the pump goroutine calls it.
func (g *Gorilla) push(in inbound) {
	if g.closing.Load() {
		return
	}
	g.inbox <- in
}

func (g *Gorilla) TryRead() (session.Frame, error) { return tryRead(g.inbox) }

func (g *Gorilla) WriteJSON(ctx context.Context, v any) error {
	if err := g.conn.SetWriteDeadline(writeDeadline(ctx)); err != nil {
		return err
	}
	return g.conn.WriteJSON(v)
}

func (g *Gorilla) WritePong(ctx context.Context, payload []byte) error {
	return g.conn.WriteControl(websocket.PongMessage, payload, writeDeadline(ctx))
}

func (g *Gorilla) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "close")
		_ = g.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = g.conn.Close()
		// unblock a pump stuck on a full inbox
		for range g.inbox {
		}
		<-g.done
	})
	return err
}
