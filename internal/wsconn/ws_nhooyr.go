package wsconn

import (
	"context"
	"sync"

	"github.com/park285/chess-movesync/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Nhooyr is the default transport. Protocol pings are answered by the
// library while the pump is reading, so it never yields FramePing.
type Nhooyr struct {
	conn   *websocket.Conn
	inbox  chan inbound
	logger *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func DialNhooyr(ctx context.Context, url string, opts Options) (*Nhooyr, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.dialTimeout())
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      opts.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(opts.readLimit())

	rootCtx, rootCancel := context.WithCancel(context.Background())
	n := &Nhooyr{
		conn:   conn,
		inbox:  make(chan inbound, opts.inboxSize()),
		logger: opts.logger(),
		ctx:    rootCtx,
		cancel: rootCancel,
		done:   make(chan struct{}),
	}
	go n.pump()
	return n, nil
}

func (n *Nhooyr) pump() {
	defer close(n.done)
	defer close(n.inbox)
	for {
		typ, data, err := n.conn.Read(n.ctx)
		if err != nil {
			switch {
			case n.ctx.Err() != nil:
			case websocket.CloseStatus(err) != -1:
				n.logger.Info("ws_peer_close", zap.Int("status", int(websocket.CloseStatus(err))))
			default:
				n.push(inbound{err: err})
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if !n.push(inbound{frame: session.Frame{Kind: session.FrameText, Data: data}}) {
			return
		}
	}
}

func (n *Nhooyr) push(in inbound) bool {
	select {
	case n.inbox <- in:
		return true
	case <-n.ctx.Done():
		return false
	}
}

func (n *Nhooyr) TryRead() (session.Frame, error) { return tryRead(n.inbox) }

func (n *Nhooyr) WriteJSON(ctx context.Context, v any) error {
	return wsjson.Write(ctx, n.conn, v)
}

// WritePong is a no-op: the library already replied to the ping.
func (n *Nhooyr) WritePong(context.Context, []byte) error { return nil }

func (n *Nhooyr) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.conn.Close(websocket.StatusNormalClosure, "close")
		if websocket.CloseStatus(err) != -1 {
			err = nil
		}
		n.cancel()
		<-n.done
	})
	return err
}
