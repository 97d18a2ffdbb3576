// Package wsconn provides websocket implementations of session.Transport.
// Each transport runs one reader goroutine that buffers inbound frames, so
// TryRead can return immediately.
package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/park285/chess-movesync/internal/obslog"
	"github.com/park285/chess-movesync/internal/retry"
	"github.com/park285/chess-movesync/internal/session"
	"go.uber.org/zap"
)

const (
	ModeNhooyr  = "nhooyr"
	ModeGorilla = "gorilla"

	defaultDialTimeout = 10 * time.Second
	defaultInboxSize   = 256
	defaultReadLimit   = 1 << 20
	defaultWriteWait   = 5 * time.Second
)

// HeaderProvider supplies handshake headers such as the session cookie.
type HeaderProvider func() map[string]string

type Options struct {
	Headers     HeaderProvider
	DialTimeout time.Duration
	InboxSize   int
	ReadLimit   int64
	Logger      *zap.Logger
}

func (o Options) dialTimeout() time.Duration {
	if o.DialTimeout > 0 {
		return o.DialTimeout
	}
	return defaultDialTimeout
}

func (o Options) inboxSize() int {
	if o.InboxSize > 0 {
		return o.InboxSize
	}
	return defaultInboxSize
}

func (o Options) readLimit() int64 {
	if o.ReadLimit > 0 {
		return o.ReadLimit
	}
	return defaultReadLimit
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return obslog.L()
}

func (o Options) buildHeaders() http.Header {
	hdr := http.Header{}
	if o.Headers == nil {
		return hdr
	}
	for k, v := range o.Headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

type inbound struct {
	frame session.Frame
	err   error
}

// tryRead is the shared non-blocking read over a pump-fed inbox. A closed
// inbox means the pump has stopped and reads as a close frame.
func tryRead(inbox <-chan inbound) (session.Frame, error) {
	select {
	case in, ok := <-inbox:
		if !ok {
			return session.Frame{Kind: session.FrameClose}, nil
		}
		return in.frame, in.err
	default:
		return session.Frame{}, session.ErrWouldBlock
	}
}

// Dial opens a transport of the given mode.
func Dial(ctx context.Context, mode, url string, opts Options) (session.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeGorilla:
		return DialGorilla(ctx, url, opts)
	case ModeNhooyr, "":
		return DialNhooyr(ctx, url, opts)
	default:
		return nil, fmt.Errorf("unknown transport mode: %q", mode)
	}
}

// DialWithRetry retries Dial with exponential backoff. Reconnection policy
// belongs to drivers; the session itself never redials.
func DialWithRetry(ctx context.Context, mode, url string, opts Options, attempts int) (session.Transport, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		t, err := Dial(ctx, mode, url, opts)
		if err == nil {
			return t, nil
		}
		lastErr = err
		opts.logger().Warn("ws_dial_failed", zap.String("mode", mode), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == attempts {
			break
		}
		if err := retry.Sleep(ctx, retry.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", mode, attempts, lastErr)
}

func writeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(defaultWriteWait)
}
