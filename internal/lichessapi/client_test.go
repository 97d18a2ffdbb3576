package lichessapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler, opts ...Option) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	dial := func(string) (net.Conn, error) { return ln.Dial() }
	opts = append([]Option{WithDial(dial), WithTimeout(2 * time.Second)}, opts...)
	return NewClient("http://lichess.test", opts...)
}

func TestValidateSessionOK(t *testing.T) {
	var cookie atomic.Value
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		cookie.Store(string(ctx.Request.Header.Peek("Cookie")))
		if string(ctx.Path()) != "/api/account" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"id":"alice","username":"Alice"}`)
	}, WithHeaderProvider(func() map[string]string {
		return map[string]string{"Cookie": "lila2=tok"}
	}))

	acc, ok, err := c.ValidateSession(context.Background())
	if err != nil || !ok {
		t.Fatalf("ValidateSession: ok=%v err=%v", ok, err)
	}
	if acc.Username != "Alice" {
		t.Fatalf("unexpected account %+v", acc)
	}
	if got := cookie.Load(); got != "lila2=tok" {
		t.Fatalf("cookie not forwarded: %v", got)
	}
}

func TestValidateSessionUnauthorized(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(`{"error":"No such token"}`)
	})
	acc, ok, err := c.ValidateSession(context.Background())
	if err != nil || ok || acc != nil {
		t.Fatalf("expected clean rejection, got acc=%v ok=%v err=%v", acc, ok, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("401 must not be retried, got %d calls", calls.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"id":"abcd1234","status":"mate","winner":"white","moves":"f3 e5 g4 Qh4"}`)
	}, WithRetry(3))

	g, err := c.ExportGame(context.Background(), "abcd1234")
	if err != nil {
		t.Fatalf("ExportGame: %v", err)
	}
	if g.Status != "mate" || g.Moves != "f3 e5 g4 Qh4" {
		t.Fatalf("unexpected export %+v", g)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRetryExhausted(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	}, WithRetry(2))
	_, err := c.Account(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != fasthttp.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("502 is not unauthorized")
	}
}

func TestShouldRetryStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !shouldRetryStatus(code) {
			t.Fatalf("%d should retry", code)
		}
	}
	for _, code := range []int{400, 401, 404} {
		if shouldRetryStatus(code) {
			t.Fatalf("%d should not retry", code)
		}
	}
}
