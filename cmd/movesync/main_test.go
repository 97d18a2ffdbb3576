package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-movesync/internal/dispatch"
	"github.com/park285/chess-movesync/internal/driver"
	"github.com/park285/chess-movesync/internal/position"
	"github.com/park285/chess-movesync/internal/protocol"
	"github.com/park285/chess-movesync/internal/session"
)

type recordingTransport struct {
	mu     sync.Mutex
	frames []protocol.OutboundMove
}

func (r *recordingTransport) TryRead() (session.Frame, error) {
	return session.Frame{}, session.ErrWouldBlock
}

func (r *recordingTransport) WriteJSON(_ context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var out protocol.OutboundMove
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, out)
	return nil
}

func (r *recordingTransport) WritePong(context.Context, []byte) error { return nil }
func (r *recordingTransport) Close() error                            { return nil }

func TestManualMoveUsesUrgentSettings(t *testing.T) {
	rt := &recordingTransport{}
	sess, err := session.New("abcd1234", "sri000000001", rt)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	disp := dispatch.New()
	board := position.NewTracker(nchess.White)
	loop := driver.New(sess, disp, board)

	input := strings.NewReader("urgent on\ne2e5\ne2e4\n")
	readCommands(context.Background(), input, sess, disp, board, loop)

	if len(rt.frames) != 1 {
		t.Fatalf("expected only the legal move to be sent, got %+v", rt.frames)
	}
	d := rt.frames[0].D
	if d.U != "e2e4" || d.L != 50 || d.B != 1 {
		t.Fatalf("manual move should carry urgent lag and flag, got %+v", d)
	}
}

func TestOnOff(t *testing.T) {
	if !onOff([]string{"auto", "on"}) || !onOff([]string{"auto", "1"}) {
		t.Fatalf("on and 1 should enable")
	}
	if onOff([]string{"auto"}) || onOff([]string{"auto", "off"}) {
		t.Fatalf("missing or off should disable")
	}
}
