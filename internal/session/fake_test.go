package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/park285/chess-movesync/internal/protocol"
)

type readResult struct {
	frame Frame
	err   error
}

// fakeTransport scripts inbound frames and records outbound writes.
type fakeTransport struct {
	mu       sync.Mutex
	inbox    []readResult
	writes   [][]byte
	pongs    [][]byte
	writeErr error
	pongErr  error
	closed   bool
}

func (f *fakeTransport) pushText(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, readResult{frame: Frame{Kind: FrameText, Data: []byte(s)}})
}

func (f *fakeTransport) push(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, readResult{frame: fr})
}

func (f *fakeTransport) pushErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, readResult{err: err})
}

func (f *fakeTransport) TryRead() (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return Frame{}, ErrWouldBlock
	}
	next := f.inbox[0]
	f.inbox = f.inbox[1:]
	return next.frame, next.err
}

func (f *fakeTransport) WriteJSON(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.writes = append(f.writes, raw)
	return nil
}

func (f *fakeTransport) WritePong(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pongErr != nil {
		return f.pongErr
	}
	f.pongs = append(f.pongs, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) lastWrite(t *testing.T) protocol.OutboundMove {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		t.Fatalf("no frame written")
	}
	var out protocol.OutboundMove
	if err := json.Unmarshal(f.writes[len(f.writes)-1], &out); err != nil {
		t.Fatalf("decode written frame: %v", err)
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	s, err := New("abcd1234", "sri000000001", ft)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, ft
}

func drain(t *testing.T, s *Session) []Event {
	t.Helper()
	events, err := s.DrainEvents(context.Background())
	if err != nil {
		t.Fatalf("DrainEvents: %v", err)
	}
	return events
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
