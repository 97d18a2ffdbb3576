package session

import (
	"context"
	"errors"
	"fmt"
)

// FrameKind classifies a frame read from the transport.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FramePing
	FrameClose
)

// Frame is one message delivered by a Transport.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// ErrWouldBlock is returned by Transport.TryRead when no frame is ready.
var ErrWouldBlock = errors.New("transport: no frame available")

// Transport is a live, already-authenticated socket. TryRead must never
// block; implementations buffer inbound frames themselves.
type Transport interface {
	TryRead() (Frame, error)
	WriteJSON(ctx context.Context, v any) error
	WritePong(ctx context.Context, payload []byte) error
	Close() error
}

// EventKind identifies a normalized event.
type EventKind int

const (
	EventOpponentMove EventKind = iota + 1
	EventPositionUpdate
	EventGameEnded
	EventResyncRequired
)

func (k EventKind) String() string {
	switch k {
	case EventOpponentMove:
		return "opponent_move"
	case EventPositionUpdate:
		return "position_update"
	case EventGameEnded:
		return "game_ended"
	case EventResyncRequired:
		return "resync_required"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a protocol frame translated for consumers.
type Event struct {
	Kind   EventKind
	Move   string // EventOpponentMove
	FEN    string // EventPositionUpdate
	Ply    uint32 // EventOpponentMove / EventPositionUpdate when HasPly
	HasPly bool
	Status string // EventGameEnded, optional
	Winner string // EventGameEnded, optional
}

var (
	// ErrGameEnded rejects submissions once the game is over.
	ErrGameEnded = errors.New("game has ended")
	// ErrMovePending rejects submissions while a move awaits acknowledgment.
	ErrMovePending = errors.New("move already pending")
	// ErrTransport classifies write and encoding failures.
	ErrTransport = errors.New("transport failure")
	// ErrReceive classifies non-transient read failures during a drain.
	ErrReceive = errors.New("receive failure")
	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("session closed")
	// ErrPeerClosed is the cause of transport failures after the server closed the socket.
	ErrPeerClosed = errors.New("connection closed by peer")
)

// SubmitError describes a rejected or failed SubmitMove call.
type SubmitError struct {
	Move  string
	Class error // one of ErrGameEnded, ErrMovePending, ErrTransport, ErrClosed
	Err   error // underlying cause, transport failures only
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit %s: %v: %v", e.Move, e.Class, e.Err)
	}
	return fmt.Sprintf("submit %s: %v", e.Move, e.Class)
}

func (e *SubmitError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Class, e.Err}
	}
	return []error{e.Class}
}

// IsPolicyRejection reports whether err is an expected, non-fatal rejection
// the caller should simply not resend.
func IsPolicyRejection(err error) bool {
	return errors.Is(err, ErrGameEnded) || errors.Is(err, ErrMovePending)
}
