package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-movesync/internal/obslog"
	"github.com/park285/chess-movesync/internal/protocol"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 5 * time.Second

// Session owns one game's socket and the lifecycle of its in-flight move.
// A single mutex guards the transport and all lifecycle fields, so a
// precondition check and the mutation that follows it are one step.
type Session struct {
	gameID string
	sri    string

	mu         sync.Mutex
	conn       Transport
	pending    string
	hasPending bool
	ackCounter uint32
	gameEnded  bool
	lastAcked  bool
	peerClosed bool
	closed     bool

	writeTimeout time.Duration
	logger       *zap.Logger
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWriteTimeout bounds a frame write when the caller's context has no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func New(gameID, sri string, conn Transport, opts ...Option) (*Session, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, errors.New("game id is required")
	}
	if conn == nil {
		return nil, errors.New("transport is required")
	}
	s := &Session{
		gameID:       gameID,
		sri:          sri,
		conn:         conn,
		writeTimeout: defaultWriteTimeout,
		logger:       obslog.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("game_id", gameID))
	return s, nil
}

func (s *Session) GameID() string { return s.gameID }

func (s *Session) SRI() string { return s.sri }

// SubmitMove marks move as pending and writes exactly one move frame.
// Policy rejections and closed sessions never touch the transport.
func (s *Session) SubmitMove(ctx context.Context, move string, lagMS uint32, highCommitment bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return &SubmitError{Move: move, Class: ErrClosed}
	case s.gameEnded:
		s.logger.Warn("submit_blocked_game_ended", zap.String("move", move))
		return &SubmitError{Move: move, Class: ErrGameEnded}
	case s.hasPending:
		s.logger.Warn("submit_blocked_pending", zap.String("move", move), zap.String("pending", s.pending))
		return &SubmitError{Move: move, Class: ErrMovePending}
	case s.peerClosed:
		return &SubmitError{Move: move, Class: ErrTransport, Err: ErrPeerClosed}
	}

	s.pending, s.hasPending = move, true
	s.lastAcked = false

	frame := protocol.NewMoveFrame(move, s.ackCounter, highCommitment, lagMS)
	wctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	if err := s.conn.WriteJSON(wctx, &frame); err != nil {
		// the frame never left, so the slot is free again
		s.pending, s.hasPending = "", false
		s.logger.Error("submit_write_error", zap.String("move", move), zap.Error(err))
		return &SubmitError{Move: move, Class: ErrTransport, Err: err}
	}
	s.logger.Info("submit_sent",
		zap.String("move", move),
		zap.Uint32("ack", frame.D.A),
		zap.Uint32("lag_ms", lagMS),
		zap.Bool("high_commitment", highCommitment),
	)
	return nil
}

// DrainEvents reads every frame the transport has ready and returns the
// resulting events. It never waits for new data. A fatal read error ends the
// drain and is returned together with the events decoded before it.
func (s *Session) DrainEvents(ctx context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.peerClosed {
		return nil, nil
	}

	var events []Event
	for {
		f, err := s.conn.TryRead()
		if errors.Is(err, ErrWouldBlock) {
			return events, nil
		}
		if err != nil {
			s.logger.Error("receive_error", zap.Error(err))
			return events, fmt.Errorf("%w: %w", ErrReceive, err)
		}
		switch f.Kind {
		case FrameText:
			events = s.handleText(f.Data, events)
		case FramePing:
			if err := s.conn.WritePong(ctx, f.Data); err != nil {
				s.logger.Error("pong_write_error", zap.Error(err))
				return events, fmt.Errorf("%w: answer ping: %w", ErrReceive, err)
			}
		case FrameClose:
			s.peerClosed = true
			s.logger.Info("connection_closed")
			return events, nil
		}
	}
}

func (s *Session) handleText(data []byte, events []Event) []Event {
	env, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("frame_skipped", zap.ByteString("raw", truncate(data, 256)), zap.Error(err))
		return events
	}

	switch env.Kind {
	case protocol.KindMove:
		if env.Payload == nil {
			return events
		}
		d, err := protocol.DecodeMove(env.Payload)
		if err != nil {
			s.logger.Debug("frame_skipped", zap.String("kind", env.Kind), zap.Error(err))
			return events
		}
		if d.HasPly {
			s.ackCounter = d.Ply
		}
		if mv := d.Move(); mv != "" {
			events = append(events, Event{Kind: EventOpponentMove, Move: mv, Ply: d.Ply, HasPly: d.HasPly})
		}
		if d.FEN != "" {
			events = append(events, Event{Kind: EventPositionUpdate, FEN: d.FEN, Ply: d.Ply, HasPly: d.HasPly})
		}
		if d.Terminal() {
			s.endGame(d.Status, d.Winner)
			events = append(events, Event{Kind: EventGameEnded, Status: d.Status, Winner: d.Winner})
		}
	case protocol.KindAck:
		s.lastAcked = true
		if s.hasPending {
			s.logger.Info("move_acked", zap.String("move", s.pending))
			s.pending, s.hasPending = "", false
		}
	case protocol.KindEndData:
		end := protocol.DecodeEnd(env.Payload)
		s.endGame(end.Status, end.Winner)
		events = append(events, Event{Kind: EventGameEnded, Status: end.Status, Winner: end.Winner})
	case protocol.KindReload, protocol.KindResync:
		s.logger.Info("resync_received", zap.String("kind", env.Kind), zap.String("dropped_pending", s.pending))
		s.pending, s.hasPending = "", false
		events = append(events, Event{Kind: EventResyncRequired})
	case protocol.KindCrowd:
		s.logger.Debug("crowd_update")
	default:
		s.logger.Debug("frame_unhandled", zap.String("kind", env.Kind))
	}
	return events
}

func (s *Session) endGame(status, winner string) {
	if !s.gameEnded {
		s.logger.Info("game_ended", zap.String("status", status), zap.String("winner", winner))
	}
	s.gameEnded = true
}

// IsGameEnded reports the sticky end-of-game flag.
func (s *Session) IsGameEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameEnded
}

// PendingMove returns the move awaiting acknowledgment, if any.
func (s *Session) PendingMove() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.hasPending
}

// AckCounter returns the last ply reported by the server.
func (s *Session) AckCounter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackCounter
}

// LastMoveAcked reports whether the most recent submission was acknowledged.
func (s *Session) LastMoveAcked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcked
}

// PeerClosed reports whether the server closed the connection.
func (s *Session) PeerClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerClosed
}

// Close releases the transport. Every later call fails with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
