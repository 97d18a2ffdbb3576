// Package driver polls a session on a fixed interval, keeps the local board
// in step with the server, and submits the latest offered move when the
// dispatcher allows it.
package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-movesync/internal/dispatch"
	"github.com/park285/chess-movesync/internal/journal"
	"github.com/park285/chess-movesync/internal/obslog"
	"github.com/park285/chess-movesync/internal/position"
	"github.com/park285/chess-movesync/internal/session"
	"go.uber.org/zap"
)

const defaultInterval = 100 * time.Millisecond

// Journal receives every event and submission. *journal.Store implements it.
type Journal interface {
	Append(ctx context.Context, gameID string, e journal.Entry) error
	MarkEnded(ctx context.Context, gameID, status, winner string) (bool, error)
}

// Results persists the final game record. *journal.Repository implements it.
type Results interface {
	SaveResult(ctx context.Context, res journal.Result) error
}

type Loop struct {
	sess  *session.Session
	disp  *dispatch.Dispatcher
	board *position.Tracker

	journal  Journal
	results  Results
	runID    string
	interval time.Duration
	onEvent  func(session.Event)
	logger   *zap.Logger

	mu           sync.Mutex
	candidate    string
	hasCandidate bool
	status       string
	winner       string
	startedAt    time.Time
	finished     bool
}

type Option func(*Loop)

func WithJournal(j Journal, runID string) Option {
	return func(l *Loop) { l.journal, l.runID = j, runID }
}

func WithResults(r Results) Option {
	return func(l *Loop) { l.results = r }
}

func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithEventHandler registers a callback run for each drained event, on the
// loop goroutine.
func WithEventHandler(fn func(session.Event)) Option {
	return func(l *Loop) { l.onEvent = fn }
}

func WithLogger(lg *zap.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

func New(sess *session.Session, disp *dispatch.Dispatcher, board *position.Tracker, opts ...Option) *Loop {
	l := &Loop{
		sess:      sess,
		disp:      disp,
		board:     board,
		interval:  defaultInterval,
		logger:    obslog.L(),
		startedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Offer replaces the pending candidate move. Only the latest offer is kept.
func (l *Loop) Offer(move string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidate, l.hasCandidate = move, true
}

func (l *Loop) Candidate() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.candidate, l.hasCandidate
}

func (l *Loop) clearCandidate(move string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasCandidate && l.candidate == move {
		l.candidate, l.hasCandidate = "", false
	}
}

// Run ticks until the game ends, the peer closes, or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		done, err := l.Tick(ctx)
		if done || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one drain-then-submit pass and reports whether the loop is over.
func (l *Loop) Tick(ctx context.Context) (bool, error) {
	events, err := l.sess.DrainEvents(ctx)
	for _, ev := range events {
		l.handle(ctx, ev)
	}
	if err != nil {
		if !errors.Is(err, session.ErrClosed) {
			l.record(ctx, journal.Entry{Kind: "receive_error", Error: err.Error()})
		}
		return true, err
	}
	if l.sess.IsGameEnded() {
		l.finish(ctx)
		return true, nil
	}
	if l.sess.PeerClosed() {
		l.logger.Warn("driver_peer_closed", zap.String("game_id", l.sess.GameID()), zap.String("sri", l.sess.SRI()))
		return true, nil
	}
	l.trySubmit(ctx)
	return false, nil
}

func (l *Loop) handle(ctx context.Context, ev session.Event) {
	entry := journal.Entry{Kind: ev.Kind.String(), Ply: ev.Ply}
	switch ev.Kind {
	case session.EventOpponentMove:
		entry.Move = ev.Move
		san, err := l.board.ApplyMove(ev.Move)
		if err != nil {
			l.logger.Warn("board_desync", zap.String("move", ev.Move), zap.Error(err))
			entry.Error = err.Error()
		}
		entry.SAN = san
		l.clearCandidate(ev.Move)
	case session.EventPositionUpdate:
		entry.FEN = ev.FEN
		if err := l.board.SyncFEN(ev.FEN, ev.Ply, ev.HasPly); err != nil {
			l.logger.Warn("board_fen_rejected", zap.String("fen", ev.FEN), zap.Error(err))
			entry.Error = err.Error()
		}
	case session.EventGameEnded:
		entry.Status, entry.Winner = ev.Status, ev.Winner
		l.mu.Lock()
		l.status, l.winner = ev.Status, ev.Winner
		l.mu.Unlock()
	case session.EventResyncRequired:
		l.logger.Info("driver_resync", zap.String("game_id", l.sess.GameID()))
	}
	l.record(ctx, entry)
	if l.onEvent != nil {
		l.onEvent(ev)
	}
}

func (l *Loop) trySubmit(ctx context.Context) {
	move, ok := l.Candidate()
	if !ok || !l.disp.ShouldSubmit(l.board.IsOurTurn()) {
		return
	}
	if err := l.board.Validate(move); err != nil {
		l.logger.Warn("candidate_rejected", zap.String("move", move), zap.Error(err))
		l.clearCandidate(move)
		return
	}
	// an in-flight move would arm the duplicate window for a send that never happens
	if _, pending := l.sess.PendingMove(); pending {
		return
	}
	err := l.disp.Submit(ctx, move, l.sess)
	switch {
	case err == nil:
		l.record(ctx, journal.Entry{Kind: "submit", Move: move})
		l.clearCandidate(move)
	case errors.Is(err, session.ErrMovePending), errors.Is(err, dispatch.ErrDuplicate):
		// retried on a later tick
	default:
		l.record(ctx, journal.Entry{Kind: "submit_failed", Move: move, Error: err.Error()})
		l.clearCandidate(move)
	}
}

func (l *Loop) finish(ctx context.Context) {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	status, winner := l.status, l.winner
	l.mu.Unlock()

	gameID := l.sess.GameID()
	first := true
	if l.journal != nil {
		var err error
		first, err = l.journal.MarkEnded(ctx, gameID, status, winner)
		if err != nil {
			l.logger.Warn("journal_mark_ended_failed", zap.String("game_id", gameID), zap.Error(err))
			first = true
		}
	}
	if l.results == nil || !first {
		return
	}
	color := "white"
	if l.board.Color() == nchess.Black {
		color = "black"
	}
	res := journal.Result{
		GameID:    gameID,
		RunID:     l.runID,
		Color:     color,
		Status:    status,
		Winner:    winner,
		MovesUCI:  l.board.MovesUCI(),
		MovesSAN:  l.board.MovesSAN(),
		StartedAt: l.startedAt,
		EndedAt:   time.Now().UTC(),
	}
	if err := l.results.SaveResult(ctx, res); err != nil {
		l.logger.Error("save_result_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	l.logger.Info("result_saved",
		zap.String("game_id", gameID),
		zap.String("status", status),
		zap.String("winner", winner),
		zap.String("board_outcome", l.board.Outcome()),
	)
}

func (l *Loop) record(ctx context.Context, e journal.Entry) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Append(ctx, l.sess.GameID(), e); err != nil {
		l.logger.Warn("journal_append_failed", zap.String("kind", e.Kind), zap.Error(err))
	}
}
