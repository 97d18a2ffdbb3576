package engine

import (
	"context"
	"sync"
	"time"

	"github.com/park285/chess-movesync/internal/dispatch"
	"github.com/park285/chess-movesync/internal/obslog"
	"github.com/park285/chess-movesync/internal/position"
	"go.uber.org/zap"
)

// Searcher picks a move for a full FEN. *Session implements it.
type Searcher interface {
	BestMove(ctx context.Context, fen string) (string, error)
}

// AutoPlayer searches once per position while auto-move is enabled and it
// is our turn. The dispatcher is marked busy for the duration of a search.
type AutoPlayer struct {
	eng    Searcher
	disp   *dispatch.Dispatcher
	board  *position.Tracker
	offer  func(move string)
	logger *zap.Logger

	mu       sync.Mutex
	lastFEN  string
	searched bool
}

func NewAutoPlayer(eng Searcher, disp *dispatch.Dispatcher, board *position.Tracker, offer func(string)) *AutoPlayer {
	return &AutoPlayer{eng: eng, disp: disp, board: board, offer: offer, logger: obslog.L()}
}

// Step runs at most one search and reports whether a move was offered.
func (a *AutoPlayer) Step(ctx context.Context) bool {
	if !a.disp.IsEnabled() || !a.board.IsOurTurn() || a.board.Desynced() {
		return false
	}
	fen := a.board.FEN()
	a.mu.Lock()
	if a.searched && a.lastFEN == fen {
		a.mu.Unlock()
		return false
	}
	a.lastFEN, a.searched = fen, true
	a.mu.Unlock()

	a.disp.SetBusy(true)
	defer a.disp.SetBusy(false)

	start := time.Now()
	move, err := a.eng.BestMove(ctx, fen)
	if err != nil {
		a.logger.Warn("engine_search_failed", zap.String("fen", fen), zap.Error(err))
		return false
	}
	a.logger.Info("engine_move", zap.String("move", move), zap.Duration("took", time.Since(start)))
	a.offer(move)
	return true
}

func (a *AutoPlayer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.Step(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
