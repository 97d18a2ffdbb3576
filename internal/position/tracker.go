// Package position mirrors the server's board locally so the driver can
// tell whose turn it is and reject illegal candidates before sending them.
package position

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadColor    = errors.New("color must be white or black")
)

func ParseColor(s string) (nchess.Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return nchess.White, nil
	case "black", "b":
		return nchess.Black, nil
	default:
		return nchess.NoColor, fmt.Errorf("%w: %q", ErrBadColor, s)
	}
}

// Tracker follows the moves echoed by the server. Our own submissions are
// applied only when the server echoes them back.
type Tracker struct {
	mu       sync.Mutex
	color    nchess.Color
	game     *nchess.Game
	uci      []string
	san      []string
	ply      uint32
	hasPly   bool
	desynced bool
}

func NewTracker(color nchess.Color) *Tracker {
	return &Tracker{color: color, game: nchess.NewGame()}
}

func (t *Tracker) Color() nchess.Color { return t.color }

// ApplyMove plays a UCI move and returns its SAN. An illegal move marks the
// tracker as desynced; IsOurTurn then falls back to ply parity.
func (t *Tracker) ApplyMove(uci string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	uci = strings.ToLower(strings.TrimSpace(uci))
	pos := t.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		t.desynced = true
		return "", fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := t.game.Move(mv, nil); err != nil {
		t.desynced = true
		return "", fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}
	t.uci = append(t.uci, uci)
	t.san = append(t.san, san)
	return san, nil
}

// SyncFEN reconciles with a server position. A full FEN replaces the local
// game; a placement-only FEN is compared against the current board.
func (t *Tracker) SyncFEN(fen string, ply uint32, hasPly bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if hasPly {
		t.ply, t.hasPly = ply, true
	}
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil
	}
	if strings.Contains(fen, " ") {
		opt, err := nchess.FEN(fen)
		if err != nil {
			t.desynced = true
			return fmt.Errorf("parse fen: %w", err)
		}
		t.game = nchess.NewGame(opt)
		t.uci, t.san = nil, nil
		t.desynced = false
		return nil
	}
	t.desynced = t.game.Position().Board().String() != fen
	return nil
}

// IsOurTurn reports whether the local side is to move.
func (t *Tracker) IsOurTurn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.desynced && t.hasPly {
		whiteToMove := t.ply%2 == 0
		return whiteToMove == (t.color == nchess.White)
	}
	return t.game.Position().Turn() == t.color
}

// Validate checks a candidate against the current position without playing it.
func (t *Tracker) Validate(uci string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.desynced {
		// the local board cannot be trusted; let the server judge
		return nil
	}
	uci = strings.ToLower(strings.TrimSpace(uci))
	mv, err := (nchess.UCINotation{}).Decode(t.game.Position(), uci)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	// Decode only checks square syntax
	legal := t.game.ValidMoves()
	for i := range legal {
		if legal[i].S1() == mv.S1() && legal[i].S2() == mv.S2() && legal[i].Promo() == mv.Promo() {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrIllegalMove, uci)
}

func (t *Tracker) Desynced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desynced
}

func (t *Tracker) MovesUCI() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.uci...)
}

func (t *Tracker) MovesSAN() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.san...)
}

func (t *Tracker) FEN() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.game.FEN()
}

// Outcome returns the local game's outcome string ("1-0", "0-1", "1/2-1/2" or "*").
func (t *Tracker) Outcome() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.game.Outcome())
}
