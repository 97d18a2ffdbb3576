package position

import (
	"errors"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestParseColor(t *testing.T) {
	if c, err := ParseColor("White"); err != nil || c != nchess.White {
		t.Fatalf("white: %v %v", c, err)
	}
	if c, err := ParseColor("b"); err != nil || c != nchess.Black {
		t.Fatalf("black: %v %v", c, err)
	}
	if _, err := ParseColor("green"); !errors.Is(err, ErrBadColor) {
		t.Fatalf("expected ErrBadColor, got %v", err)
	}
}

func TestApplyMovesAndTurn(t *testing.T) {
	tr := NewTracker(nchess.Black)
	if tr.IsOurTurn() {
		t.Fatalf("black should wait at start")
	}
	san, err := tr.ApplyMove("e2e4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if san != "e4" {
		t.Fatalf("expected SAN e4, got %q", san)
	}
	if !tr.IsOurTurn() {
		t.Fatalf("black to move after e4")
	}
	if _, err := tr.ApplyMove("G8F6"); err != nil {
		t.Fatalf("uppercase uci should normalize: %v", err)
	}
	if got := tr.MovesSAN(); len(got) != 2 || got[1] != "Nf6" {
		t.Fatalf("unexpected SAN list %v", got)
	}
	if got := tr.MovesUCI(); got[0] != "e2e4" || got[1] != "g8f6" {
		t.Fatalf("unexpected UCI list %v", got)
	}
	if tr.Outcome() != "*" {
		t.Fatalf("game should be ongoing, got %q", tr.Outcome())
	}
}

func TestValidate(t *testing.T) {
	tr := NewTracker(nchess.White)
	if err := tr.Validate("e2e4"); err != nil {
		t.Fatalf("e2e4 should be legal: %v", err)
	}
	for _, mv := range []string{"e2e5", "a1a8", "e7e5", "g1g3", "zz"} {
		if err := tr.Validate(mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("%s: expected ErrIllegalMove, got %v", mv, err)
		}
	}
	if len(tr.MovesUCI()) != 0 {
		t.Fatalf("Validate must not play the move")
	}
}

func TestValidatePromotion(t *testing.T) {
	tr := NewTracker(nchess.White)
	if err := tr.SyncFEN("8/P7/8/8/8/8/8/K6k w - - 0 1", 0, false); err != nil {
		t.Fatalf("SyncFEN: %v", err)
	}
	if err := tr.Validate("a7a8q"); err != nil {
		t.Fatalf("a7a8q should be legal: %v", err)
	}
	if err := tr.Validate("a7a8"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("promotion without a piece should be illegal, got %v", err)
	}
}

func TestIllegalEchoDesyncsAndUsesPly(t *testing.T) {
	tr := NewTracker(nchess.White)
	if _, err := tr.ApplyMove("e7e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if !tr.Desynced() {
		t.Fatalf("tracker should be desynced")
	}
	if err := tr.SyncFEN("", 3, true); err != nil {
		t.Fatalf("SyncFEN: %v", err)
	}
	if tr.IsOurTurn() {
		t.Fatalf("odd ply means black to move")
	}
	if err := tr.Validate("a7a5"); err != nil {
		t.Fatalf("desynced tracker defers validation, got %v", err)
	}
}

func TestSyncPlacementFEN(t *testing.T) {
	tr := NewTracker(nchess.White)
	if _, err := tr.ApplyMove("e2e4"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if err := tr.SyncFEN("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR", 1, true); err != nil {
		t.Fatalf("SyncFEN: %v", err)
	}
	if tr.Desynced() {
		t.Fatalf("matching placement should not desync")
	}
	if err := tr.SyncFEN("rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR", 1, true); err != nil {
		t.Fatalf("SyncFEN: %v", err)
	}
	if !tr.Desynced() {
		t.Fatalf("mismatched placement should desync")
	}
}

func TestSyncFullFENResets(t *testing.T) {
	tr := NewTracker(nchess.White)
	tr.ApplyMove("e7e5")
	full := "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"
	if err := tr.SyncFEN(full, 2, true); err != nil {
		t.Fatalf("SyncFEN: %v", err)
	}
	if tr.Desynced() {
		t.Fatalf("full FEN should resync")
	}
	if !tr.IsOurTurn() {
		t.Fatalf("white to move in synced position")
	}
	if _, err := tr.ApplyMove("g1f3"); err != nil {
		t.Fatalf("move after resync: %v", err)
	}
	if err := tr.SyncFEN("not a fen at all", 0, false); err == nil {
		t.Fatalf("expected parse error")
	}
}
