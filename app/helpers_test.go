package app

import (
	"strings"
	"testing"
)

const testStartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestSideToMove(t *testing.T) {
	if got := sideToMove(testStartFEN); got != "w" {
		t.Fatalf("sideToMove = %q, want w", got)
	}
	if got := sideToMove("8/8/8/8/8/8/8/8 b - - 0 40"); got != "b" {
		t.Fatalf("sideToMove = %q, want b", got)
	}
}

func TestFenAfterMove(t *testing.T) {
	after, err := fenAfterMove(testStartFEN, "e2e4")
	if err != nil {
		t.Fatalf("fenAfterMove: %v", err)
	}
	if sideToMove(after) != "b" {
		t.Fatalf("expected black to move after e2e4, fen=%s", after)
	}
	if !strings.Contains(after, "4P3") {
		t.Fatalf("pawn not on e4: %s", after)
	}
}

func TestFenAfterMoveRejectsIllegal(t *testing.T) {
	if _, err := fenAfterMove(testStartFEN, "e2e5"); err == nil {
		t.Fatalf("expected error for illegal move")
	}
	if _, err := fenAfterMove("not a fen", "e2e4"); err == nil {
		t.Fatalf("expected error for bad fen")
	}
}

func TestLegalUCIMoves(t *testing.T) {
	moves, err := legalUCIMoves(testStartFEN)
	if err != nil {
		t.Fatalf("legalUCIMoves: %v", err)
	}
	if len(moves) != 20 {
		t.Fatalf("start position has 20 legal moves, got %d", len(moves))
	}
}
