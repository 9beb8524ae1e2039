package app

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// sideToMove reads the active color field out of a FEN.
func sideToMove(fen string) string {
	parts := strings.Fields(fen)
	if len(parts) >= 2 {
		return parts[1]
	}
	return "w"
}

// fenAfterMove plays one UCI move on a position and returns the resulting
// FEN. Legality comes from the rules library, never from us.
func fenAfterMove(fen, uciMove string) (string, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return "", fmt.Errorf("bad fen %q: %w", fen, err)
	}
	game := chess.NewGame(opt)
	move, err := chess.UCINotation{}.Decode(game.Position(), uciMove)
	if err != nil {
		return "", fmt.Errorf("bad move %q in %q: %w", uciMove, fen, err)
	}
	if err := game.Move(move); err != nil {
		return "", fmt.Errorf("illegal move %q in %q: %w", uciMove, fen, err)
	}
	return game.Position().String(), nil
}

// legalUCIMoves lists the legal moves of a position in UCI notation.
func legalUCIMoves(fen string) ([]string, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("bad fen %q: %w", fen, err)
	}
	game := chess.NewGame(opt)
	pos := game.Position()
	var out []string
	for _, m := range pos.ValidMoves() {
		out = append(out, chess.UCINotation{}.Encode(pos, m))
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
