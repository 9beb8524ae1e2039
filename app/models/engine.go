package models

// UCIScore is one engine evaluation of a position.
type UCIScore struct {
	// Exactly one of these will be set:
	CP   *int   `json:"cp,omitempty"`   // centipawns, positive means advantage for side to move
	Mate *int   `json:"mate,omitempty"` // mate in N, sign indicates who is mating
	Best string `json:"bestmove"`       // engine best move in UCI, e.g. "e2e4"
}

// Negate flips the score to the other side's point of view.
func (s UCIScore) Negate() UCIScore {
	out := UCIScore{Best: s.Best}
	if s.CP != nil {
		cp := -*s.CP
		out.CP = &cp
	}
	if s.Mate != nil {
		m := -*s.Mate
		out.Mate = &m
	}
	return out
}

// DiscoveryLine is one ranked line from a MultiPV search,
// score normalized to White's point of view.
type DiscoveryLine struct {
	Rank        int      `json:"rank"` // 1-based MultiPV rank
	Depth       int      `json:"depth"`
	Score       UCIScore `json:"score"`
	Moves       []string `json:"moves"` // UCI move sequence
	Nodes       int64    `json:"nodes"`
	NodesPerSec int64    `json:"nodes_per_s"`
}

// DiscoveryResult is the complete output of the discovery stage.
type DiscoveryResult struct {
	FEN      string          `json:"fen"`
	Depth    int             `json:"depth"`
	Lines    []DiscoveryLine `json:"lines"`
	BestMove string          `json:"bestmove"`
}

// MoveAnalysisResult is the final per-candidate result: the evaluation of
// the position after the move (White's point of view), the principal
// variation, and optionally the ease of the resulting position.
type MoveAnalysisResult struct {
	MoveUCI string   `json:"move"`
	Score   UCIScore `json:"score"`
	PV      []string `json:"pv"`
	Ease    *float64 `json:"ease,omitempty"`
	Depth   int      `json:"depth"`
	Missing bool     `json:"missing,omitempty"` // worker lost, no capacity left to requeue
}
