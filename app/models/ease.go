package models

// MoveProb is one entry of the human-move probability distribution.
type MoveProb struct {
	MoveUCI string  `json:"move"`
	Prob    float64 `json:"prob"`
}

// MoveRegret is the per-candidate breakdown behind an ease score.
type MoveRegret struct {
	MoveUCI string  `json:"move"`
	Prob    float64 `json:"prob"`
	Quality float64 `json:"quality"` // bounded quality of the position after the move
	Regret  float64 `json:"regret"`  // max(0, ceiling quality - quality)
}

// EaseResult quantifies how forgiving a position is for the side to move.
// Ease is in [0,1]; higher means more forgiving.
type EaseResult struct {
	Ease     float64      `json:"ease"`
	RawEase  float64      `json:"raw_ease"`
	BestMove string       `json:"bestmove"`
	CeilingQ float64      `json:"ceiling_quality"`
	Regrets  []MoveRegret `json:"regrets"`
	TopMoves []MoveProb   `json:"top_moves"`
}
