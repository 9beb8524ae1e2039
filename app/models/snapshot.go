package models

import "time"

// PositionSnapshot is the complete analysis of one position. It is stored
// in the cache (and optionally the archive) only once a request reaches
// the complete phase, and is immutable from then on.
type PositionSnapshot struct {
	FEN           string                        `json:"fen"`
	Moves         []string                      `json:"moves"` // selected candidates, in evaluation order
	Probabilities map[string]float64            `json:"probabilities"`
	Results       map[string]MoveAnalysisResult `json:"results"`
	Discovery     DiscoveryResult               `json:"discovery"`
	Ease          *EaseResult                   `json:"ease,omitempty"`
	CreatedAt     time.Time                     `json:"created_at"`
}
