package models

// PoolPhase is where the pool currently is in the two-stage pipeline.
type PoolPhase string

const (
	PhaseIdle        PoolPhase = "idle"
	PhaseDiscovering PoolPhase = "discovering"
	PhaseEvaluating  PoolPhase = "evaluating"
	PhaseComplete    PoolPhase = "complete"
)

// PoolStatus is a live progress snapshot of the pool.
type PoolStatus struct {
	Phase           PoolPhase `json:"phase"`
	FEN             string    `json:"fen,omitempty"`
	InFlight        []string  `json:"in_flight,omitempty"` // UCI moves currently being evaluated
	Completed       int       `json:"completed"`
	Total           int       `json:"total"`
	ActiveWorkers   int       `json:"active_workers"`
	HashPerWorkerMb int       `json:"hash_per_worker_mb"`
}
