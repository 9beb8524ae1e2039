// Pure resource-budget arithmetic: how many engine workers fit under the
// configured host load ceiling, and how much hash each one gets. Stateless
// and safe to call concurrently with ongoing analysis.

package app

import "github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"

const (
	// MinHashPerWorkerMb is the smallest hash table we will ever give an
	// engine. The 1-worker/minimum-hash floor is always permitted, even
	// when it projects past the ceiling.
	MinHashPerWorkerMb = 16

	// WorkerOverheadMb is the fixed non-hash footprint of one engine
	// process (code, stacks, buffers).
	WorkerOverheadMb = 40
)

// EffectiveHeadroomMb is the memory available for the pool under the load
// ceiling. The pool's own running allocation counts as headroom: those
// workers can be killed and respawned, so recomputing right after a full
// spawn must not look like the ceiling is exhausted.
func EffectiveHeadroomMb(sys models.SystemSnapshot, maxLoadPercent int, pool models.PoolState) int {
	ceiling := sys.TotalRamMb * maxLoadPercent / 100
	rawUsed := sys.TotalRamMb - sys.FreeRamMb
	rawHeadroom := ceiling - rawUsed
	if rawHeadroom < 0 {
		rawHeadroom = 0
	}
	return rawHeadroom + pool.WorkerCount*(pool.HashPerWorkerMb+WorkerOverheadMb)
}

// HashForMaxWorkers sizes the per-worker hash assuming all maxWorkers
// spawn, clamped to [MinHashPerWorkerMb, hashCeilingMb].
func HashForMaxWorkers(headroomMb, maxWorkers, hashCeilingMb int) int {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	forHash := headroomMb - maxWorkers*WorkerOverheadMb
	if forHash <= 0 {
		return MinHashPerWorkerMb
	}
	perWorker := forHash / maxWorkers
	if perWorker < MinHashPerWorkerMb {
		return MinHashPerWorkerMb
	}
	if perWorker > hashCeilingMb {
		return hashCeilingMb
	}
	return perWorker
}

// WorkerCapacity is how many workers at the given hash fit in the
// headroom, clamped to [1, maxWorkers]. Never zero: resource exhaustion
// degrades to the floor instead of failing.
func WorkerCapacity(headroomMb, maxWorkers, hashPerWorkerMb int) int {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	capacity := headroomMb / (hashPerWorkerMb + WorkerOverheadMb)
	if capacity < 1 {
		return 1
	}
	if capacity > maxWorkers {
		return maxWorkers
	}
	return capacity
}

// ComputeBudget sizes hash assuming maxWorkers, then derives a capacity
// consistent with that hash.
func ComputeBudget(sys models.SystemSnapshot, maxLoadPercent, maxWorkers, hashCeilingMb int, pool models.PoolState) models.ResourceBudget {
	headroom := EffectiveHeadroomMb(sys, maxLoadPercent, pool)
	hash := HashForMaxWorkers(headroom, maxWorkers, hashCeilingMb)
	return models.ResourceBudget{
		HashPerWorkerMb:     hash,
		WorkerCapacity:      WorkerCapacity(headroom, maxWorkers, hash),
		EffectiveHeadroomMb: headroom,
	}
}

// IsWithinCeiling verifies that running the budget would keep projected
// host usage at or under the ceiling, treating the pool's prior allocation
// as already released. The degenerate 1-worker/minimum-hash floor is
// exempt.
func IsWithinCeiling(sys models.SystemSnapshot, maxLoadPercent int, pool models.PoolState, b models.ResourceBudget) bool {
	if b.WorkerCapacity <= 1 && b.HashPerWorkerMb <= MinHashPerWorkerMb {
		return true
	}
	ceiling := sys.TotalRamMb * maxLoadPercent / 100
	used := sys.TotalRamMb - sys.FreeRamMb - pool.WorkerCount*(pool.HashPerWorkerMb+WorkerOverheadMb)
	if used < 0 {
		used = 0
	}
	projected := used + b.WorkerCapacity*(b.HashPerWorkerMb+WorkerOverheadMb)
	return projected <= ceiling
}
