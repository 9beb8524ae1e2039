package models

// SystemSnapshot is a point-in-time reading of the host.
type SystemSnapshot struct {
	TotalRamMb   int `json:"total_ram_mb"`
	FreeRamMb    int `json:"free_ram_mb"`
	LogicalCores int `json:"logical_cores"`
}

// PoolState describes the pool's own currently-running allocation.
// The allocator adds this back as reclaimable headroom, since the pool
// can always free it by killing and respawning its workers.
type PoolState struct {
	WorkerCount     int `json:"worker_count"`
	HashPerWorkerMb int `json:"hash_per_worker_mb"`
}

// ResourceBudget is the allocator output, recomputed on every scale event.
type ResourceBudget struct {
	HashPerWorkerMb     int `json:"hash_per_worker_mb"`
	WorkerCapacity      int `json:"worker_capacity"`
	EffectiveHeadroomMb int `json:"effective_headroom_mb"`
}
