package app

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"
)

// SnapshotFunc supplies a point-in-time host reading. The pool takes one
// so tests can feed fixed snapshots.
type SnapshotFunc func() (models.SystemSnapshot, error)

// ReadSystemSnapshot reads live host memory and core counts.
func ReadSystemSnapshot() (models.SystemSnapshot, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return models.SystemSnapshot{}, err
	}
	return models.SystemSnapshot{
		TotalRamMb:   int(vm.Total / (1 << 20)),
		FreeRamMb:    int(vm.Available / (1 << 20)),
		LogicalCores: runtime.NumCPU(),
	}, nil
}
