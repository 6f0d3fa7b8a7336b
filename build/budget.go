package build

import "github.com/shirou/gopsutil/v3/mem"

const (
	minBudgetBytes     = int64(1 << 30)
	defaultBudgetBytes = int64(4 << 30)
)

// memoryBudget derives the Phase A admission budget from available system
// memory: half of what is free, less a baseline per worker, floored at
// 1 GiB. When the probe fails the budget defaults to 4 GiB.
func memoryBudget(workers int, baseline int64) int64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return defaultBudgetBytes
	}
	budget := int64(vm.Available)/2 - int64(workers)*baseline
	if budget < minBudgetBytes {
		return minBudgetBytes
	}
	return budget
}
