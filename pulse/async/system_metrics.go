package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/recap/errors"
)

// SystemMetrics reports chunk worker capacity and host memory
type SystemMetrics struct {
	WorkersPerJob int     `json:"workers_per_job"`
	JobsActive    int     `json:"jobs_active"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// memoryStats is replaceable in tests
var memoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends concurrent local inference calls for the available memory.
// Assumes each concurrent local call needs ~5GB for llama3.2:3b.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerLLMWorker = 5.0
	const memoryBuffer = 2.0

	if availableGB < memoryBuffer {
		return 1
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerLLMWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 10 {
		return 10
	}
	return recommended
}

// SystemMetrics returns current worker and memory usage
func (m *Manager) SystemMetrics() SystemMetrics {
	metrics := SystemMetrics{
		WorkersPerJob: m.cfg.Workers,
		JobsActive:    m.ActiveCount(),
	}
	total, available, err := memoryStats()
	if err == nil && total > 0 {
		metrics.MemoryTotalGB = float64(total) / 1024 / 1024 / 1024
		metrics.MemoryUsedGB = float64(total-available) / 1024 / 1024 / 1024
		metrics.MemoryPercent = metrics.MemoryUsedGB / metrics.MemoryTotalGB * 100
	}
	return metrics
}

// checkMemoryPressure warns when local inference workers may exhaust memory.
// Returns "" when the check passes or cannot run.
func (m *Manager) checkMemoryPressure() string {
	if m.cfg.DefaultProvider != "local" {
		return ""
	}
	total, available, err := memoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)
	if m.cfg.Workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider lowering summary.workers for local inference.",
			m.cfg.Workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
