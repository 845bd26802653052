package scheduler

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
)

// SystemMetrics tracks resource usage for scheduler monitoring
type SystemMetrics struct {
	JobsActive    int     `json:"jobs_active"`     // Jobs currently executing
	JobsMax       int     `json:"jobs_max"`        // Configured concurrency limit
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsQueued    int     `json:"jobs_queued"`     // Pending jobs awaiting admission
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeConcurrency caps the configured concurrency when available
// memory cannot sustain it. Analysis jobs hold their working set in memory,
// budgeted at roughly 1GB per concurrent job plus a 1GB system reserve.
func calculateSafeConcurrency(configured int) int {
	const memoryPerJobGB = 1.0
	const memoryBufferGB = 1.0

	_, available, err := getMemoryStats()
	if err != nil {
		return configured // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	if availableGB < memoryBufferGB {
		return 1
	}

	recommended := int((availableGB - memoryBufferGB) / memoryPerJobGB)
	if recommended < 1 {
		return 1
	}
	if recommended > configured {
		return configured
	}
	return recommended
}

// GetSystemMetrics returns current resource usage alongside queue depth
func (s *Scheduler) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	queued := 0
	if stats, err := s.GetStats(); err == nil {
		queued = stats.CurrentQueueSize
	}

	s.mu.Lock()
	active := len(s.active)
	maxConcurrent := s.maxConcurrent
	s.mu.Unlock()

	return SystemMetrics{
		JobsActive:    active,
		JobsMax:       maxConcurrent,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsQueued:    queued,
	}
}
