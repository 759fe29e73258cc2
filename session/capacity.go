package session

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// memoryBufferGB is reserved for the OS and everything else on the host
	memoryBufferGB = 2.0
	// MaxRecommendedWorkers caps the recommendation on very large hosts
	MaxRecommendedWorkers = 64
)

// SafeWorkerCount recommends a worker count from the CPU count and the
// memory available to builds. Each concurrent build is assumed to need
// perBuildGB of memory. The result is at least 1.
func SafeWorkerCount(cpus int, availableGB, perBuildGB float64) int {
	if cpus < 1 {
		cpus = 1
	}
	recommended := cpus
	if perBuildGB > 0 {
		if availableGB < memoryBufferGB {
			return 1 // Always allow at least 1 worker
		}
		byMemory := int((availableGB - memoryBufferGB) / perBuildGB)
		recommended = min(recommended, byMemory)
	}
	return max(1, min(recommended, MaxRecommendedWorkers))
}

// RecommendWorkers sizes the worker pool for this host
func RecommendWorkers(perBuildGB float64) int {
	cpus, err := cpu.Counts(true)
	if err != nil || cpus < 1 {
		cpus = runtime.NumCPU()
	}
	v, err := mem.VirtualMemory()
	if err != nil {
		// Can't check memory, size by CPU only
		return SafeWorkerCount(cpus, 0, 0)
	}
	availableGB := float64(v.Available) / 1024 / 1024 / 1024
	return SafeWorkerCount(cpus, availableGB, perBuildGB)
}
