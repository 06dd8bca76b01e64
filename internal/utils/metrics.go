package utils

import (
	"sort"
	"sync"
	"time"
)

// maxSamples bounds the latency history kept per operation.
const maxSamples = 1024

// Tracks performance metrics across the engine
type MetricsCollector struct {
	mu           sync.RWMutex
	requestCount uint64
	errorCount   uint64

	// Maps operation name to recent latencies in nanoseconds
	operationTimes map[string][]int64

	systemStartTime time.Time
}

// OperationStats summarizes the recorded latencies of one operation.
type OperationStats struct {
	Count int           `json:"count"`
	P50   time.Duration `json:"p50"`
	P99   time.Duration `json:"p99"`
}

// MetricsSnapshot is a point-in-time copy of the collector.
type MetricsSnapshot struct {
	Requests   uint64                    `json:"requests"`
	Errors     uint64                    `json:"errors"`
	Uptime     time.Duration             `json:"uptime"`
	Operations map[string]OperationStats `json:"operations"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		operationTimes:  make(map[string][]int64),
		systemStartTime: time.Now(),
	}
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.requestCount++
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorCount++
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	samples := append(mc.operationTimes[operationName], duration.Nanoseconds())
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	mc.operationTimes[operationName] = samples
}

// Snapshot copies the current counters and per-operation percentiles.
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snap := MetricsSnapshot{
		Requests:   mc.requestCount,
		Errors:     mc.errorCount,
		Uptime:     time.Since(mc.systemStartTime),
		Operations: make(map[string]OperationStats, len(mc.operationTimes)),
	}
	for name, samples := range mc.operationTimes {
		sorted := append([]int64(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		snap.Operations[name] = OperationStats{
			Count: len(sorted),
			P50:   time.Duration(percentile(sorted, 50)),
			P99:   time.Duration(percentile(sorted, 99)),
		}
	}
	return snap
}

func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
