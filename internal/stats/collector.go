package stats

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
)

// Collector aggregates remap outcomes and latencies and is thread-safe.
type Collector struct {
	mu sync.Mutex

	remapCount    atomic.Int64 // Requests rewritten to {hash}.{suffix}
	fallbackCount atomic.Int64 // Requests that signaled NoRemap
	totalTimeNs   atomic.Int64 // Sum of all remap times
	minTimeNs     atomic.Int64 // Minimum remap time
	maxTimeNs     atomic.Int64 // Maximum remap time

	digest *tdigest.TDigest // For percentile calculation (mutex-protected)

	startTime time.Time
	endTime   time.Time
}

// NewCollector creates a new statistics collector
func NewCollector() *Collector {
	c := &Collector{
		digest: tdigest.NewWithCompression(100),
	}
	c.minTimeNs.Store(math.MaxInt64)
	c.maxTimeNs.Store(0)
	return c
}

// Start marks the start of the run
func (c *Collector) Start() {
	c.startTime = time.Now()
}

// End marks the end of the run
func (c *Collector) End() {
	c.endTime = time.Now()
}

// RecordRemap records one successfully rewritten request and its duration
func (c *Collector) RecordRemap(duration time.Duration) {
	ns := duration.Nanoseconds()

	c.remapCount.Add(1)
	c.totalTimeNs.Add(ns)
	c.updateMin(ns)
	c.updateMax(ns)

	c.mu.Lock()
	c.digest.Add(float64(ns), 1)
	c.mu.Unlock()
}

// RecordFallback records a request that could not be remapped and was routed
// to the static destination instead
func (c *Collector) RecordFallback() {
	c.fallbackCount.Add(1)
}

// RemapCount returns the number of rewritten requests
func (c *Collector) RemapCount() int64 {
	return c.remapCount.Load()
}

// FallbackCount returns the number of fallback routings
func (c *Collector) FallbackCount() int64 {
	return c.fallbackCount.Load()
}

// Summary contains the final run statistics
type Summary struct {
	TotalRemapped   int64
	TotalFallbacks  int64
	TotalTime       time.Duration // Sum of all remap times
	WallClockTime   time.Duration // Actual elapsed time
	MinRemapTime    time.Duration
	MaxRemapTime    time.Duration
	AvgRemapTime    time.Duration
	MedianRemapTime time.Duration
	P95RemapTime    time.Duration
	P99RemapTime    time.Duration
	RemapsPerSecond float64
}

// GetSummary returns the final run statistics
func (c *Collector) GetSummary() *Summary {
	count := c.remapCount.Load()
	totalNs := c.totalTimeNs.Load()

	summary := &Summary{
		TotalRemapped:  count,
		TotalFallbacks: c.fallbackCount.Load(),
		TotalTime:      time.Duration(totalNs),
		WallClockTime:  c.endTime.Sub(c.startTime),
	}

	if count == 0 {
		return summary
	}

	summary.MinRemapTime = time.Duration(c.minTimeNs.Load())
	summary.MaxRemapTime = time.Duration(c.maxTimeNs.Load())
	summary.AvgRemapTime = time.Duration(totalNs / count)

	c.calculatePercentiles(summary)

	if summary.WallClockTime > 0 {
		summary.RemapsPerSecond = float64(count) / summary.WallClockTime.Seconds()
	}

	return summary
}

// String returns a formatted string representation of the summary
func (s *Summary) String() string {
	return fmt.Sprintf(`
Replay Results
==============
Requests remapped:    %d
Fallback routings:    %d
Total remap time:     %v
Wall clock time:      %v
Remaps per second:    %.2f

Remap Time Statistics
---------------------
Minimum:  %v
Average:  %v
Median:   %v
P95:      %v
P99:      %v
Maximum:  %v`,
		s.TotalRemapped,
		s.TotalFallbacks,
		s.TotalTime,
		s.WallClockTime,
		s.RemapsPerSecond,
		s.MinRemapTime,
		s.AvgRemapTime,
		s.MedianRemapTime,
		s.P95RemapTime,
		s.P99RemapTime,
		s.MaxRemapTime,
	)
}

// JSON returns the summary as a map for JSON encoding
func (s *Summary) JSON() map[string]interface{} {
	return map[string]interface{}{
		"total_remapped":      s.TotalRemapped,
		"total_fallbacks":     s.TotalFallbacks,
		"total_time_ms":       s.TotalTime.Milliseconds(),
		"wall_clock_time_ms":  s.WallClockTime.Milliseconds(),
		"remaps_per_second":   s.RemapsPerSecond,
		"min_remap_time_ms":   s.MinRemapTime.Milliseconds(),
		"avg_remap_time_ms":   s.AvgRemapTime.Milliseconds(),
		"median_remap_time_ms": s.MedianRemapTime.Milliseconds(),
		"p95_remap_time_ms":   s.P95RemapTime.Milliseconds(),
		"p99_remap_time_ms":   s.P99RemapTime.Milliseconds(),
		"max_remap_time_ms":   s.MaxRemapTime.Milliseconds(),
	}
}

// updateMin atomically updates the minimum value using CAS
func (c *Collector) updateMin(ns int64) {
	for {
		old := c.minTimeNs.Load()
		if ns >= old {
			break
		}
		if c.minTimeNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// updateMax atomically updates the maximum value using CAS
func (c *Collector) updateMax(ns int64) {
	for {
		old := c.maxTimeNs.Load()
		if ns <= old {
			break
		}
		if c.maxTimeNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// calculatePercentiles computes percentile statistics using t-digest
func (c *Collector) calculatePercentiles(summary *Summary) {
	// Mutex ensures memory visibility of digest state after concurrent
	// updates from many request-processing goroutines.
	c.mu.Lock()
	defer c.mu.Unlock()

	summary.MedianRemapTime = time.Duration(c.digest.Quantile(0.5))
	summary.P95RemapTime = time.Duration(c.digest.Quantile(0.95))
	summary.P99RemapTime = time.Duration(c.digest.Quantile(0.99))
}
