package netbuf

import (
	"sync/atomic"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAlloc is called after each tail append.
	// size is the number of bytes requested, err is nil if successful.
	RecordAlloc(size uint64, err error)

	// RecordUnalloc is called after each tail shrink.
	RecordUnalloc(size uint64)

	// RecordFree is called after each range release.
	RecordFree(size uint64)

	// RecordSnapshot is called after each snapshot write or restore.
	// n is the number of bytes transferred, err is nil if successful.
	RecordSnapshot(n int64, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAlloc(uint64, error)   {}
func (NoopMetricsCollector) RecordUnalloc(uint64)        {}
func (NoopMetricsCollector) RecordFree(uint64)           {}
func (NoopMetricsCollector) RecordSnapshot(int64, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount     atomic.Int64
	AllocErrors    atomic.Int64
	AllocBytes     atomic.Int64
	UnallocCount   atomic.Int64
	UnallocBytes   atomic.Int64
	FreeCount      atomic.Int64
	FreeBytes      atomic.Int64
	SnapshotCount  atomic.Int64
	SnapshotErrors atomic.Int64
	SnapshotBytes  atomic.Int64
}

func (c *BasicMetricsCollector) RecordAlloc(size uint64, err error) {
	c.AllocCount.Add(1)
	if err != nil {
		c.AllocErrors.Add(1)
		return
	}
	c.AllocBytes.Add(int64(size)) //nolint:gosec // sizes are bounded by the address window
}

func (c *BasicMetricsCollector) RecordUnalloc(size uint64) {
	c.UnallocCount.Add(1)
	c.UnallocBytes.Add(int64(size)) //nolint:gosec // sizes are bounded by the address window
}

func (c *BasicMetricsCollector) RecordFree(size uint64) {
	c.FreeCount.Add(1)
	c.FreeBytes.Add(int64(size)) //nolint:gosec // sizes are bounded by the address window
}

func (c *BasicMetricsCollector) RecordSnapshot(n int64, err error) {
	c.SnapshotCount.Add(1)
	if err != nil {
		c.SnapshotErrors.Add(1)
		return
	}
	c.SnapshotBytes.Add(n)
}
