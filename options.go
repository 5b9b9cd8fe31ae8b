package netbuf

import (
	"github.com/alyapunov/netbuf/codec"
	"github.com/alyapunov/netbuf/internal/blockpool"
)

const (
	// DefaultChunkSize is the default node and data chunk size (8 KiB).
	DefaultChunkSize = 8192
	// DefaultL0Size is the default root ring fan-out.
	DefaultL0Size = 8
	// DefaultHeight is the default tree height.
	DefaultHeight = 3
)

type options struct {
	chunkSize uint64
	l0Size    uint64
	height    uint
	pool      *blockpool.Pool
	maxBlocks uint64
	offHeap   bool
	checks    bool
	codec     codec.Codec
	logger    *Logger
	metrics   MetricsCollector
}

// Option configures a Buffer.
type Option func(*options)

// WithChunkSize sets the size in bytes of every tree node and data chunk.
// Must be a power of two and at least twice the tree entry size.
func WithChunkSize(size uint64) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// WithL0Size sets the root ring fan-out. Must be a power of two, at least 2.
func WithL0Size(size uint64) Option {
	return func(o *options) {
		o.l0Size = size
	}
}

// WithHeight sets the tree height. Must be at least 2; height 2 makes root
// entries point directly at data chunks.
func WithHeight(height uint) Option {
	return func(o *options) {
		o.height = height
	}
}

// WithPool wires an externally constructed block pool into the buffer.
// The pool's block size must equal the buffer's chunk size. The caller keeps
// ownership: Close does not close a shared pool. Several buffers may share
// one pool as long as all of them are driven by the same logical owner.
func WithPool(p *blockpool.Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithMaxBlocks caps the buffer-owned pool at n resident blocks. Growth past
// the cap surfaces as a pool exhaustion error from Alloc. Ignored when an
// external pool is wired in.
func WithMaxBlocks(n uint64) Option {
	return func(o *options) {
		o.maxBlocks = n
	}
}

// WithOffHeap backs the buffer-owned pool with anonymous memory mappings
// instead of the Go heap. Ignored when an external pool is wired in.
func WithOffHeap() Option {
	return func(o *options) {
		o.offHeap = true
	}
}

// WithChecks enables release tracking: Free panics with a precise message
// when a range intersects bytes that were already released. Costs memory
// proportional to the tracked window; intended for tests and debugging.
func WithChecks(enabled bool) Option {
	return func(o *options) {
		o.checks = enabled
	}
}

// WithCodec configures the codec used for snapshot payloads.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger configures structured logging for lifecycle events.
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics configures the metrics collector.
// If nil is passed, metrics collection is disabled.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}
