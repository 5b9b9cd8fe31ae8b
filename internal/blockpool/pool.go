// Package blockpool provides a free-list allocator of fixed-size memory blocks.
//
// Blocks are carved out of arenas allocated in batches of 16 and identified by
// integer handles rather than raw pointers. A released handle goes onto a free
// stack and is handed out again by a later Allocate; arenas themselves are
// never returned until the pool is closed. The pool is intentionally a
// grow-only design: callers are long-lived buffers that churn blocks, not
// arenas.
//
// # Concurrency Model
//
// A Pool is owned by a single logical owner. No internal locking is performed;
// concurrent use requires external serialization.
package blockpool

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/alyapunov/netbuf/internal/mem"
	"github.com/alyapunov/netbuf/internal/mmap"
)

// ArenaBlocks is the number of blocks added per arena growth.
const ArenaBlocks = 16

// Handle identifies an allocated block. Handles are 1-based so the zero value
// None can be embedded in on-block data structures as an absent marker.
type Handle uint64

// None is the invalid handle.
const None Handle = 0

var (
	// ErrExhausted is returned by Allocate when the configured block limit
	// prevents growing a new arena.
	ErrExhausted = errors.New("blockpool: block limit reached")
	// ErrClosed is returned when allocating from a closed pool.
	ErrClosed = errors.New("blockpool: pool is closed")
)

// Stats tracks pool usage.
type Stats struct {
	Arenas        uint64 // arenas allocated (never shrinks)
	Live          uint64 // blocks currently held by callers
	FreeBlocks    uint64 // blocks on the free stack
	TotalAllocs   uint64 // cumulative Allocate calls
	TotalReleases uint64 // cumulative Release calls
}

// Pool is a fixed-size block allocator.
type Pool struct {
	blockSize int
	maxBlocks uint64 // 0 = unlimited
	offHeap   bool

	arenas   [][]byte
	mappings []*mmap.Mapping // off-heap arenas only

	free      []Handle       // stack of released handles
	allocated *bitset.BitSet // slot -> currently handed out
	live      uint64

	totalAllocs   uint64
	totalReleases uint64
	closed        bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxBlocks caps the number of resident blocks. Growth that would exceed
// the cap fails with ErrExhausted; released blocks can still be reallocated.
// The cap is rounded down to a whole number of arenas.
func WithMaxBlocks(n uint64) Option {
	return func(p *Pool) {
		p.maxBlocks = n
	}
}

// WithOffHeap backs arenas with anonymous memory mappings instead of the Go
// heap, keeping block memory out of the garbage collector's reach.
func WithOffHeap() Option {
	return func(p *Pool) {
		p.offHeap = true
	}
}

// New creates a Pool of blockSize-byte blocks. Block contents are not zeroed:
// an allocated block is guaranteed unused but carries whatever bytes the
// previous holder left behind.
func New(blockSize int, opts ...Option) (*Pool, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("blockpool: invalid block size %d", blockSize)
	}

	p := &Pool{
		blockSize: blockSize,
		allocated: bitset.New(ArenaBlocks),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// BlockSize returns the fixed size of every block in bytes.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Allocate returns a handle to a block of BlockSize bytes, growing a new
// arena when the free stack is empty. The block is not zero-initialized.
func (p *Pool) Allocate() (Handle, error) {
	if p.closed {
		return None, ErrClosed
	}
	if len(p.free) == 0 {
		if err := p.grow(); err != nil {
			return None, err
		}
	}

	h := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.allocated.Set(uint(h - 1))
	p.live++
	p.totalAllocs++
	return h, nil
}

// Release returns a previously allocated block to the pool and invalidates
// the handle. Releasing None, a foreign handle, or a handle twice indicates
// state corruption in the caller and panics.
func (p *Pool) Release(h Handle) {
	slot := p.checkHandle(h)
	if !p.allocated.Test(slot) {
		panic(fmt.Sprintf("blockpool: double release of block %d", h))
	}
	p.allocated.Clear(slot)
	p.free = append(p.free, h)
	p.live--
	p.totalReleases++
}

// Bytes returns the block's backing memory. The slice is valid until the
// block is released or the pool is closed.
func (p *Pool) Bytes(h Handle) []byte {
	slot := p.checkHandle(h)
	if !p.allocated.Test(slot) {
		panic(fmt.Sprintf("blockpool: access to released block %d", h))
	}
	arena := p.arenas[slot/ArenaBlocks]
	off := int(slot%ArenaBlocks) * p.blockSize
	return arena[off : off+p.blockSize : off+p.blockSize]
}

// Live returns the number of blocks currently held by callers.
func (p *Pool) Live() uint64 {
	return p.live
}

// Stats returns the current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Arenas:        uint64(len(p.arenas)),
		Live:          p.live,
		FreeBlocks:    uint64(len(p.free)),
		TotalAllocs:   p.totalAllocs,
		TotalReleases: p.totalReleases,
	}
}

// Close releases arena memory. Every block must have been released first;
// closing a pool with live blocks panics, since outstanding handles would
// point into unmapped memory.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	if p.live != 0 {
		panic(fmt.Sprintf("blockpool: close with %d live blocks", p.live))
	}
	p.closed = true
	p.arenas = nil
	p.free = nil

	var firstErr error
	for _, m := range p.mappings {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.mappings = nil
	return firstErr
}

func (p *Pool) String() string {
	s := p.Stats()
	return fmt.Sprintf("Pool{blockSize: %d, arenas: %d, live: %d, free: %d, allocs: %d}",
		p.blockSize, s.Arenas, s.Live, s.FreeBlocks, s.TotalAllocs)
}

// grow adds one arena of ArenaBlocks blocks and pushes the new handles onto
// the free stack. There is no partial-arena recovery: either all blocks of
// the arena become available or none do.
func (p *Pool) grow() error {
	slots := uint64(len(p.arenas)) * ArenaBlocks
	if p.maxBlocks != 0 && slots+ArenaBlocks > p.maxBlocks {
		return ErrExhausted
	}

	var arena []byte
	if p.offHeap {
		m, err := mmap.MapAnon(p.blockSize * ArenaBlocks)
		if err != nil {
			return fmt.Errorf("blockpool: arena mapping failed: %w", err)
		}
		p.mappings = append(p.mappings, m)
		arena = m.Bytes()
	} else {
		arena = mem.AllocAligned(p.blockSize * ArenaBlocks)
	}
	p.arenas = append(p.arenas, arena)

	// Push in reverse so blocks are first handed out in slot order.
	for i := ArenaBlocks - 1; i >= 0; i-- {
		p.free = append(p.free, Handle(slots+uint64(i)+1))
	}
	return nil
}

func (p *Pool) checkHandle(h Handle) uint {
	if h == None || uint64(h) > uint64(len(p.arenas))*ArenaBlocks {
		panic(fmt.Sprintf("blockpool: invalid handle %d", h))
	}
	return uint(h - 1)
}
