package netbuf

import (
	"fmt"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/alyapunov/netbuf/codec"
	"github.com/alyapunov/netbuf/internal/blockpool"
)

// entry is one slot of the address tree: a child reference plus a size word.
// The meaning of size is tagged by tree level: an entry addressing a data
// chunk counts live (not yet released) bytes, an entry addressing an interior
// node counts live children. child holds a block pool handle; blockpool.None
// marks an absent child.
//
// Interior node blocks are pool blocks reinterpreted as [MiddleSize]entry,
// which is why the entry layout is fixed at two machine words.
type entry struct {
	child uint64
	size  uint64
}

// grown records one block created during a tail growth pass so a failed pass
// can be unwound in reverse.
type grown struct {
	e    *entry           // entry that received the new block
	pe   *entry           // parent entry whose live-child count was raised (nil at root)
	h    blockpool.Handle // the created block
	leaf bool
}

// Stats tracks buffer usage. Counters are maintained by the single owner;
// reading them concurrently with operations is not supported.
type Stats struct {
	ResidentChunks uint64 // data chunks currently backed by pool blocks
	ResidentNodes  uint64 // interior nodes currently backed by pool blocks
	Allocs         uint64 // successful Alloc calls
	Unallocs       uint64 // Unalloc calls
	Frees          uint64 // Free calls
	Rollbacks      uint64 // Alloc passes undone after a pool failure
	BytesAppended  uint64
	BytesReleased  uint64
}

// Buffer is a growable, randomly-addressable byte buffer for network I/O
// staging. Data is appended at a moving tail (Alloc), consumed from a moving
// head (SetBegin), and interior ranges are released independently (Free).
//
// The buffer exposes a logical [Begin, End) byte window over an unbounded
// stream. Storage is a fixed-height radix tree of fixed-size pool blocks,
// materialized lazily as the tail advances; the root level is a ring, so a
// root slot is recycled for a new subtree once the window has moved past the
// old one. At any time End minus the subtree-aligned Begin must stay within
// Geometry.Cardinality.
//
// A Buffer is owned by a single logical owner: no two operations may run
// concurrently on the same buffer or on buffers sharing one pool.
type Buffer struct {
	geo     Geometry
	pool    *blockpool.Pool
	ownPool bool

	roots []entry
	begin uint64
	end   uint64

	path   []*entry // scratch for tree walks, len Height-1
	closed bool

	freed   *roaring64.Bitmap // released-range tracking, nil unless WithChecks
	codec   codec.Codec
	logger  *Logger
	metrics MetricsCollector
	stats   Stats
}

// New creates a Buffer. Without WithPool the buffer owns a private block
// pool sized to its chunk size; Close then closes the pool as well.
func New(opts ...Option) (*Buffer, error) {
	o := options{
		chunkSize: DefaultChunkSize,
		l0Size:    DefaultL0Size,
		height:    DefaultHeight,
		codec:     codec.Default,
		logger:    NoopLogger(),
		metrics:   NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	geo, err := NewGeometry(o.chunkSize, o.l0Size, o.height)
	if err != nil {
		return nil, err
	}

	pool := o.pool
	ownPool := false
	if pool == nil {
		var popts []blockpool.Option
		if o.maxBlocks != 0 {
			popts = append(popts, blockpool.WithMaxBlocks(o.maxBlocks))
		}
		if o.offHeap {
			popts = append(popts, blockpool.WithOffHeap())
		}
		pool, err = blockpool.New(int(geo.ChunkSize), popts...) //nolint:gosec // chunk size is validated against the 64-bit window
		if err != nil {
			return nil, err
		}
		ownPool = true
	} else if uint64(pool.BlockSize()) != geo.ChunkSize {
		return nil, fmt.Errorf("%w: pool block size %d does not match chunk size %d",
			ErrInvalidGeometry, pool.BlockSize(), geo.ChunkSize)
	}

	b := &Buffer{
		geo:     geo,
		pool:    pool,
		ownPool: ownPool,
		roots:   make([]entry, geo.L0Size),
		path:    make([]*entry, 0, geo.Height-1),
		codec:   o.codec,
		logger:  o.logger,
		metrics: o.metrics,
	}
	if o.checks {
		b.freed = roaring64.New()
	}

	b.logger.Debug("buffer created", "geometry", geo.String(), "own_pool", ownPool)
	return b, nil
}

// Geometry returns the buffer's tree shape.
func (b *Buffer) Geometry() Geometry {
	return b.geo
}

// Begin returns the head cursor.
func (b *Buffer) Begin() uint64 {
	return b.begin
}

// End returns the tail cursor.
func (b *Buffer) End() uint64 {
	return b.end
}

// Len returns the size of the logical window in bytes.
func (b *Buffer) Len() uint64 {
	return b.end - b.begin
}

// SetBegin advances the head cursor. The head only moves forward and never
// past the tail.
func (b *Buffer) SetBegin(pos uint64) {
	b.mustBeOpen()
	if pos < b.begin || pos > b.end {
		panic(fmt.Sprintf("netbuf: SetBegin(%d) outside [%d, %d]", pos, b.begin, b.end))
	}
	b.begin = pos
}

// Stats returns the current buffer statistics.
func (b *Buffer) Stats() Stats {
	return b.stats
}

// Alloc appends size bytes at the tail and returns the offset at which the
// appended region begins (the previous End). The bytes are uninitialized.
//
// Alloc fails with *ErrCapacityExceeded when the new tail would leave the
// addressable window, and with a pool allocation error when block memory is
// exhausted; in both cases the buffer is left exactly as it was.
func (b *Buffer) Alloc(size uint64) (uint64, error) {
	off, err := b.alloc(size)
	b.metrics.RecordAlloc(size, err)
	return off, err
}

func (b *Buffer) alloc(size uint64) (uint64, error) {
	if b.closed {
		return 0, ErrClosed
	}
	reserved := b.begin &^ (b.geo.SubtreeCardinality - 1)
	if size > b.geo.Cardinality || b.end+size-reserved > b.geo.Cardinality {
		return 0, &ErrCapacityExceeded{
			Requested: size,
			Available: b.geo.Cardinality - (b.end - reserved),
		}
	}
	if size == 0 {
		return b.end, nil
	}

	newEnd := b.end + size
	var undo []grown
	for bnd := b.geo.alignUp(b.end); bnd < newEnd; bnd += b.geo.ChunkSize {
		if err := b.growPath(bnd, &undo); err != nil {
			b.unwind(undo)
			b.stats.Rollbacks++
			b.logger.WithWindow(b.begin, b.end).Warn("tail growth rolled back",
				"requested", size, "error", err)
			return 0, err
		}
	}

	old := b.end
	b.end = newEnd
	b.stats.Allocs++
	b.stats.BytesAppended += size
	return old, nil
}

// growPath materializes the tree path for the chunk starting at bnd: every
// interior level missing a node on the path gets a fresh one, and the leaf
// gets a fresh data chunk with a full live-byte counter. Created blocks are
// recorded in undo.
func (b *Buffer) growPath(bnd uint64, undo *[]grown) error {
	g := &b.geo
	es := b.roots
	var pe *entry
	idx := g.rootIndex(bnd)
	off := bnd & (g.SubtreeCardinality - 1)
	cardBits := g.rootShift

	for lvl := uint(0); lvl < g.Height-2; lvl++ {
		e := &es[idx]
		if off == 0 || blockpool.Handle(e.child) == blockpool.None {
			// A node is needed when the tail first enters this entry's
			// range, and again when a full release dropped the node while
			// the tail was still inside the range. At off zero a stale
			// child from a lapped ring slot is overwritten here.
			h, err := b.pool.Allocate()
			if err != nil {
				return err
			}
			e.child = uint64(h)
			e.size = 0
			clear(b.nodeEntries(h))
			if pe != nil {
				pe.size++
			}
			*undo = append(*undo, grown{e: e, pe: pe, h: h})
			b.stats.ResidentNodes++
		}
		pe = e
		es = b.nodeEntries(blockpool.Handle(e.child))
		cardBits -= g.middleBits
		idx = off >> cardBits
		off &= (1 << cardBits) - 1
	}

	e := &es[idx]
	h, err := b.pool.Allocate()
	if err != nil {
		return err
	}
	e.child = uint64(h)
	e.size = g.ChunkSize
	if pe != nil {
		pe.size++
	}
	*undo = append(*undo, grown{e: e, pe: pe, h: h, leaf: true})
	b.stats.ResidentChunks++
	if b.freed != nil {
		b.freed.RemoveRange(bnd, bnd+g.ChunkSize)
	}
	return nil
}

// unwind releases every block created by a failed growth pass, newest first,
// restoring the tree to its pre-call shape. An entry that no longer
// references its recorded block means prior state corruption, which is not
// recoverable.
func (b *Buffer) unwind(undo []grown) {
	for i := len(undo) - 1; i >= 0; i-- {
		u := undo[i]
		if blockpool.Handle(u.e.child) != u.h {
			panic("netbuf: tree corrupted during rollback")
		}
		u.e.child = uint64(blockpool.None)
		u.e.size = 0
		if u.pe != nil {
			u.pe.size--
		}
		b.pool.Release(u.h)
		if u.leaf {
			b.stats.ResidentChunks--
		} else {
			b.stats.ResidentNodes--
		}
	}
}

// Unalloc shrinks the tail by size bytes, releasing the chunks and interior
// nodes that backed the trimmed range. It is the strict complement of Alloc:
// the same boundaries are walked in reverse order.
//
// Contract: size must not exceed Len, and the trimmed range must not contain
// bytes already released with Free.
func (b *Buffer) Unalloc(size uint64) {
	b.mustBeOpen()
	if size > b.end-b.begin {
		panic(fmt.Sprintf("netbuf: Unalloc(%d) exceeds %d held bytes", size, b.end-b.begin))
	}
	if size == 0 {
		return
	}

	newEnd := b.end - size
	if b.freed != nil && b.intersectsFreed(newEnd, b.end) {
		panic(fmt.Sprintf("netbuf: Unalloc over released bytes in [%d, %d)", newEnd, b.end))
	}

	allocEnd := b.geo.alignUp(b.end)
	newAllocEnd := b.geo.alignUp(newEnd)
	for allocEnd > newAllocEnd {
		allocEnd -= b.geo.ChunkSize
		path := b.walkPath(allocEnd)
		leaf := path[len(path)-1]
		if blockpool.Handle(leaf.child) == blockpool.None {
			panic(fmt.Sprintf("netbuf: chunk missing at offset %d", allocEnd))
		}
		b.releasePath(path)
	}

	b.end = newEnd
	b.stats.Unallocs++
	b.metrics.RecordUnalloc(size)
}

// Free marks the byte range [pos, pos+size), which must lie inside
// [Begin, End), as no longer referenced. The tail does not move; Free
// supports releasing interior holes created by out-of-order consumption.
// Each overlapped chunk's live-byte counter is decremented by the overlap,
// and a chunk whose counter reaches zero is returned to the pool along with
// any interior node that just lost its last child.
//
// Releasing bytes twice is a contract violation. With WithChecks enabled it
// is detected exactly; without, it is detected when it underflows a counter
// or touches an already released chunk.
func (b *Buffer) Free(pos, size uint64) {
	b.mustBeOpen()
	if size == 0 {
		return
	}
	if pos < b.begin || pos+size > b.end || pos+size < pos {
		panic(fmt.Sprintf("netbuf: Free of [%d, %d) outside window [%d, %d)", pos, pos+size, b.begin, b.end))
	}
	if b.freed != nil {
		if b.intersectsFreed(pos, pos+size) {
			panic(fmt.Sprintf("netbuf: double Free inside [%d, %d)", pos, pos+size))
		}
		b.freed.AddRange(pos, pos+size)
	}

	total := size
	for size != 0 {
		n := min(size, b.geo.ChunkSize-b.geo.chunkOffset(pos))
		path := b.walkPath(pos)
		leaf := path[len(path)-1]
		if blockpool.Handle(leaf.child) == blockpool.None {
			panic(fmt.Sprintf("netbuf: Free of already released offset %d", pos))
		}
		if n > leaf.size {
			panic(fmt.Sprintf("netbuf: Free underflows live bytes at offset %d", pos))
		}
		// TODO(multithread): this decrement-and-test is the one spot that
		// must become atomic to let concurrent producers release disjoint
		// ranges of the same chunk.
		leaf.size -= n
		if leaf.size == 0 {
			b.releasePath(path)
		}
		pos += n
		size -= n
	}

	b.stats.Frees++
	b.stats.BytesReleased += total
	b.metrics.RecordFree(total)
}

// Reset releases every retained block and rewinds both cursors to zero.
// The buffer can be reused afterwards.
func (b *Buffer) Reset() {
	b.mustBeOpen()
	b.releaseAll()
	b.begin, b.end = 0, 0
	if b.freed != nil {
		b.freed = roaring64.New()
	}
}

// Close releases every retained block back to the pool and, if the pool is
// buffer-owned, closes it. Close is idempotent; a closed buffer rejects all
// further operations.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.releaseAll()
	b.closed = true

	var err error
	if b.ownPool {
		err = b.pool.Close()
	}
	b.logger.WithWindow(b.begin, b.end).Debug("buffer closed")
	return err
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{window: [%d, %d), chunks: %d, nodes: %d, %s}",
		b.begin, b.end, b.stats.ResidentChunks, b.stats.ResidentNodes, b.geo.String())
}

// nodeEntries reinterprets an interior node block as its entry array.
func (b *Buffer) nodeEntries(h blockpool.Handle) []entry {
	blk := b.pool.Bytes(h)
	return unsafe.Slice((*entry)(unsafe.Pointer(&blk[0])), int(b.geo.MiddleSize)) //nolint:gosec // pool blocks are word-aligned by construction
}

// walkPath returns the entries addressing pos from the root down to the
// leaf. It panics when an interior node on the path is absent, since callers
// only walk offsets inside the materialized window. The returned slice is
// scratch memory reused by the next walk.
func (b *Buffer) walkPath(pos uint64) []*entry {
	g := &b.geo
	e := &b.roots[g.rootIndex(pos)]
	path := append(b.path[:0], e)
	for lvl := uint(1); lvl <= g.Height-2; lvl++ {
		h := blockpool.Handle(e.child)
		if h == blockpool.None {
			panic(fmt.Sprintf("netbuf: unallocated offset %d", pos))
		}
		e = &b.nodeEntries(h)[g.midIndex(pos, lvl)]
		path = append(path, e)
	}
	return path
}

// releasePath returns the leaf chunk at the end of path to the pool, then
// cascades upward releasing every interior node whose last surviving child
// was just removed.
func (b *Buffer) releasePath(path []*entry) {
	leaf := path[len(path)-1]
	b.pool.Release(blockpool.Handle(leaf.child))
	leaf.child = uint64(blockpool.None)
	leaf.size = 0
	b.stats.ResidentChunks--

	for i := len(path) - 2; i >= 0; i-- {
		p := path[i]
		p.size--
		if p.size != 0 {
			break
		}
		b.pool.Release(blockpool.Handle(p.child))
		p.child = uint64(blockpool.None)
		b.stats.ResidentNodes--
	}
}

// releaseAll walks the whole tree and returns every retained block.
func (b *Buffer) releaseAll() {
	for i := range b.roots {
		b.releaseSubtree(&b.roots[i], 0)
	}
}

func (b *Buffer) releaseSubtree(e *entry, lvl uint) {
	h := blockpool.Handle(e.child)
	if h == blockpool.None {
		return
	}
	if lvl == b.geo.Height-2 {
		b.pool.Release(h)
		b.stats.ResidentChunks--
	} else {
		es := b.nodeEntries(h)
		for i := range es {
			b.releaseSubtree(&es[i], lvl+1)
		}
		b.pool.Release(h)
		b.stats.ResidentNodes--
	}
	e.child = uint64(blockpool.None)
	e.size = 0
}

func (b *Buffer) intersectsFreed(lo, hi uint64) bool {
	r := roaring64.New()
	r.AddRange(lo, hi)
	return b.freed.Intersects(r)
}

func (b *Buffer) mustBeOpen() {
	if b.closed {
		panic("netbuf: buffer is closed")
	}
}
