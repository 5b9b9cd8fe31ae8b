// Package netbuf provides a growable, randomly-addressable byte buffer for
// network I/O staging.
//
// A Buffer exposes a logical [Begin, End) byte window over an effectively
// unbounded stream. Data is appended at the moving tail with Alloc, consumed
// from the moving head with SetBegin, and interior ranges are released
// independently with Free once no longer referenced. Storage is a
// fixed-height radix tree of fixed-size blocks drawn from a free-list block
// pool, so memory stays bounded and blocks are recycled instead of hitting a
// general allocator per byte. The tree's root level is a ring: root slots
// are reused for new subtrees once the window has moved past the old ones.
//
// # Quick Start
//
//	buf, _ := netbuf.New() // 8 KiB chunks, ring of 8, height 3
//	defer buf.Close()
//
//	off, err := buf.Alloc(1024) // reserve 1 KiB at the tail
//	if err != nil { ... }
//	buf.CopyIn(off, payload)    // stage bytes
//	buf.PutUint32At(off, n)     // or typed writes
//
//	buf.Free(off, 512)          // release a consumed range
//	buf.SetBegin(off + 512)     // advance the head
//
// The tree shape is configurable at construction:
//
//	buf, _ := netbuf.New(
//		netbuf.WithChunkSize(4096),
//		netbuf.WithL0Size(16),
//		netbuf.WithHeight(3),
//	)
//
// # Memory Model
//
// Chunks and interior nodes are materialized lazily as the tail advances and
// returned to the pool as soon as the last byte they cover is released. The
// pool grows arenas in batches and never returns them until it is closed;
// long-lived buffers churn blocks, not arenas. WithOffHeap moves arena
// memory out of the garbage collector's reach via anonymous mappings.
//
// # Concurrency Model
//
// A Buffer and its pool have a single logical owner: no two operations may
// run concurrently on the same buffer or on buffers sharing a pool.
// Independent buffers over independent pools are fully isolated.
//
// # Persistence
//
// WriteTo and ReadFrom snapshot the live window through a pluggable
// compression codec (see the codec package); the format is self-describing
// and checksummed.
package netbuf
