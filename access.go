package netbuf

import (
	"encoding/binary"
	"fmt"

	"github.com/alyapunov/netbuf/internal/blockpool"
)

// Byte access resolves logical offsets through the address tree and reads or
// writes chunk memory directly. Access outside [Begin, End) is a contract
// violation and panics; no per-access bounds tag is stored.

// ByteAt returns the byte at logical offset pos.
func (b *Buffer) ByteAt(pos uint64) byte {
	b.checkRange(pos, 1)
	return b.chunkTail(pos)[0]
}

// SetByteAt stores v at logical offset pos.
func (b *Buffer) SetByteAt(pos uint64, v byte) {
	b.checkRange(pos, 1)
	b.chunkTail(pos)[0] = v
}

// CopyIn copies src into the buffer starting at logical offset pos,
// spanning chunk boundaries as needed.
func (b *Buffer) CopyIn(pos uint64, src []byte) {
	b.checkRange(pos, uint64(len(src)))
	for len(src) > 0 {
		dst := b.chunkTail(pos)
		n := copy(dst, src)
		src = src[n:]
		pos += uint64(n)
	}
}

// CopyOut copies len(dst) bytes starting at logical offset pos into dst,
// spanning chunk boundaries as needed.
func (b *Buffer) CopyOut(pos uint64, dst []byte) {
	b.checkRange(pos, uint64(len(dst)))
	for len(dst) > 0 {
		src := b.chunkTail(pos)
		n := copy(dst, src)
		dst = dst[n:]
		pos += uint64(n)
	}
}

// Uint16At reads a little-endian uint16 at pos.
func (b *Buffer) Uint16At(pos uint64) uint16 {
	var tmp [2]byte
	b.CopyOut(pos, tmp[:])
	return binary.LittleEndian.Uint16(tmp[:])
}

// PutUint16At writes a little-endian uint16 at pos.
func (b *Buffer) PutUint16At(pos uint64, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.CopyIn(pos, tmp[:])
}

// Uint32At reads a little-endian uint32 at pos.
func (b *Buffer) Uint32At(pos uint64) uint32 {
	var tmp [4]byte
	b.CopyOut(pos, tmp[:])
	return binary.LittleEndian.Uint32(tmp[:])
}

// PutUint32At writes a little-endian uint32 at pos.
func (b *Buffer) PutUint32At(pos uint64, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.CopyIn(pos, tmp[:])
}

// Uint64At reads a little-endian uint64 at pos.
func (b *Buffer) Uint64At(pos uint64) uint64 {
	var tmp [8]byte
	b.CopyOut(pos, tmp[:])
	return binary.LittleEndian.Uint64(tmp[:])
}

// PutUint64At writes a little-endian uint64 at pos.
func (b *Buffer) PutUint64At(pos uint64, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.CopyIn(pos, tmp[:])
}

// chunkTail returns the chunk bytes from pos to the end of its chunk.
func (b *Buffer) chunkTail(pos uint64) []byte {
	e := b.leafEntry(pos)
	blk := b.pool.Bytes(blockpool.Handle(e.child))
	return blk[b.geo.chunkOffset(pos):]
}

// leafEntry resolves pos to the entry holding its data chunk.
func (b *Buffer) leafEntry(pos uint64) *entry {
	g := &b.geo
	e := &b.roots[g.rootIndex(pos)]
	for lvl := uint(1); lvl <= g.Height-2; lvl++ {
		h := blockpool.Handle(e.child)
		if h == blockpool.None {
			panic(fmt.Sprintf("netbuf: unallocated offset %d", pos))
		}
		e = &b.nodeEntries(h)[g.midIndex(pos, lvl)]
	}
	if blockpool.Handle(e.child) == blockpool.None {
		panic(fmt.Sprintf("netbuf: unallocated offset %d", pos))
	}
	return e
}

func (b *Buffer) checkRange(pos, n uint64) {
	b.mustBeOpen()
	if pos < b.begin || pos+n > b.end || pos+n < pos {
		panic(fmt.Sprintf("netbuf: access to [%d, %d) outside window [%d, %d)", pos, pos+n, b.begin, b.end))
	}
}
