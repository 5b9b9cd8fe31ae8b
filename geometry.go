package netbuf

import (
	"fmt"
	"math/bits"
)

// entrySize is the size in bytes of one tree entry (child handle word plus
// size word). Interior node blocks hold ChunkSize/entrySize entries.
const entrySize = 16

// Geometry describes the shape of a buffer's address tree. All fields are
// derived from the configured {ChunkSize, L0Size, Height} triple and fixed
// for the buffer's lifetime.
//
// A logical offset p resolves to a tree path as:
//
//	root index  = (p >> (log2 ChunkSize + (Height-2)*log2 MiddleSize)) & (L0Size-1)
//	level l     = (p >> (log2 ChunkSize + (Height-2-l)*log2 MiddleSize)) & (MiddleSize-1)
//	byte offset = p & (ChunkSize-1)
//
// Every operation on the buffer reproduces exactly this mapping, so tail
// growth, tail shrink, range release and byte access always agree on which
// physical byte backs a logical offset.
type Geometry struct {
	// ChunkSize is the size in bytes of every tree node and data chunk.
	ChunkSize uint64
	// L0Size is the fan-out of the root level. The root array is addressed
	// modulo L0Size, forming a ring: a root slot is reused for a new subtree
	// once the logical window has moved past the old one.
	L0Size uint64
	// Height is the tree height. Height 2 means root entries point directly
	// at data chunks.
	Height uint

	// MiddleSize is the fan-out of interior nodes: ChunkSize / entrySize.
	MiddleSize uint64
	// SubtreeCardinality is the number of bytes addressable under one root
	// entry: ChunkSize * MiddleSize^(Height-2).
	SubtreeCardinality uint64
	// Cardinality is the total addressable window: L0Size * SubtreeCardinality.
	Cardinality uint64

	chunkBits  uint
	middleBits uint
	rootShift  uint // log2(SubtreeCardinality)
}

// NewGeometry validates a configuration and derives the tree shape.
func NewGeometry(chunkSize, l0Size uint64, height uint) (Geometry, error) {
	switch {
	case chunkSize == 0 || chunkSize&(chunkSize-1) != 0:
		return Geometry{}, fmt.Errorf("%w: chunk size %d is not a power of two", ErrInvalidGeometry, chunkSize)
	case chunkSize < 2*entrySize:
		return Geometry{}, fmt.Errorf("%w: chunk size %d is below the minimum %d", ErrInvalidGeometry, chunkSize, 2*entrySize)
	case l0Size == 0 || l0Size&(l0Size-1) != 0:
		return Geometry{}, fmt.Errorf("%w: L0 size %d is not a power of two", ErrInvalidGeometry, l0Size)
	case l0Size < 2:
		return Geometry{}, fmt.Errorf("%w: L0 size %d is below the minimum 2", ErrInvalidGeometry, l0Size)
	case height < 2:
		return Geometry{}, fmt.Errorf("%w: height %d is below the minimum 2", ErrInvalidGeometry, height)
	}

	g := Geometry{
		ChunkSize:  chunkSize,
		L0Size:     l0Size,
		Height:     height,
		MiddleSize: chunkSize / entrySize,
	}
	g.chunkBits = uint(bits.TrailingZeros64(chunkSize))
	g.middleBits = uint(bits.TrailingZeros64(g.MiddleSize))

	g.rootShift = g.chunkBits + (height-2)*g.middleBits
	if g.rootShift >= 64 || g.rootShift+uint(bits.TrailingZeros64(l0Size)) >= 64 {
		return Geometry{}, fmt.Errorf("%w: address window overflows 64 bits", ErrInvalidGeometry)
	}
	g.SubtreeCardinality = 1 << g.rootShift
	g.Cardinality = l0Size * g.SubtreeCardinality

	return g, nil
}

// rootIndex returns the root ring slot addressing offset p.
func (g *Geometry) rootIndex(p uint64) uint64 {
	return (p >> g.rootShift) & (g.L0Size - 1)
}

// midIndex returns the entry index at interior level l (1 <= l <= Height-2).
func (g *Geometry) midIndex(p uint64, l uint) uint64 {
	shift := g.chunkBits + (g.Height-2-l)*g.middleBits
	return (p >> shift) & (g.MiddleSize - 1)
}

// chunkOffset returns the byte offset of p within its data chunk.
func (g *Geometry) chunkOffset(p uint64) uint64 {
	return p & (g.ChunkSize - 1)
}

// alignUp rounds p up to the next chunk boundary.
func (g *Geometry) alignUp(p uint64) uint64 {
	return (p + g.ChunkSize - 1) &^ (g.ChunkSize - 1)
}

func (g Geometry) String() string {
	return fmt.Sprintf("Geometry{chunk: %d, l0: %d, height: %d, subtree: %d, window: %d}",
		g.ChunkSize, g.L0Size, g.Height, g.SubtreeCardinality, g.Cardinality)
}
