package codec

import (
	"github.com/pierrec/lz4/v4"
)

// LZ4 compresses payloads with the LZ4 block format.
//
// LZ4's block compressor reports incompressible input instead of storing it,
// so the encoded form carries a one-byte marker: 1 for an LZ4 block, 0 for a
// stored (uncompressed) payload.
type LZ4 struct{}

const (
	lz4Stored     = 0
	lz4Compressed = 1
)

// Name implements Codec.
func (LZ4) Name() string { return "lz4" }

// Encode implements Codec.
func (LZ4) Encode(dst, src []byte) ([]byte, error) {
	bound := 1 + lz4.CompressBlockBound(len(src))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	}
	dst = dst[:bound]

	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst[1:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible input: store as-is.
		dst[0] = lz4Stored
		return append(dst[:1], src...), nil
	}
	dst[0] = lz4Compressed
	return dst[:1+n], nil
}

// Decode implements Codec.
func (LZ4) Decode(dst, src []byte) ([]byte, error) {
	if len(src) < 1 {
		return nil, ErrCorrupt
	}
	switch src[0] {
	case lz4Stored:
		if len(src)-1 != len(dst) {
			return nil, ErrCorrupt
		}
		copy(dst, src[1:])
		return dst, nil
	case lz4Compressed:
		n, err := lz4.UncompressBlock(src[1:], dst)
		if err != nil || n != len(dst) {
			return nil, ErrCorrupt
		}
		return dst, nil
	default:
		return nil, ErrCorrupt
	}
}
