package codec

import (
	"github.com/klauspost/compress/s2"
)

// S2 compresses payloads with the S2 block format, an extension of Snappy
// tuned for throughput. It is the default snapshot codec.
type S2 struct{}

// Name implements Codec.
func (S2) Name() string { return "s2" }

// Encode implements Codec.
func (S2) Encode(dst, src []byte) ([]byte, error) {
	if cap(dst) < s2.MaxEncodedLen(len(src)) {
		dst = make([]byte, s2.MaxEncodedLen(len(src)))
	}
	return s2.Encode(dst[:cap(dst)], src), nil
}

// Decode implements Codec.
func (S2) Decode(dst, src []byte) ([]byte, error) {
	out, err := s2.Decode(dst, src)
	if err != nil {
		return nil, ErrCorrupt
	}
	if len(out) != len(dst) {
		return nil, ErrCorrupt
	}
	return out, nil
}
