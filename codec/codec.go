// Package codec centralizes snapshot payload compression.
//
// Snapshots are self-describing: the codec name is stored in the snapshot
// header, so a payload written with one codec can be read back by any build
// that knows the codec by name.
package codec

import "errors"

// ErrCorrupt is returned when a payload cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt payload")

// Codec compresses and decompresses byte payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name returns the stable codec name stored in persistence headers.
	Name() string
	// Encode compresses src, appending to dst[:0]. dst may be nil.
	Encode(dst, src []byte) ([]byte, error)
	// Decode decompresses src into dst, which must have the exact
	// uncompressed length.
	Decode(dst, src []byte) ([]byte, error)
}

// Default is the codec used when none is configured.
var Default Codec = S2{}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "raw":
		return Raw{}, true
	case "s2":
		return S2{}, true
	case "lz4":
		return LZ4{}, true
	default:
		return nil, false
	}
}

// Raw is the identity codec.
type Raw struct{}

// Name implements Codec.
func (Raw) Name() string { return "raw" }

// Encode implements Codec.
func (Raw) Encode(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

// Decode implements Codec.
func (Raw) Decode(dst, src []byte) ([]byte, error) {
	if len(dst) != len(src) {
		return nil, ErrCorrupt
	}
	copy(dst, src)
	return dst, nil
}
