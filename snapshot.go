package netbuf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/alyapunov/netbuf/codec"
)

// Snapshot format, little-endian:
//
//	magic "NBF1" | version u32 | chunkSize u64 | l0Size u64 | height u32 |
//	begin u64 | end u64 | codec name (u8 length prefix) |
//	rawLen u64 | encLen u64 | xxhash64(enc) u64 | enc bytes
//
// The stored codec name makes the format self-describing: any build that
// knows the codec by name can restore the payload.

var snapshotMagic = [4]byte{'N', 'B', 'F', '1'}

const snapshotVersion = 1

// WriteTo serializes the live window [Begin, End) with the configured codec.
// Caller contract: the window must not contain bytes already released with
// Free, since every byte of it is read.
//
// WriteTo implements io.WriterTo.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := b.writeTo(w)
	b.metrics.RecordSnapshot(n, err)
	return n, err
}

func (b *Buffer) writeTo(w io.Writer) (int64, error) {
	if b.closed {
		return 0, ErrClosed
	}

	raw := make([]byte, b.Len())
	if len(raw) > 0 {
		b.CopyOut(b.begin, raw)
	}
	enc, err := b.codec.Encode(nil, raw)
	if err != nil {
		return 0, fmt.Errorf("netbuf: snapshot encode: %w", err)
	}

	name := b.codec.Name()
	hdr := make([]byte, 0, 69+len(name))
	hdr = append(hdr, snapshotMagic[:]...)
	hdr = binary.LittleEndian.AppendUint32(hdr, snapshotVersion)
	hdr = binary.LittleEndian.AppendUint64(hdr, b.geo.ChunkSize)
	hdr = binary.LittleEndian.AppendUint64(hdr, b.geo.L0Size)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(b.geo.Height)) //nolint:gosec // height is validated small
	hdr = binary.LittleEndian.AppendUint64(hdr, b.begin)
	hdr = binary.LittleEndian.AppendUint64(hdr, b.end)
	hdr = append(hdr, byte(len(name)))
	hdr = append(hdr, name...)
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(raw)))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(enc)))
	hdr = binary.LittleEndian.AppendUint64(hdr, xxhash.Sum64(enc))

	var total int64
	n, err := w.Write(hdr)
	total += int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(enc)
	total += int64(n)
	if err != nil {
		return total, err
	}

	b.logger.Debug("snapshot written",
		"window", b.Len(), "encoded", len(enc), "codec", name)
	return total, nil
}

// ReadFrom restores a snapshot into an empty buffer with the same geometry.
// The restored stream is rebased to offset zero: the snapshot's window
// bytes become [0, window size) regardless of the cursors it was written
// with.
//
// ReadFrom implements io.ReaderFrom.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	n, err := b.readFrom(r)
	b.metrics.RecordSnapshot(n, err)
	return n, err
}

func (b *Buffer) readFrom(r io.Reader) (int64, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if b.begin != 0 || b.end != 0 || b.stats.ResidentChunks != 0 {
		return 0, fmt.Errorf("netbuf: snapshot restore requires an empty buffer")
	}

	var total int64
	readFull := func(buf []byte) error {
		n, err := io.ReadFull(r, buf)
		total += int64(n)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSnapshotFormat, err)
		}
		return nil
	}

	// magic, version, geometry, cursors, codec name length.
	fixed := make([]byte, 45)
	if err := readFull(fixed); err != nil {
		return total, err
	}
	if [4]byte(fixed[:4]) != snapshotMagic {
		return total, fmt.Errorf("%w: bad magic", ErrSnapshotFormat)
	}
	if v := binary.LittleEndian.Uint32(fixed[4:]); v != snapshotVersion {
		return total, fmt.Errorf("%w: unsupported version %d", ErrSnapshotFormat, v)
	}

	chunkSize := binary.LittleEndian.Uint64(fixed[8:])
	l0Size := binary.LittleEndian.Uint64(fixed[16:])
	height := uint64(binary.LittleEndian.Uint32(fixed[24:]))
	switch {
	case chunkSize != b.geo.ChunkSize:
		return total, &ErrGeometryMismatch{Field: "chunk size", Snapshot: chunkSize, Buffer: b.geo.ChunkSize}
	case l0Size != b.geo.L0Size:
		return total, &ErrGeometryMismatch{Field: "L0 size", Snapshot: l0Size, Buffer: b.geo.L0Size}
	case height != uint64(b.geo.Height):
		return total, &ErrGeometryMismatch{Field: "height", Snapshot: height, Buffer: uint64(b.geo.Height)}
	}

	begin := binary.LittleEndian.Uint64(fixed[28:])
	end := binary.LittleEndian.Uint64(fixed[36:])
	if begin > end {
		return total, fmt.Errorf("%w: window [%d, %d)", ErrSnapshotFormat, begin, end)
	}

	name := make([]byte, fixed[44])
	if err := readFull(name); err != nil {
		return total, err
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return total, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}

	tail := make([]byte, 24)
	if err := readFull(tail); err != nil {
		return total, err
	}
	rawLen := binary.LittleEndian.Uint64(tail[0:])
	encLen := binary.LittleEndian.Uint64(tail[8:])
	sum := binary.LittleEndian.Uint64(tail[16:])
	if rawLen != end-begin {
		return total, fmt.Errorf("%w: payload length %d does not match window [%d, %d)", ErrSnapshotFormat, rawLen, begin, end)
	}
	if rawLen > b.geo.Cardinality {
		return total, &ErrCapacityExceeded{Requested: rawLen, Available: b.geo.Cardinality}
	}
	if encLen > 2*rawLen+256 {
		return total, fmt.Errorf("%w: implausible encoded length %d", ErrSnapshotFormat, encLen)
	}

	enc := make([]byte, encLen)
	if err := readFull(enc); err != nil {
		return total, err
	}
	if xxhash.Sum64(enc) != sum {
		return total, ErrChecksum
	}

	raw, err := c.Decode(make([]byte, rawLen), enc)
	if err != nil {
		return total, fmt.Errorf("%w: %w", ErrSnapshotFormat, err)
	}

	// Rebase: the restored window starts at offset zero.
	if _, err := b.alloc(rawLen); err != nil {
		return total, err
	}
	if rawLen > 0 {
		b.CopyIn(0, raw)
	}

	b.logger.Debug("snapshot restored",
		"window", rawLen, "encoded", encLen, "codec", c.Name())
	return total, nil
}
