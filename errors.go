package netbuf

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGeometry is returned when a buffer configuration violates the
	// geometry constraints (power-of-two sizes, minimum fan-out and height).
	ErrInvalidGeometry = errors.New("netbuf: invalid geometry")
	// ErrClosed is returned when operating on a closed buffer.
	ErrClosed = errors.New("netbuf: buffer is closed")
	// ErrChecksum is returned when a snapshot payload fails checksum
	// verification.
	ErrChecksum = errors.New("netbuf: snapshot checksum mismatch")
	// ErrUnknownCodec is returned when a snapshot names a codec this build
	// does not know.
	ErrUnknownCodec = errors.New("netbuf: unknown snapshot codec")
	// ErrSnapshotFormat is returned when a snapshot header is malformed.
	ErrSnapshotFormat = errors.New("netbuf: malformed snapshot")
)

// ErrCapacityExceeded indicates that an append would push the tail past the
// addressable window. The buffer is left exactly as it was.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrCapacityExceeded struct {
	Requested uint64
	Available uint64
	cause     error
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("capacity exceeded: requested %d bytes, %d available in window", e.Requested, e.Available)
}

func (e *ErrCapacityExceeded) Unwrap() error { return e.cause }

// ErrGeometryMismatch indicates that a snapshot was written by a buffer with
// a different tree shape than the one restoring it.
type ErrGeometryMismatch struct {
	Field    string
	Snapshot uint64
	Buffer   uint64
}

func (e *ErrGeometryMismatch) Error() string {
	return fmt.Sprintf("geometry mismatch: snapshot %s %d, buffer %s %d", e.Field, e.Snapshot, e.Field, e.Buffer)
}
