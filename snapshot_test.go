package netbuf

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alyapunov/netbuf/codec"
)

func snapshotFixture(t *testing.T, opts ...Option) (*Buffer, []byte) {
	t.Helper()
	b := newSmall(t, opts...)
	t.Cleanup(func() { b.Close() })

	_, err := b.Alloc(1500)
	require.NoError(t, err)

	rnd := rand.New(rand.NewSource(7))
	payload := make([]byte, 1500)
	rnd.Read(payload)
	b.CopyIn(0, payload)
	return b, payload
}

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, name := range []string{"raw", "s2", "lz4"} {
		t.Run(name, func(t *testing.T) {
			c, ok := codec.ByName(name)
			require.True(t, ok)

			src, payload := snapshotFixture(t, WithCodec(c))

			var buf bytes.Buffer
			n, err := src.WriteTo(&buf)
			require.NoError(t, err)
			require.Equal(t, int64(buf.Len()), n)

			dst := newSmall(t, WithCodec(c))
			defer dst.Close()
			written := int64(buf.Len())
			n, err = dst.ReadFrom(&buf)
			require.NoError(t, err)
			require.Equal(t, written, n)

			require.Equal(t, uint64(0), dst.Begin())
			require.Equal(t, uint64(1500), dst.End())
			got := make([]byte, 1500)
			dst.CopyOut(0, got)
			require.Equal(t, payload, got)
		})
	}
}

func TestSnapshot_RebasesWindow(t *testing.T) {
	src, payload := snapshotFixture(t)
	src.SetBegin(500) // head advanced, bytes still resident

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	dst := newSmall(t)
	defer dst.Close()
	_, err = dst.ReadFrom(&buf)
	require.NoError(t, err)

	// The surviving 1000 bytes land at offset zero.
	require.Equal(t, uint64(0), dst.Begin())
	require.Equal(t, uint64(1000), dst.End())
	got := make([]byte, 1000)
	dst.CopyOut(0, got)
	require.Equal(t, payload[500:], got)
}

func TestSnapshot_EmptyWindow(t *testing.T) {
	src := newSmall(t)
	defer src.Close()

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	dst := newSmall(t)
	defer dst.Close()
	_, err = dst.ReadFrom(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(0), dst.End())
}

func TestSnapshot_ChecksumMismatch(t *testing.T) {
	src, _ := snapshotFixture(t)

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	data := buf.Bytes()
	data[len(data)-1] ^= 0x01 // flip a payload bit

	dst := newSmall(t)
	defer dst.Close()
	_, err = dst.ReadFrom(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrChecksum)
}

func TestSnapshot_GeometryMismatch(t *testing.T) {
	src, _ := snapshotFixture(t)

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	dst, err := New(WithChunkSize(256), WithL0Size(4), WithHeight(3))
	require.NoError(t, err)
	defer dst.Close()

	_, err = dst.ReadFrom(&buf)
	var mismatch *ErrGeometryMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "chunk size", mismatch.Field)
	require.Equal(t, uint64(128), mismatch.Snapshot)
	require.Equal(t, uint64(256), mismatch.Buffer)
}

func TestSnapshot_UnknownCodec(t *testing.T) {
	src, _ := snapshotFixture(t)

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	data := buf.Bytes()
	data[45] = 'x' // first byte of the stored codec name

	dst := newSmall(t)
	defer dst.Close()
	_, err = dst.ReadFrom(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestSnapshot_BadMagic(t *testing.T) {
	src, _ := snapshotFixture(t)

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	data := buf.Bytes()
	data[0] = 'X'

	dst := newSmall(t)
	defer dst.Close()
	_, err = dst.ReadFrom(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrSnapshotFormat)
}

func TestSnapshot_Truncated(t *testing.T) {
	src, _ := snapshotFixture(t)

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	for _, cut := range []int{0, 10, 44, 60, buf.Len() - 1} {
		dst := newSmall(t)
		_, err = dst.ReadFrom(bytes.NewReader(buf.Bytes()[:cut]))
		require.ErrorIs(t, err, ErrSnapshotFormat, "cut at %d", cut)
		dst.Close()
	}
}

func TestSnapshot_RequiresEmptyBuffer(t *testing.T) {
	src, _ := snapshotFixture(t)

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	dst := newSmall(t)
	defer dst.Close()
	_, err = dst.Alloc(10)
	require.NoError(t, err)

	_, err = dst.ReadFrom(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty buffer")
}

func TestSnapshot_TooLargeForWindow(t *testing.T) {
	src, _ := snapshotFixture(t) // 1500-byte window

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	dst, err := New(WithChunkSize(128), WithL0Size(4), WithHeight(2)) // 512-byte window
	require.NoError(t, err)
	defer dst.Close()

	_, err = dst.ReadFrom(&buf)
	var mismatch *ErrGeometryMismatch
	require.ErrorAs(t, err, &mismatch) // height differs before capacity is even checked
}

func TestSnapshot_Metrics(t *testing.T) {
	m := &BasicMetricsCollector{}
	src, _ := snapshotFixture(t, WithMetrics(m))

	var buf bytes.Buffer
	n, err := src.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(1), m.SnapshotCount.Load())
	require.Equal(t, n, m.SnapshotBytes.Load())
}
