package codec

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func compressiblePayload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i / 64)
	}
	return out
}

func randomPayload(n int) []byte {
	out := make([]byte, n)
	_, _ = rand.Read(out)
	return out
}

func TestCodec_RoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty":          {},
		"tiny":           []byte("netbuf"),
		"compressible":   compressiblePayload(64 * 1024),
		"incompressible": randomPayload(64 * 1024),
	}

	for _, c := range []Codec{Raw{}, S2{}, LZ4{}} {
		t.Run(c.Name(), func(t *testing.T) {
			for name, payload := range payloads {
				enc, err := c.Encode(nil, payload)
				if err != nil {
					t.Fatalf("%s: encode failed: %v", name, err)
				}

				dec, err := c.Decode(make([]byte, len(payload)), enc)
				if err != nil {
					t.Fatalf("%s: decode failed: %v", name, err)
				}
				if !bytes.Equal(dec, payload) {
					t.Errorf("%s: round trip mismatch", name)
				}
			}
		})
	}
}

func TestCodec_ByName(t *testing.T) {
	for _, name := range []string{"raw", "s2", "lz4"} {
		c, ok := ByName(name)
		if !ok {
			t.Fatalf("codec %q not found", name)
		}
		if c.Name() != name {
			t.Errorf("expected name %q, got %q", name, c.Name())
		}
	}

	if _, ok := ByName("zstd"); ok {
		t.Error("expected unknown codec to be rejected")
	}
}

func TestCodec_DecodeCorrupt(t *testing.T) {
	payload := compressiblePayload(4096)

	for _, c := range []Codec{S2{}, LZ4{}} {
		t.Run(c.Name(), func(t *testing.T) {
			enc, err := c.Encode(nil, payload)
			if err != nil {
				t.Fatal(err)
			}

			// Wrong uncompressed length must be rejected.
			if _, err := c.Decode(make([]byte, len(payload)-1), enc); err == nil {
				t.Error("expected error for wrong output length")
			}

			// Truncated input must be rejected.
			if _, err := c.Decode(make([]byte, len(payload)), enc[:len(enc)/2]); err == nil {
				t.Error("expected error for truncated input")
			}
		})
	}
}
