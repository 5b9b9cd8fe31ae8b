package blockpool

import (
	"errors"
	"testing"
)

func TestPool_New(t *testing.T) {
	t.Run("invalid block size", func(t *testing.T) {
		if _, err := New(0); err == nil {
			t.Error("expected error for zero block size")
		}
		if _, err := New(-128); err == nil {
			t.Error("expected error for negative block size")
		}
	})

	t.Run("no arena until first allocation", func(t *testing.T) {
		p, err := New(128)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.Stats().Arenas; got != 0 {
			t.Errorf("expected 0 arenas, got %d", got)
		}
	})
}

func TestPool_Allocate(t *testing.T) {
	t.Run("grows in whole arenas", func(t *testing.T) {
		p, _ := New(128)

		for i := 0; i < ArenaBlocks; i++ {
			if _, err := p.Allocate(); err != nil {
				t.Fatalf("allocation %d failed: %v", i, err)
			}
		}
		if got := p.Stats().Arenas; got != 1 {
			t.Fatalf("expected 1 arena after %d allocations, got %d", ArenaBlocks, got)
		}

		if _, err := p.Allocate(); err != nil {
			t.Fatalf("allocation %d failed: %v", ArenaBlocks, err)
		}
		if got := p.Stats().Arenas; got != 2 {
			t.Fatalf("expected second arena, got %d", got)
		}
		if got := p.Live(); got != ArenaBlocks+1 {
			t.Errorf("expected %d live blocks, got %d", ArenaBlocks+1, got)
		}
	})

	t.Run("handles are distinct and usable", func(t *testing.T) {
		p, _ := New(64)
		seen := make(map[Handle]bool)
		for i := 0; i < 3*ArenaBlocks; i++ {
			h, err := p.Allocate()
			if err != nil {
				t.Fatal(err)
			}
			if h == None {
				t.Fatal("got None handle from Allocate")
			}
			if seen[h] {
				t.Fatalf("handle %d handed out twice", h)
			}
			seen[h] = true

			blk := p.Bytes(h)
			if len(blk) != 64 {
				t.Fatalf("expected 64-byte block, got %d", len(blk))
			}
			blk[0] = byte(i)
			blk[63] = byte(i)
		}
	})

	t.Run("blocks do not alias", func(t *testing.T) {
		p, _ := New(32)
		a, _ := p.Allocate()
		b, _ := p.Allocate()
		for i := range p.Bytes(a) {
			p.Bytes(a)[i] = 0xAA
		}
		for i := range p.Bytes(b) {
			p.Bytes(b)[i] = 0xBB
		}
		for i, v := range p.Bytes(a) {
			if v != 0xAA {
				t.Fatalf("block a byte %d overwritten: %x", i, v)
			}
		}
	})
}

func TestPool_Release(t *testing.T) {
	t.Run("lifo reuse", func(t *testing.T) {
		p, _ := New(128)
		h, _ := p.Allocate()
		p.Release(h)

		h2, _ := p.Allocate()
		if h2 != h {
			t.Errorf("expected LIFO reuse of handle %d, got %d", h, h2)
		}
		if got := p.Stats().Arenas; got != 1 {
			t.Errorf("reuse should not grow arenas, got %d", got)
		}
	})

	t.Run("double release panics", func(t *testing.T) {
		p, _ := New(128)
		h, _ := p.Allocate()
		p.Release(h)
		expectPanic(t, func() { p.Release(h) })
	})

	t.Run("invalid handle panics", func(t *testing.T) {
		p, _ := New(128)
		expectPanic(t, func() { p.Release(None) })
		expectPanic(t, func() { p.Release(Handle(12345)) })
	})

	t.Run("access after release panics", func(t *testing.T) {
		p, _ := New(128)
		h, _ := p.Allocate()
		p.Release(h)
		expectPanic(t, func() { p.Bytes(h) })
	})
}

func TestPool_MaxBlocks(t *testing.T) {
	p, _ := New(128, WithMaxBlocks(ArenaBlocks))

	handles := make([]Handle, 0, ArenaBlocks)
	for i := 0; i < ArenaBlocks; i++ {
		h, err := p.Allocate()
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		handles = append(handles, h)
	}

	if _, err := p.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	// Released blocks stay allocatable under the cap.
	p.Release(handles[0])
	if _, err := p.Allocate(); err != nil {
		t.Fatalf("reallocation under cap failed: %v", err)
	}
}

func TestPool_OffHeap(t *testing.T) {
	p, _ := New(4096, WithOffHeap())

	h, err := p.Allocate()
	if err != nil {
		t.Fatalf("off-heap allocation failed: %v", err)
	}
	blk := p.Bytes(h)
	for i := range blk {
		blk[i] = 0x5A
	}
	p.Release(h)

	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := p.Allocate(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestPool_Close(t *testing.T) {
	t.Run("close with live blocks panics", func(t *testing.T) {
		p, _ := New(128)
		_, _ = p.Allocate()
		expectPanic(t, func() { _ = p.Close() })
	})

	t.Run("close is idempotent", func(t *testing.T) {
		p, _ := New(128)
		h, _ := p.Allocate()
		p.Release(h)
		if err := p.Close(); err != nil {
			t.Fatal(err)
		}
		if err := p.Close(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestPool_Stats(t *testing.T) {
	p, _ := New(128)

	h1, _ := p.Allocate()
	h2, _ := p.Allocate()
	p.Release(h1)

	s := p.Stats()
	if s.Live != 1 {
		t.Errorf("expected 1 live, got %d", s.Live)
	}
	if s.FreeBlocks != ArenaBlocks-1 {
		t.Errorf("expected %d free, got %d", ArenaBlocks-1, s.FreeBlocks)
	}
	if s.TotalAllocs != 2 || s.TotalReleases != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}

	p.Release(h2)
}

func expectPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	f()
}
