package runtime

import (
	"testing"

	"github.com/stealthrocket/wasmi/internal/wasm"
)

func TestMemoryStoreLoadRoundTrip(t *testing.T) {
	m := NewMemory(wasm.Limits{Min: 1})
	if err := m.Store32(0, 100, 0xdeadbeef); err != nil {
		t.Fatalf("Store32: %v", err)
	}
	got, err := m.Load32(0, 100)
	if err != nil {
		t.Fatalf("Load32: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestMemoryOutOfBoundsTraps(t *testing.T) {
	m := NewMemory(wasm.Limits{Min: 1})
	_, err := m.Load64(wasm.PageSize-4, 0)
	if err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	trap, ok := err.(*Trap)
	if !ok || trap.Kind != TrapMemoryOOB {
		t.Fatalf("got %v, want TrapMemoryOOB", err)
	}
}

func TestMemoryGrowRespectsMax(t *testing.T) {
	m := NewMemory(wasm.Limits{Min: 1, Max: 2, HasMax: true})
	if old := m.Grow(1); old != 1 {
		t.Fatalf("Grow: got old=%d, want 1", old)
	}
	if m.Size() != 2 {
		t.Fatalf("Size: got %d, want 2", m.Size())
	}
	if old := m.Grow(1); old != -1 {
		t.Fatalf("Grow past max: got %d, want -1", old)
	}
}

func TestMemoryCopyOverlapping(t *testing.T) {
	m := NewMemory(wasm.Limits{Min: 1})
	if err := m.FillData(0, []byte("abcdef")); err != nil {
		t.Fatalf("FillData: %v", err)
	}
	// Overlapping forward copy, as memory.copy must support.
	if err := m.Copy(2, 0, 4); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got := m.Bytes()[0:6]
	if string(got) != "ababcd" {
		t.Fatalf("got %q, want %q", got, "ababcd")
	}
}

func TestMemoryFill(t *testing.T) {
	m := NewMemory(wasm.Limits{Min: 1})
	if err := m.Fill(10, 0x42, 5); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for i := uint64(10); i < 15; i++ {
		b, _ := m.Load8(i, 0)
		if b != 0x42 {
			t.Fatalf("byte %d: got %#x, want 0x42", i, b)
		}
	}
}
