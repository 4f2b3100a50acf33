package runtime

import (
	"testing"

	"github.com/stealthrocket/wasmi/internal/wasm"
)

func TestStackPushPop(t *testing.T) {
	s := NewStack()
	s.PushValue(I32Value(1))
	s.PushValue(I32Value(2))

	v, err := s.PopValue()
	if err != nil {
		t.Fatalf("PopValue: %v", err)
	}
	if v.I32() != 2 {
		t.Fatalf("got %d, want 2 (LIFO order)", v.I32())
	}
	v, err = s.PopValue()
	if err != nil {
		t.Fatalf("PopValue: %v", err)
	}
	if v.I32() != 1 {
		t.Fatalf("got %d, want 1", v.I32())
	}
}

func TestStackUnderflowTraps(t *testing.T) {
	s := NewStack()
	_, err := s.PopValue()
	if err == nil {
		t.Fatal("expected underflow error on empty stack")
	}
	trap, ok := err.(*Trap)
	if !ok || trap.Kind != TrapStackUnderflow {
		t.Fatalf("got %v, want TrapStackUnderflow", err)
	}
}

func TestStackPopValueOfTypeMismatch(t *testing.T) {
	s := NewStack()
	s.PushValue(F32Value(1.5))
	_, err := s.PopValueOfType(wasm.I32)
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
	trap, ok := err.(*Trap)
	if !ok || trap.Kind != TrapTypeMismatch {
		t.Fatalf("got %v, want TrapTypeMismatch", err)
	}
}

func TestStackHeight(t *testing.T) {
	s := NewStack()
	if s.Height() != 0 {
		t.Fatalf("got %d, want 0", s.Height())
	}
	s.PushValue(I64Value(1))
	s.PushValue(I64Value(2))
	if s.Height() != 2 {
		t.Fatalf("got %d, want 2", s.Height())
	}
}
