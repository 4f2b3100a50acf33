package runtime

import "github.com/stealthrocket/wasmi/internal/wasm"

// Stack is the operand stack: a LIFO sequence of values shared across an
// entire call activation. Control-flow frames are realized by the
// engine's own recursive descent over the flat block table rather than
// by markers interleaved on this stack — Go's call stack already is the
// activation chain, and each recursive call closes over the same Locals
// slice, which is what gives locals their "shared by reference across
// nested block cursors" behavior without extra bookkeeping.
type Stack struct {
	values []Value
}

func NewStack() *Stack {
	return &Stack{}
}

func (s *Stack) PushValue(v Value) {
	s.values = append(s.values, v)
}

// PopValue pops the top value, trapping on an empty stack (an internal
// consistency error, since this interpreter doesn't validate modules
// ahead of execution).
func (s *Stack) PopValue() (Value, error) {
	if len(s.values) == 0 {
		return Value{}, trap(TrapStackUnderflow, "pop from empty stack")
	}
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v, nil
}

// PopValueOfType pops the top value and asserts it matches t, trapping on
// a mismatch.
func (s *Stack) PopValueOfType(t wasm.ValueType) (Value, error) {
	v, err := s.PopValue()
	if err != nil {
		return Value{}, err
	}
	if v.Type != t {
		return Value{}, trap(TrapTypeMismatch, "expected %s, got %s", t, v.Type)
	}
	return v, nil
}

func (s *Stack) PeekValue() (Value, error) {
	if len(s.values) == 0 {
		return Value{}, trap(TrapStackUnderflow, "peek on empty stack")
	}
	return s.values[len(s.values)-1], nil
}

// Height reports the current stack depth, used by tests asserting stack
// discipline.
func (s *Stack) Height() int { return len(s.values) }

// Unwind truncates the stack down to base, keeping only the top arity
// values. A branch or return leaving a block/function boundary carries
// exactly arity live results; everything else pushed since base belongs
// to instructions the branch jumped past, and is discarded here rather
// than by the (skipped) code that would otherwise have popped it.
func (s *Stack) Unwind(base, arity int) error {
	if len(s.values) < base+arity {
		return trap(TrapStackUnderflow, "unwind to height %d needs %d value(s), have %d", base, arity, len(s.values))
	}
	copy(s.values[base:], s.values[len(s.values)-arity:])
	s.values = s.values[:base+arity]
	return nil
}
