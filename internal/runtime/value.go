package runtime

import (
	"math"

	"github.com/stealthrocket/wasmi/internal/wasm"
)

// Value is the interpreter's tagged union of a Wasm value: numeric values
// carry their bit pattern in Bits (unsigned interpretations are
// reinterpretations of the same pattern, never stored separately); a
// reference value carries an optional function index in Ref, with RefNull
// true for the null reference.
type Value struct {
	Type    wasm.ValueType
	Bits    uint64
	Ref     int64 // function index, meaningful only when Type.IsReference()
	RefNull bool
}

func I32Value(v int32) Value  { return Value{Type: wasm.I32, Bits: uint64(uint32(v))} }
func I64Value(v int64) Value  { return Value{Type: wasm.I64, Bits: uint64(v)} }
func U32Value(v uint32) Value { return Value{Type: wasm.I32, Bits: uint64(v)} }
func U64Value(v uint64) Value { return Value{Type: wasm.I64, Bits: v} }
func F32Value(v float32) Value {
	return Value{Type: wasm.F32, Bits: uint64(math.Float32bits(v))}
}
func F64Value(v float64) Value {
	return Value{Type: wasm.F64, Bits: math.Float64bits(v)}
}
func FuncRefValue(idx int64) Value {
	if idx < 0 {
		return Value{Type: wasm.FuncRef, RefNull: true}
	}
	return Value{Type: wasm.FuncRef, Ref: idx}
}
func NullRef(t wasm.RefType) Value { return Value{Type: t, RefNull: true} }

func (v Value) I32() int32   { return int32(uint32(v.Bits)) }
func (v Value) I64() int64   { return int64(v.Bits) }
func (v Value) U32() uint32  { return uint32(v.Bits) }
func (v Value) U64() uint64  { return v.Bits }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

// ZeroValue returns a default-initialized value of the given type, used
// for declared locals beyond the function's parameters and for globals
// with no explicit initializer result.
func ZeroValue(t wasm.ValueType) Value {
	if t.IsReference() {
		return NullRef(t)
	}
	return Value{Type: t}
}
