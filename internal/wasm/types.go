// Package wasm defines the primitive value types, indices, and limits
// shared by the decoder, linker, and runtime.
package wasm

import (
	"fmt"

	"github.com/cespare/xxhash"
)

// ValueType tags the type of a value on the operand stack, a local, a
// global, or a function parameter/result.
type ValueType byte

const (
	I32 ValueType = 0x7F
	I64 ValueType = 0x7E
	F32 ValueType = 0x7D
	F64 ValueType = 0x7C

	// Reference types, usable anywhere a ValueType is accepted by the
	// reference-types proposal (table element type, block result type).
	FuncRef   ValueType = 0x70
	ExternRef ValueType = 0x6F
)

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return fmt.Sprintf("valtype(%#x)", byte(t))
	}
}

// IsNumeric reports whether t is one of i32/i64/f32/f64.
func (t ValueType) IsNumeric() bool {
	switch t {
	case I32, I64, F32, F64:
		return true
	}
	return false
}

// IsReference reports whether t is funcref or externref.
func (t ValueType) IsReference() bool {
	return t == FuncRef || t == ExternRef
}

// RefType is the restriction of ValueType to reference types, used for
// table element types and ref.null's operand.
type RefType = ValueType

// Mutability of a global variable.
type Mutability byte

const (
	Const Mutability = 0
	Var   Mutability = 1
)

func (m Mutability) String() string {
	if m == Var {
		return "var"
	}
	return "const"
}

// Limits bounds the size of a table or memory in abstract units (pages for
// memory, elements for tables).
type Limits struct {
	Min uint32
	Max uint32 // only meaningful when HasMax is true
	HasMax bool
}

func (l Limits) String() string {
	if l.HasMax {
		return fmt.Sprintf("{min:%d max:%d}", l.Min, l.Max)
	}
	return fmt.Sprintf("{min:%d}", l.Min)
}

// MemArg carries the alignment hint and offset operand of a memory
// instruction. Align is advisory in this profile: it is decoded and kept
// for fidelity, but it is never used to trap on unaligned access.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// TableType is the declared element type and size limits of a table.
type TableType struct {
	ElemType RefType
	Limits   Limits
}

// MemoryType is the declared size limits of linear memory, in pages.
type MemoryType struct {
	Limits Limits
}

// GlobalType is the declared value type and mutability of a global.
type GlobalType struct {
	ValType ValueType
	Mutable Mutability
}

// FuncType is a function signature: ordered parameter types followed by
// ordered result types. This MVP profile allows at most one result.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Equal reports structural equality of two signatures, used by
// call_indirect's type check: two type-section entries with identical
// params/results are compatible even at different indices.
func (a FuncType) Equal(b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

func (f FuncType) String() string {
	return fmt.Sprintf("%v -> %v", f.Params, f.Results)
}

// Hash interns a signature into a single uint64 for a fast structural
// pre-check (call_indirect): two signatures with the same Hash are candidates for
// Equal, never a substitute for it, since xxhash admits collisions.
func (f FuncType) Hash() uint64 {
	buf := make([]byte, 0, len(f.Params)+len(f.Results)+2)
	buf = append(buf, byte(len(f.Params)))
	for _, t := range f.Params {
		buf = append(buf, byte(t))
	}
	buf = append(buf, byte(len(f.Results)))
	for _, t := range f.Results {
		buf = append(buf, byte(t))
	}
	return xxhash.Sum64(buf)
}

// Index types give call sites self-documenting signatures instead of bare
// uint32s flowing through decode, link, and runtime.
type (
	TypeIdx   uint32
	FuncIdx   uint32
	TableIdx  uint32
	MemIdx    uint32
	GlobalIdx uint32
	ElemIdx   uint32
	DataIdx   uint32
	LocalIdx  uint32
	LabelIdx  uint32
	BlockIdx  uint32
)

// PageSize is the granularity of linear memory, in bytes.
const PageSize = 65536

// ExternalKind tags what an import or export refers to.
type ExternalKind byte

const (
	ExternFunc   ExternalKind = 0x00
	ExternTable  ExternalKind = 0x01
	ExternMemory ExternalKind = 0x02
	ExternGlobal ExternalKind = 0x03
)

func (k ExternalKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	default:
		return fmt.Sprintf("kind(%#x)", byte(k))
	}
}
