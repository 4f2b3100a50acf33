package runtime

import "github.com/stealthrocket/wasmi/internal/wasm"

// Table is an indexed vector of optional function references (component
// C8). A nil entry represents the null reference.
type Table struct {
	elems    []*wasm.FuncIdx
	refType  wasm.RefType
	maxElems uint32
	hasMax   bool
}

func NewTable(t wasm.TableType) *Table {
	return &Table{
		elems:    make([]*wasm.FuncIdx, t.Limits.Min),
		refType:  t.ElemType,
		maxElems: t.Limits.Max,
		hasMax:   t.Limits.HasMax,
	}
}

func (t *Table) Size() uint32 { return uint32(len(t.elems)) }

// Get returns the function index at i, or nil for a null reference.
func (t *Table) Get(i uint32) (*wasm.FuncIdx, error) {
	if i >= uint32(len(t.elems)) {
		return nil, trap(TrapMemoryOOB, "table.get index %d out of bounds", i)
	}
	return t.elems[i], nil
}

func (t *Table) Set(i uint32, v *wasm.FuncIdx) error {
	if i >= uint32(len(t.elems)) {
		return trap(TrapMemoryOOB, "table.set index %d out of bounds", i)
	}
	t.elems[i] = v
	return nil
}

// Grow appends delta entries set to fill, returning the old size, or -1 if
// that would exceed the declared max.
func (t *Table) Grow(delta uint32, fill *wasm.FuncIdx) int32 {
	old := t.Size()
	newSize := uint64(old) + uint64(delta)
	if t.hasMax && newSize > uint64(t.maxElems) {
		return -1
	}
	grown := make([]*wasm.FuncIdx, delta)
	for i := range grown {
		grown[i] = fill
	}
	t.elems = append(t.elems, grown...)
	return int32(old)
}

// Fill writes val into [i, i+n).
func (t *Table) Fill(i uint32, val *wasm.FuncIdx, n uint32) error {
	if n == 0 {
		return nil
	}
	if uint64(i)+uint64(n) > uint64(len(t.elems)) {
		return trap(TrapMemoryOOB, "table.fill out of bounds")
	}
	for j := uint32(0); j < n; j++ {
		t.elems[i+j] = val
	}
	return nil
}

// CopyFrom moves n entries from src[srcIdx:] into t[dstIdx:], possibly the
// same table (t == src); overlap-safe like memory.copy.
func (t *Table) CopyFrom(src *Table, dstIdx, srcIdx, n uint32) error {
	if n == 0 {
		return nil
	}
	if uint64(dstIdx)+uint64(n) > uint64(len(t.elems)) {
		return trap(TrapMemoryOOB, "table.copy destination out of bounds")
	}
	if uint64(srcIdx)+uint64(n) > uint64(len(src.elems)) {
		return trap(TrapMemoryOOB, "table.copy source out of bounds")
	}
	tmp := make([]*wasm.FuncIdx, n)
	copy(tmp, src.elems[srcIdx:srcIdx+n])
	copy(t.elems[dstIdx:dstIdx+n], tmp)
	return nil
}

// Init copies n entries from a linked element segment's already-evaluated
// references, starting at srcIdx, into the table at dstIdx.
func (t *Table) Init(dstIdx uint32, src []*wasm.FuncIdx, srcIdx, n uint32) error {
	if n == 0 {
		return nil
	}
	if uint64(dstIdx)+uint64(n) > uint64(len(t.elems)) {
		return trap(TrapMemoryOOB, "table.init destination out of bounds")
	}
	if uint64(srcIdx)+uint64(n) > uint64(len(src)) {
		return trap(TrapMemoryOOB, "table.init source out of bounds")
	}
	copy(t.elems[dstIdx:dstIdx+n], src[srcIdx:srcIdx+n])
	return nil
}

// Global is a mutable or immutable global value cell.
type Global struct {
	Type  wasm.GlobalType
	Value Value
}
