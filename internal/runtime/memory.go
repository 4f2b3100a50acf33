package runtime

import (
	"encoding/binary"

	"github.com/stealthrocket/wasmi/internal/wasm"
)

// Memory is the page-granular linear memory backing a module instance.
// Its length is always a multiple of wasm.PageSize.
type Memory struct {
	bytes  []byte
	maxPages uint32
	hasMax bool
}

// NewMemory allocates a memory with min pages of zeros.
func NewMemory(lim wasm.Limits) *Memory {
	return &Memory{
		bytes:    make([]byte, uint64(lim.Min)*wasm.PageSize),
		maxPages: lim.Max,
		hasMax:   lim.HasMax,
	}
}

// Size returns the current page count.
func (m *Memory) Size() uint32 { return uint32(len(m.bytes) / wasm.PageSize) }

// Grow appends delta zero-filled pages, returning the old page count, or
// -1 if that would exceed the declared max.
func (m *Memory) Grow(delta uint32) int32 {
	old := m.Size()
	newPages := uint64(old) + uint64(delta)
	if m.hasMax && newPages > uint64(m.maxPages) {
		return -1
	}
	// WebAssembly bounds total memory to 4GiB; reject growth that would
	// overflow that regardless of a declared max.
	if newPages > (1<<32)/wasm.PageSize {
		return -1
	}
	m.bytes = append(m.bytes, make([]byte, uint64(delta)*wasm.PageSize)...)
	return int32(old)
}

func (m *Memory) bounds(addr, offset uint64, n int) (int, bool) {
	start := addr + offset
	if start+uint64(n) > uint64(len(m.bytes)) || start > uint64(len(m.bytes)) {
		return 0, false
	}
	return int(start), true
}

func (m *Memory) oob(detail string) error {
	return trap(TrapMemoryOOB, "%s", detail)
}

// Load8/16/32/64 read raw little-endian unsigned scalars; sign/zero
// extension and type reinterpretation is handled by the engine's
// Engine.doLoad.

func (m *Memory) Load8(addr, offset uint64) (byte, error) {
	i, ok := m.bounds(addr, offset, 1)
	if !ok {
		return 0, m.oob("load8 out of bounds")
	}
	return m.bytes[i], nil
}

func (m *Memory) Load16(addr, offset uint64) (uint16, error) {
	i, ok := m.bounds(addr, offset, 2)
	if !ok {
		return 0, m.oob("load16 out of bounds")
	}
	return binary.LittleEndian.Uint16(m.bytes[i:]), nil
}

func (m *Memory) Load32(addr, offset uint64) (uint32, error) {
	i, ok := m.bounds(addr, offset, 4)
	if !ok {
		return 0, m.oob("load32 out of bounds")
	}
	return binary.LittleEndian.Uint32(m.bytes[i:]), nil
}

func (m *Memory) Load64(addr, offset uint64) (uint64, error) {
	i, ok := m.bounds(addr, offset, 8)
	if !ok {
		return 0, m.oob("load64 out of bounds")
	}
	return binary.LittleEndian.Uint64(m.bytes[i:]), nil
}

func (m *Memory) Store8(addr, offset uint64, v byte) error {
	i, ok := m.bounds(addr, offset, 1)
	if !ok {
		return m.oob("store8 out of bounds")
	}
	m.bytes[i] = v
	return nil
}

func (m *Memory) Store16(addr, offset uint64, v uint16) error {
	i, ok := m.bounds(addr, offset, 2)
	if !ok {
		return m.oob("store16 out of bounds")
	}
	binary.LittleEndian.PutUint16(m.bytes[i:], v)
	return nil
}

func (m *Memory) Store32(addr, offset uint64, v uint32) error {
	i, ok := m.bounds(addr, offset, 4)
	if !ok {
		return m.oob("store32 out of bounds")
	}
	binary.LittleEndian.PutUint32(m.bytes[i:], v)
	return nil
}

func (m *Memory) Store64(addr, offset uint64, v uint64) error {
	i, ok := m.bounds(addr, offset, 8)
	if !ok {
		return m.oob("store64 out of bounds")
	}
	binary.LittleEndian.PutUint64(m.bytes[i:], v)
	return nil
}

// Copy implements memory.copy: an overlap-safe move of len bytes from src
// to dst.
func (m *Memory) Copy(dst, src, length uint64) error {
	if length == 0 {
		return nil
	}
	di, ok := m.bounds(dst, 0, int(length))
	if !ok {
		return m.oob("memory.copy destination out of bounds")
	}
	si, ok := m.bounds(src, 0, int(length))
	if !ok {
		return m.oob("memory.copy source out of bounds")
	}
	copy(m.bytes[di:di+int(length)], m.bytes[si:si+int(length)])
	return nil
}

// Fill implements memory.fill: writes byte val length times starting at
// addr.
func (m *Memory) Fill(addr uint64, val byte, length uint64) error {
	if length == 0 {
		return nil
	}
	i, ok := m.bounds(addr, 0, int(length))
	if !ok {
		return m.oob("memory.fill out of bounds")
	}
	b := m.bytes[i : i+int(length)]
	for j := range b {
		b[j] = val
	}
	return nil
}

// FillData implements the copy-in used by active data segment application
// and memory.init: copies data into memory starting at addr.
func (m *Memory) FillData(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	i, ok := m.bounds(addr, 0, len(data))
	if !ok {
		return m.oob("data initializer out of bounds")
	}
	copy(m.bytes[i:i+len(data)], data)
	return nil
}

// Bytes exposes the raw backing slice, read-only use expected, for the
// WASI host functions to gather and write guest buffers directly.
func (m *Memory) Bytes() []byte { return m.bytes }
