// Package testwasm builds binary WebAssembly module fixtures in memory,
// the encoder side of the wire format internal/decode parses, so package
// tests across this module stay hermetic (no checked-in .wasm files).
package testwasm

import (
	"encoding/binary"
	"math"

	"github.com/stealthrocket/wasmi/internal/leb128"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

// buf is a tiny append-only byte builder; every encoder in this package
// returns *buf so calls read top to bottom as the instruction sequence
// they produce.
type buf struct {
	b []byte
}

func newBuf() *buf { return &buf{} }

func (e *buf) byte(b byte) *buf { e.b = append(e.b, b); return e }

func (e *buf) bytes(b []byte) *buf { e.b = append(e.b, b...); return e }

func (e *buf) u32(v uint32) *buf { return e.bytes(leb128.EncodeUint32(v)) }

func (e *buf) u64(v uint64) *buf { return e.bytes(leb128.EncodeUint64(v)) }

func (e *buf) i32(v int32) *buf { return e.bytes(leb128.EncodeInt32(v)) }

func (e *buf) i64(v int64) *buf { return e.bytes(leb128.EncodeInt64(v)) }

func (e *buf) f32Bits(bits uint32) *buf {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], bits)
	return e.bytes(tmp[:])
}

func (e *buf) f64Bits(bits uint64) *buf {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], bits)
	return e.bytes(tmp[:])
}

func (e *buf) name(s string) *buf { return e.u32(uint32(len(s))).bytes([]byte(s)) }

// section writes id followed by payload prefixed with its byte length,
// the length-prefixed-payload shape every module section uses.
func (e *buf) section(id byte, payload *buf) *buf {
	return e.byte(id).u32(uint32(len(payload.b))).bytes(payload.b)
}

// F32Bits and F64Bits let test tables write exact bit patterns (NaN
// payloads, signed zero) without relying on float literal conversion.
func F32Bits(f float32) uint32 { return math.Float32bits(f) }
func F64Bits(f float64) uint64 { return math.Float64bits(f) }

// Code is a function body under construction: declared locals plus an
// encoded instruction stream. Instr methods append one instruction and
// return Code so calls chain into a readable linear listing.
type Code struct {
	localDecls []localDecl
	body       *buf
}

type localDecl struct {
	count uint32
	typ   wasm.ValueType
}

// NewCode starts a function body. locals lists one ValueType per declared
// local (beyond the parameters, which the caller's FuncType supplies).
func NewCode(locals ...wasm.ValueType) *Code {
	c := &Code{body: newBuf()}
	for _, t := range locals {
		c.localDecls = append(c.localDecls, localDecl{count: 1, typ: t})
	}
	return c
}

func (c *Code) encode() []byte {
	body := newBuf().u32(uint32(len(c.localDecls)))
	for _, d := range c.localDecls {
		body.u32(d.count).byte(byte(d.typ))
	}
	body.bytes(c.body.b).byte(byte(wasm.OpEnd))
	return newBuf().u32(uint32(len(body.b))).bytes(body.b).b
}

func (c *Code) op(op wasm.Opcode) *Code { c.body.byte(byte(op)); return c }

func (c *Code) Unreachable() *Code { return c.op(wasm.OpUnreachable) }
func (c *Code) Nop() *Code         { return c.op(wasm.OpNop) }
func (c *Code) Return() *Code      { return c.op(wasm.OpReturn) }
func (c *Code) Drop() *Code        { return c.op(wasm.OpDrop) }
func (c *Code) Select() *Code      { return c.op(wasm.OpSelect) }

// blockTypeByte encodes a block's declared result as the single-byte form
// this profile supports: 0x40 (no result) or a value-type tag.
func blockTypeByte(hasResult bool, result wasm.ValueType) byte {
	if !hasResult {
		return 0x40
	}
	return byte(result)
}

func (c *Code) Block(hasResult bool, result wasm.ValueType, body func(*Code)) *Code {
	c.op(wasm.OpBlock).body.byte(blockTypeByte(hasResult, result))
	body(c)
	return c.op(wasm.OpEnd)
}

func (c *Code) Loop(hasResult bool, result wasm.ValueType, body func(*Code)) *Code {
	c.op(wasm.OpLoop).body.byte(blockTypeByte(hasResult, result))
	body(c)
	return c.op(wasm.OpEnd)
}

func (c *Code) If(hasResult bool, result wasm.ValueType, then func(*Code), els func(*Code)) *Code {
	c.op(wasm.OpIf).body.byte(blockTypeByte(hasResult, result))
	then(c)
	if els != nil {
		c.op(wasm.OpElse)
		els(c)
	}
	return c.op(wasm.OpEnd)
}

func (c *Code) Br(label uint32) *Code   { return c.op(wasm.OpBr).u32label(label) }
func (c *Code) BrIf(label uint32) *Code { return c.op(wasm.OpBrIf).u32label(label) }

func (c *Code) u32label(v uint32) *Code { c.body.u32(v); return c }

func (c *Code) BrTable(labels []uint32, def uint32) *Code {
	c.op(wasm.OpBrTable)
	c.body.u32(uint32(len(labels)))
	for _, l := range labels {
		c.body.u32(l)
	}
	c.body.u32(def)
	return c
}

func (c *Code) Call(fn wasm.FuncIdx) *Code { return c.op(wasm.OpCall).u32label(uint32(fn)) }

func (c *Code) CallIndirect(typ wasm.TypeIdx, tbl wasm.TableIdx) *Code {
	c.op(wasm.OpCallIndirect)
	c.body.u32(uint32(typ)).u32(uint32(tbl))
	return c
}

func (c *Code) LocalGet(idx uint32) *Code  { return c.op(wasm.OpLocalGet).u32label(idx) }
func (c *Code) LocalSet(idx uint32) *Code  { return c.op(wasm.OpLocalSet).u32label(idx) }
func (c *Code) LocalTee(idx uint32) *Code  { return c.op(wasm.OpLocalTee).u32label(idx) }
func (c *Code) GlobalGet(idx uint32) *Code { return c.op(wasm.OpGlobalGet).u32label(idx) }
func (c *Code) GlobalSet(idx uint32) *Code { return c.op(wasm.OpGlobalSet).u32label(idx) }
func (c *Code) TableGet(idx uint32) *Code  { return c.op(wasm.OpTableGet).u32label(idx) }
func (c *Code) TableSet(idx uint32) *Code  { return c.op(wasm.OpTableSet).u32label(idx) }

func (c *Code) memArg(op wasm.Opcode, align, offset uint32) *Code {
	c.op(op).body.u32(align)
	c.body.u32(offset)
	return c
}

func (c *Code) I32Load(align, offset uint32) *Code  { return c.memArg(wasm.OpI32Load, align, offset) }
func (c *Code) I64Load(align, offset uint32) *Code  { return c.memArg(wasm.OpI64Load, align, offset) }
func (c *Code) F32Load(align, offset uint32) *Code  { return c.memArg(wasm.OpF32Load, align, offset) }
func (c *Code) F64Load(align, offset uint32) *Code  { return c.memArg(wasm.OpF64Load, align, offset) }
func (c *Code) I32Load8U(align, offset uint32) *Code {
	return c.memArg(wasm.OpI32Load8U, align, offset)
}
func (c *Code) I32Store(align, offset uint32) *Code { return c.memArg(wasm.OpI32Store, align, offset) }
func (c *Code) I64Store(align, offset uint32) *Code { return c.memArg(wasm.OpI64Store, align, offset) }
func (c *Code) I32Store8(align, offset uint32) *Code {
	return c.memArg(wasm.OpI32Store8, align, offset)
}

func (c *Code) MemorySize() *Code { return c.op(wasm.OpMemorySize).body.byte(0) }
func (c *Code) MemoryGrow() *Code { return c.op(wasm.OpMemoryGrow).body.byte(0) }

func (c *Code) I32Const(v int32) *Code { c.op(wasm.OpI32Const).body.i32(v); return c }
func (c *Code) I64Const(v int64) *Code { c.op(wasm.OpI64Const).body.i64(v); return c }
func (c *Code) F32Const(bits uint32) *Code { c.op(wasm.OpF32Const).body.f32Bits(bits); return c }
func (c *Code) F64Const(bits uint64) *Code { c.op(wasm.OpF64Const).body.f64Bits(bits); return c }

func (c *Code) RefNull(t wasm.RefType) *Code { c.op(wasm.OpRefNull).body.byte(byte(t)); return c }
func (c *Code) RefIsNull() *Code             { return c.op(wasm.OpRefIsNull) }
func (c *Code) RefFunc(fn wasm.FuncIdx) *Code { return c.op(wasm.OpRefFunc).u32label(uint32(fn)) }

// The binary numeric/comparison opcodes used across this module's tests;
// every one of these takes no operand bytes.
func (c *Code) I32Eqz() *Code  { return c.op(wasm.OpI32Eqz) }
func (c *Code) I32Eq() *Code   { return c.op(wasm.OpI32Eq) }
func (c *Code) I32Ne() *Code   { return c.op(wasm.OpI32Ne) }
func (c *Code) I32LtS() *Code  { return c.op(wasm.OpI32LtS) }
func (c *Code) I32GtS() *Code  { return c.op(wasm.OpI32GtS) }
func (c *Code) I32LeS() *Code  { return c.op(wasm.OpI32LeS) }
func (c *Code) I32GeS() *Code  { return c.op(wasm.OpI32GeS) }
func (c *Code) I32Add() *Code  { return c.op(wasm.OpI32Add) }
func (c *Code) I32Sub() *Code  { return c.op(wasm.OpI32Sub) }
func (c *Code) I32Mul() *Code  { return c.op(wasm.OpI32Mul) }
func (c *Code) I32DivS() *Code { return c.op(wasm.OpI32DivS) }
func (c *Code) I32DivU() *Code { return c.op(wasm.OpI32DivU) }
func (c *Code) I32RemS() *Code { return c.op(wasm.OpI32RemS) }
func (c *Code) I32And() *Code  { return c.op(wasm.OpI32And) }
func (c *Code) I64Add() *Code  { return c.op(wasm.OpI64Add) }
func (c *Code) I64Sub() *Code  { return c.op(wasm.OpI64Sub) }
func (c *Code) I64Mul() *Code  { return c.op(wasm.OpI64Mul) }
func (c *Code) I64DivU() *Code { return c.op(wasm.OpI64DivU) }
func (c *Code) F32Add() *Code  { return c.op(wasm.OpF32Add) }
func (c *Code) F64Add() *Code  { return c.op(wasm.OpF64Add) }

// FC (bulk-memory/table) instructions: the 0xFC prefix is followed by a
// ULEB32 sub-opcode, encoded here via u32 rather than a raw byte since the
// sub-opcode space extends past 0x7F in other profiles.
func (c *Code) fc(sub wasm.Opcode) *Code { c.op(wasm.OpFC).body.u32(uint32(sub)); return c }

func (c *Code) MemoryInit(seg uint32) *Code {
	c.fc(wasm.FCMemoryInit).body.u32(seg)
	return c.zeroByte()
}
func (c *Code) DataDrop(seg uint32) *Code { return c.fc(wasm.FCDataDrop).u32label(seg) }
func (c *Code) MemoryCopy() *Code         { return c.fc(wasm.FCMemoryCopy).zeroByte().zeroByte() }
func (c *Code) MemoryFill() *Code         { return c.fc(wasm.FCMemoryFill).zeroByte() }
func (c *Code) TableInit(seg uint32, tbl wasm.TableIdx) *Code {
	c.fc(wasm.FCTableInit).body.u32(seg)
	c.body.u32(uint32(tbl))
	return c
}
func (c *Code) ElemDrop(seg uint32) *Code { return c.fc(wasm.FCElemDrop).u32label(seg) }
func (c *Code) TableCopy(dst, src wasm.TableIdx) *Code {
	c.fc(wasm.FCTableCopy).body.u32(uint32(dst))
	c.body.u32(uint32(src))
	return c
}
func (c *Code) TableGrow(tbl wasm.TableIdx) *Code { return c.fc(wasm.FCTableGrow).u32label(uint32(tbl)) }
func (c *Code) TableSize(tbl wasm.TableIdx) *Code { return c.fc(wasm.FCTableSize).u32label(uint32(tbl)) }
func (c *Code) TableFill(tbl wasm.TableIdx) *Code { return c.fc(wasm.FCTableFill).u32label(uint32(tbl)) }

func (c *Code) zeroByte() *Code { c.body.byte(0); return c }

// Module builds a binary module one section at a time. Sections are
// emitted in the binary format's standard section order.
type Module struct {
	types    []wasm.FuncType
	imports  []importDesc
	funcs    []funcDesc
	tables   []wasm.TableType
	memories []wasm.MemoryType
	globals  []globalDesc
	exports  []exportDesc
	start    *wasm.FuncIdx
	elements []elemDesc
	datas    []dataDesc
}

type importDesc struct {
	module, name string
	kind         wasm.ExternalKind
	typeIdx      wasm.TypeIdx
	table        wasm.TableType
	memory       wasm.MemoryType
	global       wasm.GlobalType
}

type funcDesc struct {
	typeIdx wasm.TypeIdx
	code    *Code
}

type globalDesc struct {
	typ  wasm.GlobalType
	init *Code
}

type exportDesc struct {
	name string
	kind wasm.ExternalKind
	idx  uint32
}

type elemDesc struct {
	table  wasm.TableIdx
	offset *Code
	funcs  []wasm.FuncIdx
}

type dataDesc struct {
	memory wasm.MemIdx
	offset *Code
	bytes  []byte
}

func NewModule() *Module { return &Module{} }

// Type declares a function signature, returning its index for use by
// ImportFunc/Func.
func (m *Module) Type(params, results []wasm.ValueType) wasm.TypeIdx {
	m.types = append(m.types, wasm.FuncType{Params: params, Results: results})
	return wasm.TypeIdx(len(m.types) - 1)
}

// ImportFunc declares a function import, which occupies the low indices
// of the function space ahead of every locally defined function.
func (m *Module) ImportFunc(module, name string, typ wasm.TypeIdx) wasm.FuncIdx {
	idx := wasm.FuncIdx(m.numImportedFuncs())
	m.imports = append(m.imports, importDesc{module: module, name: name, kind: wasm.ExternFunc, typeIdx: typ})
	return idx
}

func (m *Module) numImportedFuncs() int {
	n := 0
	for _, imp := range m.imports {
		if imp.kind == wasm.ExternFunc {
			n++
		}
	}
	return n
}

// Func declares a locally defined function body, returning its index in
// the function space (imports first, then defined functions).
func (m *Module) Func(typ wasm.TypeIdx, code *Code) wasm.FuncIdx {
	m.funcs = append(m.funcs, funcDesc{typeIdx: typ, code: code})
	return wasm.FuncIdx(m.numImportedFuncs() + len(m.funcs) - 1)
}

func (m *Module) Table(elemType wasm.RefType, min uint32, max uint32, hasMax bool) wasm.TableIdx {
	m.tables = append(m.tables, wasm.TableType{ElemType: elemType, Limits: wasm.Limits{Min: min, Max: max, HasMax: hasMax}})
	return wasm.TableIdx(len(m.tables) - 1)
}

func (m *Module) Memory(min uint32, max uint32, hasMax bool) {
	m.memories = append(m.memories, wasm.MemoryType{Limits: wasm.Limits{Min: min, Max: max, HasMax: hasMax}})
}

// Global declares a global with a constant-expression initializer.
func (m *Module) Global(vt wasm.ValueType, mutable wasm.Mutability, init *Code) wasm.GlobalIdx {
	m.globals = append(m.globals, globalDesc{typ: wasm.GlobalType{ValType: vt, Mutable: mutable}, init: init})
	return wasm.GlobalIdx(len(m.globals) - 1)
}

func (m *Module) ExportFunc(name string, idx wasm.FuncIdx) {
	m.exports = append(m.exports, exportDesc{name: name, kind: wasm.ExternFunc, idx: uint32(idx)})
}

func (m *Module) ExportMemory(name string) {
	m.exports = append(m.exports, exportDesc{name: name, kind: wasm.ExternMemory, idx: 0})
}

func (m *Module) SetStart(idx wasm.FuncIdx) { m.start = &idx }

// ElementActive declares an active element segment installing funcs into
// table starting at the constant offset produced by offset.
func (m *Module) ElementActive(table wasm.TableIdx, offset *Code, funcs []wasm.FuncIdx) {
	m.elements = append(m.elements, elemDesc{table: table, offset: offset, funcs: funcs})
}

// DataActive declares an active data segment installing bytes into memory
// starting at the constant offset produced by offset.
func (m *Module) DataActive(offset *Code, bytes []byte) {
	m.datas = append(m.datas, dataDesc{offset: offset, bytes: bytes})
}

// I32ConstOffset is the common case of a global/segment's constant
// initializer expression: a single i32.const.
func I32ConstOffset(v int32) *Code { return NewCode().I32Const(v) }

// Encode renders the accumulated declarations into a complete binary
// module, magic and version header followed by every non-empty section
// in wire order.
func (m *Module) Encode() []byte {
	out := newBuf()
	out.bytes([]byte{0x00, 0x61, 0x73, 0x6d})
	out.bytes([]byte{0x01, 0x00, 0x00, 0x00})

	if len(m.types) > 0 {
		p := newBuf().u32(uint32(len(m.types)))
		for _, t := range m.types {
			p.byte(0x60)
			p.u32(uint32(len(t.Params)))
			for _, pt := range t.Params {
				p.byte(byte(pt))
			}
			p.u32(uint32(len(t.Results)))
			for _, rt := range t.Results {
				p.byte(byte(rt))
			}
		}
		out.section(1, p)
	}

	if len(m.imports) > 0 {
		p := newBuf().u32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			p.name(imp.module).name(imp.name).byte(byte(imp.kind))
			switch imp.kind {
			case wasm.ExternFunc:
				p.u32(uint32(imp.typeIdx))
			case wasm.ExternTable:
				encodeTableType(p, imp.table)
			case wasm.ExternMemory:
				encodeLimits(p, imp.memory.Limits)
			case wasm.ExternGlobal:
				p.byte(byte(imp.global.ValType)).byte(byte(imp.global.Mutable))
			}
		}
		out.section(2, p)
	}

	if len(m.funcs) > 0 {
		p := newBuf().u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			p.u32(uint32(f.typeIdx))
		}
		out.section(3, p)
	}

	if len(m.tables) > 0 {
		p := newBuf().u32(uint32(len(m.tables)))
		for _, t := range m.tables {
			p.byte(byte(t.ElemType))
			encodeLimits(p, t.Limits)
		}
		out.section(4, p)
	}

	if len(m.memories) > 0 {
		p := newBuf().u32(uint32(len(m.memories)))
		for _, mem := range m.memories {
			encodeLimits(p, mem.Limits)
		}
		out.section(5, p)
	}

	if len(m.globals) > 0 {
		p := newBuf().u32(uint32(len(m.globals)))
		for _, g := range m.globals {
			p.byte(byte(g.typ.ValType)).byte(byte(g.typ.Mutable))
			p.bytes(g.init.body.b).byte(byte(wasm.OpEnd))
		}
		out.section(6, p)
	}

	if len(m.exports) > 0 {
		p := newBuf().u32(uint32(len(m.exports)))
		for _, e := range m.exports {
			p.name(e.name).byte(byte(e.kind)).u32(e.idx)
		}
		out.section(7, p)
	}

	if m.start != nil {
		p := newBuf().u32(uint32(*m.start))
		out.section(8, p)
	}

	if len(m.elements) > 0 {
		p := newBuf().u32(uint32(len(m.elements)))
		for _, el := range m.elements {
			if el.table == 0 {
				p.u32(0)
				p.bytes(el.offset.body.b).byte(byte(wasm.OpEnd))
			} else {
				p.u32(2)
				p.u32(uint32(el.table))
				p.bytes(el.offset.body.b).byte(byte(wasm.OpEnd))
				p.byte(0x00) // elemkind: funcref
			}
			p.u32(uint32(len(el.funcs)))
			for _, fn := range el.funcs {
				p.u32(uint32(fn))
			}
		}
		out.section(9, p)
	}

	if len(m.funcs) > 0 {
		p := newBuf().u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			p.bytes(f.code.encode())
		}
		out.section(10, p)
	}

	if len(m.datas) > 0 {
		p := newBuf().u32(uint32(len(m.datas)))
		for _, d := range m.datas {
			p.u32(0)
			p.bytes(d.offset.body.b).byte(byte(wasm.OpEnd))
			p.u32(uint32(len(d.bytes)))
			p.bytes(d.bytes)
		}
		out.section(11, p)
	}

	return out.b
}

func encodeLimits(p *buf, l wasm.Limits) {
	if l.HasMax {
		p.byte(0x01).u32(l.Min).u32(l.Max)
		return
	}
	p.byte(0x00).u32(l.Min)
}

func encodeTableType(p *buf, t wasm.TableType) {
	p.byte(byte(t.ElemType))
	encodeLimits(p, t.Limits)
}
