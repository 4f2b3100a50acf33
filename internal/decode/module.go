// Package decode turns an opaque byte buffer into a typed, unlinked
// module representation: the section decoder and the instruction/
// block-table decoder.
package decode

import (
	"fmt"

	"github.com/stealthrocket/wasmi/internal/reader"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

// magic/version are the 8 bytes every module begins with.
var magic = [4]byte{0x00, 0x61, 0x73, 0x6d}

const version = uint32(1)

// sectionID values, in the binary format's fixed section order.
type sectionID byte

const (
	secCustom sectionID = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secCode
	secData
	secDataCount
	secCount // sentinel: one past the highest valid id
)

// Import is a decoded entry of the Import section; exactly one of the
// Func/Table/Memory/Global fields is meaningful, selected by Kind.
type Import struct {
	Module string
	Name   string
	Kind   wasm.ExternalKind

	FuncType wasm.TypeIdx
	Table    wasm.TableType
	Memory   wasm.MemoryType
	Global   wasm.GlobalType
}

// Export is a decoded entry of the Export section.
type Export struct {
	Name string
	Kind wasm.ExternalKind
	Idx  uint32
}

// Expr is a constant initializer expression: a tiny instruction sequence
// (with its own block table, generally empty) ending in `end`. Global
// inits, and active segment offsets, are Exprs.
type Expr struct {
	Instrs []wasm.Instr
	Blocks []wasm.Block
}

// Global is a decoded entry of the Global section.
type Global struct {
	Type wasm.GlobalType
	Init Expr
}

// Code is a decoded entry of the Code section: a function body.
type Code struct {
	Locals []wasm.ValueType // expanded, in declaration order
	Body   []wasm.Instr
	Blocks []wasm.Block
}

// ElementMode tags how an element segment is installed.
type ElementMode int

const (
	ElemActive ElementMode = iota
	ElemPassive
	ElemDeclarative
)

// ElementSegment is a decoded entry of the Element section.
type ElementSegment struct {
	Mode     ElementMode
	RefType  wasm.RefType
	Table    wasm.TableIdx // meaningful when Mode == ElemActive
	Offset   Expr          // meaningful when Mode == ElemActive
	FuncIdxs []wasm.FuncIdx
	Inits    []Expr // used by the expression-form encodings; FuncIdxs used by the func-index-form encodings, never both
}

// DataMode tags how a data segment is installed.
type DataMode int

const (
	DataActive DataMode = iota
	DataPassive
)

// DataSegment is a decoded entry of the Data section.
type DataSegment struct {
	Mode   DataMode
	Memory wasm.MemIdx // meaningful when Mode == DataActive
	Offset Expr        // meaningful when Mode == DataActive
	Bytes  []byte
}

// Module is the complete, unlinked decode of a binary module: every
// section's typed contents, with no cross-section resolution performed
// yet (that is the linker's job).
type Module struct {
	Types     []wasm.FuncType
	Imports   []Import
	FuncTypes []wasm.TypeIdx // one per function-section entry == one per Code entry
	Tables    []wasm.TableType
	Memories  []wasm.MemoryType
	Globals   []Global
	Exports   []Export
	Start     *wasm.FuncIdx
	Elements  []ElementSegment
	Code      []Code
	Datas     []DataSegment
	DataCount *uint32
}

// Decode parses a complete binary module from b.
func Decode(b []byte) (*Module, error) {
	r := reader.New(b)

	hdr, err := r.Bytes(4)
	if err != nil {
		return nil, fmt.Errorf("decode: magic: %w", err)
	}
	for i := range magic {
		if hdr[i] != magic[i] {
			return nil, r.Errf("bad magic %x", hdr)
		}
	}
	verBytes, err := r.Bytes(4)
	if err != nil {
		return nil, fmt.Errorf("decode: version: %w", err)
	}
	ver := uint32(verBytes[0]) | uint32(verBytes[1])<<8 | uint32(verBytes[2])<<16 | uint32(verBytes[3])<<24
	if ver != version {
		return nil, r.Errf("unsupported version %d", ver)
	}

	m := &Module{}
	seen := make([]bool, secCount)

	for !r.Done() {
		idByte, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("decode: section id: %w", err)
		}
		id := sectionID(idByte)
		size, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("decode: section size: %w", err)
		}
		payload, err := r.Bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("decode: section %d payload: %w", id, err)
		}
		sr := reader.New(payload)

		if id != secCustom {
			if id >= secCount {
				return nil, r.Errf("unknown section id %d", id)
			}
			if seen[id] {
				return nil, r.Errf("duplicate section id %d", id)
			}
			seen[id] = true
		}

		switch id {
		case secCustom:
			// name + opaque bytes; not meaningful to this interpreter.
		case secType:
			m.Types, err = decodeTypeSection(sr)
		case secImport:
			m.Imports, err = decodeImportSection(sr)
		case secFunction:
			m.FuncTypes, err = decodeFunctionSection(sr)
		case secTable:
			m.Tables, err = decodeTableSection(sr)
		case secMemory:
			m.Memories, err = decodeMemorySection(sr)
			if err == nil && len(m.Memories) != 1 {
				err = fmt.Errorf("memory section must declare exactly one memory, got %d", len(m.Memories))
			}
		case secGlobal:
			m.Globals, err = decodeGlobalSection(sr)
		case secExport:
			m.Exports, err = decodeExportSection(sr)
		case secStart:
			var idx wasm.FuncIdx
			idx, err = decodeStartSection(sr)
			m.Start = &idx
		case secElement:
			m.Elements, err = decodeElementSection(sr)
		case secCode:
			m.Code, err = decodeCodeSection(sr)
		case secData:
			m.Datas, err = decodeDataSection(sr)
		case secDataCount:
			var n uint32
			n, err = sr.Uint32()
			m.DataCount = &n
		default:
			return nil, r.Errf("unknown section id %d", id)
		}
		if err != nil {
			return nil, fmt.Errorf("decode: section %d: %w", id, err)
		}
	}

	return m, nil
}
