// Package link assembles a decoded Module (package decode) into the
// linked representation the runtime executes: it resolves types, imports,
// and function bodies, records the start/main entry points, and installs
// data/element segment initializer expressions as synthetic zero-arg
// functions.
package link

import (
	"fmt"

	"github.com/stealthrocket/wasmi/internal/decode"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

// Function is one entry of the linked function-index space: imported
// functions first, then defined functions, then the synthetic
// zero-arg expression functions appended by the linker. A synthetic
// function's declared Type is always zero-arg/zero-result, but its body
// is an expression that leaves exactly one value behind; the engine
// reads LocalFunc.Synthetic to treat that value as an implicit single
// result rather than consulting Type.Results.
type Function struct {
	Type wasm.FuncType

	// Import is non-nil for an imported function; Local is non-nil for a
	// defined (or synthetic) one. Exactly one is set.
	Import *ImportFunc
	Local  *LocalFunc
}

// ImportFunc names the host function this import resolves to.
type ImportFunc struct {
	Module string
	Name   string
}

// LocalFunc is a function body plus its flat instruction stream and block
// table, ready for the engine to walk.
type LocalFunc struct {
	NumParams int
	Locals    []wasm.ValueType // params ++ declared locals, in declaration order
	Body      []wasm.Instr
	Blocks    []wasm.Block
	// Synthetic marks an expression lifted into a zero-arg function by the
	// linker (global init, data/element offset, element init); these are
	// not reachable from an ordinary `call` instruction.
	Synthetic bool
}

// ElementSegment is the linked form of decode.ElementSegment: its
// constant-expression operands have been replaced with synthetic function
// indices.
type ElementSegment struct {
	Mode    decode.ElementMode
	RefType wasm.RefType
	Table   wasm.TableIdx
	Offset  wasm.FuncIdx // meaningful when Mode == ElemActive

	// Inits holds one synthetic function index per element, whose single
	// result (once called) is the installed reference (a function index,
	// or the null reference, a Value with RefNull set).
	Inits []wasm.FuncIdx

	dropped bool
}

// Dropped reports whether elem.drop has consumed this segment.
func (e *ElementSegment) Dropped() bool { return e.dropped }

// Drop marks the segment consumed: `elem.drop` empties rather than
// removes the entry, so a later table.init against a dropped segment
// traps instead of panicking on a missing index.
func (e *ElementSegment) Drop() { e.dropped = true }

// DataSegment is the linked form of decode.DataSegment.
type DataSegment struct {
	Mode   decode.DataMode
	Memory wasm.MemIdx
	Offset wasm.FuncIdx // meaningful when Mode == DataActive
	Bytes  []byte

	dropped bool
}

func (d *DataSegment) Dropped() bool { return d.dropped }
func (d *DataSegment) Drop()         { d.Bytes = nil; d.dropped = true }

// LinkError reports a module that fails to satisfy an invariant this
// linker checks structurally: section counts that disagree, an
// out-of-range type/function/start index, or a missing _start export.
// It is distinct from runtime.LinkError, which covers the one check
// that can't happen until a host is available (resolving imports) —
// internal/link cannot import internal/runtime, which imports it.
type LinkError struct {
	Detail string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link: %s", e.Detail)
}

// GlobalDef is the linked form of a global: its type, and the synthetic
// function index whose single result is the initial value.
type GlobalDef struct {
	Type wasm.GlobalType
	Init wasm.FuncIdx
}

// Module is the fully linked object the runtime executes.
type Module struct {
	Types []wasm.FuncType
	// TypeHashes holds FuncType.Hash() per entry of Types, interned once
	// here rather than recomputed on every call_indirect dispatch.
	TypeHashes []uint64
	Funcs   []Function
	Tables  []wasm.TableType
	Memory  wasm.MemoryType
	Globals []GlobalDef
	Datas   []*DataSegment
	Elems   []*ElementSegment

	// Main is the `_start` export's function index: the guest entry
	// point. Start, if non-nil, is the Start-section function index run
	// before Main.
	Main  wasm.FuncIdx
	Start *wasm.FuncIdx
}

// exprBuilder appends synthetic zero-arg functions to a module's
// function space as it links constant expressions, unifying expression
// evaluation with function call ("expressions as degenerate
// functions"). Its Type is declared zero-result since the expression
// forms this links (global init, data/element offset, element init)
// have no type-section entry of their own; LocalFunc.Synthetic tells
// the engine to treat the expression's one implicit result as the
// call's result instead.
type exprBuilder struct {
	funcs *[]Function
}

func (b *exprBuilder) add(instrs []wasm.Instr, blocks []wasm.Block) wasm.FuncIdx {
	idx := wasm.FuncIdx(len(*b.funcs))
	*b.funcs = append(*b.funcs, Function{
		Type: wasm.FuncType{},
		Local: &LocalFunc{
			Body:      instrs,
			Blocks:    blocks,
			Synthetic: true,
		},
	})
	return idx
}

func (b *exprBuilder) addExpr(e decode.Expr) wasm.FuncIdx {
	return b.add(e.Instrs, e.Blocks)
}

// Link resolves a decoded Module into its runtime form.
func Link(m *decode.Module) (*Module, error) {
	if len(m.Memories) != 1 {
		return nil, &LinkError{Detail: fmt.Sprintf("module must declare exactly one memory, got %d", len(m.Memories))}
	}

	numImportedFuncs := 0
	for _, imp := range m.Imports {
		if imp.Kind == wasm.ExternFunc {
			numImportedFuncs++
		}
	}
	if len(m.FuncTypes) != len(m.Code) {
		return nil, &LinkError{Detail: fmt.Sprintf("function section has %d entries, code section has %d", len(m.FuncTypes), len(m.Code))}
	}

	funcs := make([]Function, 0, numImportedFuncs+len(m.Code))

	for _, imp := range m.Imports {
		if imp.Kind != wasm.ExternFunc {
			continue
		}
		ft, err := resolveType(m, imp.FuncType)
		if err != nil {
			return nil, &LinkError{Detail: fmt.Sprintf("import %s.%s: %s", imp.Module, imp.Name, err)}
		}
		funcs = append(funcs, Function{
			Type:   ft,
			Import: &ImportFunc{Module: imp.Module, Name: imp.Name},
		})
	}

	for i, code := range m.Code {
		ft, err := resolveType(m, m.FuncTypes[i])
		if err != nil {
			return nil, &LinkError{Detail: fmt.Sprintf("function %d: %s", i, err)}
		}
		locals := append(append([]wasm.ValueType(nil), ft.Params...), code.Locals...)
		funcs = append(funcs, Function{
			Type: ft,
			Local: &LocalFunc{
				NumParams: len(ft.Params),
				Locals:    locals,
				Body:      code.Body,
				Blocks:    code.Blocks,
			},
		})
	}

	eb := &exprBuilder{funcs: &funcs}

	globals := make([]GlobalDef, len(m.Globals))
	for i, g := range m.Globals {
		globals[i] = GlobalDef{Type: g.Type, Init: eb.addExpr(g.Init)}
	}

	datas := make([]*DataSegment, len(m.Datas))
	for i, d := range m.Datas {
		ds := &DataSegment{Mode: d.Mode, Memory: d.Memory, Bytes: d.Bytes}
		if d.Mode == decode.DataActive {
			ds.Offset = eb.addExpr(d.Offset)
		}
		datas[i] = ds
	}
	if m.DataCount != nil && int(*m.DataCount) != len(datas) {
		return nil, &LinkError{Detail: fmt.Sprintf("data count section says %d, data section has %d", *m.DataCount, len(datas))}
	}

	elems := make([]*ElementSegment, len(m.Elements))
	for i, e := range m.Elements {
		es := &ElementSegment{Mode: e.Mode, RefType: e.RefType, Table: e.Table}
		if e.Mode == decode.ElemActive {
			es.Offset = eb.addExpr(e.Offset)
		}
		switch {
		case e.Inits != nil:
			es.Inits = make([]wasm.FuncIdx, len(e.Inits))
			for j, init := range e.Inits {
				es.Inits[j] = eb.addExpr(init)
			}
		default:
			es.Inits = make([]wasm.FuncIdx, len(e.FuncIdxs))
			for j, fi := range e.FuncIdxs {
				es.Inits[j] = eb.add([]wasm.Instr{{Op: wasm.OpRefFunc, Func: fi}}, nil)
			}
		}
		elems[i] = es
	}

	var start *wasm.FuncIdx
	if m.Start != nil {
		if int(*m.Start) >= len(funcs) {
			return nil, &LinkError{Detail: fmt.Sprintf("start function index %d out of range", *m.Start)}
		}
		start = m.Start
	}

	var mainIdx *wasm.FuncIdx
	for _, exp := range m.Exports {
		if exp.Kind == wasm.ExternFunc && exp.Name == "_start" {
			idx := wasm.FuncIdx(exp.Idx)
			mainIdx = &idx
			break
		}
	}
	if mainIdx == nil {
		return nil, &LinkError{Detail: "module has no exported function named _start"}
	}
	if int(*mainIdx) >= len(funcs) {
		return nil, &LinkError{Detail: fmt.Sprintf("_start function index %d out of range", *mainIdx)}
	}

	tables := make([]wasm.TableType, len(m.Tables))
	copy(tables, m.Tables)

	types := make([]wasm.FuncType, len(m.Types))
	copy(types, m.Types)
	typeHashes := make([]uint64, len(types))
	for i, t := range types {
		typeHashes[i] = t.Hash()
	}

	return &Module{
		Types:      types,
		TypeHashes: typeHashes,
		Funcs:      funcs,
		Tables:  tables,
		Memory:  m.Memories[0],
		Globals: globals,
		Datas:   datas,
		Elems:   elems,
		Main:    *mainIdx,
		Start:   start,
	}, nil
}

func resolveType(m *decode.Module, idx wasm.TypeIdx) (wasm.FuncType, error) {
	if int(idx) >= len(m.Types) {
		return wasm.FuncType{}, &LinkError{Detail: fmt.Sprintf("type index %d out of range (have %d types)", idx, len(m.Types))}
	}
	return m.Types[idx], nil
}
