// Package runtime executes a linked module (package link): the value
// stack, linear memory, tables and globals, and the dispatch loop itself.
package runtime

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"github.com/stealthrocket/wasmi/internal/decode"
	"github.com/stealthrocket/wasmi/internal/link"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

// HostFunc is a host-provided implementation of an imported function. It
// receives the already-popped argument values in declaration order and
// returns the callee's results in the same order.
type HostFunc func(ctx context.Context, e *Engine, args []Value) ([]Value, error)

// Host resolves module.name import pairs to host implementations.
type Host map[string]map[string]HostFunc

func (h Host) lookup(module, name string) (HostFunc, bool) {
	m, ok := h[module]
	if !ok {
		return nil, false
	}
	f, ok := m[name]
	return f, ok
}

// signalKind distinguishes the two ways a nested block evaluation can
// short-circuit the instruction sequence it's running: branching out to
// an enclosing label, or returning from the current call entirely. Both
// propagate up through the engine's recursive descent over the flat block
// table, realized by Go's own call stack rather than explicit markers.
type signalKind int

const (
	sigNone signalKind = iota
	sigBranch
	sigReturn
)

type signal struct {
	kind  signalKind
	depth int // valid when kind == sigBranch: remaining enclosing blocks to exit
}

// Engine is one instantiated module, holding its linear memory, tables,
// globals, and function-index space, ready to run.
type Engine struct {
	mod     *link.Module
	host    Host
	memory  *Memory
	tables  []*Table
	globals []*Global
	elems   [][]*wasm.FuncIdx // resolved element-segment contents, by segment index
	stack   *Stack

	curFunc  wasm.FuncIdx
	curBlock int32 // -1 at function top level, else the block-table index currently executing

	// OnStep and OnMemoryGrow are optional sampling hooks (internal/prof):
	// OnStep is called before every dispatched instruction with the
	// current call site, OnMemoryGrow after every memory.grow that
	// succeeds (a grow returning -1 is not reported). Both are
	// nil-checked on the hot path, so leaving them unset costs one branch
	// per instruction.
	OnStep       func(fn wasm.FuncIdx, block int32, instr int)
	OnMemoryGrow func(oldPages, deltaPages uint32)
}

// NewEngine instantiates mod against host in the standard order:
// allocate memory and tables, evaluate global initializers, resolve
// element-segment contents, apply active element and data segments, then
// (in Run) execute the start function followed by the module's entry
// point.
func NewEngine(mod *link.Module, host Host) (*Engine, error) {
	for _, fn := range mod.Funcs {
		if fn.Import == nil {
			continue
		}
		if _, ok := host.lookup(fn.Import.Module, fn.Import.Name); !ok {
			return nil, &LinkError{Detail: fmt.Sprintf("unresolved import %s.%s", fn.Import.Module, fn.Import.Name)}
		}
	}

	tables := make([]*Table, len(mod.Tables))
	for i, t := range mod.Tables {
		tables[i] = NewTable(t)
	}

	e := &Engine{
		mod:    mod,
		host:   host,
		memory: NewMemory(mod.Memory.Limits),
		tables: tables,
		stack:  NewStack(),
	}

	globals := make([]*Global, len(mod.Globals))
	for i, g := range mod.Globals {
		v, err := e.evalConst(g.Init)
		if err != nil {
			return nil, err
		}
		globals[i] = &Global{Type: g.Type, Value: v}
	}
	e.globals = globals

	elems := make([][]*wasm.FuncIdx, len(mod.Elems))
	for i, seg := range mod.Elems {
		refs := make([]*wasm.FuncIdx, len(seg.Inits))
		for j, initFn := range seg.Inits {
			v, err := e.evalConst(initFn)
			if err != nil {
				return nil, err
			}
			if v.RefNull {
				refs[j] = nil
				continue
			}
			fi := wasm.FuncIdx(v.Ref)
			refs[j] = &fi
		}
		elems[i] = refs
	}
	e.elems = elems

	for i, seg := range mod.Elems {
		if seg.Mode != decode.ElemActive {
			continue
		}
		offVal, err := e.evalConst(seg.Offset)
		if err != nil {
			return nil, err
		}
		off := uint32(offVal.I32())
		if err := tables[seg.Table].Init(off, elems[i], 0, uint32(len(elems[i]))); err != nil {
			return nil, err
		}
	}

	for _, seg := range mod.Datas {
		if seg.Mode != decode.DataActive {
			continue
		}
		offVal, err := e.evalConst(seg.Offset)
		if err != nil {
			return nil, err
		}
		if err := e.memory.FillData(uint64(uint32(offVal.I32())), seg.Bytes); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// evalConst runs a linker-synthesized expression function and returns its
// single result ("expressions as degenerate functions": the linker turns
// every global/data/element initializer into one of these so they reuse
// the interpreter's own call mechanism). callFunc treats a synthetic
// function's implicit arity as exactly one value, so results always has
// length 1 here.
func (e *Engine) evalConst(idx wasm.FuncIdx) (Value, error) {
	results, err := e.callFunc(context.Background(), idx, nil)
	if err != nil {
		return Value{}, err
	}
	return results[0], nil
}

// Run executes the start function, if any, followed by the module's
// entry point (the export the linker resolved as Main), and interprets
// the termination condition: proc_exit or falling off the end of Main
// both surface as *Exit, anything else as the error that caused the
// interpreter to stop.
func (e *Engine) Run(ctx context.Context) error {
	if e.mod.Start != nil {
		if _, err := e.callFunc(ctx, *e.mod.Start, nil); err != nil {
			return unwrapExit(err)
		}
	}
	_, err := e.callFunc(ctx, e.mod.Main, nil)
	return unwrapExit(err)
}

func unwrapExit(err error) error {
	if err == nil {
		return &Exit{Code: 0}
	}
	return err
}

// CallFunc invokes the exported or otherwise indexed function fn with
// args, returning its declared results. Unlike Run, it does not run the
// Start function first and does not convert the outcome to *Exit; it is
// meant for callers (tests, embedders) that need a function's return
// values rather than the module's process-exit behavior.
func (e *Engine) CallFunc(ctx context.Context, fn wasm.FuncIdx, args []Value) ([]Value, error) {
	return e.callFunc(ctx, fn, args)
}

// callFunc invokes fn by index, either dispatching to a host
// implementation or running its body to completion.
func (e *Engine) callFunc(ctx context.Context, idx wasm.FuncIdx, args []Value) ([]Value, error) {
	if int(idx) >= len(e.mod.Funcs) {
		return nil, trap(TrapTypeMismatch, "call to out-of-range function index %d", idx)
	}
	fn := e.mod.Funcs[idx]

	if fn.Import != nil {
		host, _ := e.host.lookup(fn.Import.Module, fn.Import.Name)
		return host(ctx, e, args)
	}

	lf := fn.Local
	locals := make([]Value, len(lf.Locals))
	for i, t := range lf.Locals {
		locals[i] = ZeroValue(t)
	}
	copy(locals[:lf.NumParams], args)

	prevFunc, prevBlock := e.curFunc, e.curBlock
	e.curFunc, e.curBlock = idx, -1
	base := e.stack.Height()
	sig, err := e.run(ctx, lf.Body, lf.Blocks, locals)
	e.curFunc, e.curBlock = prevFunc, prevBlock
	if err != nil {
		return nil, err
	}
	if sig.kind == sigBranch {
		return nil, trap(TrapTypeMismatch, "branch escaped function body")
	}

	// A synthetic function's declared signature is zero-arg/zero-result
	// (link.exprBuilder never gives it one), but its body is an
	// expression that always leaves exactly one value behind; treat that
	// as its implicit arity instead of consulting fn.Type.
	arity := len(fn.Type.Results)
	if lf.Synthetic {
		arity = 1
	}
	if err := e.stack.Unwind(base, arity); err != nil {
		return nil, err
	}
	if arity == 0 {
		return nil, nil
	}
	results := make([]Value, arity)
	for i := arity - 1; i >= 0; i-- {
		v, err := e.stack.PopValue()
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// run executes one flat instruction sequence (a function body or one
// block-table entry), operating on the shared operand stack and the
// locals of the enclosing call activation.
func (e *Engine) run(ctx context.Context, instrs []wasm.Instr, blocks []wasm.Block, locals []Value) (signal, error) {
	for i, in := range instrs {
		if e.OnStep != nil {
			e.OnStep(e.curFunc, e.curBlock, i)
		}
		sig, err := e.step(ctx, in, blocks, locals)
		if err != nil {
			return signal{}, err
		}
		if sig.kind != sigNone {
			return sig, nil
		}
	}
	return signal{}, nil
}

// runBlockLike executes a structured control instruction's nested
// sequence and folds the resulting signal: a branch that targets this
// level (depth 0) is consumed and reported as "handled normally"; a
// branch targeting an outer level has its depth decremented and is
// re-propagated; a return passes through untouched. A branch consumed
// here unwinds the operand stack back to this block's entry height,
// keeping only its arity-many result values — everything else still on
// the stack belongs to instructions the branch jumped past.
func (e *Engine) runBlockLike(ctx context.Context, b wasm.Block, blocks []wasm.Block, locals []Value) (signal, bool, error) {
	base := e.stack.Height()
	sig, err := e.run(ctx, b.Instrs, blocks, locals)
	if err != nil {
		return signal{}, false, err
	}
	switch sig.kind {
	case sigBranch:
		if sig.depth == 0 {
			if err := e.stack.Unwind(base, blockArity(b)); err != nil {
				return signal{}, false, err
			}
			return signal{}, true, nil // handled: this level exits normally
		}
		return signal{kind: sigBranch, depth: sig.depth - 1}, false, nil
	case sigReturn:
		return sig, false, nil
	default:
		return signal{}, true, nil
	}
}

// blockArity reports how many values a branch to b's label leaves
// behind. A loop's label sits at its top, so branching to one restarts
// it expecting its (always empty, in this MVP profile) parameter list;
// a block's or if's label sits at its end, so branching to one expects
// its declared result.
func blockArity(b wasm.Block) int {
	if b.IsLoop {
		return 0
	}
	if b.Type.HasResult {
		return 1
	}
	return 0
}

func (e *Engine) step(ctx context.Context, in wasm.Instr, blocks []wasm.Block, locals []Value) (signal, error) {
	switch in.Op {

	case wasm.OpUnreachable:
		return signal{}, trap(TrapUnreachable, "unreachable instruction executed")

	case wasm.OpNop:
		return signal{}, nil

	case wasm.OpBlock:
		b := blocks[in.Block]
		prevBlock := e.curBlock
		e.curBlock = int32(in.Block)
		resumeSig, handled, err := e.runBlockLike(ctx, b, blocks, locals)
		e.curBlock = prevBlock
		if err != nil || !handled {
			return resumeSig, err
		}
		return signal{}, nil

	case wasm.OpLoop:
		b := blocks[in.Block]
		prevBlock := e.curBlock
		e.curBlock = int32(in.Block)
		defer func() { e.curBlock = prevBlock }()
		base := e.stack.Height()
		for {
			sig, err := e.run(ctx, b.Instrs, blocks, locals)
			if err != nil {
				return signal{}, err
			}
			if sig.kind == sigBranch {
				if sig.depth == 0 {
					if err := e.stack.Unwind(base, blockArity(b)); err != nil {
						return signal{}, err
					}
					continue // br/br_if targeted this loop: restart it
				}
				return signal{kind: sigBranch, depth: sig.depth - 1}, nil
			}
			if sig.kind == sigReturn {
				return sig, nil
			}
			return signal{}, nil
		}

	case wasm.OpIf:
		cond, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return signal{}, err
		}
		var resumeSig signal
		var handled bool
		prevBlock := e.curBlock
		if cond.I32() != 0 {
			e.curBlock = int32(in.Block)
			resumeSig, handled, err = e.runBlockLike(ctx, blocks[in.Block], blocks, locals)
		} else if in.ElseBlock >= 0 {
			e.curBlock = in.ElseBlock
			resumeSig, handled, err = e.runBlockLike(ctx, blocks[in.ElseBlock], blocks, locals)
		} else {
			handled = true
		}
		e.curBlock = prevBlock
		if err != nil || !handled {
			return resumeSig, err
		}
		return signal{}, nil

	case wasm.OpBr:
		return signal{kind: sigBranch, depth: int(in.Label)}, nil

	case wasm.OpBrIf:
		cond, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return signal{}, err
		}
		if cond.I32() != 0 {
			return signal{kind: sigBranch, depth: int(in.Label)}, nil
		}
		return signal{}, nil

	case wasm.OpBrTable:
		idxVal, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return signal{}, err
		}
		idx := idxVal.U32()
		lbl := in.Default
		if idx < uint32(len(in.Labels)) {
			lbl = in.Labels[idx]
		}
		return signal{kind: sigBranch, depth: int(lbl)}, nil

	case wasm.OpReturn:
		return signal{kind: sigReturn}, nil

	case wasm.OpCall:
		return signal{}, e.doCall(ctx, in.Func, locals)

	case wasm.OpCallIndirect:
		return signal{}, e.doCallIndirect(ctx, in, locals)

	case wasm.OpDrop:
		_, err := e.stack.PopValue()
		return signal{}, err

	case wasm.OpSelect, wasm.OpSelectT:
		cond, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return signal{}, err
		}
		b, err := e.stack.PopValue()
		if err != nil {
			return signal{}, err
		}
		a, err := e.stack.PopValue()
		if err != nil {
			return signal{}, err
		}
		if cond.I32() != 0 {
			e.stack.PushValue(a)
		} else {
			e.stack.PushValue(b)
		}
		return signal{}, nil

	case wasm.OpLocalGet:
		if int(in.Idx) >= len(locals) {
			return signal{}, trap(TrapTypeMismatch, "local index %d out of range", in.Idx)
		}
		e.stack.PushValue(locals[in.Idx])
		return signal{}, nil

	case wasm.OpLocalSet:
		v, err := e.stack.PopValue()
		if err != nil {
			return signal{}, err
		}
		locals[in.Idx] = v
		return signal{}, nil

	case wasm.OpLocalTee:
		v, err := e.stack.PeekValue()
		if err != nil {
			return signal{}, err
		}
		locals[in.Idx] = v
		return signal{}, nil

	case wasm.OpGlobalGet:
		e.stack.PushValue(e.globals[in.Idx].Value)
		return signal{}, nil

	case wasm.OpGlobalSet:
		v, err := e.stack.PopValue()
		if err != nil {
			return signal{}, err
		}
		g := e.globals[in.Idx]
		if g.Type.Mutable != wasm.Var {
			return signal{}, trap(TrapTypeMismatch, "global.set on an immutable global")
		}
		g.Value = v
		return signal{}, nil

	case wasm.OpTableGet:
		idx, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return signal{}, err
		}
		t := e.tables[in.Idx]
		ref, err := t.Get(idx.U32())
		if err != nil {
			return signal{}, err
		}
		e.stack.PushValue(refValue(t.refType, ref))
		return signal{}, nil

	case wasm.OpTableSet:
		val, err := e.stack.PopValue()
		if err != nil {
			return signal{}, err
		}
		idx, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return signal{}, err
		}
		return signal{}, e.tables[in.Idx].Set(idx.U32(), valueRef(val))

	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
		wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
		wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI64Load32S, wasm.OpI64Load32U:
		return signal{}, e.doLoad(in)

	case wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
		wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		return signal{}, e.doStore(in)

	case wasm.OpMemorySize:
		e.stack.PushValue(I32Value(int32(e.memory.Size())))
		return signal{}, nil

	case wasm.OpMemoryGrow:
		delta, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return signal{}, err
		}
		old := e.memory.Size()
		result := e.memory.Grow(delta.U32())
		if e.OnMemoryGrow != nil && result >= 0 {
			e.OnMemoryGrow(old, delta.U32())
		}
		e.stack.PushValue(I32Value(result))
		return signal{}, nil

	case wasm.OpI32Const:
		e.stack.PushValue(I32Value(in.I32))
		return signal{}, nil
	case wasm.OpI64Const:
		e.stack.PushValue(I64Value(in.I64))
		return signal{}, nil
	case wasm.OpF32Const:
		e.stack.PushValue(Value{Type: wasm.F32, Bits: uint64(in.F32)})
		return signal{}, nil
	case wasm.OpF64Const:
		e.stack.PushValue(Value{Type: wasm.F64, Bits: in.F64})
		return signal{}, nil

	case wasm.OpRefNull:
		e.stack.PushValue(NullRef(in.RefType))
		return signal{}, nil
	case wasm.OpRefIsNull:
		v, err := e.stack.PopValue()
		if err != nil {
			return signal{}, err
		}
		e.stack.PushValue(I32Value(boolToI32(v.RefNull)))
		return signal{}, nil
	case wasm.OpRefFunc:
		e.stack.PushValue(FuncRefValue(int64(in.Func)))
		return signal{}, nil

	case wasm.OpFC:
		return signal{}, e.doBulk(in)
	}

	return signal{}, e.doNumeric(in)
}

func (e *Engine) doCall(ctx context.Context, idx wasm.FuncIdx, _ []Value) error {
	ft := e.mod.Funcs[idx].Type
	args, err := e.popArgs(ft.Params)
	if err != nil {
		return err
	}
	results, err := e.callFunc(ctx, idx, args)
	if err != nil {
		return err
	}
	for _, r := range results {
		e.stack.PushValue(r)
	}
	return nil
}

func (e *Engine) doCallIndirect(ctx context.Context, in wasm.Instr, _ []Value) error {
	idxVal, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	if int(in.Tbl) >= len(e.tables) {
		return trap(TrapTypeMismatch, "call_indirect on out-of-range table %d", in.Tbl)
	}
	t := e.tables[in.Tbl]
	ref, err := t.Get(idxVal.U32())
	if err != nil {
		return err
	}
	if ref == nil {
		return trap(TrapIndirectCall, "call_indirect through a null reference")
	}
	// The looked-up function index is captured before dispatch; the table
	// itself is never borrowed across the call below, so a reentrant
	// table.grow/table.set from within the callee cannot invalidate it.
	target := *ref
	if int(in.Type) >= len(e.mod.Types) {
		return trap(TrapTypeMismatch, "call_indirect references out-of-range type %d", in.Type)
	}
	declared := e.mod.Types[in.Type]
	if int(target) >= len(e.mod.Funcs) {
		return trap(TrapIndirectCall, "call_indirect target function index %d out of range", target)
	}
	actual := e.mod.Funcs[target].Type
	// The interned hash rejects the common case (distinct signatures)
	// without walking both parameter/result lists; a hash match still
	// falls through to the structural check since xxhash admits
	// collisions.
	if e.mod.TypeHashes[in.Type] != actual.Hash() || !declared.Equal(actual) {
		return trap(TrapIndirectCall, "call_indirect type mismatch: expected %s, got %s", declared, actual)
	}
	args, err := e.popArgs(declared.Params)
	if err != nil {
		return err
	}
	results, err := e.callFunc(ctx, target, args)
	if err != nil {
		return err
	}
	for _, r := range results {
		e.stack.PushValue(r)
	}
	return nil
}

func (e *Engine) popArgs(params []wasm.ValueType) ([]Value, error) {
	args := make([]Value, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		v, err := e.stack.PopValueOfType(params[i])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func refValue(t wasm.RefType, ref *wasm.FuncIdx) Value {
	if ref == nil {
		return NullRef(t)
	}
	return Value{Type: t, Ref: int64(*ref)}
}

func valueRef(v Value) *wasm.FuncIdx {
	if v.RefNull {
		return nil
	}
	fi := wasm.FuncIdx(v.Ref)
	return &fi
}

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// doLoad and doStore implement the memory access instructions, applying
// the declared offset operand; Align itself is advisory only in this
// profile.

func (e *Engine) doLoad(in wasm.Instr) error {
	addrVal, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	addr, off := uint64(addrVal.U32()), uint64(in.Mem.Offset)

	switch in.Op {
	case wasm.OpI32Load:
		v, err := e.memory.Load32(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(U32Value(v))
	case wasm.OpI64Load:
		v, err := e.memory.Load64(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(U64Value(v))
	case wasm.OpF32Load:
		v, err := e.memory.Load32(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(Value{Type: wasm.F32, Bits: uint64(v)})
	case wasm.OpF64Load:
		v, err := e.memory.Load64(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(Value{Type: wasm.F64, Bits: v})
	case wasm.OpI32Load8S:
		v, err := e.memory.Load8(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(I32Value(int32(int8(v))))
	case wasm.OpI32Load8U:
		v, err := e.memory.Load8(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(U32Value(uint32(v)))
	case wasm.OpI32Load16S:
		v, err := e.memory.Load16(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(I32Value(int32(int16(v))))
	case wasm.OpI32Load16U:
		v, err := e.memory.Load16(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(U32Value(uint32(v)))
	case wasm.OpI64Load8S:
		v, err := e.memory.Load8(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(I64Value(int64(int8(v))))
	case wasm.OpI64Load8U:
		v, err := e.memory.Load8(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(U64Value(uint64(v)))
	case wasm.OpI64Load16S:
		v, err := e.memory.Load16(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(I64Value(int64(int16(v))))
	case wasm.OpI64Load16U:
		v, err := e.memory.Load16(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(U64Value(uint64(v)))
	case wasm.OpI64Load32S:
		v, err := e.memory.Load32(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(I64Value(int64(int32(v))))
	case wasm.OpI64Load32U:
		v, err := e.memory.Load32(addr, off)
		if err != nil {
			return err
		}
		e.stack.PushValue(U64Value(uint64(v)))
	}
	return nil
}

func (e *Engine) doStore(in wasm.Instr) error {
	var val Value
	var err error
	switch in.Op {
	case wasm.OpI32Store, wasm.OpI32Store8, wasm.OpI32Store16:
		val, err = e.stack.PopValueOfType(wasm.I32)
	case wasm.OpI64Store, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		val, err = e.stack.PopValueOfType(wasm.I64)
	case wasm.OpF32Store:
		val, err = e.stack.PopValueOfType(wasm.F32)
	case wasm.OpF64Store:
		val, err = e.stack.PopValueOfType(wasm.F64)
	}
	if err != nil {
		return err
	}
	addrVal, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	addr, off := uint64(addrVal.U32()), uint64(in.Mem.Offset)

	switch in.Op {
	case wasm.OpI32Store:
		return e.memory.Store32(addr, off, val.U32())
	case wasm.OpI64Store:
		return e.memory.Store64(addr, off, val.U64())
	case wasm.OpF32Store:
		return e.memory.Store32(addr, off, uint32(val.Bits))
	case wasm.OpF64Store:
		return e.memory.Store64(addr, off, val.Bits)
	case wasm.OpI32Store8:
		return e.memory.Store8(addr, off, byte(val.U32()))
	case wasm.OpI32Store16:
		return e.memory.Store16(addr, off, uint16(val.U32()))
	case wasm.OpI64Store8:
		return e.memory.Store8(addr, off, byte(val.U64()))
	case wasm.OpI64Store16:
		return e.memory.Store16(addr, off, uint16(val.U64()))
	case wasm.OpI64Store32:
		return e.memory.Store32(addr, off, uint32(val.U64()))
	}
	return nil
}

// doBulk implements the bulk-memory/table instructions decoded behind the
// 0xFC prefix (memory.init/copy/fill, data.drop, table.init/copy/grow/
// size/fill, elem.drop).
func (e *Engine) doBulk(in wasm.Instr) error {
	switch wasm.Opcode(in.Idx) {
	case wasm.FCMemoryInit:
		n, src, dst, err := e.pop3I32()
		if err != nil {
			return err
		}
		seg := e.mod.Datas[in.SegIdx]
		if uint64(src)+uint64(n) > uint64(len(seg.Bytes)) {
			return trap(TrapMemoryOOB, "memory.init source out of bounds")
		}
		return e.memory.FillData(uint64(dst), seg.Bytes[src:src+n])

	case wasm.FCDataDrop:
		e.mod.Datas[in.SegIdx].Drop()
		return nil

	case wasm.FCMemoryCopy:
		n, src, dst, err := e.pop3I32()
		if err != nil {
			return err
		}
		return e.memory.Copy(uint64(dst), uint64(src), uint64(n))

	case wasm.FCMemoryFill:
		n, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return err
		}
		val, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return err
		}
		dst, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return err
		}
		return e.memory.Fill(uint64(dst.U32()), byte(val.U32()), uint64(n.U32()))

	case wasm.FCTableInit:
		n, src, dst, err := e.pop3I32()
		if err != nil {
			return err
		}
		segIdx := in.SegIdx
		refs := e.elems[segIdx]
		if e.mod.Elems[segIdx].Dropped() {
			refs = nil
		}
		return e.tables[in.Tbl].Init(dst, refs, src, n)

	case wasm.FCElemDrop:
		e.mod.Elems[in.SegIdx].Drop()
		return nil

	case wasm.FCTableCopy:
		n, src, dst, err := e.pop3I32()
		if err != nil {
			return err
		}
		return e.tables[in.Tbl].CopyFrom(e.tables[in.Idx2], dst, src, n)

	case wasm.FCTableGrow:
		delta, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return err
		}
		val, err := e.stack.PopValue()
		if err != nil {
			return err
		}
		e.stack.PushValue(I32Value(e.tables[in.Tbl].Grow(delta.U32(), valueRef(val))))
		return nil

	case wasm.FCTableSize:
		e.stack.PushValue(I32Value(int32(e.tables[in.Tbl].Size())))
		return nil

	case wasm.FCTableFill:
		n, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return err
		}
		val, err := e.stack.PopValue()
		if err != nil {
			return err
		}
		idx, err := e.stack.PopValueOfType(wasm.I32)
		if err != nil {
			return err
		}
		return e.tables[in.Tbl].Fill(idx.U32(), valueRef(val), n.U32())
	}
	return trap(TrapTypeMismatch, "unknown bulk opcode %#x", byte(in.Idx))
}

// pop3I32 pops the (len, src, dst) i32 triple shared by memory.copy/init
// and table.copy/init, in the order wasm pushes them (dst, src, len).
func (e *Engine) pop3I32() (n, src, dst uint32, err error) {
	nv, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return 0, 0, 0, err
	}
	sv, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return 0, 0, 0, err
	}
	dv, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return 0, 0, 0, err
	}
	return nv.U32(), sv.U32(), dv.U32(), nil
}

// doNumeric implements the numeric instruction set: comparisons,
// arithmetic, bit manipulation, float transcendentals, and the
// conversion/reinterpretation family.
func (e *Engine) doNumeric(in wasm.Instr) error {
	switch in.Op {

	case wasm.OpI32Eqz:
		return e.unaryI32(func(a int32) int32 { return boolToI32(a == 0) })
	case wasm.OpI32Eq:
		return e.binI32(func(a, b int32) int32 { return boolToI32(a == b) })
	case wasm.OpI32Ne:
		return e.binI32(func(a, b int32) int32 { return boolToI32(a != b) })
	case wasm.OpI32LtS:
		return e.binI32(func(a, b int32) int32 { return boolToI32(a < b) })
	case wasm.OpI32LtU:
		return e.binU32(func(a, b uint32) uint32 { return uint32(boolToI32(a < b)) })
	case wasm.OpI32GtS:
		return e.binI32(func(a, b int32) int32 { return boolToI32(a > b) })
	case wasm.OpI32GtU:
		return e.binU32(func(a, b uint32) uint32 { return uint32(boolToI32(a > b)) })
	case wasm.OpI32LeS:
		return e.binI32(func(a, b int32) int32 { return boolToI32(a <= b) })
	case wasm.OpI32LeU:
		return e.binU32(func(a, b uint32) uint32 { return uint32(boolToI32(a <= b)) })
	case wasm.OpI32GeS:
		return e.binI32(func(a, b int32) int32 { return boolToI32(a >= b) })
	case wasm.OpI32GeU:
		return e.binU32(func(a, b uint32) uint32 { return uint32(boolToI32(a >= b)) })

	case wasm.OpI64Eqz:
		return e.unaryI64ToI32(func(a int64) int32 { return boolToI32(a == 0) })
	case wasm.OpI64Eq:
		return e.binI64ToI32(func(a, b int64) int32 { return boolToI32(a == b) })
	case wasm.OpI64Ne:
		return e.binI64ToI32(func(a, b int64) int32 { return boolToI32(a != b) })
	case wasm.OpI64LtS:
		return e.binI64ToI32(func(a, b int64) int32 { return boolToI32(a < b) })
	case wasm.OpI64LtU:
		return e.binU64ToI32(func(a, b uint64) int32 { return boolToI32(a < b) })
	case wasm.OpI64GtS:
		return e.binI64ToI32(func(a, b int64) int32 { return boolToI32(a > b) })
	case wasm.OpI64GtU:
		return e.binU64ToI32(func(a, b uint64) int32 { return boolToI32(a > b) })
	case wasm.OpI64LeS:
		return e.binI64ToI32(func(a, b int64) int32 { return boolToI32(a <= b) })
	case wasm.OpI64LeU:
		return e.binU64ToI32(func(a, b uint64) int32 { return boolToI32(a <= b) })
	case wasm.OpI64GeS:
		return e.binI64ToI32(func(a, b int64) int32 { return boolToI32(a >= b) })
	case wasm.OpI64GeU:
		return e.binU64ToI32(func(a, b uint64) int32 { return boolToI32(a >= b) })

	case wasm.OpF32Eq:
		return e.binF32ToI32(func(a, b float32) int32 { return boolToI32(a == b) })
	case wasm.OpF32Ne:
		return e.binF32ToI32(func(a, b float32) int32 { return boolToI32(a != b) })
	case wasm.OpF32Lt:
		return e.binF32ToI32(func(a, b float32) int32 { return boolToI32(a < b) })
	case wasm.OpF32Gt:
		return e.binF32ToI32(func(a, b float32) int32 { return boolToI32(a > b) })
	case wasm.OpF32Le:
		return e.binF32ToI32(func(a, b float32) int32 { return boolToI32(a <= b) })
	case wasm.OpF32Ge:
		return e.binF32ToI32(func(a, b float32) int32 { return boolToI32(a >= b) })

	case wasm.OpF64Eq:
		return e.binF64ToI32(func(a, b float64) int32 { return boolToI32(a == b) })
	case wasm.OpF64Ne:
		return e.binF64ToI32(func(a, b float64) int32 { return boolToI32(a != b) })
	case wasm.OpF64Lt:
		return e.binF64ToI32(func(a, b float64) int32 { return boolToI32(a < b) })
	case wasm.OpF64Gt:
		return e.binF64ToI32(func(a, b float64) int32 { return boolToI32(a > b) })
	case wasm.OpF64Le:
		return e.binF64ToI32(func(a, b float64) int32 { return boolToI32(a <= b) })
	case wasm.OpF64Ge:
		return e.binF64ToI32(func(a, b float64) int32 { return boolToI32(a >= b) })

	case wasm.OpI32Clz:
		return e.unaryU32(func(a uint32) uint32 { return uint32(bits.LeadingZeros32(a)) })
	case wasm.OpI32Ctz:
		return e.unaryU32(func(a uint32) uint32 { return uint32(bits.TrailingZeros32(a)) })
	case wasm.OpI32Popcnt:
		return e.unaryU32(func(a uint32) uint32 { return uint32(bits.OnesCount32(a)) })
	case wasm.OpI32Add:
		return e.binI32(func(a, b int32) int32 { return a + b })
	case wasm.OpI32Sub:
		return e.binI32(func(a, b int32) int32 { return a - b })
	case wasm.OpI32Mul:
		return e.binI32(func(a, b int32) int32 { return a * b })
	case wasm.OpI32DivS:
		return e.binI32Err(func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i32.div_s by zero")
			}
			if a == math.MinInt32 && b == -1 {
				return 0, trap(TrapIntegerOverflow, "i32.div_s overflow")
			}
			return a / b, nil
		})
	case wasm.OpI32DivU:
		return e.binU32Err(func(a, b uint32) (uint32, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i32.div_u by zero")
			}
			return a / b, nil
		})
	case wasm.OpI32RemS:
		return e.binI32Err(func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i32.rem_s by zero")
			}
			return a % b, nil
		})
	case wasm.OpI32RemU:
		return e.binU32Err(func(a, b uint32) (uint32, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i32.rem_u by zero")
			}
			return a % b, nil
		})
	case wasm.OpI32And:
		return e.binU32(func(a, b uint32) uint32 { return a & b })
	case wasm.OpI32Or:
		return e.binU32(func(a, b uint32) uint32 { return a | b })
	case wasm.OpI32Xor:
		return e.binU32(func(a, b uint32) uint32 { return a ^ b })
	case wasm.OpI32Shl:
		return e.binU32(func(a, b uint32) uint32 { return a << (b & 31) })
	case wasm.OpI32ShrS:
		return e.binI32(func(a, b int32) int32 { return a >> (uint32(b) & 31) })
	case wasm.OpI32ShrU:
		return e.binU32(func(a, b uint32) uint32 { return a >> (b & 31) })
	case wasm.OpI32Rotl:
		return e.binU32(func(a, b uint32) uint32 { return bits.RotateLeft32(a, int(b&31)) })
	case wasm.OpI32Rotr:
		return e.binU32(func(a, b uint32) uint32 { return bits.RotateLeft32(a, -int(b&31)) })

	case wasm.OpI64Clz:
		return e.unaryU64(func(a uint64) uint64 { return uint64(bits.LeadingZeros64(a)) })
	case wasm.OpI64Ctz:
		return e.unaryU64(func(a uint64) uint64 { return uint64(bits.TrailingZeros64(a)) })
	case wasm.OpI64Popcnt:
		return e.unaryU64(func(a uint64) uint64 { return uint64(bits.OnesCount64(a)) })
	case wasm.OpI64Add:
		return e.binI64(func(a, b int64) int64 { return a + b })
	case wasm.OpI64Sub:
		return e.binI64(func(a, b int64) int64 { return a - b })
	case wasm.OpI64Mul:
		return e.binI64(func(a, b int64) int64 { return a * b })
	case wasm.OpI64DivS:
		return e.binI64Err(func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i64.div_s by zero")
			}
			if a == math.MinInt64 && b == -1 {
				return 0, trap(TrapIntegerOverflow, "i64.div_s overflow")
			}
			return a / b, nil
		})
	case wasm.OpI64DivU:
		return e.binU64Err(func(a, b uint64) (uint64, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i64.div_u by zero")
			}
			return a / b, nil
		})
	case wasm.OpI64RemS:
		return e.binI64Err(func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i64.rem_s by zero")
			}
			return a % b, nil
		})
	case wasm.OpI64RemU:
		return e.binU64Err(func(a, b uint64) (uint64, error) {
			if b == 0 {
				return 0, trap(TrapDivideByZero, "i64.rem_u by zero")
			}
			return a % b, nil
		})
	case wasm.OpI64And:
		return e.binU64(func(a, b uint64) uint64 { return a & b })
	case wasm.OpI64Or:
		return e.binU64(func(a, b uint64) uint64 { return a | b })
	case wasm.OpI64Xor:
		return e.binU64(func(a, b uint64) uint64 { return a ^ b })
	case wasm.OpI64Shl:
		return e.binU64(func(a, b uint64) uint64 { return a << (b & 63) })
	case wasm.OpI64ShrS:
		return e.binI64(func(a, b int64) int64 { return a >> (uint64(b) & 63) })
	case wasm.OpI64ShrU:
		return e.binU64(func(a, b uint64) uint64 { return a >> (b & 63) })
	case wasm.OpI64Rotl:
		return e.binU64(func(a, b uint64) uint64 { return bits.RotateLeft64(a, int(b&63)) })
	case wasm.OpI64Rotr:
		return e.binU64(func(a, b uint64) uint64 { return bits.RotateLeft64(a, -int(b&63)) })

	case wasm.OpF32Abs:
		return e.unaryF32(func(a float32) float32 {
			return math.Float32frombits(math.Float32bits(a) &^ (1 << 31))
		})
	case wasm.OpF32Neg:
		return e.unaryF32(func(a float32) float32 { return -a })
	case wasm.OpF32Ceil:
		return e.unaryF32(func(a float32) float32 { return float32(math.Ceil(float64(a))) })
	case wasm.OpF32Floor:
		return e.unaryF32(func(a float32) float32 { return float32(math.Floor(float64(a))) })
	case wasm.OpF32Trunc:
		return e.unaryF32(func(a float32) float32 { return float32(math.Trunc(float64(a))) })
	case wasm.OpF32Nearest:
		return e.unaryF32(func(a float32) float32 { return float32(math.RoundToEven(float64(a))) })
	case wasm.OpF32Sqrt:
		return e.unaryF32(func(a float32) float32 { return float32(math.Sqrt(float64(a))) })
	case wasm.OpF32Add:
		return e.binF32(func(a, b float32) float32 { return a + b })
	case wasm.OpF32Sub:
		return e.binF32(func(a, b float32) float32 { return a - b })
	case wasm.OpF32Mul:
		return e.binF32(func(a, b float32) float32 { return a * b })
	case wasm.OpF32Div:
		return e.binF32(func(a, b float32) float32 { return a / b })
	case wasm.OpF32Min:
		return e.binF32(minF32)
	case wasm.OpF32Max:
		return e.binF32(maxF32)
	case wasm.OpF32Copysign:
		return e.binF32(func(a, b float32) float32 { return float32(math.Copysign(float64(a), float64(b))) })

	case wasm.OpF64Abs:
		return e.unaryF64(math.Abs)
	case wasm.OpF64Neg:
		return e.unaryF64(func(a float64) float64 { return -a })
	case wasm.OpF64Ceil:
		return e.unaryF64(math.Ceil)
	case wasm.OpF64Floor:
		return e.unaryF64(math.Floor)
	case wasm.OpF64Trunc:
		return e.unaryF64(math.Trunc)
	case wasm.OpF64Nearest:
		return e.unaryF64(math.RoundToEven)
	case wasm.OpF64Sqrt:
		return e.unaryF64(math.Sqrt)
	case wasm.OpF64Add:
		return e.binF64(func(a, b float64) float64 { return a + b })
	case wasm.OpF64Sub:
		return e.binF64(func(a, b float64) float64 { return a - b })
	case wasm.OpF64Mul:
		return e.binF64(func(a, b float64) float64 { return a * b })
	case wasm.OpF64Div:
		return e.binF64(func(a, b float64) float64 { return a / b })
	case wasm.OpF64Min:
		return e.binF64(math.Min)
	case wasm.OpF64Max:
		return e.binF64(math.Max)
	case wasm.OpF64Copysign:
		return e.binF64(math.Copysign)

	case wasm.OpI32WrapI64:
		return e.convert(wasm.I64, wasm.I32, func(v Value) (Value, error) {
			return I32Value(int32(v.I64())), nil
		})
	case wasm.OpI32TruncF32S:
		return e.convert(wasm.F32, wasm.I32, func(v Value) (Value, error) {
			n, err := truncToI32(float64(v.F32()))
			return I32Value(n), err
		})
	case wasm.OpI32TruncF32U:
		return e.convert(wasm.F32, wasm.I32, func(v Value) (Value, error) {
			n, err := truncToU32(float64(v.F32()))
			return U32Value(n), err
		})
	case wasm.OpI32TruncF64S:
		return e.convert(wasm.F64, wasm.I32, func(v Value) (Value, error) {
			n, err := truncToI32(v.F64())
			return I32Value(n), err
		})
	case wasm.OpI32TruncF64U:
		return e.convert(wasm.F64, wasm.I32, func(v Value) (Value, error) {
			n, err := truncToU32(v.F64())
			return U32Value(n), err
		})
	case wasm.OpI64ExtendI32S:
		return e.convert(wasm.I32, wasm.I64, func(v Value) (Value, error) {
			return I64Value(int64(v.I32())), nil
		})
	case wasm.OpI64ExtendI32U:
		return e.convert(wasm.I32, wasm.I64, func(v Value) (Value, error) {
			return U64Value(uint64(v.U32())), nil
		})
	case wasm.OpI64TruncF32S:
		return e.convert(wasm.F32, wasm.I64, func(v Value) (Value, error) {
			n, err := truncToI64(float64(v.F32()))
			return I64Value(n), err
		})
	case wasm.OpI64TruncF32U:
		return e.convert(wasm.F32, wasm.I64, func(v Value) (Value, error) {
			n, err := truncToU64(float64(v.F32()))
			return U64Value(n), err
		})
	case wasm.OpI64TruncF64S:
		return e.convert(wasm.F64, wasm.I64, func(v Value) (Value, error) {
			n, err := truncToI64(v.F64())
			return I64Value(n), err
		})
	case wasm.OpI64TruncF64U:
		return e.convert(wasm.F64, wasm.I64, func(v Value) (Value, error) {
			n, err := truncToU64(v.F64())
			return U64Value(n), err
		})
	case wasm.OpF32ConvertI32S:
		return e.convert(wasm.I32, wasm.F32, func(v Value) (Value, error) {
			return F32Value(float32(v.I32())), nil
		})
	case wasm.OpF32ConvertI32U:
		return e.convert(wasm.I32, wasm.F32, func(v Value) (Value, error) {
			return F32Value(float32(v.U32())), nil
		})
	case wasm.OpF32ConvertI64S:
		return e.convert(wasm.I64, wasm.F32, func(v Value) (Value, error) {
			return F32Value(float32(v.I64())), nil
		})
	case wasm.OpF32ConvertI64U:
		return e.convert(wasm.I64, wasm.F32, func(v Value) (Value, error) {
			return F32Value(float32(v.U64())), nil
		})
	case wasm.OpF32DemoteF64:
		return e.convert(wasm.F64, wasm.F32, func(v Value) (Value, error) {
			return F32Value(float32(v.F64())), nil
		})
	case wasm.OpF64ConvertI32S:
		return e.convert(wasm.I32, wasm.F64, func(v Value) (Value, error) {
			return F64Value(float64(v.I32())), nil
		})
	case wasm.OpF64ConvertI32U:
		return e.convert(wasm.I32, wasm.F64, func(v Value) (Value, error) {
			return F64Value(float64(v.U32())), nil
		})
	case wasm.OpF64ConvertI64S:
		return e.convert(wasm.I64, wasm.F64, func(v Value) (Value, error) {
			return F64Value(float64(v.I64())), nil
		})
	case wasm.OpF64ConvertI64U:
		return e.convert(wasm.I64, wasm.F64, func(v Value) (Value, error) {
			return F64Value(float64(v.U64())), nil
		})
	case wasm.OpF64PromoteF32:
		return e.convert(wasm.F32, wasm.F64, func(v Value) (Value, error) {
			return F64Value(float64(v.F32())), nil
		})
	case wasm.OpI32ReinterpretF32:
		return e.convert(wasm.F32, wasm.I32, func(v Value) (Value, error) {
			return U32Value(uint32(v.Bits)), nil
		})
	case wasm.OpI64ReinterpretF64:
		return e.convert(wasm.F64, wasm.I64, func(v Value) (Value, error) {
			return U64Value(v.Bits), nil
		})
	case wasm.OpF32ReinterpretI32:
		return e.convert(wasm.I32, wasm.F32, func(v Value) (Value, error) {
			return Value{Type: wasm.F32, Bits: uint64(v.U32())}, nil
		})
	case wasm.OpF64ReinterpretI64:
		return e.convert(wasm.I64, wasm.F64, func(v Value) (Value, error) {
			return Value{Type: wasm.F64, Bits: v.U64()}, nil
		})

	case wasm.OpI32Extend8S:
		return e.unaryI32(func(a int32) int32 { return int32(int8(a)) })
	case wasm.OpI32Extend16S:
		return e.unaryI32(func(a int32) int32 { return int32(int16(a)) })
	case wasm.OpI64Extend8S:
		return e.unaryI64(func(a int64) int64 { return int64(int8(a)) })
	case wasm.OpI64Extend16S:
		return e.unaryI64(func(a int64) int64 { return int64(int16(a)) })
	case wasm.OpI64Extend32S:
		return e.unaryI64(func(a int64) int64 { return int64(int32(a)) })
	}

	return trap(TrapTypeMismatch, "unimplemented opcode %#x", byte(in.Op))
}

func minF32(a, b float32) float32 {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return float32(math.NaN())
	}
	if a == 0 && b == 0 {
		if math.Signbit(float64(a)) || math.Signbit(float64(b)) {
			return float32(math.Copysign(0, -1))
		}
		return 0
	}
	if a < b {
		return a
	}
	return b
}

func maxF32(a, b float32) float32 {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return float32(math.NaN())
	}
	if a == 0 && b == 0 {
		if !math.Signbit(float64(a)) || !math.Signbit(float64(b)) {
			return 0
		}
		return float32(math.Copysign(0, -1))
	}
	if a > b {
		return a
	}
	return b
}

func truncToI32(f float64) (int32, error) {
	if math.IsNaN(f) {
		return 0, trap(TrapInvalidConversion, "trunc of NaN")
	}
	if f <= -2147483649 || f >= 2147483648 {
		return 0, trap(TrapIntegerOverflow, "trunc out of i32 range")
	}
	return int32(f), nil
}

func truncToU32(f float64) (uint32, error) {
	if math.IsNaN(f) {
		return 0, trap(TrapInvalidConversion, "trunc of NaN")
	}
	if f <= -1 || f >= 4294967296 {
		return 0, trap(TrapIntegerOverflow, "trunc out of u32 range")
	}
	return uint32(f), nil
}

func truncToI64(f float64) (int64, error) {
	if math.IsNaN(f) {
		return 0, trap(TrapInvalidConversion, "trunc of NaN")
	}
	if f < -9223372036854775808 || f >= 9223372036854775808 {
		return 0, trap(TrapIntegerOverflow, "trunc out of i64 range")
	}
	return int64(f), nil
}

func truncToU64(f float64) (uint64, error) {
	if math.IsNaN(f) {
		return 0, trap(TrapInvalidConversion, "trunc of NaN")
	}
	if f <= -1 || f >= 18446744073709551616 {
		return 0, trap(TrapIntegerOverflow, "trunc out of u64 range")
	}
	return uint64(f), nil
}

// The unary/binary helpers below pop the declared operand types, apply fn,
// and push the result, keeping doNumeric's big switch to one line per
// opcode.

func (e *Engine) unaryI32(fn func(int32) int32) error {
	a, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(fn(a.I32())))
	return nil
}

func (e *Engine) unaryU32(fn func(uint32) uint32) error {
	a, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	e.stack.PushValue(U32Value(fn(a.U32())))
	return nil
}

func (e *Engine) unaryI64(fn func(int64) int64) error {
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	e.stack.PushValue(I64Value(fn(a.I64())))
	return nil
}

func (e *Engine) unaryI64ToI32(fn func(int64) int32) error {
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(fn(a.I64())))
	return nil
}

func (e *Engine) unaryU64(fn func(uint64) uint64) error {
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	e.stack.PushValue(U64Value(fn(a.U64())))
	return nil
}

func (e *Engine) unaryF32(fn func(float32) float32) error {
	a, err := e.stack.PopValueOfType(wasm.F32)
	if err != nil {
		return err
	}
	e.stack.PushValue(F32Value(fn(a.F32())))
	return nil
}

func (e *Engine) unaryF64(fn func(float64) float64) error {
	a, err := e.stack.PopValueOfType(wasm.F64)
	if err != nil {
		return err
	}
	e.stack.PushValue(F64Value(fn(a.F64())))
	return nil
}

func (e *Engine) binI32(fn func(a, b int32) int32) error {
	b, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(fn(a.I32(), b.I32())))
	return nil
}

func (e *Engine) binI32Err(fn func(a, b int32) (int32, error)) error {
	b, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	v, err := fn(a.I32(), b.I32())
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(v))
	return nil
}

func (e *Engine) binU32(fn func(a, b uint32) uint32) error {
	b, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	e.stack.PushValue(U32Value(fn(a.U32(), b.U32())))
	return nil
}

func (e *Engine) binU32Err(fn func(a, b uint32) (uint32, error)) error {
	b, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I32)
	if err != nil {
		return err
	}
	v, err := fn(a.U32(), b.U32())
	if err != nil {
		return err
	}
	e.stack.PushValue(U32Value(v))
	return nil
}

func (e *Engine) binI64(fn func(a, b int64) int64) error {
	b, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	e.stack.PushValue(I64Value(fn(a.I64(), b.I64())))
	return nil
}

func (e *Engine) binI64Err(fn func(a, b int64) (int64, error)) error {
	b, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	v, err := fn(a.I64(), b.I64())
	if err != nil {
		return err
	}
	e.stack.PushValue(I64Value(v))
	return nil
}

func (e *Engine) binU64(fn func(a, b uint64) uint64) error {
	b, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	e.stack.PushValue(U64Value(fn(a.U64(), b.U64())))
	return nil
}

func (e *Engine) binU64Err(fn func(a, b uint64) (uint64, error)) error {
	b, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	v, err := fn(a.U64(), b.U64())
	if err != nil {
		return err
	}
	e.stack.PushValue(U64Value(v))
	return nil
}

func (e *Engine) binI64ToI32(fn func(a, b int64) int32) error {
	b, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(fn(a.I64(), b.I64())))
	return nil
}

func (e *Engine) binU64ToI32(fn func(a, b uint64) int32) error {
	b, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.I64)
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(fn(a.U64(), b.U64())))
	return nil
}

func (e *Engine) binF32(fn func(a, b float32) float32) error {
	b, err := e.stack.PopValueOfType(wasm.F32)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.F32)
	if err != nil {
		return err
	}
	e.stack.PushValue(F32Value(fn(a.F32(), b.F32())))
	return nil
}

func (e *Engine) binF32ToI32(fn func(a, b float32) int32) error {
	b, err := e.stack.PopValueOfType(wasm.F32)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.F32)
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(fn(a.F32(), b.F32())))
	return nil
}

func (e *Engine) binF64(fn func(a, b float64) float64) error {
	b, err := e.stack.PopValueOfType(wasm.F64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.F64)
	if err != nil {
		return err
	}
	e.stack.PushValue(F64Value(fn(a.F64(), b.F64())))
	return nil
}

func (e *Engine) binF64ToI32(fn func(a, b float64) int32) error {
	b, err := e.stack.PopValueOfType(wasm.F64)
	if err != nil {
		return err
	}
	a, err := e.stack.PopValueOfType(wasm.F64)
	if err != nil {
		return err
	}
	e.stack.PushValue(I32Value(fn(a.F64(), b.F64())))
	return nil
}

func (e *Engine) convert(from, to wasm.ValueType, fn func(Value) (Value, error)) error {
	v, err := e.stack.PopValueOfType(from)
	if err != nil {
		return err
	}
	out, err := fn(v)
	if err != nil {
		return err
	}
	e.stack.PushValue(out)
	return nil
}

// Memory exposes the instance's linear memory, used by the WASI host
// functions to read/write guest buffers.
func (e *Engine) Memory() *Memory { return e.memory }
