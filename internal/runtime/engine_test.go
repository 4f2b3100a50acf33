package runtime

import (
	"context"
	"testing"

	"github.com/stealthrocket/wasmi/internal/decode"
	"github.com/stealthrocket/wasmi/internal/link"
	"github.com/stealthrocket/wasmi/internal/testwasm"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

// buildEngine decodes and links m, then instantiates it against host
// (nil is fine for fixtures with no imports).
func buildEngine(t *testing.T, m *testwasm.Module, host Host) *Engine {
	t.Helper()
	mod, err := decode.Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	linked, err := link.Link(mod)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	e, err := NewEngine(linked, host)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func newFixture() *testwasm.Module {
	m := testwasm.NewModule()
	m.Memory(1, 0, false)
	return m
}

func TestEngineArithmetic(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	// (200 + 50) - 5 = 245
	code := testwasm.NewCode().
		I32Const(200).I32Const(50).I32Add().
		I32Const(5).I32Sub()
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	results, err := e.callFunc(context.Background(), fn, nil)
	if err != nil {
		t.Fatalf("callFunc: %v", err)
	}
	if len(results) != 1 || results[0].I32() != 245 {
		t.Fatalf("got %v, want [245]", results)
	}
}

func TestEngineSignedDivisionByZeroTraps(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	code := testwasm.NewCode().I32Const(7).I32Const(0).I32DivS()
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	_, err := e.callFunc(context.Background(), fn, nil)
	trap, ok := err.(*Trap)
	if !ok || trap.Kind != TrapDivideByZero {
		t.Fatalf("got %v, want TrapDivideByZero", err)
	}
}

func TestEngineSignedDivisionOverflowTraps(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	code := testwasm.NewCode().I32Const(-2147483648).I32Const(-1).I32DivS()
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	_, err := e.callFunc(context.Background(), fn, nil)
	trap, ok := err.(*Trap)
	if !ok || trap.Kind != TrapIntegerOverflow {
		t.Fatalf("got %v, want TrapIntegerOverflow", err)
	}
}

func TestEngineUnsignedDivisionIsUnsigned(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	// -1 as i32 is 0xffffffff; unsigned division by 2 must not sign-extend.
	code := testwasm.NewCode().I32Const(-1).I32Const(2).I32DivU()
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	results, err := e.callFunc(context.Background(), fn, nil)
	if err != nil {
		t.Fatalf("callFunc: %v", err)
	}
	want := int32(uint32(0xffffffff) / 2)
	if results[0].I32() != want {
		t.Fatalf("got %d, want %d", results[0].I32(), want)
	}
}

func TestEngineConditionalBranch(t *testing.T) {
	run := func(cond int32) int32 {
		m := newFixture()
		sig := m.Type(nil, []wasm.ValueType{wasm.I32})
		code := testwasm.NewCode().
			I32Const(cond).
			If(true, wasm.I32, func(c *testwasm.Code) {
				c.I32Const(10)
			}, func(c *testwasm.Code) {
				c.I32Const(20)
			})
		fn := m.Func(sig, code)
		m.ExportFunc("_start", fn)

		e := buildEngine(t, m, nil)
		results, err := e.callFunc(context.Background(), fn, nil)
		if err != nil {
			t.Fatalf("callFunc: %v", err)
		}
		return results[0].I32()
	}
	if got := run(1); got != 10 {
		t.Fatalf("cond=1: got %d, want 10", got)
	}
	if got := run(0); got != 20 {
		t.Fatalf("cond=0: got %d, want 20", got)
	}
}

func TestEngineLoopSum(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	// locals: 0 = i, 1 = sum
	code := testwasm.NewCode(wasm.I32, wasm.I32).
		I32Const(1).LocalSet(0).
		Loop(false, 0, func(c *testwasm.Code) {
			c.LocalGet(1).LocalGet(0).I32Add().LocalSet(1)
			c.LocalGet(0).I32Const(1).I32Add().LocalTee(0)
			c.I32Const(10).I32LeS().BrIf(0)
		}).
		LocalGet(1)
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	results, err := e.callFunc(context.Background(), fn, nil)
	if err != nil {
		t.Fatalf("callFunc: %v", err)
	}
	if results[0].I32() != 55 {
		t.Fatalf("got %d, want 55", results[0].I32())
	}
}

func TestEngineReturnUnwindsStrayOperands(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	// Pushes an operand return never consumes, then returns explicitly
	// instead of falling off the end: the 99 below the declared result
	// must be discarded, not mistaken for a second stray value.
	code := testwasm.NewCode().I32Const(99).I32Const(5).Return()
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	results, err := e.callFunc(context.Background(), fn, nil)
	if err != nil {
		t.Fatalf("callFunc: %v", err)
	}
	if len(results) != 1 || results[0].I32() != 5 {
		t.Fatalf("got %v, want [5]", results)
	}
}

func TestEngineBranchUnwindsStrayOperands(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	code := testwasm.NewCode().
		Block(true, wasm.I32, func(c *testwasm.Code) {
			c.I32Const(99).I32Const(7).Br(0)
		})
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	results, err := e.callFunc(context.Background(), fn, nil)
	if err != nil {
		t.Fatalf("callFunc: %v", err)
	}
	if len(results) != 1 || results[0].I32() != 7 {
		t.Fatalf("got %v, want [7]", results)
	}
}

func TestEngineCallIndirectDispatch(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	tbl := m.Table(wasm.FuncRef, 2, 2, true)

	targetA := m.Func(sig, testwasm.NewCode().I32Const(111))
	targetB := m.Func(sig, testwasm.NewCode().I32Const(222))
	m.ElementActive(tbl, testwasm.I32ConstOffset(0), []wasm.FuncIdx{targetA, targetB})

	start := m.Func(sig, testwasm.NewCode().I32Const(1).CallIndirect(sig, tbl))
	m.ExportFunc("_start", start)

	e := buildEngine(t, m, nil)
	results, err := e.callFunc(context.Background(), start, nil)
	if err != nil {
		t.Fatalf("callFunc: %v", err)
	}
	if results[0].I32() != 222 {
		t.Fatalf("got %d, want 222 (table[1])", results[0].I32())
	}
}

func TestEngineCallIndirectNullTraps(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	tbl := m.Table(wasm.FuncRef, 2, 2, true)
	start := m.Func(sig, testwasm.NewCode().I32Const(0).CallIndirect(sig, tbl))
	m.ExportFunc("_start", start)

	e := buildEngine(t, m, nil)
	_, err := e.callFunc(context.Background(), start, nil)
	trap, ok := err.(*Trap)
	if !ok || trap.Kind != TrapIndirectCall {
		t.Fatalf("got %v, want TrapIndirectCall", err)
	}
}

func TestEngineCallIndirectTypeMismatchTraps(t *testing.T) {
	m := newFixture()
	producesI32 := m.Type(nil, []wasm.ValueType{wasm.I32})
	producesI64 := m.Type(nil, []wasm.ValueType{wasm.I64})
	tbl := m.Table(wasm.FuncRef, 1, 1, true)

	target := m.Func(producesI64, testwasm.NewCode().I64Const(1))
	m.ElementActive(tbl, testwasm.I32ConstOffset(0), []wasm.FuncIdx{target})

	start := m.Func(producesI32, testwasm.NewCode().I32Const(0).CallIndirect(producesI32, tbl))
	m.ExportFunc("_start", start)

	e := buildEngine(t, m, nil)
	_, err := e.callFunc(context.Background(), start, nil)
	trap, ok := err.(*Trap)
	if !ok || trap.Kind != TrapIndirectCall {
		t.Fatalf("got %v, want TrapIndirectCall", err)
	}
}

func TestEngineMemoryGrowHook(t *testing.T) {
	m := newFixture()
	sig := m.Type(nil, []wasm.ValueType{wasm.I32})
	code := testwasm.NewCode().I32Const(1).MemoryGrow()
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)

	e := buildEngine(t, m, nil)
	var gotOld, gotDelta uint32
	calls := 0
	e.OnMemoryGrow = func(old, delta uint32) {
		calls++
		gotOld, gotDelta = old, delta
	}
	results, err := e.callFunc(context.Background(), fn, nil)
	if err != nil {
		t.Fatalf("callFunc: %v", err)
	}
	if results[0].I32() != 1 {
		t.Fatalf("grow result: got %d, want 1 (old page count)", results[0].I32())
	}
	if calls != 1 || gotOld != 1 || gotDelta != 1 {
		t.Fatalf("OnMemoryGrow: got calls=%d old=%d delta=%d", calls, gotOld, gotDelta)
	}
}
