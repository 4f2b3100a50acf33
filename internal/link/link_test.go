package link_test

import (
	"testing"

	"github.com/stealthrocket/wasmi/internal/decode"
	"github.com/stealthrocket/wasmi/internal/link"
	"github.com/stealthrocket/wasmi/internal/testwasm"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

func decodeFixture(t *testing.T, m *testwasm.Module) *decode.Module {
	t.Helper()
	mod, err := decode.Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return mod
}

func TestLinkRequiresStart(t *testing.T) {
	m := testwasm.NewModule()
	m.Memory(1, 0, false)
	if _, err := link.Link(decodeFixture(t, m)); err == nil {
		t.Fatal("expected error for missing _start export")
	}
}

func TestLinkRequiresExactlyOneMemory(t *testing.T) {
	m := testwasm.NewModule()
	sig := m.Type(nil, nil)
	fn := m.Func(sig, testwasm.NewCode())
	m.ExportFunc("_start", fn)
	// no memory declared
	if _, err := link.Link(decodeFixture(t, m)); err == nil {
		t.Fatal("expected error for missing memory")
	}
}

func TestLinkAssignsSyntheticFunctionsForInits(t *testing.T) {
	m := testwasm.NewModule()
	sig := m.Type(nil, nil)
	fn := m.Func(sig, testwasm.NewCode())
	m.ExportFunc("_start", fn)
	m.Memory(1, 0, false)
	m.Global(wasm.I32, wasm.Const, testwasm.I32ConstOffset(7))
	m.DataActive(testwasm.I32ConstOffset(0), []byte("hi"))

	linked, err := link.Link(decodeFixture(t, m))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	// One user-defined function plus two synthetic expression functions
	// (the global init and the data segment's offset).
	if len(linked.Funcs) != 3 {
		t.Fatalf("funcs: got %d, want 3", len(linked.Funcs))
	}
	for _, idx := range []wasm.FuncIdx{linked.Globals[0].Init, linked.Datas[0].Offset} {
		if !linked.Funcs[idx].Local.Synthetic {
			t.Fatalf("func %d: expected synthetic expression function", idx)
		}
	}
}

func TestLinkTypeHashesMatchStructuralEquality(t *testing.T) {
	m := testwasm.NewModule()
	sigA := m.Type([]wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	sigB := m.Type([]wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	sigC := m.Type([]wasm.ValueType{wasm.I64}, nil)
	fn := m.Func(sigA, testwasm.NewCode().LocalGet(0))
	m.ExportFunc("_start", fn)
	m.Memory(1, 0, false)

	linked, err := link.Link(decodeFixture(t, m))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if linked.TypeHashes[sigA] != linked.TypeHashes[sigB] {
		t.Fatal("structurally identical signatures hashed differently")
	}
	if linked.TypeHashes[sigA] == linked.TypeHashes[sigC] && linked.Types[sigA].Equal(linked.Types[sigC]) {
		t.Fatal("distinct signatures compared equal")
	}
}
