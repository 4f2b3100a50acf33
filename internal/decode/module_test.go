package decode_test

import (
	"testing"

	"github.com/stealthrocket/wasmi/internal/decode"
	"github.com/stealthrocket/wasmi/internal/testwasm"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

func TestDecodeMinimalModule(t *testing.T) {
	m := testwasm.NewModule()
	voidVoid := m.Type(nil, nil)
	fn := m.Func(voidVoid, testwasm.NewCode())
	m.ExportFunc("_start", fn)
	m.Memory(1, 0, false)

	mod, err := decode.Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(mod.Types) != 1 {
		t.Fatalf("types: got %d, want 1", len(mod.Types))
	}
	if len(mod.Code) != 1 {
		t.Fatalf("code: got %d, want 1", len(mod.Code))
	}
	if len(mod.Exports) != 1 || mod.Exports[0].Name != "_start" {
		t.Fatalf("exports: got %+v", mod.Exports)
	}
	if len(mod.Memories) != 1 || mod.Memories[0].Limits.Min != 1 {
		t.Fatalf("memories: got %+v", mod.Memories)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	b := []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}
	if _, err := decode.Decode(b); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	b := []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}
	if _, err := decode.Decode(b); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestDecodeRoundTripsBlockTable(t *testing.T) {
	m := testwasm.NewModule()
	sig := m.Type([]wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	code := testwasm.NewCode().
		LocalGet(0).
		If(true, wasm.I32, func(c *testwasm.Code) {
			c.I32Const(10)
		}, func(c *testwasm.Code) {
			c.I32Const(20)
		})
	fn := m.Func(sig, code)
	m.ExportFunc("_start", fn)
	m.Memory(1, 0, false)

	mod, err := decode.Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	body := mod.Code[0].Body
	if len(body) != 2 {
		t.Fatalf("body: got %d instrs, want 2 (local.get, if)", len(body))
	}
	ifInstr := body[1]
	if ifInstr.Op != wasm.OpIf {
		t.Fatalf("body[1]: got op %v, want if", ifInstr.Op)
	}
	if ifInstr.ElseBlock < 0 {
		t.Fatal("if instruction lost its else arm")
	}
	blocks := mod.Code[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("blocks: got %d, want 2 (then + else)", len(blocks))
	}
}

func TestDecodeRejectsMultiMemory(t *testing.T) {
	m := testwasm.NewModule()
	m.Memory(1, 0, false)
	m.Memory(1, 0, false)
	if _, err := decode.Decode(m.Encode()); err == nil {
		t.Fatal("expected error for more than one memory")
	}
}
