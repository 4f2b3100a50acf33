package runtime

import (
	"testing"

	"github.com/stealthrocket/wasmi/internal/wasm"
)

func idx(i wasm.FuncIdx) *wasm.FuncIdx { return &i }

func TestTableSetGet(t *testing.T) {
	tbl := NewTable(wasm.TableType{ElemType: wasm.FuncRef, Limits: wasm.Limits{Min: 4}})
	if err := tbl.Set(1, idx(7)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := tbl.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || *got != 7 {
		t.Fatalf("got %v, want 7", got)
	}
	if null, err := tbl.Get(0); err != nil || null != nil {
		t.Fatalf("unset entry: got %v, %v, want nil, nil", null, err)
	}
}

func TestTableGetOutOfBoundsTraps(t *testing.T) {
	tbl := NewTable(wasm.TableType{ElemType: wasm.FuncRef, Limits: wasm.Limits{Min: 1}})
	if _, err := tbl.Get(5); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestTableGrow(t *testing.T) {
	tbl := NewTable(wasm.TableType{ElemType: wasm.FuncRef, Limits: wasm.Limits{Min: 1, Max: 2, HasMax: true}})
	if old := tbl.Grow(1, nil); old != 1 {
		t.Fatalf("Grow: got %d, want 1", old)
	}
	if tbl.Size() != 2 {
		t.Fatalf("Size: got %d, want 2", tbl.Size())
	}
	if old := tbl.Grow(1, nil); old != -1 {
		t.Fatalf("Grow past max: got %d, want -1", old)
	}
}

func TestTableCopyFromOverlapping(t *testing.T) {
	tbl := NewTable(wasm.TableType{ElemType: wasm.FuncRef, Limits: wasm.Limits{Min: 6}})
	for i := uint32(0); i < 4; i++ {
		tbl.Set(i, idx(wasm.FuncIdx(i)))
	}
	if err := tbl.CopyFrom(tbl, 2, 0, 4); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	for i, want := range []wasm.FuncIdx{0, 1, 0, 1, 2, 3} {
		got, _ := tbl.Get(uint32(i))
		if got == nil || *got != want {
			t.Fatalf("elem %d: got %v, want %d", i, got, want)
		}
	}
}

func TestTableCopyFromDistinctTables(t *testing.T) {
	src := NewTable(wasm.TableType{ElemType: wasm.FuncRef, Limits: wasm.Limits{Min: 2}})
	src.Set(0, idx(42))
	dst := NewTable(wasm.TableType{ElemType: wasm.FuncRef, Limits: wasm.Limits{Min: 2}})
	if err := dst.CopyFrom(src, 1, 0, 1); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	got, _ := dst.Get(1)
	if got == nil || *got != 42 {
		t.Fatalf("got %v, want 42", got)
	}
}
