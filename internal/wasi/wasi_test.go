package wasi_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stealthrocket/wasmi/internal/decode"
	"github.com/stealthrocket/wasmi/internal/link"
	"github.com/stealthrocket/wasmi/internal/runtime"
	"github.com/stealthrocket/wasmi/internal/testwasm"
	"github.com/stealthrocket/wasmi/internal/wasi"
	"github.com/stealthrocket/wasmi/internal/wasm"
)

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func buildEngine(t *testing.T, m *testwasm.Module, env *wasi.Environment) *runtime.Engine {
	t.Helper()
	mod, err := decode.Decode(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	linked, err := link.Link(mod)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	e, err := runtime.NewEngine(linked, wasi.Host(env))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// TestFdWriteHi lays out a single iovec at address 0 pointing at "Hi\n" at
// address 16, then calls fd_write(1, 0, 1, 24) and checks the bytes
// reaching Stdout and the reported byte count at address 24.
func TestFdWriteHi(t *testing.T) {
	m := testwasm.NewModule()
	m.Memory(1, 0, false)

	fdWriteType := m.Type(
		[]wasm.ValueType{wasm.I32, wasm.I32, wasm.I32, wasm.I32},
		[]wasm.ValueType{wasm.I32},
	)
	fdWrite := m.ImportFunc("wasi_snapshot_preview1", "fd_write", fdWriteType)

	iovec := append(le32(16), le32(3)...)
	m.DataActive(testwasm.I32ConstOffset(0), iovec)
	m.DataActive(testwasm.I32ConstOffset(16), []byte("Hi\n"))

	startSig := m.Type(nil, []wasm.ValueType{wasm.I32})
	code := testwasm.NewCode().
		I32Const(1).  // fd
		I32Const(0).  // iovs_ptr
		I32Const(1).  // iovs_len
		I32Const(24). // nwritten_ptr
		Call(fdWrite)
	start := m.Func(startSig, code)
	m.ExportFunc("_start", start)

	var out bytes.Buffer
	env := &wasi.Environment{Stdout: &out, Stderr: &bytes.Buffer{}}
	e := buildEngine(t, m, env)

	results, err := runCall(e, start)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if results[0].I32() != 0 {
		t.Fatalf("errno: got %d, want 0 (success)", results[0].I32())
	}
	if out.String() != "Hi\n" {
		t.Fatalf("stdout: got %q, want %q", out.String(), "Hi\n")
	}
	n, err := e.Memory().Load32(24, 0)
	if err != nil {
		t.Fatalf("Load32: %v", err)
	}
	if n != 3 {
		t.Fatalf("nwritten: got %d, want 3", n)
	}
}

func TestFdWriteUnknownFdTraps(t *testing.T) {
	m := testwasm.NewModule()
	m.Memory(1, 0, false)
	fdWriteType := m.Type(
		[]wasm.ValueType{wasm.I32, wasm.I32, wasm.I32, wasm.I32},
		[]wasm.ValueType{wasm.I32},
	)
	fdWrite := m.ImportFunc("wasi_snapshot_preview1", "fd_write", fdWriteType)
	startSig := m.Type(nil, []wasm.ValueType{wasm.I32})
	code := testwasm.NewCode().
		I32Const(99).I32Const(0).I32Const(0).I32Const(0).Call(fdWrite)
	start := m.Func(startSig, code)
	m.ExportFunc("_start", start)

	env := wasi.DefaultEnvironment(nil)
	e := buildEngine(t, m, env)
	_, err := runCall(e, start)
	trap, ok := err.(*runtime.Trap)
	if !ok {
		t.Fatalf("got %v (%T), want *runtime.Trap", err, err)
	}
	if trap.Kind != runtime.TrapBadFileDescriptor {
		t.Fatalf("trap kind: got %v, want %v", trap.Kind, runtime.TrapBadFileDescriptor)
	}
}

func TestProcExitPropagatesCode(t *testing.T) {
	m := testwasm.NewModule()
	m.Memory(1, 0, false)
	procExitType := m.Type([]wasm.ValueType{wasm.I32}, nil)
	procExit := m.ImportFunc("wasi_snapshot_preview1", "proc_exit", procExitType)
	startSig := m.Type(nil, nil)
	code := testwasm.NewCode().I32Const(42).Call(procExit)
	start := m.Func(startSig, code)
	m.ExportFunc("_start", start)

	env := wasi.DefaultEnvironment(nil)
	e := buildEngine(t, m, env)
	err := e.Run(context.Background())
	exit, ok := err.(*runtime.Exit)
	if !ok {
		t.Fatalf("got %v (%T), want *runtime.Exit", err, err)
	}
	if exit.Code != 42 {
		t.Fatalf("exit code: got %d, want 42", exit.Code)
	}
}

func TestNaturalTerminationExitsZero(t *testing.T) {
	m := testwasm.NewModule()
	m.Memory(1, 0, false)
	startSig := m.Type(nil, nil)
	start := m.Func(startSig, testwasm.NewCode().Nop())
	m.ExportFunc("_start", start)

	env := wasi.DefaultEnvironment(nil)
	e := buildEngine(t, m, env)
	err := e.Run(context.Background())
	exit, ok := err.(*runtime.Exit)
	if !ok {
		t.Fatalf("got %v (%T), want *runtime.Exit", err, err)
	}
	if exit.Code != 0 {
		t.Fatalf("exit code: got %d, want 0", exit.Code)
	}
}

// runCall invokes start directly via CallFunc rather than Run, since
// these fixtures' _start returns a value (the fd_write errno) instead of
// using the WASI process-exit convention.
func runCall(e *runtime.Engine, start wasm.FuncIdx) ([]runtime.Value, error) {
	return e.CallFunc(context.Background(), start, nil)
}
