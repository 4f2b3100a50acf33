// Package wasi implements the subset of wasi_snapshot_preview1 this
// interpreter supports: process exit, gather-write to a file descriptor,
// and the command-line argument/environment accessors. Anything outside
// that subset, or any import outside the wasi_snapshot_preview1
// namespace, is a fatal linking error rather than a runtime trap — a
// guest that needs a host function we don't provide cannot be run at all.
package wasi

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/stealthrocket/wasmi/internal/runtime"
)

const namespace = "wasi_snapshot_preview1"

// errno mirrors the handful of wasi_snapshot_preview1 status codes this
// subset can return to the guest; unlike a Trap, an errno is not fatal to
// the interpreter, it's a normal return value the guest is expected to
// check.
type errno = int32

const (
	errnoSuccess errno = 0
	errnoInval   errno = 28
)

// Environment bundles the process-level state WASI calls observe: the
// guest's argv/envp, replayed verbatim, and the writers backing fd 1/2.
type Environment struct {
	Args    []string
	Environ []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Host builds the runtime.Host entry for wasi_snapshot_preview1 against
// env, ready to pass to runtime.NewEngine.
func Host(env *Environment) runtime.Host {
	return runtime.Host{
		namespace: map[string]runtime.HostFunc{
			"proc_exit":          env.procExit,
			"fd_write":           env.fdWrite,
			"args_sizes_get":     env.argsSizesGet,
			"args_get":           env.argsGet,
			"environ_sizes_get":  env.environSizesGet,
			"environ_get":        env.environGet,
		},
	}
}

func (env *Environment) procExit(_ context.Context, _ *runtime.Engine, args []runtime.Value) ([]runtime.Value, error) {
	return nil, &runtime.Exit{Code: args[0].I32()}
}

// fdWrite gathers the iovec array at iovsPtr/iovsLen and writes it to fd 1
// or fd 2, storing the total byte count at nwrittenPtr. Any other fd
// traps: this profile backs only stdout/stderr, so a guest writing
// elsewhere has stepped outside the host contract rather than made a
// recoverable request.
func (env *Environment) fdWrite(_ context.Context, e *runtime.Engine, args []runtime.Value) ([]runtime.Value, error) {
	fd := args[0].I32()
	iovsPtr := args[1].U32()
	iovsLen := args[2].U32()
	nwrittenPtr := args[3].U32()

	var w io.Writer
	switch fd {
	case 1:
		w = env.Stdout
	case 2:
		w = env.Stderr
	default:
		return nil, &runtime.Trap{Kind: runtime.TrapBadFileDescriptor, Detail: fmt.Sprintf("fd_write on fd %d", fd)}
	}

	mem := e.Memory().Bytes()
	var total uint32
	for i := uint32(0); i < iovsLen; i++ {
		entry := iovsPtr + i*8
		if uint64(entry)+8 > uint64(len(mem)) {
			return []runtime.Value{runtime.I32Value(errnoInval)}, nil
		}
		base := binary.LittleEndian.Uint32(mem[entry:])
		length := binary.LittleEndian.Uint32(mem[entry+4:])
		if uint64(base)+uint64(length) > uint64(len(mem)) {
			return []runtime.Value{runtime.I32Value(errnoInval)}, nil
		}
		n, err := w.Write(mem[base : base+length])
		if err != nil {
			return nil, fmt.Errorf("wasi fd_write: %w", err)
		}
		total += uint32(n)
	}

	if uint64(nwrittenPtr)+4 > uint64(len(mem)) {
		return []runtime.Value{runtime.I32Value(errnoInval)}, nil
	}
	binary.LittleEndian.PutUint32(mem[nwrittenPtr:], total)
	return []runtime.Value{runtime.I32Value(errnoSuccess)}, nil
}

func (env *Environment) argsSizesGet(_ context.Context, e *runtime.Engine, args []runtime.Value) ([]runtime.Value, error) {
	return writeSizes(e, args[0].U32(), args[1].U32(), env.Args)
}

func (env *Environment) argsGet(_ context.Context, e *runtime.Engine, args []runtime.Value) ([]runtime.Value, error) {
	return writeStrings(e, args[0].U32(), args[1].U32(), env.Args)
}

func (env *Environment) environSizesGet(_ context.Context, e *runtime.Engine, args []runtime.Value) ([]runtime.Value, error) {
	return writeSizes(e, args[0].U32(), args[1].U32(), env.Environ)
}

func (env *Environment) environGet(_ context.Context, e *runtime.Engine, args []runtime.Value) ([]runtime.Value, error) {
	return writeStrings(e, args[0].U32(), args[1].U32(), env.Environ)
}

// writeSizes implements the *_sizes_get pair shared by args and environ:
// the count of entries, and the total byte length of all entries each
// followed by a NUL terminator.
func writeSizes(e *runtime.Engine, countPtr, bufSizePtr uint32, entries []string) ([]runtime.Value, error) {
	mem := e.Memory().Bytes()
	if uint64(countPtr)+4 > uint64(len(mem)) || uint64(bufSizePtr)+4 > uint64(len(mem)) {
		return []runtime.Value{runtime.I32Value(errnoInval)}, nil
	}
	var bufSize uint32
	for _, s := range entries {
		bufSize += uint32(len(s)) + 1
	}
	binary.LittleEndian.PutUint32(mem[countPtr:], uint32(len(entries)))
	binary.LittleEndian.PutUint32(mem[bufSizePtr:], bufSize)
	return []runtime.Value{runtime.I32Value(errnoSuccess)}, nil
}

// writeStrings implements the *_get pair: an array of pointers into a
// single NUL-separated buffer, both already sized by *_sizes_get.
func writeStrings(e *runtime.Engine, ptrsPtr, bufPtr uint32, entries []string) ([]runtime.Value, error) {
	mem := e.Memory().Bytes()
	cursor := bufPtr
	for i, s := range entries {
		entryPtr := ptrsPtr + uint32(i)*4
		if uint64(entryPtr)+4 > uint64(len(mem)) {
			return []runtime.Value{runtime.I32Value(errnoInval)}, nil
		}
		binary.LittleEndian.PutUint32(mem[entryPtr:], cursor)
		end := cursor + uint32(len(s)) + 1
		if uint64(end) > uint64(len(mem)) {
			return []runtime.Value{runtime.I32Value(errnoInval)}, nil
		}
		copy(mem[cursor:], s)
		mem[cursor+uint32(len(s))] = 0
		cursor = end
	}
	return []runtime.Value{runtime.I32Value(errnoSuccess)}, nil
}

// DefaultEnvironment builds an Environment from the given guest argv and
// the host process's own envp and stdio, the configuration cmd/wasmi
// wires by default.
func DefaultEnvironment(guestArgs []string) *Environment {
	return &Environment{
		Args:    guestArgs,
		Environ: os.Environ(),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}
