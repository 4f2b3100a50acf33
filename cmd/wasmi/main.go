// Command wasmi runs a WebAssembly module against this package's own
// interpreter and WASI preview1 host.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/stealthrocket/wasmi/internal/decode"
	"github.com/stealthrocket/wasmi/internal/link"
	"github.com/stealthrocket/wasmi/internal/prof"
	"github.com/stealthrocket/wasmi/internal/runtime"
	"github.com/stealthrocket/wasmi/internal/wasi"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// program separates parsed flags from execution so program.run is
// testable without pflag's global FlagSet.
type program struct {
	filePath   string
	cpuProfile string
	memProfile string
	trace      bool
	mounts     []string
	guestArgs  []string
}

func (prog *program) run(ctx context.Context) error {
	wasmName := filepath.Base(prog.filePath)
	wasmCode, err := os.ReadFile(prog.filePath)
	if err != nil {
		return fmt.Errorf("loading wasm module: %w", err)
	}

	for _, m := range prog.mounts {
		log.Printf("mount %s recorded, not honored: this profile has no filesystem WASI surface", m)
	}

	mod, err := decode.Decode(wasmCode)
	if err != nil {
		return fmt.Errorf("decoding wasm module: %w", err)
	}
	linked, err := link.Link(mod)
	if err != nil {
		return fmt.Errorf("linking wasm module: %w", err)
	}

	env := wasi.DefaultEnvironment(append([]string{wasmName}, prog.guestArgs...))
	if prog.trace {
		env.Stdout = &tracingWriter{name: "fd_write(1)", w: env.Stdout}
		env.Stderr = &tracingWriter{name: "fd_write(2)", w: env.Stderr}
	}

	e, err := runtime.NewEngine(linked, wasi.Host(env))
	if err != nil {
		return fmt.Errorf("linking wasm module: %w", err)
	}

	var cpu *prof.CPUProfiler
	var mem *prof.MemoryProfiler
	if prog.cpuProfile != "" {
		cpu = prof.NewCPUProfiler(time.Now)
		e.OnStep = cpu.SampledStep(defaultSampleRate)
		cpu.StartProfile()
		defer func() {
			if err := prof.WriteProfile(prog.cpuProfile, cpu.StopProfile()); err != nil {
				log.Printf("writing CPU profile: %s", err)
			}
		}()
	}
	if prog.memProfile != "" {
		mem = prof.NewMemoryProfiler(time.Now)
		e.OnMemoryGrow = mem.OnGrow
		defer func() {
			if err := prof.WriteProfile(prog.memProfile, mem.NewProfile()); err != nil {
				log.Printf("writing memory profile: %s", err)
			}
		}()
	}

	log.Printf("running %s", wasmName)
	err = e.Run(ctx)

	if exit, ok := err.(*runtime.Exit); ok {
		if exit.Code != 0 {
			return exit
		}
		return nil
	}
	return err
}

// tracingWriter logs every host write, the --trace surface for fd_write,
// args_get and environ_get (the latter two have nothing to write through
// this, so only fd_write is observable this way).
type tracingWriter struct {
	name string
	w    io.Writer
}

func (t *tracingWriter) Write(p []byte) (int, error) {
	log.Printf("%s: %q", t.name, p)
	return t.w.Write(p)
}

const defaultSampleRate = 1.0 / 19

var (
	cpuProfile string
	memProfile string
	trace      bool
	mounts     []string
)

func init() {
	log.Default().SetOutput(os.Stderr)
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile of the interpreter's own instruction dispatch to this file on exit.")
	flag.StringVar(&memProfile, "memprofile", "", "Write a profile of the guest's memory.grow calls to this file on exit.")
	flag.BoolVar(&trace, "trace", false, "Log every fd_write to stdout/stderr on the host's stderr.")
	flag.StringSliceVar(&mounts, "mount", nil, "Comma-separated host:guest directory aliases (recorded, not mounted).")
}

func run(ctx context.Context) error {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		return fmt.Errorf("usage: wasmi [flags] <module.wasm> [guest-args...]")
	}

	return (&program{
		filePath:   args[0],
		cpuProfile: cpuProfile,
		memProfile: memProfile,
		trace:      trace,
		mounts:     mounts,
		guestArgs:  args[1:],
	}).run(ctx)
}

// exitCode maps a run's outcome to a process exit status: a guest's
// proc_exit propagates its own code, everything else (decode error, link
// error, trap) is a plain failure.
func exitCode(err error) int {
	if exit, ok := err.(*runtime.Exit); ok {
		return int(exit.Code)
	}
	return 1
}
