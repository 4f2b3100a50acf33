package prof

import (
	"testing"
	"time"

	"github.com/stealthrocket/wasmi/internal/wasm"
)

// fixedClock returns a monotonically advancing, deterministic now() so
// profiler tests don't depend on wall-clock time.
func fixedClock() func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestCallSiteHashStableAndDistinct(t *testing.T) {
	a := CallSite{Func: 1, Block: -1, Instr: 3}
	b := CallSite{Func: 1, Block: -1, Instr: 3}
	if a.hash() != b.hash() {
		t.Fatal("identical call sites hashed differently")
	}
	c := CallSite{Func: 1, Block: -1, Instr: 4}
	if a.hash() == c.hash() {
		t.Fatal("distinct call sites hashed the same")
	}
}

func TestCPUProfilerSampleIgnoredBeforeStart(t *testing.T) {
	p := NewCPUProfiler(fixedClock())
	p.Sample(0, -1, 0)
	if len(p.counts) != 0 {
		t.Fatalf("got %d samples recorded before StartProfile, want 0", len(p.counts))
	}
}

func TestCPUProfilerAccumulatesCounts(t *testing.T) {
	p := NewCPUProfiler(fixedClock())
	p.StartProfile()
	site := CallSite{Func: 2, Block: -1, Instr: 5}
	p.Sample(site.Func, site.Block, site.Instr)
	p.Sample(site.Func, site.Block, site.Instr)
	p.Sample(3, -1, 0)

	prof := p.StopProfile()
	if len(prof.Sample) != 2 {
		t.Fatalf("got %d samples, want 2 distinct call sites", len(prof.Sample))
	}
	var total int64
	for _, s := range prof.Sample {
		total += s.Value[0]
	}
	if total != 3 {
		t.Fatalf("got total count %d, want 3", total)
	}
	if len(prof.Function) != 2 {
		t.Fatalf("got %d functions, want 2", len(prof.Function))
	}
}

func TestCPUProfilerSampledStepRespectsRate(t *testing.T) {
	p := NewCPUProfiler(fixedClock())
	p.StartProfile()
	step := p.SampledStep(0.5) // one in every two instructions
	for i := 0; i < 10; i++ {
		step(0, -1, i)
	}
	prof := p.StopProfile()
	var total int64
	for _, s := range prof.Sample {
		total += s.Value[0]
	}
	if total != 5 {
		t.Fatalf("got %d samples recorded, want 5", total)
	}
}

func TestCPUProfilerStopResetsActive(t *testing.T) {
	p := NewCPUProfiler(fixedClock())
	p.StartProfile()
	p.Sample(0, -1, 0)
	p.StopProfile()
	p.Sample(0, -1, 1)
	if len(p.counts) != 1 {
		t.Fatalf("got %d samples, want 1 (post-stop sample must be dropped)", len(p.counts))
	}
}

func TestMemoryProfilerRecordsGrownBytes(t *testing.T) {
	p := NewMemoryProfiler(fixedClock())
	p.OnGrow(1, 2)
	p.OnGrow(3, 1)

	prof := p.NewProfile()
	if len(prof.Sample) != 2 {
		t.Fatalf("got %d samples, want 2", len(prof.Sample))
	}
	wantBytes := []int64{2 * wasm.PageSize, 1 * wasm.PageSize}
	for i, s := range prof.Sample {
		if s.Value[0] != 1 {
			t.Fatalf("sample %d: grows count = %d, want 1", i, s.Value[0])
		}
		if s.Value[1] != wantBytes[i] {
			t.Fatalf("sample %d: grown bytes = %d, want %d", i, s.Value[1], wantBytes[i])
		}
	}
}

func TestMemoryProfilerSharesOneLocation(t *testing.T) {
	p := NewMemoryProfiler(fixedClock())
	p.OnGrow(0, 1)
	p.OnGrow(1, 1)
	prof := p.NewProfile()
	if len(prof.Location) != 1 || len(prof.Function) != 1 {
		t.Fatalf("got %d locations / %d functions, want 1 / 1", len(prof.Location), len(prof.Function))
	}
}
