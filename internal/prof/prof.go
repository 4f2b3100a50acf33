// Package prof profiles the interpreter itself: a CPU profiler samples
// the dispatch loop's current call site, a heap profiler samples
// memory.grow calls, and both are rendered to pprof's profile.Profile for
// `--cpuprofile`/`--memprofile`.
package prof

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/pprof/profile"

	"github.com/stealthrocket/wasmi/internal/wasm"
)

// CallSite identifies one sampled point in the dispatch loop: the
// function being executed, the block-table entry currently active (-1 at
// function top level), and the instruction's position within it.
type CallSite struct {
	Func  wasm.FuncIdx
	Block int32
	Instr int
}

// hash interns a call site into a compact map key, xxhash applied to the
// (func, block, instr) triple that identifies a sampled point in the
// dispatch loop.
func (c CallSite) hash() uint64 {
	var buf [16]byte
	putU32(buf[0:], uint32(c.Func))
	putU32(buf[4:], uint32(c.Block))
	putU32(buf[8:], uint32(c.Instr))
	return xxhash.Sum64(buf[:])
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// CPUProfiler samples dispatched call sites and aggregates them into a
// hit count per site, keyed by the call site's interned hash.
type CPUProfiler struct {
	now func() time.Time

	mu      sync.Mutex
	counts  map[uint64]int64
	sites   map[uint64]CallSite
	started time.Time
	active  bool
}

func NewCPUProfiler(now func() time.Time) *CPUProfiler {
	return &CPUProfiler{
		now:    now,
		counts: make(map[uint64]int64),
		sites:  make(map[uint64]CallSite),
	}
}

func (p *CPUProfiler) StartProfile() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = p.now()
	p.active = true
}

// Sample records one dispatched instruction. Called directly as
// runtime.Engine.OnStep when sampling is enabled; the caller is
// responsible for applying a sample rate (SampledStep below) since every
// instruction is too hot a path to record unconditionally.
func (p *CPUProfiler) Sample(fn wasm.FuncIdx, block int32, instr int) {
	if !p.active {
		return
	}
	site := CallSite{Func: fn, Block: block, Instr: instr}
	key := site.hash()
	p.mu.Lock()
	p.counts[key]++
	p.sites[key] = site
	p.mu.Unlock()
}

// SampledStep returns an Engine.OnStep hook that forwards to Sample only
// every 1/rate instructions, keeping the per-instruction overhead of
// profiling bounded.
func (p *CPUProfiler) SampledStep(rate float64) func(wasm.FuncIdx, int32, int) {
	if rate <= 0 {
		rate = 1
	}
	stride := int(1 / rate)
	if stride < 1 {
		stride = 1
	}
	n := 0
	return func(fn wasm.FuncIdx, block int32, instr int) {
		n++
		if n%stride == 0 {
			p.Sample(fn, block, instr)
		}
	}
}

// StopProfile renders the accumulated counts into a pprof CPU profile.
func (p *CPUProfiler) StopProfile() *profile.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.active = false }()

	duration := p.now().Sub(p.started)

	samplesType := &profile.ValueType{Type: "samples", Unit: "count"}
	prof := &profile.Profile{
		SampleType:    []*profile.ValueType{samplesType},
		DurationNanos: duration.Nanoseconds(),
		TimeNanos:     p.started.UnixNano(),
	}

	keys := make([]uint64, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	funcByIdx := map[wasm.FuncIdx]*profile.Function{}
	for _, k := range keys {
		site := p.sites[k]
		fn, ok := funcByIdx[site.Func]
		if !ok {
			fn = &profile.Function{
				ID:   uint64(len(prof.Function)) + 1,
				Name: fmt.Sprintf("func[%d]", site.Func),
			}
			prof.Function = append(prof.Function, fn)
			funcByIdx[site.Func] = fn
		}
		loc := &profile.Location{
			ID:   uint64(len(prof.Location)) + 1,
			Line: []profile.Line{{Function: fn, Line: int64(site.Instr)}},
		}
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{p.counts[k]},
		})
	}
	return prof
}

// MemoryProfiler samples memory.grow calls, rendering them as a
// heap-growth profile.
type MemoryProfiler struct {
	now func() time.Time

	mu    sync.Mutex
	grows []growSample
}

type growSample struct {
	oldPages, deltaPages uint32
	at                   time.Time
}

func NewMemoryProfiler(now func() time.Time) *MemoryProfiler {
	return &MemoryProfiler{now: now}
}

// OnGrow is installed as runtime.Engine.OnMemoryGrow.
func (p *MemoryProfiler) OnGrow(oldPages, deltaPages uint32) {
	p.mu.Lock()
	p.grows = append(p.grows, growSample{oldPages: oldPages, deltaPages: deltaPages, at: p.now()})
	p.mu.Unlock()
}

// NewProfile renders accumulated memory.grow calls into a pprof heap
// profile: one sample per call, valued in bytes grown.
func (p *MemoryProfiler) NewProfile() *profile.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	growsType := &profile.ValueType{Type: "grows", Unit: "count"}
	bytesType := &profile.ValueType{Type: "grown_bytes", Unit: "bytes"}
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{growsType, bytesType},
	}
	fn := &profile.Function{ID: 1, Name: "memory.grow"}
	prof.Function = []*profile.Function{fn}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	prof.Location = []*profile.Location{loc}

	for _, g := range p.grows {
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1, int64(g.deltaPages) * wasm.PageSize},
		})
	}
	return prof
}

// WriteProfile gzip-encodes prof to path in pprof's standard format.
func WriteProfile(path string, prof *profile.Profile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	defer f.Close()
	if err := prof.Write(f); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}
