// Package stalker is the public surface of the engine: construct an
// Engine with its OS-specific collaborators, then drive it with
// Follow/Unfollow, Activate/Deactivate, Exclude, SetTrustThreshold,
// Invalidate, AddCallProbe/RemoveCallProbe and the lifecycle calls
// (spec.md §6). Everything under internal/ is implementation detail
// this package wires together.
package stalker

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"

	"github.com/0xDC00/frida-gum/internal/compiler"
	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/dispatch"
	"github.com/0xDC00/frida-gum/internal/engtypes"
	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/gclife"
	"github.com/0xDC00/frida-gum/internal/osmem"
	"github.com/0xDC00/frida-gum/internal/osthread"
	"github.com/0xDC00/frida-gum/internal/slab"
)

// The collaborator interfaces below are re-exported from their owning
// internal package so callers never need to import internal/... paths
// themselves to construct an Engine, following the same alias idiom
// alias.go already uses for the event/transform/probe types.
type (
	Decoder          = decode.Decoder
	Mapper           = osmem.Mapper
	ThreadController = osthread.Controller
	NativeBridge     = dispatch.NativeBridge
	GuestReader      = compiler.GuestReader
)

// probeEntry is the reverse index AddCallProbe/RemoveCallProbe needs to
// find a probe's bucket by id without scanning every address.
type probeEntry struct {
	addr  uintptr
	probe *engtypes.Probe
}

// Engine owns every collaborator and every followed thread's
// ExecContext (spec.md §5: "One engine instance owns N ExecContexts").
type Engine struct {
	decoder decode.Decoder
	threads osthread.Controller
	bridge  NativeBridge

	alloc      *slab.Allocator
	gates      *dispatch.Table
	comp       *compiler.Compiler
	dispatcher *dispatch.Dispatcher
	sweeper    *gclife.Sweeper

	trustThreshold atomic.Int64
	nextProbeID    uint64

	mu       sync.Mutex
	contexts map[osthread.ID]*execctx.Context
	handles  map[uintptr]*execctx.Context
	primary  osthread.ID

	excludeMu sync.Mutex
	excluded  []Range

	probesMu   sync.Mutex
	probes     map[uintptr][]*engtypes.Probe
	probesByID map[ProbeID]probeEntry
}

// New builds an Engine around its OS-specific collaborators. bridge may
// be nil: the resulting Engine can still be exercised as a pure
// translation pipeline (Compile, probes, exclusion) but has no way to
// make a live thread actually call back into it, since that requires the
// assembly-backed NativeBridge implementation spec.md §1 and
// internal/dispatch.NativeBridge's doc comment both call out as outside
// this tree's scope.
func New(decoder Decoder, mapper Mapper, threads ThreadController, bridge NativeBridge, reader GuestReader, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	alloc := slab.New(mapper)
	gates := dispatch.NewTable()

	e := &Engine{
		decoder:    decoder,
		threads:    threads,
		bridge:     bridge,
		alloc:      alloc,
		gates:      gates,
		contexts:   make(map[osthread.ID]*execctx.Context),
		handles:    make(map[uintptr]*execctx.Context),
		probes:     make(map[uintptr][]*engtypes.Probe),
		probesByID: make(map[ProbeID]probeEntry),
	}
	e.trustThreshold.Store(cfg.trustThreshold)

	e.comp = &compiler.Compiler{
		Decoder:        decoder,
		Mode:           decode.Mode64,
		Alloc:          alloc,
		Gates:          gates,
		Reader:         reader,
		Probes:         e,
		ICEntries:      cfg.icEntries,
		TrustThreshold: cfg.trustThreshold,
		HasAVX2:        cpu.X86.HasAVX2,
	}

	e.dispatcher = &dispatch.Dispatcher{
		Gates:    gates,
		Observer: cfg.observer,
		Compiler: e,
	}

	e.sweeper = gclife.New(gclife.Config{RecentExitGrace: cfg.recentExitGrace}, e)

	if err := e.installGates(); err != nil {
		return nil, err
	}
	return e, nil
}

// installGates asks the NativeBridge for a trampoline per entry gate
// (spec.md §4.F) and records each trampoline's address in the gate
// table the compiler resolves "gate:<name>" fixups against.
func (e *Engine) installGates() error {
	names := []dispatch.GateName{
		dispatch.GateCallImm, dispatch.GateCallReg, dispatch.GateCallMem,
		dispatch.GateJmpImm, dispatch.GateJmpReg, dispatch.GateJmpMem,
		dispatch.GateJmpCondTrue, dispatch.GateJmpCondFalse,
		dispatch.GateRetSlowPath, dispatch.GateSysenterCont,
		dispatch.GateExcludedEnter, dispatch.GateExcludedExit,
	}
	if e.bridge == nil {
		// No trampolines exist: gate calls resolve to address 0, as the
		// probe-invoker call does with a zero InvokeProbesAddr, so blocks
		// still compile but their gate calls cannot run.
		for _, name := range names {
			e.gates.Register(name, 0)
		}
		return nil
	}
	for _, name := range names {
		name := name
		addr, err := e.bridge.Install(name, func(ctxHandle, guestTarget uintptr) (uintptr, error) {
			ctx := e.contextByHandle(ctxHandle)
			if ctx == nil {
				return 0, errors.Errorf("stalker: gate %s called with unknown context handle %#x", name, ctxHandle)
			}
			return e.dispatcher.SwitchBlock(ctx, guestTarget)
		})
		if err != nil {
			return errors.Wrapf(err, "stalker: install gate %s", name)
		}
		e.gates.Register(name, addr)
	}

	addr, err := e.bridge.InstallProbeInvoker(e.invokeProbes)
	if err != nil {
		return errors.Wrap(err, "stalker: install probe invoker")
	}
	e.comp.InvokeProbesAddr = addr
	return nil
}

// invokeProbes is the Go-side half of the full-prolog call-probe
// trampoline (spec.md §4.E.8). Decoding cpuCtxAddr into a CPUContext
// needs the same native stack-layout knowledge internal/prolog's
// EmitFull bakes into its assembly-level frame; that decode belongs to
// whatever NativeBridge implementation built the trampoline, not to this
// package, so callbacks here are handed the guest PC and target but no
// CPUContext.
func (e *Engine) invokeProbes(_, guestPC uintptr) {
	for _, p := range e.ProbesFor(guestPC) {
		p.Callback(CallDetails{Target: guestPC}, p.UserData)
	}
}

// ProbesFor implements internal/compiler.ProbeTable.
func (e *Engine) ProbesFor(guestAddr uintptr) []*engtypes.Probe {
	e.probesMu.Lock()
	defer e.probesMu.Unlock()
	return append([]*engtypes.Probe(nil), e.probes[guestAddr]...)
}

// Compile implements internal/dispatch.Compiler: the trust-threshold and
// snapshot-compare reuse decision from spec.md §4.B, falling through to
// a real recompile only when neither lets the existing block be reused.
func (e *Engine) Compile(ctx *execctx.Context, guestAddr uintptr) (*execctx.Block, error) {
	if blk := ctx.Lookup(guestAddr); blk != nil && !blk.IsInvalidated() {
		trusted, mustCompare := blk.Trusted(e.trustThreshold.Load())
		if trusted {
			blk.RecycleCount++
			return blk, nil
		}
		if mustCompare && e.comp.Reader != nil {
			live, err := e.comp.Reader.ReadGuestBytes(guestAddr, blk.GuestSize)
			if err == nil && blk.SnapshotMatches(live) {
				blk.RecycleCount++
				return blk, nil
			}
		}
	}
	return e.comp.Compile(ctx, guestAddr)
}

func (e *Engine) lookupContext(tid osthread.ID) (*execctx.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, ok := e.contexts[tid]
	return ctx, ok
}

func (e *Engine) contextByHandle(h uintptr) *execctx.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[h]
}

// handleOf mints the stable ctxHandle value a gate trampoline passes
// back into BridgeFunc: the ExecContext's own address. Contexts are
// heap-allocated and never moved out from under a live pointer by value,
// so converting through unsafe.Pointer here is safe for the lifetime of
// the handles map entry (cleared in forgetContext/GarbageCollect before
// the Context becomes collectible).
func handleOf(ctx *execctx.Context) uintptr { return uintptr(unsafe.Pointer(ctx)) }
