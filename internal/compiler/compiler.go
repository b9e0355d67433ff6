// Package compiler implements the block compiler (spec.md §4.D): given
// a guest start address it decodes, transforms, and virtualizes one
// basic block at a time, emitting into a context's code slab via
// internal/asmx64 and internal/virt.
package compiler

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/dispatch"
	"github.com/0xDC00/frida-gum/internal/engtypes"
	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/prolog"
	"github.com/0xDC00/frida-gum/internal/slab"
	"github.com/0xDC00/frida-gum/internal/virt"
)

// minBlockCapacity is the smallest translated-block size the compiler
// ever reserves; combined with the snapshot size and IC entries, it
// forms the out-of-space test in spec.md §4.D step 4.
const minBlockCapacity = 64

// GuestReader reads live bytes out of the guest address space, standing
// in for spec.md §4.D step 2's "ensure the guest pages are readable"
// (the OS memory primitive is an external collaborator per spec.md §1).
type GuestReader interface {
	ReadGuestBytes(addr uintptr, n int) ([]byte, error)
}

// ProbeTable looks up call probes registered for a guest address
// (spec.md §4.E.8); the stalker package's probe registry implements
// this.
type ProbeTable interface {
	ProbesFor(guestAddr uintptr) []*engtypes.Probe
}

// Compiler holds the engine-wide collaborators the block compiler
// needs: the decoder, the slab allocator, the gate table, the excluded
// ranges, and the registered probes. One Compiler is shared by every
// ExecContext in the engine.
type Compiler struct {
	Decoder        decode.Decoder
	Mode           decode.Mode
	Alloc          *slab.Allocator
	Gates          *dispatch.Table
	Reader         GuestReader
	Probes         ProbeTable
	Excluded       []virt.Range
	ICEntries      int
	TrustThreshold int64
	HasAVX2        bool

	// InvokeProbesAddr is the address of the Go-side routine a
	// full-prolog call-probe trampoline calls into (spec.md §4.E.8).
	InvokeProbesAddr uintptr

	// SlabSpec controls where fresh code/data slabs land relative to the
	// context (spec.md §4.A).
	SlabSpec slab.Spec
}

// Compile implements spec.md §4.D's six-step algorithm for guestStart
// within ctx. It allocates code/data slabs on demand, and chains
// continuation blocks when it runs out of slab room mid-block.
func (c *Compiler) Compile(ctx *execctx.Context, guestStart uintptr) (*execctx.Block, error) {
	ctx.CodeLock.Lock()
	defer ctx.CodeLock.Unlock()
	return c.compileLocked(ctx, guestStart)
}

// compileLocked is Compile's body, callable re-entrantly while
// ctx.CodeLock is already held (commit's continuation-chaining call),
// since sync.Mutex isn't reentrant.
func (c *Compiler) compileLocked(ctx *execctx.Context, guestStart uintptr) (*execctx.Block, error) {
	if err := c.ensureSlabs(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureHelpers(ctx); err != nil {
		return nil, err
	}

	if c.Reader != nil {
		if _, err := c.Reader.ReadGuestBytes(guestStart, 1); err != nil {
			// spec.md §7: "abort the translation and single-step the one
			// instruction" is the canonical policy; callers see this as
			// an error and fall back accordingly.
			return nil, wrapPageUnreadable(err, guestStart)
		}
	}

	w := &asmx64.Writer{}
	em := virt.NewEmitter(w, c.Gates, c.ICEntries, ctx, c.Excluded)

	if probes := c.probesFor(guestStart); len(probes) > 0 {
		em.EmitCallProbeTrampoline(ctx.Helpers.Full.Layout, ctx.Helpers.Full.Entry, c.InvokeProbesAddr, ctx.Helpers.FullEpilog)
	}

	insns, totalGuestSize, err := c.decodeBlock(guestStart)
	if err != nil {
		return nil, err
	}

	snapshotSpace := 0
	if c.TrustThreshold > 0 && c.Reader != nil {
		snapshotSpace = totalGuestSize // commit appends a guest snapshot
	}

	out := &engtypes.Output{}
	it := engtypes.NewIterator(insns, out)
	if ctx.Transformer != nil {
		ctx.Transformer.TransformBlock(it, out)
	} else {
		for it.Next() {
			it.Keep()
		}
	}

	keepSet := make(map[int]bool, len(out.Keeps))
	for _, idx := range out.Keeps {
		keepSet[idx] = true
	}
	calloutByIdx := make(map[int][]engtypes.CalloutAt)
	for _, co := range out.Callouts {
		calloutByIdx[co.AfterIdx] = append(calloutByIdx[co.AfterIdx], co)
	}

	var icArrays []*execctx.ICArray
	var callSites []execctx.CallSite
	var continuation uintptr
	for i, insn := range insns {
		if keepSet[i] {
			res := c.emitInstruction(em, insn)
			if res.icArray != nil {
				icArrays = append(icArrays, res.icArray)
			}
			if res.staticallyBackpatchable {
				callSites = append(callSites, execctx.CallSite{
					CodeOffset:  res.gateFixupOffset,
					GuestTarget: res.guestTarget,
				})
			}
		}
		for range calloutByIdx[i] {
			em.EmitCallProbeTrampoline(ctx.Helpers.Full.Layout, ctx.Helpers.Full.Entry, c.InvokeProbesAddr, ctx.Helpers.FullEpilog)
		}

		if w.Len()+minBlockCapacity+snapshotSpace+icEntrySpace(c.ICEntries) > ctx.CodeSlabs.Remaining() {
			// spec.md §4.D step 4: out-of-space. Stop early and chain a
			// continuation block picking up at the next guest
			// instruction. The jump to it can't be emitted into w yet
			// (its address isn't known until the continuation itself is
			// compiled), so commit reserves five trailing bytes and
			// patches them directly once that address exists.
			continuation = insn.End()
			break
		}
	}
	if continuation == 0 {
		w.Int3() // trailing trap (spec.md §4.D step 5: "should be unreachable")
	}

	return c.commit(ctx, guestStart, totalGuestSize, w, icArrays, callSites, continuation)
}

func icEntrySpace(n int) int { return n * execctx.ICEntrySize }

func (c *Compiler) probesFor(guestAddr uintptr) []*engtypes.Probe {
	if c.Probes == nil {
		return nil
	}
	return c.Probes.ProbesFor(guestAddr)
}

// decodeBlock decodes guest instructions from addr until it hits a
// control-transfer instruction (the end of the basic block) or a decode
// error.
func (c *Compiler) decodeBlock(addr uintptr) ([]decode.Instruction, int, error) {
	var insns []decode.Instruction
	cursor := addr
	total := 0
	for {
		var buf []byte
		if c.Reader != nil {
			b, err := c.Reader.ReadGuestBytes(cursor, 16)
			if err != nil {
				return nil, 0, wrapPageUnreadable(err, cursor)
			}
			buf = b
		}
		in, derr := c.Decoder.Decode(buf, cursor, c.Mode)
		if derr != nil {
			return nil, 0, wrapUnsupported(derr, cursor)
		}
		insns = append(insns, in)
		total += in.Len
		cursor = in.End()
		if decode.Classify(in) != decode.KindOther {
			break
		}
	}
	return insns, total, nil
}

// emitResult is emitInstruction's internal summary of what one kept
// instruction produced, collapsing virt's per-opcode CallResult/JmpResult/
// JccResult shapes into what the compiler needs to populate
// execctx.Block.CallSites and ICArrays (spec.md §4.G, §4.E.2).
type emitResult struct {
	icArray                 *execctx.ICArray
	staticallyBackpatchable bool
	gateFixupOffset         int
	guestTarget             uintptr
}

// emitInstruction dispatches one kept instruction to its virtualization
// strategy (spec.md §4.E).
func (c *Compiler) emitInstruction(em *virt.Emitter, insn decode.Instruction) emitResult {
	switch decode.Classify(insn) {
	case decode.KindCallImm:
		r := em.EmitDirectCall(insn)
		if r.GateFixupOffset != 0 {
			return emitResult{staticallyBackpatchable: true, gateFixupOffset: r.GateFixupOffset, guestTarget: decode.DirectTarget(insn)}
		}
	case decode.KindCallIndirect:
		_, isReg, _ := decode.IndirectOperand(insn)
		r := em.EmitIndirectCall(insn, !isReg)
		return emitResult{icArray: r.ICArray}
	case decode.KindJmpImm:
		r := em.EmitDirectJmp(insn)
		return emitResult{staticallyBackpatchable: true, gateFixupOffset: r.GateFixupOffset, guestTarget: decode.DirectTarget(insn)}
	case decode.KindJmpIndirect:
		_, isReg, _ := decode.IndirectOperand(insn)
		r := em.EmitIndirectJmp(insn, !isReg)
		return emitResult{icArray: r.ICArray}
	case decode.KindJcc:
		em.EmitJcc(insn, decode.CondCodeFor(insn))
		// Neither the taken nor the fall-through fixup is recorded as a
		// CallSite, matching spec.md §4.G's silence on backpatching jcc
		// arms (only call/jmp/ret are named as static-backpatch cases).
	case decode.KindRet:
		em.EmitRet(insn.Addr)
	case decode.KindSysenter:
		em.EmitSysenter(0)
	default:
		em.W.EmitBytes(insn.Bytes()...)
	}
	return emitResult{}
}

// ensureSlabs lazily allocates the first code and data slabs for a
// context, near the context's own address so helpers and inline data
// stay within rel32 reach (spec.md §4.A).
func (c *Compiler) ensureSlabs(ctx *execctx.Context) error {
	if ctx.CodeSlabs != nil {
		return nil
	}
	s, err := c.Alloc.NewSlab(context.Background(), slab.KindCode, c.SlabSpec, slab.DefaultSlabSize)
	if err != nil {
		return errors.Wrap(err, "compiler: allocate initial code slab")
	}
	ctx.CodeSlabs = s
	d, err := c.Alloc.NewSlab(context.Background(), slab.KindData, c.SlabSpec, slab.DefaultSlabSize)
	if err != nil {
		return errors.Wrap(err, "compiler: allocate initial data slab")
	}
	ctx.DataSlabs = d
	return nil
}

// ensureHelpers emits the three prolog/epilog pairs once per context,
// into its first code slab; slabs pushed later get no copies of their own.
func (c *Compiler) ensureHelpers(ctx *execctx.Context) error {
	if ctx.Helpers.Ready {
		return nil
	}
	if err := c.Alloc.Thaw(ctx.CodeSlabs); err != nil {
		return errors.Wrap(err, "compiler: thaw for helper emission")
	}

	w := &asmx64.Writer{}
	icEntry, icLayout := prolog.EmitIC(w)
	icEpilog := prolog.EmitICEpilog(w)
	minEntry, minLayout := prolog.EmitMinimal(w, c.HasAVX2)
	minEpilog := prolog.EmitMinimalEpilog(w, minLayout)
	fullEntry, fullLayout := prolog.EmitFull(w, c.HasAVX2)
	fullEpilog := prolog.EmitFullEpilog(w, fullLayout)

	base, err := ctx.CodeSlabs.Reserve(w.Len())
	if err != nil {
		return errors.Wrap(err, "compiler: reserve helper space")
	}
	copy(ctx.CodeSlabs.Bytes()[int(base-ctx.CodeSlabs.Base()):], w.Code)

	ctx.Helpers = execctx.Helpers{
		IC:            execctx.HelperAddr{Entry: base + uintptr(icEntry), Layout: icLayout},
		ICEpilog:      base + uintptr(icEpilog),
		Minimal:       execctx.HelperAddr{Entry: base + uintptr(minEntry), Layout: minLayout},
		MinimalEpilog: base + uintptr(minEpilog),
		Full:          execctx.HelperAddr{Entry: base + uintptr(fullEntry), Layout: fullLayout},
		FullEpilog:    base + uintptr(fullEpilog),
		Ready:         true,
	}

	return c.Alloc.Freeze(ctx.CodeSlabs)
}

// resolveFixup answers ResolveCallFixups for the gate-name targets
// emitted via virt.GateTargetName.
func (c *Compiler) resolveFixup(name string) (uintptr, bool) {
	const prefix = "gate:"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return c.Gates.Addr(dispatch.GateName(name[len(prefix):]))
	}
	return 0, false
}

// commit appends the trust-threshold snapshot (if any), reserves the
// block's space in the code slab, resolves every symbolic call target
// now that the block's final address is known, copies the emitted bytes
// in, and installs the block (spec.md §4.D: "Flush the writer and
// commit").
func (c *Compiler) commit(ctx *execctx.Context, guestStart uintptr, guestSize int, w *asmx64.Writer, icArrays []*execctx.ICArray, callSites []execctx.CallSite, continuation uintptr) (*execctx.Block, error) {
	var snapshot []byte
	if c.TrustThreshold > 0 && c.Reader != nil {
		if snap, err := c.Reader.ReadGuestBytes(guestStart, guestSize); err == nil {
			snapshot = append([]byte(nil), snap...)
		}
	}

	const jmpSlotSize = 5 // opcode + rel32, reserved when chaining a continuation
	jmpSlot := 0
	if continuation != 0 {
		jmpSlot = jmpSlotSize
	}

	capacity := w.Len() + jmpSlot + len(snapshot)
	if err := c.Alloc.Thaw(ctx.CodeSlabs); err != nil {
		return nil, errors.Wrap(err, "compiler: thaw for commit")
	}
	addr, err := ctx.CodeSlabs.Reserve(capacity)
	if err != nil {
		// Out of room in this slab entirely: push a fresh one and retry
		// once, per spec.md §4.A ("failing when capacity would be
		// exceeded" is resolved locally by the allocator's caller).
		fresh, nerr := c.Alloc.NewSlab(context.Background(), slab.KindCode, c.SlabSpec, slab.DefaultSlabSize)
		if nerr != nil {
			return nil, errors.Wrap(nerr, "compiler: grow code slab chain")
		}
		fresh.Next = ctx.CodeSlabs
		ctx.CodeSlabs = fresh
		addr, err = ctx.CodeSlabs.Reserve(capacity)
		if err != nil {
			return nil, errors.Wrap(err, "compiler: reserve in fresh slab")
		}
	}

	if err := w.ResolveCallFixups(addr, c.resolveFixup); err != nil {
		return nil, errors.Wrap(err, "compiler: resolve call fixups")
	}

	buf := ctx.CodeSlabs.Bytes()
	off := int(addr - ctx.CodeSlabs.Base())
	copy(buf[off:], w.Code)
	copy(buf[off+w.Len()+jmpSlot:], snapshot)
	if err := c.Alloc.Freeze(ctx.CodeSlabs); err != nil {
		return nil, errors.Wrap(err, "compiler: freeze after commit")
	}

	for _, ic := range icArrays {
		ic.Addr += addr // rebase from block-relative offset to absolute
	}

	blk := &execctx.Block{
		GuestStart:     guestStart,
		CodeStart:      addr,
		GuestSize:      guestSize,
		TranslatedSize: w.Len() + jmpSlot,
		Capacity:       capacity,
		Snapshot:       snapshot,
		OwningSlab:     ctx.CodeSlabs,
		CalloutHeadOff: -1,
		CallSites:      callSites,
		ICArrays:       icArrays,
	}
	ctx.Install(blk)

	log.G(context.Background()).WithField("guest", guestStart).WithField("code", addr).
		WithField("size", w.Len()).Debug("compiler: installed block")

	if continuation != 0 {
		contBlk, err := c.compileLocked(ctx, continuation)
		if err != nil {
			return blk, err
		}
		if err := c.Alloc.Thaw(ctx.CodeSlabs); err != nil {
			return blk, errors.Wrap(err, "compiler: thaw to patch continuation jump")
		}
		patchJmpRel32(buf, off+w.Len(), addr+uintptr(w.Len()), contBlk.CodeStart)
		if err := c.Alloc.Freeze(ctx.CodeSlabs); err != nil {
			return blk, errors.Wrap(err, "compiler: freeze after patching continuation jump")
		}
	}

	return blk, nil
}

// patchJmpRel32 writes a `jmp rel32` at buf[jmpOff:] transferring control
// from siteAddr (the address of the jmp instruction itself) to target.
func patchJmpRel32(buf []byte, jmpOff int, siteAddr, target uintptr) {
	rel := int32(int64(target) - int64(siteAddr+5))
	buf[jmpOff] = 0xe9
	buf[jmpOff+1] = byte(rel)
	buf[jmpOff+2] = byte(rel >> 8)
	buf[jmpOff+3] = byte(rel >> 16)
	buf[jmpOff+4] = byte(rel >> 24)
}

func wrapPageUnreadable(err error, addr uintptr) error {
	return errors.Wrapf(err, "compiler: guest page unreadable at %#x", addr)
}

func wrapUnsupported(err error, addr uintptr) error {
	return errors.Wrapf(err, "compiler: unsupported instruction at %#x", addr)
}
