package virt

import (
	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/dispatch"
	"github.com/0xDC00/frida-gum/internal/execctx"
)

// scratchReg is the register the virtualizer uses to hold a resolved
// dynamic target before handing it to an entry gate or the IC probe; the
// compiler's caller-saved-register convention reserves it across these
// sequences the same way the minimal prolog reserves RAX/RCX/RDX/... for
// excursion bookkeeping.
const scratchReg = asmx64.R11

// CallResult describes what EmitDirectCall/EmitIndirectCall produced, so
// the compiler can update the context's shadow frame stack / IC array
// bookkeeping to match what the emitted code will do at runtime.
type CallResult struct {
	// PushFrame is true when a shadow frame must be recorded for this
	// site's return address (spec.md §4.E.1 step 2).
	PushFrame bool
	// ICArray is non-nil for indirect calls; its Addr field holds an
	// offset relative to the block's eventual code start, which the
	// compiler rebases to an absolute address once the block is
	// committed to a slab.
	ICArray *execctx.ICArray
	// GateFixupOffset is the offset of the rel32 field of the call to
	// the slow-path entry gate, recorded so the backpatcher can later
	// rewrite it to a direct edge once the target is trusted.
	GateFixupOffset int
}

// EmitDirectCall implements spec.md §4.E.1.
func (e *Emitter) EmitDirectCall(instr decode.Instruction) CallResult {
	target := decode.DirectTarget(instr)
	nextInsnAddr := instr.End()

	if e.isExcluded(target) && e.Ctx.ActivationTarget == 0 {
		// Excluded range: run the call natively. The enter/exit gates
		// bracket the native call with PendingCalls bookkeeping (spec.md
		// §5: "each of these increments pending_calls on entry and
		// decrements on exit").
		e.emitGateCall(dispatch.GateExcludedEnter)
		e.W.EmitCallToAddr(target)
		e.emitGateCall(dispatch.GateExcludedExit)
		return CallResult{}
	}

	// Normal path: push the guest return address onto the app stack for
	// the eventual ret (spec.md §4.E.1 step 2), then load the call's
	// actual destination into scratchReg for the gate to resolve
	// (switch_block(ctx, guest_target)) — call_imm, not call_reg/call_mem,
	// but the gate still reads its guest_target argument from scratchReg.
	e.W.MovRegImm64(scratchReg, uint64(nextInsnAddr))
	e.W.PushReg(scratchReg)
	e.W.MovRegImm64(scratchReg, uint64(target))
	fixupOff := e.emitGateCall(dispatch.GateCallImm)

	return CallResult{PushFrame: true, GateFixupOffset: fixupOff}
}

// EmitIndirectCall implements spec.md §4.E.2: reserves the inline-cache
// array, pushes the guest return address, loads the dynamic call target,
// then emits the linear-scan probe. Hit and miss paths both end by
// jumping into translated code; the miss path falls through to the
// call_reg/call_mem gate, which backpatch.InlineCache later populates.
func (e *Emitter) EmitIndirectCall(instr decode.Instruction, isMemOperand bool) CallResult {
	nextInsnAddr := instr.End()

	// Reserve the IC entries: emit a jump over them so control never
	// falls into the inline data (spec.md §4.E.2 step 1).
	icFixup := e.W.JmpRel32()
	icOffset := e.W.Len()
	for i := 0; i < e.ICEntries; i++ {
		e.W.EmitBytes(make([]byte, execctx.ICEntrySize)...)
	}
	e.W.PatchRel32To(icFixup)

	ic := &execctx.ICArray{
		Addr:    uintptr(icOffset), // rebased by the compiler after commit
		Entries: make([]execctx.ICEntry, e.ICEntries),
	}

	// Shadow frame bookkeeping identical to the direct-call path.
	e.W.MovRegImm64(scratchReg, uint64(nextInsnAddr))
	e.W.PushReg(scratchReg)

	// Step 2: load the guest operand's dynamic value, then step 3: probe
	// the inline cache against it.
	e.loadIndirectTarget(instr)
	e.emitICScan(icOffset)

	gate := dispatch.GateCallReg
	if isMemOperand {
		gate = dispatch.GateCallMem
	}
	fixupOff := e.emitGateCall(gate)

	return CallResult{PushFrame: true, ICArray: ic, GateFixupOffset: fixupOff}
}
