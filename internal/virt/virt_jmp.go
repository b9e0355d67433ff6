package virt

import (
	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/dispatch"
	"github.com/0xDC00/frida-gum/internal/execctx"
)

// JmpResult mirrors CallResult but for jmp sites, which never push a
// shadow frame (spec.md §4.E.4).
type JmpResult struct {
	ICArray         *execctx.ICArray
	GateFixupOffset int
}

// EmitDirectJmp implements spec.md §4.E.4: identical to the direct-call
// path minus the shadow-stack push and return-address bookkeeping. Loads
// the relocated target into scratchReg for the gate to resolve, same as
// EmitDirectCall. Statically backpatchable once the target block is
// trusted.
func (e *Emitter) EmitDirectJmp(instr decode.Instruction) JmpResult {
	target := decode.DirectTarget(instr)
	e.W.MovRegImm64(scratchReg, uint64(target))
	fixupOff := e.emitGateCall(dispatch.GateJmpImm)
	return JmpResult{GateFixupOffset: fixupOff}
}

// EmitIndirectJmp implements the jmp counterpart of EmitIndirectCall: an
// inline cache probed the same way, falling back to jmp_reg/jmp_mem on
// miss. Unlike a call, no return address is pushed.
func (e *Emitter) EmitIndirectJmp(instr decode.Instruction, isMemOperand bool) JmpResult {
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

	e.loadIndirectTarget(instr)
	e.emitICScan(icOffset)

	gate := dispatch.GateJmpReg
	if isMemOperand {
		gate = dispatch.GateJmpMem
	}
	fixupOff := e.emitGateCall(gate)

	return JmpResult{ICArray: ic, GateFixupOffset: fixupOff}
}
