package virt

import (
	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/execctx"
)

// loadIndirectTarget materializes an indirect call/jmp's guest-address
// operand into scratchReg (spec.md §4.E.2 step 2). instr must classify as
// KindCallIndirect/KindJmpIndirect.
func (e *Emitter) loadIndirectTarget(instr decode.Instruction) {
	reg, isReg, mem := decode.IndirectOperand(instr)
	if isReg {
		e.W.MovRR(scratchReg, reg)
		return
	}
	e.W.MovRegMemSIB(scratchReg, mem.HasBase, mem.Base, mem.HasIndex, mem.Index, mem.Scale, mem.Disp)
}

// emitICScan implements spec.md §4.E.2 step 3: linear-scan the entries
// reserved at icOffset against scratchReg (which must already hold the
// guest target loaded by loadIndirectTarget), jump through the matching
// entry's translated address on a hit, and fall through to the caller's
// slow-path gate call on a miss.
//
// Every hit branch joins a single shared epilog-and-jump tail rather than
// repeating the epilog call per entry; the compare, branch, load and jump
// of each entry still grow the emitted code linearly with ICEntries.
func (e *Emitter) emitICScan(icOffset int) {
	e.W.EmitCallToAddr(e.Ctx.Helpers.IC.Entry)

	const leaInsnLen = 7 // rex + opcode + modrm + disp32
	disp := int32(icOffset - (e.W.Len() + leaInsnLen))
	e.W.LeaRipRel(asmx64.RAX, disp)

	hitFixups := make([]int, 0, e.ICEntries)
	for i := 0; i < e.ICEntries; i++ {
		e.W.CmpMemReg(asmx64.RAX, int32(i*execctx.ICEntrySize), scratchReg)
		hitFixups = append(hitFixups, e.W.JccRel32(asmx64.CC_E))
	}

	// Miss: undo the IC prolog and fall through to the gate call the
	// caller emits immediately after this returns. scratchReg still holds
	// the original guest target for the gate.
	e.W.EmitCallToAddr(e.Ctx.Helpers.ICEpilog)
	missEnd := e.W.JmpRel32()

	// Hit: each entry loads its translated address, then joins the shared
	// tail below.
	tailFixups := make([]int, 0, e.ICEntries)
	for i, fix := range hitFixups {
		e.W.PatchRel32To(fix)
		e.W.LoadMem(scratchReg, asmx64.RAX, int32(i*execctx.ICEntrySize+8))
		tailFixups = append(tailFixups, e.W.JmpRel32())
	}
	for _, fix := range tailFixups {
		e.W.PatchRel32To(fix)
	}
	e.W.EmitCallToAddr(e.Ctx.Helpers.ICEpilog)
	e.W.JmpReg(scratchReg)

	e.W.PatchRel32To(missEnd)
}
