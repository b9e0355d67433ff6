package virt

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/dispatch"
)

// JccResult records the two fixups a conditional branch leaves behind:
// one per path, since each resolves to a different continuation block.
type JccResult struct {
	TakenFixupOffset      int
	FallthroughFixupOffset int
}

// EmitJcc implements spec.md §4.E.3: relocate the guest condition; the
// taken path calls jmp_cond_true with the branch target, the
// fall-through path calls jmp_cond_false with the instruction after the
// branch. The compiler does not record either site as a CallSite.
func (e *Emitter) EmitJcc(instr decode.Instruction, cc asmx64.CondCode) JccResult {
	takenTarget := decode.DirectTarget(instr)
	fallthroughTarget := instr.End()

	// Relocated conditional jump over the fall-through gate call, taking
	// us to the taken-path gate call.
	var takenSkip int
	switch instr.Op {
	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		// The counter jumps only have a rel8 form: re-emit the guest
		// opcode (with any address-size prefix) aimed at a near jmp to the
		// taken path two bytes ahead, and skip that jmp when not taken.
		raw := instr.Bytes()
		e.W.EmitBytes(raw[:len(raw)-1]...)
		e.W.EmitBytes(0x02, 0xeb, 0x05)
		takenSkip = e.W.JmpRel32()
	default:
		takenSkip = e.W.JccRel32(cc)
	}
	e.W.MovRegImm64(scratchReg, uint64(fallthroughTarget))
	fallFixupOff := e.emitGateCall(dispatch.GateJmpCondFalse)
	fallEnd := e.W.JmpRel32() // skip over the taken-path call once fall-through resolves

	e.W.PatchRel32To(takenSkip)
	e.W.MovRegImm64(scratchReg, uint64(takenTarget))
	takenFixupOff := e.emitGateCall(dispatch.GateJmpCondTrue)

	e.W.PatchRel32To(fallEnd)

	return JccResult{TakenFixupOffset: takenFixupOff, FallthroughFixupOffset: fallFixupOff}
}
