package decode

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/0xDC00/frida-gum/internal/asmx64"
)

// Kind classifies a decoded instruction for the virtualizer's per-opcode
// dispatch (spec.md §4.E).
type Kind int

const (
	KindOther Kind = iota
	KindCallImm
	KindCallIndirect
	KindJmpImm
	KindJmpIndirect
	KindJcc
	KindRet
	KindSysenter
)

// Classify maps a decoded instruction to the virtualizer Kind it needs,
// grounded on the same Op-constant switch style as
// other_examples/bb9c4e55_golint-fixer-exp__cmd-bin2ll-ll.go.go (its
// translateFunc dispatches on x86asm.CALL/x86asm.JMP/x86asm.RET and the
// whole Jcc family).
func Classify(in Instruction) Kind {
	switch in.Op {
	case x86asm.CALL:
		if isDirectTarget(in) {
			return KindCallImm
		}
		return KindCallIndirect
	case x86asm.JMP:
		if isDirectTarget(in) {
			return KindJmpImm
		}
		return KindJmpIndirect
	case x86asm.RET:
		return KindRet
	case x86asm.SYSENTER:
		return KindSysenter
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE,
		x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
		x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS:
		return KindJcc
	default:
		return KindOther
	}
}

// isDirectTarget reports whether the single argument is an immediate
// (branch target known at translation time) as opposed to a register or
// memory operand.
func isDirectTarget(in Instruction) bool {
	if len(in.Args) == 0 || in.Args[0] == nil {
		return false
	}
	_, isImm := in.Args[0].(x86asm.Rel)
	return isImm
}

// DirectTarget computes the absolute guest address of a direct call/jmp,
// valid only when isDirectTarget(in) is true.
func DirectTarget(in Instruction) uintptr {
	rel := in.Args[0].(x86asm.Rel)
	return in.End() + uintptr(int64(rel))
}

// MemOperand is a decoded indirect call/jmp memory operand translated to
// asmx64-level SIB addressing components.
type MemOperand struct {
	HasBase  bool
	Base     asmx64.Reg
	HasIndex bool
	Index    asmx64.Reg
	Scale    int
	Disp     int32
}

// IndirectOperand translates a KindCallIndirect/KindJmpIndirect
// instruction's single r/m64 operand into either a bare register
// (reg, true, _) or a memory operand (_, false, mem), the input
// loadIndirectTarget needs to materialize the guest-side dynamic target
// (spec.md §4.E.2 step 2).
func IndirectOperand(in Instruction) (reg asmx64.Reg, isReg bool, mem MemOperand) {
	switch a := in.Args[0].(type) {
	case x86asm.Reg:
		r, _ := reg64(a)
		return r, true, MemOperand{}
	case x86asm.Mem:
		m := MemOperand{Disp: int32(a.Disp)}
		if a.Base != 0 {
			if r, ok := reg64(a.Base); ok {
				m.HasBase, m.Base = true, r
			}
		}
		if a.Index != 0 && a.Scale != 0 {
			if r, ok := reg64(a.Index); ok {
				m.HasIndex, m.Index, m.Scale = true, r, int(a.Scale)
			}
		}
		return 0, false, m
	default:
		return 0, false, MemOperand{}
	}
}

// reg64 maps a decoded 64-bit general-purpose register to its asmx64
// encoding index; it reports false for anything the emitter can't
// address directly (segment registers, sub-registers narrower than 64
// bits never appear here since call/jmp operands are always 64-bit in
// long mode).
func reg64(r x86asm.Reg) (asmx64.Reg, bool) {
	switch r {
	case x86asm.RAX:
		return asmx64.RAX, true
	case x86asm.RCX:
		return asmx64.RCX, true
	case x86asm.RDX:
		return asmx64.RDX, true
	case x86asm.RBX:
		return asmx64.RBX, true
	case x86asm.RSP:
		return asmx64.RSP, true
	case x86asm.RBP:
		return asmx64.RBP, true
	case x86asm.RSI:
		return asmx64.RSI, true
	case x86asm.RDI:
		return asmx64.RDI, true
	case x86asm.R8:
		return asmx64.R8, true
	case x86asm.R9:
		return asmx64.R9, true
	case x86asm.R10:
		return asmx64.R10, true
	case x86asm.R11:
		return asmx64.R11, true
	case x86asm.R12:
		return asmx64.R12, true
	case x86asm.R13:
		return asmx64.R13, true
	case x86asm.R14:
		return asmx64.R14, true
	case x86asm.R15:
		return asmx64.R15, true
	default:
		return 0, false
	}
}

// CondCodeFor maps a decoded Jcc instruction to the CondCode the
// virtualizer's relocated branch should test (spec.md §4.E.3). jcxz/
// jecxz/jrcxz test the counter register rather than a flag and have no
// Jcc equivalent; CondCodeFor returns CC_E for them, and virt.EmitJcc
// relocates them by re-emitting the guest counter jump instead of using
// the returned code.
func CondCodeFor(in Instruction) asmx64.CondCode {
	switch in.Op {
	case x86asm.JA:
		return asmx64.CC_A
	case x86asm.JAE:
		return asmx64.CC_AE
	case x86asm.JB:
		return asmx64.CC_B
	case x86asm.JBE:
		return asmx64.CC_BE
	case x86asm.JE, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		return asmx64.CC_E
	case x86asm.JNE:
		return asmx64.CC_NE
	case x86asm.JG:
		return asmx64.CC_G
	case x86asm.JGE:
		return asmx64.CC_GE
	case x86asm.JL:
		return asmx64.CC_L
	case x86asm.JLE:
		return asmx64.CC_LE
	case x86asm.JS:
		return asmx64.CC_S
	case x86asm.JNS:
		return asmx64.CC_NS
	case x86asm.JO:
		return asmx64.CC_O
	case x86asm.JNO:
		return asmx64.CC_NO
	case x86asm.JP:
		return asmx64.CondCode(0x8a) // 0F 8A: jp
	case x86asm.JNP:
		return asmx64.CondCode(0x8b) // 0F 8B: jnp
	default:
		return asmx64.CC_E
	}
}
