// Package decode defines the instruction-decoder collaborator the block
// compiler iterates over (spec.md §1: "the disassembler... consumed as
// an opaque instruction decoder"). The engine core only depends on the
// Decoder interface; X86AsmDecoder is the concrete default, grounded on
// golang.org/x/arch/x86/x86asm — the same package family used by
// other_examples/bb9c4e55_golint-fixer-exp__cmd-bin2ll-ll.go.go (via its
// github.com/mewbak/x86/x86asm fork) to classify control-transfer
// instructions by walking x86asm.Inst.Op against the opcode constants.
package decode

import (
	"golang.org/x/arch/x86/x86asm"
)

// Mode selects 32-bit vs 64-bit decoding.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// Instruction wraps a decoded x86asm.Inst with the guest address it was
// read from, which the compiler and virtualizer need for every decision
// (is this a direct or rip-relative branch, what is the fallthrough
// address, ...).
type Instruction struct {
	x86asm.Inst
	Addr uintptr
	Raw  []byte // the original encoded bytes, length == Inst.Len
}

// End returns the guest address immediately after this instruction.
func (i Instruction) End() uintptr { return i.Addr + uintptr(i.Len) }

// Bytes returns the original encoded bytes for instructions the
// virtualizer passes through unchanged (decode.KindOther).
func (i Instruction) Bytes() []byte { return i.Raw }

// Decoder decodes one instruction at a time from a guest byte stream.
// The core treats it as an opaque external collaborator (spec.md §1);
// this tree provides one concrete implementation (X86AsmDecoder) but
// never assumes it's the only one.
type Decoder interface {
	// Decode reads one instruction starting at code[0], which represents
	// the guest bytes at addr.
	Decode(code []byte, addr uintptr, mode Mode) (Instruction, error)
}

// X86AsmDecoder implements Decoder over golang.org/x/arch/x86/x86asm.
type X86AsmDecoder struct{}

func (X86AsmDecoder) Decode(code []byte, addr uintptr, mode Mode) (Instruction, error) {
	inst, err := x86asm.Decode(code, int(mode))
	if err != nil {
		return Instruction{}, err
	}
	raw := append([]byte(nil), code[:inst.Len]...)
	return Instruction{Inst: inst, Addr: addr, Raw: raw}, nil
}
