// Package asmx64 is a minimal x86-64 machine-code emitter: a byte buffer,
// a handful of mnemonic-level encoders, and a rel32 fixup/patch mechanism.
//
// The shape is adapted from a small native-codegen backend: accumulate
// bytes into a buffer, record the offset of every not-yet-resolvable
// branch/call target in a fixup list, then patch the four placeholder
// bytes once the target offset is known. The block compiler (see
// internal/compiler) drives a Writer per translated block: the
// virtualizer (internal/virt) records entries in the fixup list and the
// compiler resolves them at commit; the backpatcher (internal/backpatch)
// only uses PatchRel32At.
package asmx64

import "github.com/pkg/errors"

// Writer accumulates translated machine code for a single basic block.
// It is not safe for concurrent use; callers serialize access under the
// owning ExecContext's code lock.
type Writer struct {
	Code []byte

	// CallFixups records call sites whose target wasn't known at emission
	// time: offset of the trailing rel32, symbolic or raw target.
	CallFixups []Fixup
}

// Fixup records a location in Code that needs a rel32 patched once the
// target offset (or address) is resolved.
type Fixup struct {
	CodeOffset int    // offset of the 4-byte rel32 field
	Target     string // symbolic target, empty when Addr is used directly
	Addr       uintptr
}

// Reset clears the writer for reuse against a fresh output buffer,
// mirroring the compiler's per-block "reset the code writer" step.
func (w *Writer) Reset() {
	w.Code = w.Code[:0]
	w.CallFixups = w.CallFixups[:0]
}

func (w *Writer) Len() int { return len(w.Code) }

func (w *Writer) emitByte(b byte)      { w.Code = append(w.Code, b) }
func (w *Writer) emitBytes(bs ...byte) { w.Code = append(w.Code, bs...) }
func (w *Writer) EmitByte(b byte)      { w.emitByte(b) }
func (w *Writer) EmitBytes(bs ...byte) { w.emitBytes(bs...) }

func (w *Writer) emitU32(v uint32) {
	w.Code = append(w.Code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (w *Writer) emitU64(v uint64) {
	w.Code = append(w.Code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// PatchRel32At patches the rel32 field at fixupOff so that it transfers
// control to targetOff, both measured as offsets into Code.
func (w *Writer) PatchRel32At(fixupOff, targetOff int) {
	rel := int32(targetOff - (fixupOff + 4))
	w.Code[fixupOff] = byte(rel)
	w.Code[fixupOff+1] = byte(rel >> 8)
	w.Code[fixupOff+2] = byte(rel >> 16)
	w.Code[fixupOff+3] = byte(rel >> 24)
}

// PatchRel32To patches the rel32 field at fixupOff so it transfers to the
// current end of Code — used when the target immediately follows.
func (w *Writer) PatchRel32To(fixupOff int) {
	w.PatchRel32At(fixupOff, len(w.Code))
}

// EmitCallToAddr emits `call rel32` to a fixed absolute address that
// isn't known to be reachable from a yet-undetermined code base: it
// records a CallFixup carrying the raw address instead of patching
// immediately. Used for gate calls and excluded-range native calls
// emitted before the enclosing block's final slab address is known;
// ResolveCallFixups patches every such site once it is.
func (w *Writer) EmitCallToAddr(target uintptr) int {
	w.emitByte(0xe8)
	off := len(w.Code)
	w.CallFixups = append(w.CallFixups, Fixup{CodeOffset: off, Addr: target})
	w.emitU32(0)
	return off
}

// EmitCallToTarget is EmitCallToAddr's symbolic counterpart: the target
// is resolved by name (an entry-gate or helper) rather than a raw
// address, via the resolve function passed to ResolveCallFixups.
func (w *Writer) EmitCallToTarget(name string) int {
	w.emitByte(0xe8)
	off := len(w.Code)
	w.CallFixups = append(w.CallFixups, Fixup{CodeOffset: off, Target: name})
	w.emitU32(0)
	return off
}

// ResolveCallFixups patches every recorded CallFixup now that the block
// is about to be copied to codeBase: symbolic fixups are resolved via
// resolve, raw-address fixups use their recorded Addr directly.
func (w *Writer) ResolveCallFixups(codeBase uintptr, resolve func(name string) (uintptr, bool)) error {
	for _, f := range w.CallFixups {
		target := f.Addr
		if f.Target != "" {
			addr, ok := resolve(f.Target)
			if !ok {
				return errUnresolvedFixup(f.Target)
			}
			target = addr
		}
		rel := int32(int64(target) - int64(codeBase+uintptr(f.CodeOffset)+4))
		w.Code[f.CodeOffset] = byte(rel)
		w.Code[f.CodeOffset+1] = byte(rel >> 8)
		w.Code[f.CodeOffset+2] = byte(rel >> 16)
		w.Code[f.CodeOffset+3] = byte(rel >> 24)
	}
	return nil
}

// JmpRel32 emits `jmp rel32` with a placeholder and returns the offset of
// the rel32 field for later patching.
func (w *Writer) JmpRel32() int {
	w.emitByte(0xe9)
	off := len(w.Code)
	w.emitU32(0)
	return off
}


// JccRel32 emits a near conditional jump `0F 8x rel32` and returns the
// rel32 offset.
func (w *Writer) JccRel32(cc CondCode) int {
	w.emitBytes(0x0f, byte(cc))
	off := len(w.Code)
	w.emitU32(0)
	return off
}

func (w *Writer) JmpRel8(rel int8) {
	w.emitBytes(0xeb, byte(rel))
}

func (w *Writer) Ret()  { w.emitByte(0xc3) }
func (w *Writer) Int3() { w.emitByte(0xcc) }
func (w *Writer) Nop()  { w.emitByte(0x90) }

// errUnresolvedFixup reports a label-resolution failure after writer
// flush (spec.md §7: "fatal — programming error in the emitter or
// transformer; aborts the process with a diagnostic"). The compiler wraps
// this error and returns it from Compile; no caller turns it into a panic
// (stalker.PanicOnUnresolvedLabel is not called on this path).
func errUnresolvedFixup(name string) error {
	return errors.Errorf("asmx64: unresolved call target %q", name)
}

