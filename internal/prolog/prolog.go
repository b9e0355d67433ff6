// Package prolog emits the three prolog/epilog helper shapes described
// in spec.md §4.C. Each helper is emitted once per context, into its
// first code slab, and invoked from translated blocks via `call rel32`;
// the compiler (internal/compiler)
// decides which variant a given site needs and records the emitted
// FrameLayout so the virtualizer and dispatcher agree on slot offsets
// without a shared global.
package prolog

import "github.com/0xDC00/frida-gum/internal/asmx64"

// Variant names the three prolog shapes from spec.md §4.C.
type Variant int

const (
	// VariantIC pushes flags + XAX + XBX only; used inside inline-cache
	// lookup where no FP/vector state is live.
	VariantIC Variant = iota
	// VariantMinimal saves flags, caller-saved GPRs and FP/SSE/AVX state.
	// The compiler emits it, but no virtualizer strategy calls it.
	VariantMinimal
	// VariantFull saves every GPR plus FP/SSE/AVX state; used whenever an
	// event sink or transformer callout needs a complete CPUContext.
	VariantFull
)

// fxsaveSize is the fixed size of the legacy fxsave area (Intel SDM
// vol. 1 §10.5.1).
const fxsaveSize = 512

// ymmUpperSize is the spill size for YMM15..YMM0 upper 128 bits.
const ymmUpperSize = 16 * 16

// callerSaved lists the GPRs a minimal prolog preserves across the
// excursion, in save order (spec.md §4.C: "caller-saved GPRs").
var callerSaved = []asmx64.Reg{
	asmx64.RAX, asmx64.RCX, asmx64.RDX, asmx64.RSI, asmx64.RDI,
	asmx64.R8, asmx64.R9, asmx64.R10, asmx64.R11,
}

// allGPRs lists every general-purpose register the full prolog saves,
// in save order; this is also the field order CPUContext mirrors.
var allGPRs = []asmx64.Reg{
	asmx64.RAX, asmx64.RBX, asmx64.RCX, asmx64.RDX, asmx64.RSI, asmx64.RDI,
	asmx64.RBP, asmx64.RSP,
	asmx64.R8, asmx64.R9, asmx64.R10, asmx64.R11, asmx64.R12, asmx64.R13, asmx64.R14, asmx64.R15,
}

// FrameLayout describes the slot offsets a prolog variant established,
// measured from XBX (which every variant points at the saved-context
// base before returning to the caller's continuation).
type FrameLayout struct {
	Variant      Variant
	Size         int // total bytes reserved below XBX
	AppSPOffset  int // offset of the saved app stack pointer slot
	FPRegsOffset int // offset of the fxsave area, -1 when not saved
	YMMOffset    int // offset of the YMM-upper spill area, -1 when not saved
	XIPOffset    int // offset of the XIP slot, -1 outside the full prolog
	GPROffset    int // offset of the first saved GPR slot, -1 for the IC prolog
}

// Helper is one emitted prolog/epilog pair: the entry offset a `call
// rel32` targets, and the matching epilog's entry offset.
type Helper struct {
	Layout      FrameLayout
	EntryOffset int
	EpilogOffset int
}

// EmitIC emits the IC prolog (spec.md §4.C): push flags, push XAX, push
// XBX, load XBX ← XSP, record the app stack pointer. Returns the helper's
// entry offset within w and its FrameLayout.
func EmitIC(w *asmx64.Writer) (int, FrameLayout) {
	entry := w.Len()
	w.Pushfq()
	w.PushReg(asmx64.RAX)
	w.PushReg(asmx64.RBX)
	w.MovRR(asmx64.RBX, asmx64.RSP)
	layout := FrameLayout{
		Variant:      VariantIC,
		Size:         24, // flags + RAX + RBX, each 8 bytes
		AppSPOffset:  24, // app RSP sits just above the three pushed qwords
		FPRegsOffset: -1,
		YMMOffset:    -1,
		XIPOffset:    -1,
		GPROffset:    -1,
	}
	w.Ret()
	return entry, layout
}

// EmitICEpilog emits the matching IC epilog: pop XBX, pop XAX, popfq,
// ret — exactly reversing EmitIC's save sequence.
func EmitICEpilog(w *asmx64.Writer) int {
	entry := w.Len()
	w.PopReg(asmx64.RBX)
	w.PopReg(asmx64.RAX)
	w.Popfq()
	w.Ret()
	return entry
}

// EmitMinimal emits the minimal prolog (spec.md §4.C): flags, caller-saved
// GPRs, FP/SSE via fxsave, YMM upper halves via vextracti128 when AVX2 is
// present. The saved area is aligned to 16 bytes and XBX is left pointing
// at its base.
func EmitMinimal(w *asmx64.Writer, hasAVX2 bool) (int, FrameLayout) {
	entry := w.Len()
	w.Pushfq()
	for _, r := range callerSaved {
		w.PushReg(r)
	}
	gprBytes := 8 * (len(callerSaved) + 1) // +1 for flags

	// Reserve fxsave/YMM scratch below the pushed GPRs, 16-byte aligned.
	scratch := fxsaveSize
	if hasAVX2 {
		scratch += ymmUpperSize
	}
	scratch = alignUp16(scratch)
	w.SubRI(asmx64.RSP, int32(scratch))
	w.MovRR(asmx64.RBX, asmx64.RSP)
	w.Fxsave64(asmx64.RBX)
	ymmOff := -1
	if hasAVX2 {
		ymmOff = fxsaveSize
		for i := 0; i < 16; i++ {
			w.Vextracti128(asmx64.RBX, int32(ymmOff+i*16), i, 1)
		}
	}

	layout := FrameLayout{
		Variant:      VariantMinimal,
		Size:         scratch + gprBytes,
		AppSPOffset:  scratch + gprBytes,
		FPRegsOffset: 0,
		YMMOffset:    ymmOff,
		XIPOffset:    -1,
		GPROffset:    -1, // caller-saved GPRs sit above the scratch area, addressed via XBX + Size - N*8
	}
	w.Ret()
	return entry, layout
}

// EmitMinimalEpilog emits the matching minimal epilog.
func EmitMinimalEpilog(w *asmx64.Writer, layout FrameLayout) int {
	entry := w.Len()
	w.Fxrstor64(asmx64.RBX)
	scratch := layout.Size - 8*(len(callerSaved)+1)
	w.AddRI(asmx64.RSP, int32(scratch))
	for i := len(callerSaved) - 1; i >= 0; i-- {
		w.PopReg(callerSaved[i])
	}
	w.Popfq()
	w.Ret()
	return entry
}

// EmitFull emits the full prolog (spec.md §4.C): every GPR plus FP/SSE/AVX
// upper halves, with an XIP slot left for later fill-in by whichever
// caller needs the "current PC" (the dispatcher, on a call-probe or event
// sink invocation).
func EmitFull(w *asmx64.Writer, hasAVX2 bool) (int, FrameLayout) {
	entry := w.Len()
	w.Pushfq()
	for _, r := range allGPRs {
		w.PushReg(r)
	}
	gprBytes := 8 * (len(allGPRs) + 1)

	scratch := fxsaveSize
	if hasAVX2 {
		scratch += ymmUpperSize
	}
	scratch += 8 // XIP slot
	scratch = alignUp16(scratch)
	w.SubRI(asmx64.RSP, int32(scratch))
	w.MovRR(asmx64.RBX, asmx64.RSP)
	w.Fxsave64(asmx64.RBX)
	ymmOff := -1
	if hasAVX2 {
		ymmOff = fxsaveSize
		for i := 0; i < 16; i++ {
			w.Vextracti128(asmx64.RBX, int32(ymmOff+i*16), i, 1)
		}
	}
	xipOff := scratch - 8

	layout := FrameLayout{
		Variant:      VariantFull,
		Size:         scratch + gprBytes,
		AppSPOffset:  scratch + gprBytes,
		FPRegsOffset: 0,
		YMMOffset:    ymmOff,
		XIPOffset:    xipOff,
		GPROffset:    scratch,
	}
	w.Ret()
	return entry, layout
}

// EmitFullEpilog emits the matching full epilog.
func EmitFullEpilog(w *asmx64.Writer, layout FrameLayout) int {
	entry := w.Len()
	w.Fxrstor64(asmx64.RBX)
	scratch := layout.Size - 8*(len(allGPRs)+1)
	w.AddRI(asmx64.RSP, int32(scratch))
	for i := len(allGPRs) - 1; i >= 0; i-- {
		w.PopReg(allGPRs[i])
	}
	w.Popfq()
	w.Ret()
	return entry
}

func alignUp16(n int) int { return (n + 15) &^ 15 }
