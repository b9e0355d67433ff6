package virt

import (
	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/dispatch"
	"github.com/0xDC00/frida-gum/internal/execctx"
)

// EmitRet emits a call to the ret_slow_path entry gate, passing the guest
// ret-instruction address in scratchReg. The emitted code does not run
// the tier-1 and tier-2 checks of StackPopAndGo below: every translated
// ret goes to ret_slow_path, which clears the shadow frame stack and
// resolves via switch_block.
func (e *Emitter) EmitRet(retInsnAddr uintptr) {
	e.W.MovRegImm64(scratchReg, uint64(retInsnAddr))
	e.emitGateCall(dispatch.GateRetSlowPath)
}

// StackPopAndGo implements the three-tier ret resolution (spec.md
// §4.E.5). guestTopOfStack is the return address currently on top of
// the guest's stack (read by the caller from the live app stack before
// invoking this).
func StackPopAndGo(ctx *execctx.Context, guestTopOfStack uintptr) (translatedTarget uintptr, tier int) {
	// Tier 1: fast path.
	if top, ok := ctx.Frames.Top(); ok && top.GuestReturnAddr == guestTopOfStack {
		ctx.Frames.Pop()
		return top.TranslatedReturnAddr, 1
	}

	// Tier 2: slab-contains path — the guest stack already holds a
	// translated address (we're returning to code we produced).
	if ctx.ContainsTranslatedAddr(guestTopOfStack) {
		return guestTopOfStack, 2
	}

	// Tier 3: slow path. This function only reports which tier applies;
	// it neither clears the shadow stack nor resolves the target.
	return 0, 3
}

// EmitICEpilogJump emits only a call to the IC epilog at icEpilogAddr; it
// loads nothing and emits no jump. emitICScan emits its own shared
// load-epilog-jump tail and does not use it.
func (e *Emitter) EmitICEpilogJump(icEpilogAddr uintptr) {
	e.W.EmitCallToAddr(icEpilogAddr)
	_ = asmx64.RAX // the IC epilog pops RAX, restoring the guest's value
}
