package virt

import "github.com/0xDC00/frida-gum/internal/dispatch"

// EmitSysenter implements spec.md §4.E.6 (32-bit only, non-QNX): stash
// the guest return address into a fixed slot inside the translated
// block, overwrite the in-kernel return slot with a continuation
// address in translated space, execute sysenter natively, and at the
// continuation dispatch the stashed address like a return.
//
// This tree targets linux/amd64 (SPEC_FULL.md Non-goals); the 32-bit
// sysenter path and the WoW64 variant below are kept as documented hook
// shapes rather than working emitters, matching spec.md §9's guidance
// to expose OS-quirk handling as hooks for a platform-specific module.
func (e *Emitter) EmitSysenter(stashSlotOffset int32) {
	e.W.StoreMem(scratchReg, stashSlotOffset, scratchReg)
	e.emitGateCall(dispatch.GateSysenterCont)
}

// EmitWow64Transition implements spec.md §4.E.7: recognized by matching
// a known Wow64Transition function pointer, treated like sysenter with
// an additional indirect jump through the transition pointer. Not
// reachable on this tree's linux/amd64 target; kept for the hook shape
// described in SPEC_FULL.md §4.H.
func (e *Emitter) EmitWow64Transition(transitionPtrSlot int32) {
	e.W.LoadMem(scratchReg, scratchReg, transitionPtrSlot)
	e.emitGateCall(dispatch.GateSysenterCont)
}
