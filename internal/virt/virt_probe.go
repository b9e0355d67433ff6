package virt

import "github.com/0xDC00/frida-gum/internal/prolog"

// EmitCallProbeTrampoline implements spec.md §4.E.8: before the first
// instruction of a block whose guest start matches a registered probe,
// emit a full-prolog call to invoke_call_probes(block, cpu_ctx).
func (e *Emitter) EmitCallProbeTrampoline(fullProlog prolog.FrameLayout, fullEntryAddr, invokeProbesAddr, fullEpilogAddr uintptr) {
	e.W.EmitCallToAddr(fullEntryAddr)
	e.W.EmitCallToAddr(invokeProbesAddr)
	e.W.EmitCallToAddr(fullEpilogAddr)
}
