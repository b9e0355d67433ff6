// Package virt implements the control-flow virtualizer (spec.md §4.E):
// per-opcode emission strategies that replace a guest control-transfer
// instruction with a sequence resolving the true target at translated
// addresses, transferring control into translated space, and keeping
// the shadow frame stack and hardware stack coherent with the guest's
// expectations.
//
// Each file here covers one opcode family, mirroring the teacher's
// one-file-per-target-backend layout (backend_x64.go, backend_i386.go,
// backend_aarch64.go applied to opcode families instead of ISAs).
//
// Gate and helper calls are emitted via asmx64.Writer.EmitCallToTarget,
// not patched immediately: a block's final address inside its code slab
// isn't known until the compiler reserves space for it after emission,
// so every strategy here defers resolution to the writer's fixup list
// (internal/compiler.commit calls ResolveCallFixups once the address is
// known).
package virt

import (
	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/dispatch"
	"github.com/0xDC00/frida-gum/internal/execctx"
)

// Range is a half-open [Start, End) guest address range, used for the
// excluded-range check in direct-call virtualization (spec.md §4.E.1).
type Range struct {
	Start, End uintptr
}

func (r Range) Contains(addr uintptr) bool { return addr >= r.Start && addr < r.End }

// Emitter bundles everything a per-opcode strategy needs: the output
// writer, the IC array length configured for this engine, the gate
// table to resolve symbolic call targets, and the context being
// compiled for (for activation-target / excluded-range checks).
type Emitter struct {
	W         *asmx64.Writer
	Gates     *dispatch.Table
	ICEntries int
	Ctx       *execctx.Context
	Excluded  []Range
}

// NewEmitter constructs an Emitter for one block's compilation.
func NewEmitter(w *asmx64.Writer, gates *dispatch.Table, icEntries int, ctx *execctx.Context, excluded []Range) *Emitter {
	return &Emitter{W: w, Gates: gates, ICEntries: icEntries, Ctx: ctx, Excluded: excluded}
}

func (e *Emitter) isExcluded(target uintptr) bool {
	for _, r := range e.Excluded {
		if r.Contains(target) {
			return true
		}
	}
	return false
}

// emitGateCall emits `call rel32` to the named entry gate; GateTable
// membership is checked at resolve time (internal/compiler.commit), not
// here, since the gate table is only guaranteed fully populated once
// the engine has finished constructing itself.
func (e *Emitter) emitGateCall(name dispatch.GateName) int {
	return e.W.EmitCallToTarget(GateTargetName(name))
}

// GateTargetName builds the symbolic fixup name ResolveCallFixups
// expects for a gate call (kept distinct from helper/block target
// naming so the resolver can tell them apart).
func GateTargetName(name dispatch.GateName) string { return "gate:" + string(name) }
