package dispatch

// BridgeFunc is the Go-side handler a gate thunk ultimately reaches:
// guestTarget in, translated address (or 0 on an unfollow/deactivate
// transition) out, matching the shared entry-gate signature spec.md §4.F
// describes (spec.md §4.F: "(ctx, guest_target) -> translated_target").
type BridgeFunc func(ctx uintptr, guestTarget uintptr) (uintptr, error)

// NativeBridge is the one piece of this engine that cannot be expressed
// in portable Go: adapting the System V calling convention a translated
// `call rel32` site uses into a call to a registered BridgeFunc requires
// a per-arch assembly stub (spec.md §1 lists "the low-level machine-code
// emitter... OS-specific thread-suspend primitives" as external
// collaborators; gate-to-Go bridging is the same class of boundary).
// Table.Register records where a gate's thunk lives once some
// NativeBridge implementation has built it; this tree ships the
// interface and the pure-Go pieces that drive it (Dispatcher,
// SwitchBlock, the gate_entries.go wrappers) but not a concrete
// assembly-backed implementation — see DESIGN.md.
type NativeBridge interface {
	// Install emits a fixed-entry trampoline for gate name that saves the
	// caller's state per variant, calls fn, and returns control to the
	// translated site; it returns the trampoline's executable address,
	// suitable for Table.Register.
	Install(name GateName, fn BridgeFunc) (uintptr, error)

	// InstallProbeInvoker emits the fixed invoke_call_probes entry point
	// the full-prolog call-probe trampoline calls into (spec.md §4.E.8):
	// fn receives the address of the saved CPUContext and the guest PC
	// of the probed block's start.
	InstallProbeInvoker(fn func(cpuCtxAddr, guestPC uintptr)) (uintptr, error)
}
