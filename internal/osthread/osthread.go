// Package osthread implements the OS-specific half of follow/unfollow
// (spec.md §4.H): suspending a target OS thread, reading and rewriting
// its register state to redirect execution into translated code, and
// resuming it. The engine core depends only on the Controller interface
// below; LinuxController is the concrete ptrace(2)-backed implementation
// grounded on the gvisor ptrace-platform subprocess file's use of
// golang.org/x/sys/unix as the thread-control primitive (the same
// external-collaborator boundary spec.md §1 draws around "OS-specific
// thread-suspend primitives").
package osthread

import "github.com/0xDC00/frida-gum/internal/engtypes"

// ID identifies an OS thread. On Linux this is the tid (gettid), which
// is what ptrace(2) actually addresses — not pthread_t.
type ID = uint64

// Regs is the subset of a suspended thread's register file the engine
// needs to read or rewrite: the instruction pointer (to redirect
// execution into translated code) and the full integer/flags state (to
// seed a CPUContext for an event sink or to restore after a callout).
type Regs struct {
	RIP, RSP, RBP    uint64
	RAX, RBX, RCX, RDX uint64
	RSI, RDI         uint64
	R8, R9, R10, R11 uint64
	R12, R13, R14, R15 uint64
	RFlags           uint64
}

// ToCPUContext fills in the GPR/RIP/RFlags fields of an engtypes.CPUContext;
// FPRegs is left nil since the FP/vector state lives in the translated
// block's prolog save area, not the OS thread's ptrace-visible registers.
func (r Regs) ToCPUContext() engtypes.CPUContext {
	return engtypes.CPUContext{
		RAX: r.RAX, RBX: r.RBX, RCX: r.RCX, RDX: r.RDX,
		RSI: r.RSI, RDI: r.RDI, RBP: r.RBP, RSP: r.RSP,
		R8: r.R8, R9: r.R9, R10: r.R10, R11: r.R11,
		R12: r.R12, R13: r.R13, R14: r.R14, R15: r.R15,
		RIP: r.RIP, RFlags: r.RFlags,
	}
}

// Controller is the thread-suspend/modify primitive spec.md §4.H needs
// from the OS: attach to (or confirm control of) a thread, read/write
// its registers while stopped, and resume it. follow()/unfollow() and
// invalidate_for_thread() are built entirely on top of this seam.
type Controller interface {
	// Attach begins tracing thread id, stopping it. A no-op (beyond a
	// state check) if this process already controls the thread via an
	// earlier Attach.
	Attach(id ID) error
	// Detach stops tracing thread id and lets it resume freely.
	Detach(id ID) error
	// GetRegs reads the register file of a thread currently stopped
	// under this controller's trace.
	GetRegs(id ID) (Regs, error)
	// SetRegs rewrites the register file of a stopped thread — used by
	// Follow to redirect RIP to the translated entry block.
	SetRegs(id ID, r Regs) error
	// Resume continues a stopped thread, optionally delivering signal
	// (0 for none).
	Resume(id ID, signal int) error
	// SingleStep executes exactly one guest instruction then re-stops
	// the thread — the spec.md §7 fallback when a guest page is
	// unreadable or a block fails to decode.
	SingleStep(id ID) error
}
