// Package dispatch implements the entry gates described in spec.md §4.F:
// the slow-path routines emitted thunks call into when a translated site
// cannot resolve its target locally (a fresh indirect target, an
// unbackpatched direct edge, a ret whose shadow frame missed).
//
// Every gate shares the signature switch_block(ctx, guestTarget) ->
// translatedTarget; gates differ only in which observer counter they
// bump before falling into the common switch_block body, mirroring the
// teacher's per-target-backend file split applied to a single shared
// routine instead of a whole codegen pass.
package dispatch

// GateName identifies one of the fixed, closed set of entry gates a
// translated block can call into (spec.md §9: "a tagged-function table,
// one function per gate, is idiomatic").
type GateName string

const (
	GateCallImm      GateName = "call_imm"
	GateCallReg      GateName = "call_reg"
	GateCallMem      GateName = "call_mem"
	GateJmpImm       GateName = "jmp_imm"
	GateJmpReg       GateName = "jmp_reg"
	GateJmpMem       GateName = "jmp_mem"
	GateJmpCondTrue  GateName = "jmp_cond_true"
	GateJmpCondFalse GateName = "jmp_cond_false"
	GateRetSlowPath  GateName = "ret_slow_path"
	GateSysenterCont GateName = "sysenter_cont"

	// GateExcludedEnter/Exit bracket a native call into an excluded
	// range with PendingCalls bookkeeping (spec.md §4.E.1, §5).
	GateExcludedEnter GateName = "excluded_enter"
	GateExcludedExit  GateName = "excluded_exit"
)

// Table maps the fixed gate names to addresses reachable via call rel32
// from a context's code slabs; prolog/epilog helpers and blocks are not
// looked up here. It is populated once per
// engine at construction time with the addresses of the hand-written
// trampolines that bridge translated code back into this package's Go
// routines — a boundary spec.md §1 places outside this core's scope
// ("the low-level machine-code emitter ... OS-specific thread-suspend
// primitives" are external collaborators); Table only records where
// those trampolines live, it doesn't build them.
type Table struct {
	addrs map[GateName]uintptr
}

// NewTable returns an empty gate table; callers Register each gate's
// trampoline address once at engine startup.
func NewTable() *Table { return &Table{addrs: make(map[GateName]uintptr)} }

func (t *Table) Register(name GateName, addr uintptr) { t.addrs[name] = addr }

func (t *Table) Addr(name GateName) (uintptr, bool) {
	a, ok := t.addrs[name]
	return a, ok
}
