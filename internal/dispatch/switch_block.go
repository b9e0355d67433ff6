package dispatch

import (
	"time"

	"github.com/0xDC00/frida-gum/internal/engtypes"
	"github.com/0xDC00/frida-gum/internal/execctx"
)

// Compiler is the collaborator that resolves a guest address to a
// trusted translated block, compiling or recompiling as needed
// (internal/compiler's Compiler type satisfies this directly; the
// engine wraps it to add the recycle-count/snapshot-compare trust
// decision of spec.md §4.B before falling through to a real compile).
// Kept as an interface here to avoid a dispatch <-> compiler import
// cycle, since the compiler calls back into dispatch gate addresses
// when emitting calls.
type Compiler interface {
	Compile(ctx *execctx.Context, guestAddr uintptr) (*execctx.Block, error)
}

// Dispatcher implements switch_block (spec.md §4.F): the common body
// every named entry gate falls into after bumping its own observer
// counter.
type Dispatcher struct {
	Gates    *Table
	Observer engtypes.Observer
	Compiler Compiler

	// Well-known guest addresses switch_block special-cases (spec.md
	// §4.F): the engine's own unfollow_me/deactivate routine and the
	// thread-exit implementation.
	UnfollowMeAddr uintptr
	DeactivateAddr uintptr
	ThreadExitAddr uintptr
}

// SwitchBlock resolves guestTarget to a translated code address,
// compiling on demand. It never backpatches the call site itself — that
// is internal/backpatch's job once the caller (an entry gate thunk) has
// this result in hand.
func (d *Dispatcher) SwitchBlock(ctx *execctx.Context, guestTarget uintptr) (uintptr, error) {
	d.Observer.IncrementTotal()

	if d.UnfollowMeAddr != 0 && guestTarget == d.UnfollowMeAddr ||
		d.DeactivateAddr != 0 && guestTarget == d.DeactivateAddr {
		ctx.BeginUnfollow()
		ctx.ResumeAt = guestTarget
		return 0, nil
	}
	if d.ThreadExitAddr != 0 && guestTarget == d.ThreadExitAddr {
		ctx.BeginUnfollow()
		return 0, nil
	}
	if ctx.State() == execctx.StateUnfollowPending {
		ctx.FinishUnfollow(time.Now())
	}
	if ctx.ContainsTranslatedAddr(guestTarget) {
		return guestTarget, nil
	}

	// The reuse-vs-recompile decision (spec.md §4.B: recycle count vs
	// trust threshold, falling back to a snapshot compare) belongs to the
	// engine, not switch_block — it owns the engine-wide trust threshold
	// and the guest-memory reader the snapshot compare needs. Compiler
	// always returns a block, whether that's the cached one or a fresh
	// translation.
	blk, err := d.Compiler.Compile(ctx, guestTarget)
	if err != nil {
		return 0, err
	}
	if ctx.ActivationTarget != 0 && guestTarget == ctx.ActivationTarget {
		ctx.ActivationTarget = 0
		blk.Flags |= execctx.FlagActivationTarget
	}
	ctx.CurrentBlock = blk
	return blk.CodeStart, nil
}
