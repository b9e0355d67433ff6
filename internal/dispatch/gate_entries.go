package dispatch

import "github.com/0xDC00/frida-gum/internal/execctx"

// The named entry points below are what translated thunks actually
// `call rel32` to; each bumps its own observer counter, then falls into
// the shared SwitchBlock body (spec.md §4.F: "Naming varies only for
// observer counters; the body is common").

func (d *Dispatcher) CallImm(ctx *execctx.Context, target uintptr) (uintptr, error) {
	d.Observer.IncrementCallImm()
	return d.SwitchBlock(ctx, target)
}

func (d *Dispatcher) CallReg(ctx *execctx.Context, target uintptr) (uintptr, error) {
	d.Observer.IncrementCallReg()
	return d.SwitchBlock(ctx, target)
}

func (d *Dispatcher) CallMem(ctx *execctx.Context, target uintptr) (uintptr, error) {
	d.Observer.IncrementCallMem()
	return d.SwitchBlock(ctx, target)
}

func (d *Dispatcher) JmpImm(ctx *execctx.Context, target uintptr) (uintptr, error) {
	d.Observer.IncrementJmpImm()
	return d.SwitchBlock(ctx, target)
}

func (d *Dispatcher) JmpCond(ctx *execctx.Context, target uintptr) (uintptr, error) {
	d.Observer.IncrementJmpCond()
	return d.SwitchBlock(ctx, target)
}

func (d *Dispatcher) JmpMem(ctx *execctx.Context, target uintptr) (uintptr, error) {
	d.Observer.IncrementJmpMem()
	return d.SwitchBlock(ctx, target)
}

func (d *Dispatcher) RetSlowPath(ctx *execctx.Context, target uintptr) (uintptr, error) {
	d.Observer.IncrementRetSlowPath()
	ctx.Frames.Clear()
	return d.SwitchBlock(ctx, target)
}

// ExcludedEnter/ExcludedExit bracket a native call into an excluded
// range (spec.md §4.E.1, §5 "pending_calls"); they don't resolve a
// block, so they bypass SwitchBlock entirely.
func (d *Dispatcher) ExcludedEnter(ctx *execctx.Context) { ctx.EnterExcursion() }
func (d *Dispatcher) ExcludedExit(ctx *execctx.Context)  { ctx.ExitExcursion() }
