package stalker

import (
	"time"

	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/osthread"
)

// Follow begins instrumenting tid (spec.md §4.H follow()): attach via
// the thread controller, create a fresh ExecContext, compile the block
// at its current instruction pointer, and redirect RIP into it before
// resuming.
func (e *Engine) Follow(tid osthread.ID, transformer Transformer, sink EventSink) error {
	e.mu.Lock()
	if _, exists := e.contexts[tid]; exists {
		e.mu.Unlock()
		return errors.Errorf("stalker: thread %d is already followed", tid)
	}
	ctx := execctx.New(tid)
	ctx.Transformer = transformer
	if sink != nil {
		ctx.Sink = sink
		ctx.SinkMask = sink.QueryMask()
	}
	e.contexts[tid] = ctx
	e.handles[handleOf(ctx)] = ctx
	e.mu.Unlock()

	if err := e.threads.Attach(tid); err != nil {
		e.forgetContext(ctx)
		return errors.Wrapf(err, "stalker: follow tid=%d", tid)
	}
	if sink != nil {
		if err := sink.Start(); err != nil {
			_ = e.threads.Detach(tid)
			e.forgetContext(ctx)
			return errors.Wrapf(err, "stalker: event sink start tid=%d", tid)
		}
	}

	regs, err := e.threads.GetRegs(tid)
	if err != nil {
		_ = e.threads.Detach(tid)
		e.forgetContext(ctx)
		return errors.Wrapf(err, "stalker: read registers tid=%d", tid)
	}

	blk, err := e.Compile(ctx, uintptr(regs.RIP))
	if err != nil {
		_ = e.threads.Detach(tid)
		e.forgetContext(ctx)
		return errors.Wrapf(err, "stalker: compile entry block tid=%d", tid)
	}
	ctx.CurrentBlock = blk
	ctx.LastResumeAddr = blk.CodeStart

	regs.RIP = uint64(blk.CodeStart)
	if err := e.threads.SetRegs(tid, regs); err != nil {
		_ = e.threads.Detach(tid)
		e.forgetContext(ctx)
		return errors.Wrapf(err, "stalker: redirect rip tid=%d", tid)
	}
	return e.threads.Resume(tid, 0)
}

func (e *Engine) forgetContext(ctx *execctx.Context) {
	e.mu.Lock()
	delete(e.contexts, ctx.Thread)
	delete(e.handles, handleOf(ctx))
	e.mu.Unlock()
}

// Unfollow marks tid's context unfollow_pending (spec.md §4.H): if it
// drains immediately (no excursions in flight) the context is torn down
// to destroy_pending right away, otherwise garbage_collect reclaims it
// once PendingCalls hits zero.
func (e *Engine) Unfollow(tid osthread.ID) error {
	ctx, ok := e.lookupContext(tid)
	if !ok {
		return errors.Errorf("stalker: thread %d is not followed", tid)
	}
	ctx.BeginUnfollow()
	if ctx.FinishUnfollow(time.Now()) && ctx.Sink != nil {
		if err := ctx.Sink.Stop(); err != nil {
			return errors.Wrapf(err, "stalker: event sink stop tid=%d", tid)
		}
	}
	return e.threads.Detach(tid)
}

// FollowMe is Follow for whichever tid the caller treats as "the"
// followed thread: later parameterless UnfollowMe/IsFollowingMe calls
// operate on whatever was passed here last. The native API's
// follow_me()/unfollow_me() are parameterless because they run inside
// the target and capture the calling thread's own id implicitly; this
// engine instead drives a traced thread from the outside via
// ThreadController (see cmd/stalker-trace), so the caller must name tid
// explicitly at the one call that establishes it.
func (e *Engine) FollowMe(tid osthread.ID, transformer Transformer, sink EventSink) error {
	if err := e.Follow(tid, transformer, sink); err != nil {
		return err
	}
	e.mu.Lock()
	e.primary = tid
	e.mu.Unlock()
	return nil
}

func (e *Engine) UnfollowMe() error {
	tid, ok := e.primaryThread()
	if !ok {
		return errors.New("stalker: follow_me was never called")
	}
	return e.Unfollow(tid)
}

func (e *Engine) IsFollowingMe() bool {
	tid, ok := e.primaryThread()
	if !ok {
		return false
	}
	_, ok = e.lookupContext(tid)
	return ok
}

func (e *Engine) primaryThread() (osthread.ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary, e.primary != 0
}
