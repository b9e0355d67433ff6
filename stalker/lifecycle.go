package stalker

import (
	"time"

	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/osthread"
)

// Flush asks every followed context's event sink to flush buffered
// events (spec.md §6).
func (e *Engine) Flush() error {
	e.mu.Lock()
	ctxs := make([]*execctx.Context, 0, len(e.contexts))
	for _, ctx := range e.contexts {
		ctxs = append(ctxs, ctx)
	}
	e.mu.Unlock()

	var firstErr error
	for _, ctx := range ctxs {
		if ctx.Sink == nil {
			continue
		}
		if err := ctx.Sink.Flush(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "stalker: flush event sink")
		}
	}
	return firstErr
}

// Stop unfollows every followed thread and reclaims whatever contexts
// become eligible immediately.
func (e *Engine) Stop() error {
	e.mu.Lock()
	tids := make([]osthread.ID, 0, len(e.contexts))
	for tid := range e.contexts {
		tids = append(tids, tid)
	}
	e.mu.Unlock()

	var firstErr error
	for _, tid := range tids {
		if err := e.Unfollow(tid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.GarbageCollect()
	return firstErr
}

// GarbageCollect runs one sweep of garbage_collect (spec.md §4.H),
// reclaiming every destroy_pending context that has become eligible and
// reporting whether any context is still pending teardown afterward.
func (e *Engine) GarbageCollect() bool {
	e.mu.Lock()
	ctxs := make([]*execctx.Context, 0, len(e.contexts))
	for _, ctx := range e.contexts {
		ctxs = append(ctxs, ctx)
	}
	e.mu.Unlock()

	dead := e.sweeper.Sweep(ctxs, currentThreadID(), time.Now())
	if len(dead) > 0 {
		e.mu.Lock()
		for _, ctx := range dead {
			delete(e.contexts, ctx.Thread)
			delete(e.handles, handleOf(ctx))
		}
		e.mu.Unlock()
		for _, ctx := range dead {
			e.releaseContext(ctx)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ctx := range e.contexts {
		if ctx.State() != execctx.StateActive {
			return true
		}
	}
	return false
}

// releaseContext unmaps every slab a torn-down context owned and lets
// the thread controller stop tracking its thread.
func (e *Engine) releaseContext(ctx *execctx.Context) {
	for s := ctx.CodeSlabs; s != nil; {
		next := s.Next
		_ = e.alloc.Mapper.Unmap(s.Region)
		s = next
	}
	for s := ctx.DataSlabs; s != nil; {
		next := s.Next
		_ = e.alloc.Mapper.Unmap(s.Region)
		s = next
	}
	_ = e.threads.Detach(ctx.Thread)
}
