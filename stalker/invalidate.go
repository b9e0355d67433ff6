package stalker

import (
	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/osthread"
)

// InvalidateForThread forces a fresh translation of the block starting
// at addr within tid's context and redirects the old entry point to it
// via a patched jmp (spec.md §4.G "invalidate").
func (e *Engine) InvalidateForThread(tid osthread.ID, addr uintptr) error {
	ctx, ok := e.lookupContext(tid)
	if !ok {
		return errors.Errorf("stalker: thread %d is not followed", tid)
	}
	return e.invalidateIn(ctx, addr)
}

// Invalidate forces a fresh translation of addr in every followed
// context that has one (spec.md §4.G: "fans out to every ExecContext").
func (e *Engine) Invalidate(addr uintptr) error {
	e.mu.Lock()
	ctxs := make([]*execctx.Context, 0, len(e.contexts))
	for _, ctx := range e.contexts {
		ctxs = append(ctxs, ctx)
	}
	e.mu.Unlock()

	var firstErr error
	for _, ctx := range ctxs {
		if err := e.invalidateIn(ctx, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) invalidateIn(ctx *execctx.Context, addr uintptr) error {
	old := ctx.Lookup(addr)
	if old == nil {
		return nil
	}
	fresh, err := e.comp.Compile(ctx, addr)
	if err != nil {
		return errors.Wrapf(err, "stalker: invalidate recompile at %#x", addr)
	}

	ctx.CodeLock.Lock()
	defer ctx.CodeLock.Unlock()
	if err := e.alloc.Thaw(old.OwningSlab); err != nil {
		return errors.Wrap(err, "stalker: thaw invalidated site")
	}
	off := int(old.CodeStart - old.OwningSlab.Base())
	writeJmpRel32(old.OwningSlab.Bytes(), off, old.CodeStart, fresh.CodeStart)
	if err := e.alloc.Freeze(old.OwningSlab); err != nil {
		return errors.Wrap(err, "stalker: freeze invalidated site")
	}
	old.Flags |= execctx.FlagInvalidated
	old.StorageBlock = fresh
	return nil
}

// writeJmpRel32 overwrites the five bytes at buf[off:] (the start of an
// existing translated block, which spec.md §4.D guarantees is at least
// minBlockCapacity long) with a `jmp rel32` from siteAddr to target —
// the same redirect shape internal/compiler's continuation-chaining uses
// for out-of-space blocks, applied here to retire a stale translation.
func writeJmpRel32(buf []byte, off int, siteAddr, target uintptr) {
	rel := int32(int64(target) - int64(siteAddr+5))
	buf[off] = 0xe9
	buf[off+1] = byte(rel)
	buf[off+2] = byte(rel >> 8)
	buf[off+3] = byte(rel >> 16)
	buf[off+4] = byte(rel >> 24)
}
