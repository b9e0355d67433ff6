package stalker

import (
	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/osthread"
)

// Activate arms target as tid's one-shot activation point (spec.md
// §4.F): the next block switch_block resolves at target is flagged
// FlagActivationTarget, and ActivationTarget is cleared again once that
// happens.
func (e *Engine) Activate(tid osthread.ID, target uintptr) error {
	ctx, ok := e.lookupContext(tid)
	if !ok {
		return errors.Errorf("stalker: thread %d is not followed", tid)
	}
	ctx.ActivationTarget = target
	return nil
}

// Deactivate clears tid's pending activation target, if any.
func (e *Engine) Deactivate(tid osthread.ID) error {
	ctx, ok := e.lookupContext(tid)
	if !ok {
		return errors.Errorf("stalker: thread %d is not followed", tid)
	}
	ctx.ActivationTarget = 0
	return nil
}

// ActivateMe/DeactivateMe operate on whichever thread FollowMe last
// established (see follow.go's FollowMe doc comment).
func (e *Engine) ActivateMe(target uintptr) error {
	tid, ok := e.primaryThread()
	if !ok {
		return errors.New("stalker: follow_me was never called")
	}
	return e.Activate(tid, target)
}

func (e *Engine) DeactivateMe() error {
	tid, ok := e.primaryThread()
	if !ok {
		return errors.New("stalker: follow_me was never called")
	}
	return e.Deactivate(tid)
}
