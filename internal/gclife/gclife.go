// Package gclife implements the garbage_collect sweep described in
// spec.md §4.H: a context is eligible for teardown once it is
// destroy_pending and one of three conditions holds — the sweep is
// running on the context's own owning thread, more than a grace period
// has elapsed since it entered destroy_pending, or the OS reports the
// owning thread no longer exists.
package gclife

import (
	"context"
	"time"

	"github.com/containerd/log"

	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/osthread"
)

// Config tunes the sweep; RecentExitGrace is spec.md §4.H's "20 ms"
// threshold, kept adjustable since the spec itself flags it as a
// heuristic (§9 Open Question) rather than a hard constant.
type Config struct {
	RecentExitGrace time.Duration
}

// DefaultConfig matches spec.md §4.H literally.
func DefaultConfig() Config {
	return Config{RecentExitGrace: 20 * time.Millisecond}
}

// ThreadPresence answers "does the OS still consider this thread to
// exist" — the third eligibility condition. Kept as a seam so the sweep
// doesn't hard-depend on osthread's ptrace plumbing for a single
// existence check.
type ThreadPresence interface {
	ThreadExists(id osthread.ID) bool
}

// Sweeper runs garbage_collect over a snapshot of contexts supplied by
// the engine (which owns the context-list mutex spec.md §5 describes).
type Sweeper struct {
	Config   Config
	Presence ThreadPresence

	// RunningOnThread is supplied per-call: the sweep needs to know
	// which thread it's currently executing on to satisfy eligibility
	// condition (a).
}

func New(cfg Config, presence ThreadPresence) *Sweeper {
	return &Sweeper{Config: cfg, Presence: presence}
}

// Eligible implements the three-way OR from spec.md §4.H for one
// context, given the thread the sweep is currently running on.
func (s *Sweeper) Eligible(ctx *execctx.Context, runningOnThread osthread.ID, now time.Time) bool {
	if ctx.State() != execctx.StateDestroyPending {
		return false
	}
	if ctx.Thread == runningOnThread {
		return true
	}
	if now.Sub(ctx.GCTimestamp) > s.Config.RecentExitGrace {
		return true
	}
	if s.Presence != nil && !s.Presence.ThreadExists(osthread.ID(ctx.Thread)) {
		return true
	}
	return false
}

// Sweep filters contexts to the ones eligible for teardown; the caller
// (the engine) is responsible for actually unmapping their slabs and
// removing them from the context list under its own mutex, since that
// mutation is engine-level bookkeeping this package has no handle on.
func (s *Sweeper) Sweep(contexts []*execctx.Context, runningOnThread osthread.ID, now time.Time) []*execctx.Context {
	var dead []*execctx.Context
	for _, ctx := range contexts {
		if s.Eligible(ctx, runningOnThread, now) {
			dead = append(dead, ctx)
		}
	}
	if len(dead) > 0 {
		log.G(context.Background()).WithField("count", len(dead)).Debug("gclife: sweep found dead contexts")
	}
	return dead
}
