// Package execctx implements the per-followed-thread execution context:
// the translation mapping (block store), the shadow return frame stack,
// the code/data slab chains, and the active/unfollow_pending/
// destroy_pending lifecycle state machine (spec.md §3, §4.B, §4.H).
package execctx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xDC00/frida-gum/internal/engtypes"
	"github.com/0xDC00/frida-gum/internal/slab"
)

// ThreadID identifies the followed OS thread. Left abstract here; the
// concrete representation (pid_t, HANDLE, ...) lives in internal/osthread.
type ThreadID = uint64

// Context is one ExecContext: owns the code/data slab chains, the
// translation mapping, the shadow frame stack, and the bookkeeping the
// spec assigns it (spec.md §3).
//
// Invariant: reachable from the engine's context list exactly once
// until destroyed; State only ever moves forward (see stateBox).
type Context struct {
	Thread ThreadID

	// CodeLock protects code emission and the translation map for this
	// context. The spec calls this a spinlock; a sync.Mutex is the
	// idiomatic Go substitute used throughout the pack wherever a C
	// spinlock would appear (see SPEC_FULL.md §4.B).
	CodeLock sync.Mutex

	CodeSlabs   *slab.Slab // head of the code-slab chain
	DataSlabs   *slab.Slab // head of the data-slab chain
	ScratchSlab *slab.Slab // used transiently during recompile

	blocks map[uintptr]*Block

	Frames *FrameStack

	state stateBox

	// PendingCalls tracks excursions out of translated code (excluded
	// calls, entry-gate slow paths, callouts, probe callbacks); unfollow
	// is deferred while this is > 0 (spec.md §5).
	PendingCalls int32

	// CurrentBlock / LastResumeAddr / ActivationTarget / ResumeAt mirror
	// the fields spec.md §3 calls out by name.
	CurrentBlock     *Block
	LastResumeAddr   uintptr
	ActivationTarget uintptr
	ResumeAt         uintptr

	// Transformer / Sink / SinkMask are the collaborators bound at
	// follow-time (spec.md §3: "transformer handle, event sink handle &
	// subscribed-event mask"). SinkMask lets the dispatcher and
	// virtualizer skip work cheaply when nobody is listening.
	Transformer engtypes.Transformer
	Sink        engtypes.EventSink
	SinkMask    engtypes.Mask

	// GCTimestamp records when the context entered destroy_pending, for
	// the 20ms grace heuristic (spec.md §4.H, §9 Open Question).
	GCTimestamp time.Time

	// UnfollowCalledWhileStillFollowing mirrors the flag of the same
	// name set by deactivate() (spec.md §4.H).
	UnfollowCalledWhileStillFollowing bool

	// Helpers caches the addresses of the three prolog/epilog pairs once
	// the compiler has emitted them into this context's first code slab
	// (spec.md §4.C).
	Helpers Helpers
}

// New creates a context with an empty block store and a fresh shadow
// frame stack. It allocates no slabs; the compiler allocates the initial
// code/data slabs on the context's first compile.
func New(thread ThreadID) *Context {
	return &Context{
		Thread: thread,
		blocks: make(map[uintptr]*Block),
		Frames: NewFrameStack(),
	}
}

func (c *Context) State() State { return c.state.Load() }

// BeginUnfollow implements the CAS described in spec.md §4.H.
func (c *Context) BeginUnfollow() bool { return c.state.CASToUnfollowPending() }

// FinishUnfollow moves the context into destroy_pending once
// PendingCalls has drained, stamping GCTimestamp for the GC heuristic.
func (c *Context) FinishUnfollow(now time.Time) bool {
	if atomic.LoadInt32(&c.PendingCalls) != 0 {
		return false
	}
	if c.state.CASToDestroyPending() {
		c.GCTimestamp = now
		return true
	}
	return false
}

// EnterExcursion / ExitExcursion bracket every excursion out of
// translated code (excluded call, entry-gate slow path, callout, probe
// callback) per spec.md §5.
func (c *Context) EnterExcursion() { atomic.AddInt32(&c.PendingCalls, 1) }
func (c *Context) ExitExcursion()  { atomic.AddInt32(&c.PendingCalls, -1) }

// Lookup returns the block translated for guestAddr, or nil.
func (c *Context) Lookup(guestAddr uintptr) *Block {
	c.CodeLock.Lock()
	defer c.CodeLock.Unlock()
	return c.blocks[guestAddr]
}

// Install records a newly compiled block. Per spec.md §8 invariant 2
// ("block uniqueness"), callers must hold CodeLock across compile+
// Install so two concurrent compilations of the same guest address can
// never both install a block; Install itself does not re-check.
func (c *Context) Install(b *Block) {
	c.blocks[b.GuestStart] = b
}

// AllBlocks returns a snapshot slice of every installed block.
func (c *Context) AllBlocks() []*Block {
	c.CodeLock.Lock()
	defer c.CodeLock.Unlock()
	out := make([]*Block, 0, len(c.blocks))
	for _, b := range c.blocks {
		out = append(out, b)
	}
	return out
}

// ContainsTranslatedAddr walks the code slab chain looking for addr,
// implementing the ret fast path's tier 2 "slab-contains" check
// (spec.md §4.E.5).
func (c *Context) ContainsTranslatedAddr(addr uintptr) bool {
	for s := c.CodeSlabs; s != nil; s = s.Next {
		if s.Contains(addr) {
			return true
		}
	}
	return false
}
