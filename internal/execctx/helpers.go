package execctx

import "github.com/0xDC00/frida-gum/internal/prolog"

// HelperAddr is the address of one emitted prolog or epilog helper
// inside a context's first code slab; helpers are emitted once per
// context, not once per code slab.
type HelperAddr struct {
	Entry  uintptr
	Layout prolog.FrameLayout
}

// Helpers caches the three prolog/epilog pairs once they've been emitted
// into this context's first code slab, so the compiler only emits them
// on the first block and every later block just `call rel32`s the
// cached address (spec.md §4.C).
type Helpers struct {
	IC             HelperAddr
	ICEpilog       uintptr
	Minimal        HelperAddr
	MinimalEpilog  uintptr
	Full           HelperAddr
	FullEpilog     uintptr
	Ready          bool
}
