package execctx

import "sync/atomic"

// State is the ExecContext run state (spec.md §3: "active ->
// unfollow_pending -> destroy_pending", monotonically progressing).
type State int32

const (
	StateActive State = iota
	StateUnfollowPending
	StateDestroyPending
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateUnfollowPending:
		return "unfollow_pending"
	case StateDestroyPending:
		return "destroy_pending"
	default:
		return "unknown"
	}
}

// stateBox is a small CAS-based state machine enforcing the monotonic
// progression active -> unfollow_pending -> destroy_pending.
type stateBox struct {
	v int32
}

func (b *stateBox) Load() State { return State(atomic.LoadInt32(&b.v)) }

// CASToUnfollowPending implements spec.md §4.H: "CAS context state
// active -> unfollow_pending".
func (b *stateBox) CASToUnfollowPending() bool {
	return atomic.CompareAndSwapInt32(&b.v, int32(StateActive), int32(StateUnfollowPending))
}

// CASToDestroyPending moves unfollow_pending -> destroy_pending once the
// thread has demonstrably left translated code (spec.md §4.H).
func (b *stateBox) CASToDestroyPending() bool {
	return atomic.CompareAndSwapInt32(&b.v, int32(StateUnfollowPending), int32(StateDestroyPending))
}
