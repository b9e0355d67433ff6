package engtypes

// Observer is the optional external collaborator that counts entry-gate
// hits and replays backpatches for cache prefetch (spec.md §6).
type Observer interface {
	IncrementCallImm()
	IncrementCallReg()
	IncrementCallMem()
	IncrementRetSlowPath()
	IncrementJmpImm()
	IncrementJmpMem()
	IncrementJmpCond()
	IncrementTotal()
	NotifyBackpatch(desc BackpatchDescriptor, size int)
}

// BackpatchDescriptor is the opaque, versioned blob an Observer may
// capture via NotifyBackpatch and replay into another engine via
// Engine.PrefetchBackpatch (spec.md §4.G, §6 "Persisted state").
//
// Layout is versioned: Version must be checked by any consumer before
// interpreting Payload.
type BackpatchDescriptor struct {
	Version    uint32
	GuestAddr  uintptr
	SiteAddr   uintptr
	TargetAddr uintptr
	IsIC       bool
	Payload    []byte
}

// CurrentBackpatchVersion is the version stamped into every descriptor
// produced by this tree.
const CurrentBackpatchVersion = 1

// NoopObserver is installed by default so gate code never has to
// nil-check its Observer.
type NoopObserver struct{}

func (NoopObserver) IncrementCallImm()                        {}
func (NoopObserver) IncrementCallReg()                        {}
func (NoopObserver) IncrementCallMem()                        {}
func (NoopObserver) IncrementRetSlowPath()                    {}
func (NoopObserver) IncrementJmpImm()                         {}
func (NoopObserver) IncrementJmpMem()                         {}
func (NoopObserver) IncrementJmpCond()                        {}
func (NoopObserver) IncrementTotal()                          {}
func (NoopObserver) NotifyBackpatch(BackpatchDescriptor, int) {}
