package execctx

import "github.com/0xDC00/frida-gum/internal/slab"

// BlockFlags are per-block bits (spec.md §3 "flags (e.g. 'is the
// activation target')").
type BlockFlags uint32

const (
	FlagActivationTarget BlockFlags = 1 << iota
	FlagInvalidated
)

// CallSite records one statically-backpatchable direct call/jmp emitted
// inside a block: the offset of its rel32 fixup and the guest address it
// currently resolves to via the slow path (spec.md §4.G "static
// backpatch"). Conditional branches are not recorded.
type CallSite struct {
	CodeOffset  int
	GuestTarget uintptr
}

// Block records one translated guest basic block (spec.md §3 ExecBlock).
//
// Invariant: TranslatedSize+SnapshotSize <= Capacity. The translated
// code area is immediately followed in memory by an optional snapshot
// (a byte-for-byte copy of the guest bytes) when the trust threshold is
// positive.
type Block struct {
	GuestStart      uintptr
	CodeStart       uintptr
	GuestSize       int
	TranslatedSize  int
	Capacity        int
	Flags           BlockFlags
	RecycleCount    int64
	Snapshot        []byte
	StorageBlock    *Block // set when a recompile outgrew Capacity
	OwningSlab      *slab.Slab
	CalloutHeadOff  int // offset, within the translated code, to the first CalloutEntry; -1 if none

	// CallSites lists every statically-backpatchable site this block
	// emitted (spec.md §4.G); ICArrays lists every inline-cache array it
	// reserved (spec.md §4.E.2). Both are recorded at compile time; no
	// code in this tree reads them back after the block is committed.
	CallSites []CallSite
	ICArrays  []*ICArray
}

func (b *Block) IsActivationTarget() bool { return b.Flags&FlagActivationTarget != 0 }
func (b *Block) IsInvalidated() bool      { return b.Flags&FlagInvalidated != 0 }

// Trusted reports whether the block should be reused as-is given the
// current trust threshold, per spec.md §4.B:
//
//	trustThreshold < 0        -> always recompile (false)
//	recycleCount >= threshold -> reuse, bump recycle count
//	otherwise                 -> caller must byte-compare the snapshot
func (b *Block) Trusted(trustThreshold int64) (trusted bool, mustSnapshotCompare bool) {
	if trustThreshold < 0 {
		return false, false
	}
	if b.RecycleCount >= trustThreshold {
		return true, false
	}
	return false, true
}

// SnapshotMatches byte-compares the block's snapshot against the live
// guest bytes, implementing the tier-3 path of Trusted's contract.
func (b *Block) SnapshotMatches(liveGuestBytes []byte) bool {
	if len(b.Snapshot) != len(liveGuestBytes) {
		return false
	}
	for i := range b.Snapshot {
		if b.Snapshot[i] != liveGuestBytes[i] {
			return false
		}
	}
	return true
}
