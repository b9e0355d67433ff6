// Package backpatch rewrites already-emitted translated sites in place
// once their target resolves, short-circuiting the slow path on
// subsequent hits (spec.md §4.G).
package backpatch

import (
	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/engtypes"
	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/slab"
)

// Site is a previously-emitted call/jmp whose rel32 immediate may later
// be rewritten to point directly at a resolved block, once the target's
// trust allows it.
type Site struct {
	Slab       *slab.Slab
	CodeOffset int // offset, within Slab, of the rel32 field
	SelfAddr   uintptr
	GuestAddr  uintptr // the guest address this site branches to
}

var errNotEligible = errors.New("backpatch: target not eligible")

// Static performs the direct-edge rewrite described in spec.md §4.G:
// call/jmp/ret sites whose target is now a known block. Preconditions
// (spec.md §4.G, §8 invariant 6): ctx is active, the target block is not
// the activation target, and recycleCount >= trustThreshold.
func Static(ctx *execctx.Context, alloc *slab.Allocator, site Site, target *execctx.Block, trustThreshold int64, obs engtypes.Observer) error {
	if ctx.State() != execctx.StateActive {
		return errors.Wrap(errNotEligible, "context not active")
	}
	if target.IsActivationTarget() {
		return errors.Wrap(errNotEligible, "target is activation target")
	}
	if target.RecycleCount < trustThreshold {
		return errors.Wrap(errNotEligible, "target not yet trusted")
	}

	ctx.CodeLock.Lock()
	defer ctx.CodeLock.Unlock()

	if err := alloc.Thaw(site.Slab); err != nil {
		return errors.Wrap(err, "thaw backpatch site")
	}
	w := &asmx64.Writer{Code: site.Slab.Bytes()}
	w.PatchRel32At(site.CodeOffset, int(target.CodeStart-site.Slab.Base()))
	if err := alloc.Freeze(site.Slab); err != nil {
		return errors.Wrap(err, "freeze backpatch site")
	}

	if obs != nil {
		obs.NotifyBackpatch(engtypes.BackpatchDescriptor{
			Version:    engtypes.CurrentBackpatchVersion,
			GuestAddr:  site.GuestAddr,
			SiteAddr:   site.SelfAddr,
			TargetAddr: target.CodeStart,
			IsIC:       false,
		}, 4)
	}
	return nil
}

// InlineCache performs the IC-entry rewrite described in spec.md §4.G:
// locate the first empty entry in the array embedded at an indirect
// call/jmp site and populate it; a no-op if guestTarget is already
// present (spec.md §8 invariant 5, "IC monotonicity").
func InlineCache(alloc *slab.Allocator, ic *execctx.ICArray, s *slab.Slab, guestTarget, translatedTarget uintptr, obs engtypes.Observer) error {
	if ic.Contains(guestTarget) {
		return nil
	}
	idx := ic.FirstEmpty()
	if idx < 0 {
		return errors.New("backpatch: inline cache full")
	}

	if err := alloc.Thaw(s); err != nil {
		return errors.Wrap(err, "thaw ic entry")
	}
	off := int(ic.Addr-s.Base()) + idx*execctx.ICEntrySize
	writeICEntryBytes(s.Bytes()[off:], guestTarget, translatedTarget)
	ic.Entries[idx] = execctx.ICEntry{Guest: guestTarget, Translated: translatedTarget}
	if err := alloc.Freeze(s); err != nil {
		return errors.Wrap(err, "freeze ic entry")
	}

	if obs != nil {
		obs.NotifyBackpatch(engtypes.BackpatchDescriptor{
			Version:    engtypes.CurrentBackpatchVersion,
			GuestAddr:  guestTarget,
			SiteAddr:   ic.Addr,
			TargetAddr: translatedTarget,
			IsIC:       true,
		}, 16)
	}
	return nil
}

// writeICEntryBytes packs (guest, translated) as two little-endian u64s
// directly into the owning slab, the bytes the emitted scan in
// internal/virt actually reads — updating ic.Entries alone leaves the
// inline cache's Go mirror out of sync with the code it describes.
func writeICEntryBytes(buf []byte, guest, translated uintptr) {
	putU64(buf, uint64(guest))
	putU64(buf[8:], uint64(translated))
}

func putU64(buf []byte, v uint64) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	buf[4] = byte(v >> 32)
	buf[5] = byte(v >> 40)
	buf[6] = byte(v >> 48)
	buf[7] = byte(v >> 56)
}
