package slab

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/osmem"
)

// Spec describes an allocate-near request: a hint address and the
// maximum signed-32-bit-reachable distance from it (spec.md §4.A).
type Spec struct {
	Near        uintptr
	MaxDistance uintptr
}

// DefaultSlabSize is the size of a freshly pushed slab when the caller
// doesn't otherwise size it to fit one oversized request.
const DefaultSlabSize = 4 * osmem.PageSize

// Allocator owns the OS mapper and creates new slabs on demand. One
// Allocator is shared by all ExecContexts in the engine; each context
// keeps its own slab chains but asks this allocator to grow them.
type Allocator struct {
	Mapper osmem.Mapper
}

func New(m osmem.Mapper) *Allocator {
	return &Allocator{Mapper: m}
}

// NewSlab maps a fresh region near spec.Near sized to hold at least
// minSize bytes (rounded up to DefaultSlabSize), with the permissions
// appropriate for kind, and returns a bump-allocator Slab over it.
//
// Code slabs are mapped RW and must be frozen (Freeze) before guest
// threads can execute out of them; data slabs are mapped RW and stay
// that way for their whole lifetime.
func (a *Allocator) NewSlab(ctx context.Context, kind Kind, spec Spec, minSize int) (*Slab, error) {
	size := minSize
	if size < DefaultSlabSize {
		size = DefaultSlabSize
	}
	perms := osmem.PermRW
	if kind == KindCode && a.Mapper.RWXAllowed() {
		perms = osmem.PermRWX
	}
	region, err := a.Mapper.MapNear(spec.Near, spec.MaxDistance, size, perms)
	if err != nil {
		return nil, errors.Wrapf(err, "slab: map %d bytes near %#x", size, spec.Near)
	}
	log.G(ctx).WithField("addr", region.Addr).WithField("len", region.Len).
		WithField("kind", kind).Debug("slab: mapped new region")
	return &Slab{Kind: kind, Region: region, thawed: perms != osmem.PermRX}, nil
}

// Thaw transitions a code slab RW so the compiler/backpatcher can write
// into it; a no-op (beyond bookkeeping) on hosts where RWX is already
// in effect. Must be paired with Freeze before guest code runs.
func (a *Allocator) Thaw(s *Slab) error {
	if s.Kind != KindCode || s.thawed {
		return nil
	}
	if err := a.Mapper.Protect(s.Region, osmem.PermRW); err != nil {
		return errors.Wrap(err, "slab: thaw")
	}
	s.thawed = true
	return nil
}

// Freeze transitions a code slab RX and flushes the instruction cache,
// making freshly emitted bytes safe to execute (spec.md §5). On hosts
// where RWX is allowed it only flushes and leaves the slab RWX.
func (a *Allocator) Freeze(s *Slab) error {
	if s.Kind != KindCode || !s.thawed {
		return nil
	}
	if a.Mapper.RWXAllowed() {
		return errors.Wrap(a.Mapper.FlushICache(s.Region), "slab: flush icache")
	}
	if err := a.Mapper.Protect(s.Region, osmem.PermRX); err != nil {
		return errors.Wrap(err, "slab: freeze")
	}
	if err := a.Mapper.FlushICache(s.Region); err != nil {
		return errors.Wrap(err, "slab: flush icache")
	}
	s.thawed = false
	return nil
}
