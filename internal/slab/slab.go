// Package slab implements the bump-pointer executable/data memory
// allocator described in spec.md §4.A: code and data slabs are mapped
// near a hint address (so helpers and inline data stay within rel32
// reach), and each slab is a simple bump allocator with thaw/freeze
// bracketing every emission burst on W^X hosts.
package slab

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/osmem"
)

// Kind distinguishes code slabs (thaw/freeze, executable) from data
// slabs (always RW, hold ExecBlock records and auxiliary data).
type Kind int

const (
	KindCode Kind = iota
	KindData
)

// ErrFull is returned by Reserve when the slab has no room left; callers
// push a new slab and retry (spec.md §4.A: "failing when capacity would
// be exceeded").
var ErrFull = errors.New("slab: capacity exceeded")

// Slab is one contiguous bump-allocated region. Slabs form a singly
// linked list per ExecContext (code slabs and data slabs are separate
// chains); the head is always the slab currently being allocated from.
type Slab struct {
	mu sync.Mutex

	Kind   Kind
	Region osmem.Region
	cursor int

	// Next points at the slab allocated before this one (the chain
	// grows from newest-head backwards), matching spec.md §3's "once a
	// slab is full, a new one is pushed and the head updated".
	Next *Slab

	thawed bool
}

// Reserve bumps the cursor by size and returns the address of the
// reserved region, or ErrFull if it would overflow the slab.
func (s *Slab) Reserve(size int) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor+size > s.Region.Len {
		return 0, ErrFull
	}
	addr := s.Region.Addr + uintptr(s.cursor)
	s.cursor += size
	return addr, nil
}

// Remaining reports how many bytes are left before Reserve would fail.
func (s *Slab) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Region.Len - s.cursor
}

// Base returns the slab's start address.
func (s *Slab) Base() uintptr { return s.Region.Addr }

// Bytes returns a []byte view over the slab's entire mapped region, for
// callers (the compiler, the backpatcher) that need to write machine
// code directly into it under CodeLock. The caller must have thawed the
// slab first on W^X hosts.
func (s *Slab) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(s.Region.Addr)), s.Region.Len)
}

// Contains reports whether addr falls within this slab's mapped region,
// used by the ret fast-path tier 2 "slab-contains" check (spec.md §4.E.5).
func (s *Slab) Contains(addr uintptr) bool {
	return addr >= s.Region.Addr && addr < s.Region.Addr+uintptr(s.Region.Len)
}
