//go:build linux

package osmem

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// LinuxMapper implements Mapper with mmap(2)/mprotect(2), grounded on the
// raw-syscall style used by the gvisor ptrace-platform subprocess code
// for native process control (other_examples/42d0cd13_...
// _subprocess_linux.go: unix.RawSyscall6(unix.SYS_CLONE, ...)) — direct
// unix.RawSyscall6 rather than any higher-level OS abstraction, needed
// here because placing a mapping at a specific address requires
// MAP_FIXED_NOREPLACE, which package-level unix.Mmap does not expose.
type LinuxMapper struct {
	// Stride is the step, in pages, tried between candidate addresses
	// while searching for room near a hint. Exposed for tests.
	Stride int
}

func NewLinuxMapper() *LinuxMapper {
	return &LinuxMapper{Stride: 16}
}

func (m *LinuxMapper) protFor(p Perms) uintptr {
	switch p {
	case PermRX:
		return unix.PROT_READ | unix.PROT_EXEC
	case PermRWX:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	default:
		return unix.PROT_READ | unix.PROT_WRITE
	}
}

func rawMmap(addr, length, prot, flags uintptr) (uintptr, unix.Errno) {
	ret, _, errno := unix.RawSyscall6(unix.SYS_MMAP, addr, length, prot, flags, ^uintptr(0), 0)
	return ret, errno
}

// MapNear reserves length bytes within maxDistance of near. It probes
// candidate addresses outward from near in both directions, in strides
// of m.Stride pages, using MAP_FIXED_NOREPLACE so a collision is
// reported (EEXIST) rather than silently clobbering another mapping.
func (m *LinuxMapper) MapNear(near uintptr, maxDistance uintptr, length int, perms Perms) (Region, error) {
	length = alignUp(length, PageSize)
	prot := m.protFor(perms)
	flags := uintptr(unix.MAP_PRIVATE | unix.MAP_ANON)

	if near == 0 {
		addr, errno := rawMmap(0, uintptr(length), prot, flags)
		if errno != 0 {
			return Region{}, errors.Wrap(errno, "osmem: mmap anywhere")
		}
		return Region{Addr: addr, Len: length}, nil
	}

	stride := uintptr(m.Stride) * PageSize
	base := near &^ (PageSize - 1)
	fixedFlags := flags | unix.MAP_FIXED_NOREPLACE
	for delta := uintptr(0); delta < maxDistance; delta += stride {
		for _, cand := range [2]uintptr{base + delta, base - delta} {
			if cand == 0 || cand > base+maxDistance {
				continue
			}
			addr, errno := rawMmap(cand, uintptr(length), prot, fixedFlags)
			if errno == 0 {
				return Region{Addr: addr, Len: length}, nil
			}
		}
	}
	return Region{}, ErrNoRoom
}

func (m *LinuxMapper) Protect(r Region, perms Perms) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(r.Addr)), r.Len)
	if err := unix.Mprotect(data, int(m.protFor(perms))); err != nil {
		return errors.Wrapf(err, "osmem: mprotect %#x len=%d", r.Addr, r.Len)
	}
	return nil
}

func (m *LinuxMapper) Unmap(r Region) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(r.Addr)), r.Len)
	if err := unix.Munmap(data); err != nil {
		return errors.Wrap(err, "osmem: munmap")
	}
	return nil
}

// FlushICache is a no-op on x86-64: the instruction and data caches are
// coherent, so a freeze never needs an explicit flush. Kept so the
// interface has somewhere for an arm64 backend to hook __builtin___clear_cache
// equivalents later.
func (m *LinuxMapper) FlushICache(Region) error { return nil }

// RWXAllowed reports false unconditionally: modern Linux kernels
// configured with W^X-enforcing LSMs reject RWX mappings outright, so
// the engine always goes through thaw/freeze rather than probing for
// RWX support at runtime.
func (m *LinuxMapper) RWXAllowed() bool { return false }

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
