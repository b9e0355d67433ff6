//go:build linux

package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// procMemReader implements stalker.GuestReader over /proc/<pid>/mem,
// the plain-file-I/O way to read another process's address space on
// Linux once it's already ptrace-attached (no ptrace PEEKTEXT looping
// needed once the mapping exists).
type procMemReader struct {
	f *os.File
}

func newProcMemReader(pid int) *procMemReader {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDONLY, 0)
	if err != nil {
		// Deferred: ReadGuestBytes reports the failure per call rather
		// than aborting construction, since the compiler treats a
		// read failure as the spec.md §7 "page unreadable" fallback
		// case, not a fatal error.
		return &procMemReader{}
	}
	return &procMemReader{f: f}
}

func (r *procMemReader) ReadGuestBytes(addr uintptr, n int) ([]byte, error) {
	if r.f == nil {
		return nil, errors.New("stalker-trace: /proc/<pid>/mem not open")
	}
	buf := make([]byte, n)
	if _, err := r.f.ReadAt(buf, int64(addr)); err != nil {
		return nil, errors.Wrapf(err, "stalker-trace: read guest memory at %#x", addr)
	}
	return buf, nil
}
