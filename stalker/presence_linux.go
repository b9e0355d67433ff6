//go:build linux

package stalker

import (
	"golang.org/x/sys/unix"

	"github.com/0xDC00/frida-gum/internal/osthread"
)

// ThreadExists implements internal/gclife.ThreadPresence: a signal-0
// kill probes liveness without delivering anything, the same idiom the
// gvisor ptrace-platform subprocess file (other_examples) uses via raw
// syscalls for process control, applied here through x/sys/unix's
// wrapper instead of a raw syscall since osthread's LinuxController
// already depends on that package for the same class of primitive.
func (e *Engine) ThreadExists(id osthread.ID) bool {
	return unix.Kill(int(id), 0) == nil
}

// currentThreadID returns the gettid() of the OS thread this goroutine
// is currently running on, for garbage_collect's "sweep running on the
// context's own owning thread" eligibility condition (spec.md §4.H).
// Go goroutines can migrate between OS threads between calls, so this is
// only exact immediately around a runtime.LockOSThread'd sequence; it is
// a best-effort approximation of a concept the spec assumes is a single
// native thread of control.
func currentThreadID() osthread.ID {
	return osthread.ID(unix.Gettid())
}
