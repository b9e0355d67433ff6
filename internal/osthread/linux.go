//go:build linux

package osthread

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// LinuxController implements Controller with ptrace(2), grounded on the
// gvisor ptrace-platform subprocess file's choice of raw Linux
// thread-control primitives (other_examples/42d0cd13_...
// _subprocess_linux.go.go uses unix.RawSyscall6 for process/thread
// creation in the same package); register access here goes through
// golang.org/x/sys/unix's higher-level PtraceGetRegs/PtraceSetRegs
// wrappers, since the pack contains no example exercising raw
// PTRACE_GETREGS/PTRACE_SETREGS byte layouts directly and x/sys/unix is
// the same dependency osmem already uses for mmap/mprotect.
type LinuxController struct {
	attached map[ID]bool
}

func NewLinuxController() *LinuxController {
	return &LinuxController{attached: make(map[ID]bool)}
}

func (c *LinuxController) Attach(id ID) error {
	if c.attached[id] {
		return nil
	}
	if err := unix.PtraceAttach(int(id)); err != nil {
		return errors.Wrapf(err, "osthread: ptrace attach tid=%d", id)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(int(id), &ws, 0, nil); err != nil {
		return errors.Wrapf(err, "osthread: wait4 after attach tid=%d", id)
	}
	c.attached[id] = true
	return nil
}

func (c *LinuxController) Detach(id ID) error {
	if !c.attached[id] {
		return nil
	}
	if err := unix.PtraceDetach(int(id)); err != nil {
		return errors.Wrapf(err, "osthread: ptrace detach tid=%d", id)
	}
	delete(c.attached, id)
	return nil
}

func (c *LinuxController) GetRegs(id ID) (Regs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(id), &regs); err != nil {
		return Regs{}, errors.Wrapf(err, "osthread: ptrace getregs tid=%d", id)
	}
	return fromPtraceRegs(regs), nil
}

func (c *LinuxController) SetRegs(id ID, r Regs) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(id), &regs); err != nil {
		return errors.Wrapf(err, "osthread: ptrace getregs (pre-set) tid=%d", id)
	}
	toPtraceRegs(r, &regs)
	if err := unix.PtraceSetRegs(int(id), &regs); err != nil {
		return errors.Wrapf(err, "osthread: ptrace setregs tid=%d", id)
	}
	return nil
}

func (c *LinuxController) Resume(id ID, signal int) error {
	if err := unix.PtraceCont(int(id), signal); err != nil {
		return errors.Wrapf(err, "osthread: ptrace cont tid=%d", id)
	}
	return nil
}

func (c *LinuxController) SingleStep(id ID) error {
	if err := unix.PtraceSingleStep(int(id)); err != nil {
		return errors.Wrapf(err, "osthread: ptrace singlestep tid=%d", id)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(int(id), &ws, 0, nil); err != nil {
		return errors.Wrapf(err, "osthread: wait4 after singlestep tid=%d", id)
	}
	return nil
}

func fromPtraceRegs(regs unix.PtraceRegs) Regs {
	return Regs{
		RIP: regs.Rip, RSP: regs.Rsp, RBP: regs.Rbp,
		RAX: regs.Rax, RBX: regs.Rbx, RCX: regs.Rcx, RDX: regs.Rdx,
		RSI: regs.Rsi, RDI: regs.Rdi,
		R8: regs.R8, R9: regs.R9, R10: regs.R10, R11: regs.R11,
		R12: regs.R12, R13: regs.R13, R14: regs.R14, R15: regs.R15,
		RFlags: regs.Eflags,
	}
}

func toPtraceRegs(r Regs, out *unix.PtraceRegs) {
	out.Rip, out.Rsp, out.Rbp = r.RIP, r.RSP, r.RBP
	out.Rax, out.Rbx, out.Rcx, out.Rdx = r.RAX, r.RBX, r.RCX, r.RDX
	out.Rsi, out.Rdi = r.RSI, r.RDI
	out.R8, out.R9, out.R10, out.R11 = r.R8, r.R9, r.R10, r.R11
	out.R12, out.R13, out.R14, out.R15 = r.R12, r.R13, r.R14, r.R15
	out.Eflags = r.RFlags
}
