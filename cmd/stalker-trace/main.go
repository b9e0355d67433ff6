//go:build linux

// Command stalker-trace is a thin CLI harness driving the engine against
// a freshly spawned child process: it starts the target under ptrace,
// waits for the kernel's post-exec trap, then calls follow_me on its
// main thread and runs until the target exits (spec.md §6's "a CLI
// entry point exercising follow_me/unfollow_me end to end").
package main

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/containerd/log"
	"github.com/spf13/pflag"

	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/osmem"
	"github.com/0xDC00/frida-gum/internal/osthread"
	"github.com/0xDC00/frida-gum/stalker"
)

func main() {
	trustThreshold := pflag.Int64("trust-threshold", 0,
		"recompile trust threshold (spec.md §4.B); negative recompiles on every hit, 0 always reuses, N > 0 compares the guest snapshot until a block has been reused N times")
	icEntries := pflag.Int("ic-entries", 2, "inline-cache array length per indirect call/jmp site")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	if pflag.NArg() < 1 {
		log.L.Fatal("usage: stalker-trace [flags] <program> [args...]")
	}
	if *verbose {
		if err := log.SetLevel("debug"); err != nil {
			log.L.WithError(err).Warn("stalker-trace: could not raise log level")
		}
	}

	ctx := context.Background()
	target, targetArgs := pflag.Arg(0), pflag.Args()[1:]

	cmd := exec.Command(target, targetArgs...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	// SysProcAttr.Ptrace makes the child call PTRACE_TRACEME before
	// exec, stopping it with SIGTRAP right after the new image loads —
	// the same handoff point native follow_me-driving tools attach at.
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		log.G(ctx).WithError(err).Fatal("stalker-trace: start target")
	}
	pid := cmd.Process.Pid

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		log.G(ctx).WithError(err).Fatal("stalker-trace: wait for post-exec trap")
	}

	engine, err := stalker.New(
		decode.X86AsmDecoder{},
		osmem.NewLinuxMapper(),
		osthread.NewLinuxController(),
		nil, // no NativeBridge implementation ships in this tree; see stalker.New's doc comment
		newProcMemReader(pid),
		stalker.WithTrustThreshold(*trustThreshold),
		stalker.WithICEntries(*icEntries),
	)
	if err != nil {
		log.G(ctx).WithError(err).Fatal("stalker-trace: construct engine")
	}

	tid := osthread.ID(pid)
	if err := engine.FollowMe(tid, nil, nil); err != nil {
		log.G(ctx).WithError(err).Fatal("stalker-trace: follow target")
	}
	log.G(ctx).WithField("pid", pid).Info("stalker-trace: following target")

	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		log.G(ctx).WithError(err).Warn("stalker-trace: wait for target exit")
	}

	if err := engine.Stop(); err != nil {
		log.G(ctx).WithError(err).Error("stalker-trace: engine stop")
	}
}
