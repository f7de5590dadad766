//go:build !windows

package process

import (
	"errors"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// DetachAttr starts a child in its own session so it outlives the parent's
// terminal.
func DetachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// signal is unix.Kill, swappable in tests.
var signal = unix.Kill

// KillTree sends SIGTERM to pid's process group and every descendant, waits
// up to grace for the root to exit, then SIGKILLs whatever remains. exited,
// when non-nil, is closed by whoever reaps pid. A process that is already
// gone counts as success. Once pid has been reaped only its group is
// signalled, since the bare pid may already belong to another process.
func KillTree(pid int, grace time.Duration, exited <-chan struct{}) error {
	if pid <= 0 {
		return nil
	}
	// Descendants must be collected before the root dies and they are
	// reparented away from it.
	var tree []int
	reaped := waitExited(exited, 0)
	if !reaped {
		tree, _ = descendants(pid)
	}
	firstErr := signalTree(pid, tree, unix.SIGTERM, reaped)
	if grace > 0 {
		reaped = waitExited(exited, grace)
	} else {
		reaped = waitExited(exited, 0)
	}
	if !reaped {
		if more, err := descendants(pid); err == nil {
			tree = append(tree, more...)
		}
	}
	if err := signalTree(pid, tree, unix.SIGKILL, reaped); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func signalTree(pid int, tree []int, sig unix.Signal, reaped bool) error {
	var firstErr error
	record := func(err error) {
		if err == nil || errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EPERM) {
			return
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	// pid is a group leader for both spawned children (Setpgid) and PTY
	// children (Setsid). The group id stays reserved while members live.
	record(signal(-pid, sig))
	if reaped {
		return firstErr
	}
	record(signal(pid, sig))
	for _, child := range tree {
		record(signal(child, sig))
	}
	return firstErr
}

func interrupt(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(pid, unix.SIGINT)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// InterruptSupported reports whether Interrupt can deliver a signal on this platform.
func InterruptSupported() bool { return true }
