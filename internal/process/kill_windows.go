//go:build windows

package process

import (
	"errors"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// DetachAttr starts a child without a console so it outlives the parent.
func DetachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS}
}

// KillTree runs taskkill over the whole tree rooted at pid. A process that is
// already gone counts as success.
func KillTree(pid int, grace time.Duration, exited <-chan struct{}) error {
	if pid <= 0 {
		return nil
	}
	_ = exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
	if grace > 0 && waitExited(exited, grace) {
		return nil
	}
	err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// 128: no such process.
		if exitErr.ExitCode() == 128 {
			return nil
		}
	}
	return err
}

func interrupt(int) error {
	return errors.New("interrupt is not supported on windows")
}

// InterruptSupported reports whether Interrupt can deliver a signal on this platform.
func InterruptSupported() bool { return false }
