package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// KillGrace is how long a tree gets between SIGTERM and SIGKILL.
const KillGrace = 100 * time.Millisecond

// Stdio selects what a child's standard stream is connected to.
type Stdio int

const (
	// Null connects the stream to the null device.
	Null Stdio = iota
	// Piped connects the stream to a pipe owned by the parent.
	Piped
)

// Spec describes a child process.
type Spec struct {
	Path string
	Args []string
	Dir  string
	// Env is layered over the inherited environment before filtering.
	Env map[string]string
	// Terminal adds the terminal identity variables and leaves process
	// group setup to the PTY layer.
	Terminal bool
	Stdin    Stdio
	Stdout   Stdio
	Stderr   Stdio
}

// Command builds an unstarted command for spec with the filtered environment.
func Command(spec Spec) (*exec.Cmd, error) {
	if spec.Path == "" {
		return nil, errors.New("process path is required")
	}
	path := spec.Path
	if resolved, err := exec.LookPath(spec.Path); err == nil {
		path = resolved
	}
	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = InheritedEnv(spec.Env, spec.Terminal)
	if !spec.Terminal {
		cmd.SysProcAttr = groupAttr()
	}
	return cmd, nil
}

// Child is a spawned process. Kill tears down the whole tree and is safe to
// call more than once.
type Child struct {
	cmd    *exec.Cmd
	logger pslog.Logger

	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	done     chan struct{}
	exitCode int
	waitErr  error

	killOnce sync.Once
	killErr  error
}

// Spawn starts spec. The pipes returned on Child stay open after the process
// exits so readers can drain them to EOF.
func Spawn(ctx context.Context, spec Spec) (*Child, error) {
	logger := pslog.Ctx(ctx)
	cmd, err := Command(spec)
	if err != nil {
		return nil, err
	}
	child := &Child{cmd: cmd, logger: logger, done: make(chan struct{}), exitCode: -1}
	var parentEnds []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			_ = f.Close()
		}
	}
	var ours []*os.File
	if spec.Stdin == Piped {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		cmd.Stdin = r
		child.Stdin = w
		parentEnds = append(parentEnds, r)
		ours = append(ours, w)
	}
	if spec.Stdout == Piped {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(parentEnds)
			closeAll(ours)
			return nil, err
		}
		cmd.Stdout = w
		child.Stdout = r
		parentEnds = append(parentEnds, w)
		ours = append(ours, r)
	}
	if spec.Stderr == Piped {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(parentEnds)
			closeAll(ours)
			return nil, err
		}
		cmd.Stderr = w
		child.Stderr = r
		parentEnds = append(parentEnds, w)
		ours = append(ours, r)
	}

	logger.Debug("process spawn start", "path", cmd.Path, "args", len(spec.Args), "dir", spec.Dir)
	if err := cmd.Start(); err != nil {
		closeAll(parentEnds)
		closeAll(ours)
		logger.Warn("process spawn failed", "path", cmd.Path, "err", err)
		return nil, fmt.Errorf("spawn %s: %w", spec.Path, err)
	}
	closeAll(parentEnds)
	logger.Debug("process spawn ok", "path", cmd.Path, "pid", cmd.Process.Pid)

	go child.wait()
	return child, nil
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			err = nil
		} else {
			code = -1
		}
	}
	c.exitCode = code
	c.waitErr = err
	close(c.done)
}

// Pid returns the process id of the root process.
func (c *Child) Pid() int {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Done is closed once the process has been reaped.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Exited reports whether the process has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ExitCode is the exit status after Done, or -1 when killed by a signal.
func (c *Child) ExitCode() int {
	select {
	case <-c.done:
		return c.exitCode
	default:
		return -1
	}
}

// Wait blocks until the process is reaped or ctx ends.
func (c *Child) Wait(ctx context.Context) (int, error) {
	select {
	case <-c.done:
		return c.exitCode, c.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Interrupt delivers an interactive interrupt to the root process.
func (c *Child) Interrupt() error {
	if c.Exited() {
		return nil
	}
	return interrupt(c.Pid())
}

// Kill terminates the whole process tree: a polite signal first, then a
// forced kill after KillGrace.
func (c *Child) Kill() error {
	c.killOnce.Do(func() {
		if c.Stdin != nil {
			_ = c.Stdin.Close()
		}
		if c.Exited() {
			// The root is gone; stragglers in its group still get reaped.
			c.killErr = KillTree(c.Pid(), 0, c.done)
			return
		}
		c.killErr = KillTree(c.Pid(), KillGrace, c.done)
		if c.killErr != nil {
			c.logger.Warn("process kill failed", "pid", c.Pid(), "err", c.killErr)
		}
	})
	return c.killErr
}

// Close kills the tree and releases the parent pipe ends.
func (c *Child) Close() error {
	err := c.Kill()
	if c.Stdout != nil {
		_ = c.Stdout.Close()
	}
	if c.Stderr != nil {
		_ = c.Stderr.Close()
	}
	return err
}

func waitExited(exited <-chan struct{}, grace time.Duration) bool {
	if exited == nil {
		time.Sleep(grace)
		return false
	}
	if grace <= 0 {
		select {
		case <-exited:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return true
	case <-timer.C:
		return false
	}
}
