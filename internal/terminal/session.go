package terminal

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/output"
	"pkt.systems/cortex/internal/process"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// pumpDrainTimeout bounds how long an exited shell's remaining output may
// take to drain when a background job still holds the slave open.
const pumpDrainTimeout = 250 * time.Millisecond

// Session is a shell attached to a pseudo-terminal.
type Session struct {
	id        schema.SessionID
	shell     string
	cwd       string
	createdAt time.Time
	logger    pslog.Logger
	sink      core.EventSink
	onEnd     func(*Session) bool

	mu       sync.Mutex
	name     string
	cols     uint16
	rows     uint16
	status   schema.TerminalStatus
	exitCode *int

	wmu    sync.Mutex
	writer *bufio.Writer

	master  *os.File
	cmd     *exec.Cmd
	flow    *output.FlowControl
	running atomic.Bool
	closing atomic.Bool

	exited   chan struct{}
	waitCode int
	pumpDone chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once
}

func startSession(ctx context.Context, cfg Config, opts Options, sink core.EventSink) (*Session, error) {
	shell := opts.Shell
	if shell == "" {
		shell = cfg.DefaultShell
	}
	if shell == "" {
		shell = DefaultShell()
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	cwd := opts.Cwd
	if cwd == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cwd = home
		}
	}
	if cwd != "" {
		info, err := os.Stat(cwd)
		if err != nil || !info.IsDir() {
			return nil, schema.BadArgument("cwd", "not a directory: "+cwd)
		}
	}

	cmd, err := process.Command(process.Spec{
		Path:     shell,
		Args:     opts.Args,
		Dir:      cwd,
		Env:      opts.Env,
		Terminal: true,
	})
	if err != nil {
		return nil, schema.BadArgument("shell", err.Error())
	}
	id := core.NewSessionID(schema.KindPty)
	logger := pslog.Ctx(ctx).With("session", id, "kind", schema.KindPty)
	logger.Info("terminal start", "shell", shell, "cwd", cwd, "cols", cols, "rows", rows)
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		logger.Warn("terminal start failed", "shell", shell, "err", err)
		if errors.Is(err, pty.ErrUnsupported) {
			return nil, schema.Unsupported("pseudo-terminal")
		}
		return nil, schema.IO(err)
	}

	name := opts.Name
	if name == "" {
		name = shellName(shell)
	}
	s := &Session{
		id:        id,
		shell:     shell,
		cwd:       cwd,
		createdAt: time.Now(),
		logger:    logger,
		sink:      sink,
		name:      name,
		cols:      cols,
		rows:      rows,
		status:    schema.TerminalRunning,
		writer:    bufio.NewWriterSize(master, cfg.writerBufferSize()),
		master:    master,
		cmd:       cmd,
		flow:      output.NewFlowControl(cfg.MaxPending),
		exited:    make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}
	s.running.Store(true)
	go s.wait()
	logger.Info("terminal start ok", "pid", s.Pid())
	return s, nil
}

// ID implements core.Session.
func (s *Session) ID() schema.SessionID { return s.id }

// Kind implements core.Session.
func (s *Session) Kind() schema.SessionKind { return schema.KindPty }

// Pid returns the shell process id.
func (s *Session) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Info snapshots the session for the renderer.
func (s *Session) Info() schema.TerminalInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := schema.TerminalInfo{
		ID:        s.id,
		Name:      s.name,
		Shell:     s.shell,
		Cwd:       s.cwd,
		Cols:      s.cols,
		Rows:      s.rows,
		Pid:       s.Pid(),
		Status:    s.status,
		CreatedAt: s.createdAt.Unix(),
	}
	if s.exitCode != nil {
		code := *s.exitCode
		info.ExitCode = &code
	}
	return info
}

func (s *Session) startPump(cfg output.Config) {
	go func() {
		defer close(s.pumpDone)
		err := output.Run(context.Background(), s.master, s.flow, &s.running, func(text string) error {
			return s.sink.Emit(schema.TopicTerminalOutput, schema.TerminalOutputEvent{ID: s.id, Data: text})
		}, cfg)
		if err != nil && !s.closing.Load() {
			s.logger.Debug("terminal reader stopped", "err", err)
		}
	}()
	go s.supervise()
}

func (s *Session) wait() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.waitCode = code
	close(s.exited)
}

// supervise turns a shell exit into the exited status event.
func (s *Session) supervise() {
	<-s.exited
	if s.closing.Load() {
		return
	}
	select {
	case <-s.pumpDone:
	case <-time.After(pumpDrainTimeout):
	}
	if s.closing.Load() {
		return
	}
	if s.onEnd != nil && !s.onEnd(s) {
		// Somebody else removed us first and owns the teardown.
		return
	}
	s.running.Store(false)
	_ = s.master.Close()
	code := s.waitCode
	s.logger.Info("terminal exited", "exit_code", code)
	s.finish(schema.TerminalExited, &code)
}

func (s *Session) finish(status schema.TerminalStatus, code *int) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.status = status
		s.exitCode = code
		s.mu.Unlock()
		if err := s.sink.Emit(schema.TopicTerminalStatus, schema.TerminalStatusEvent{ID: s.id, Status: status, ExitCode: code}); err != nil {
			s.logger.Debug("terminal status emit failed", "err", err)
		}
	})
}

// Write queues data for the shell and flushes it.
func (s *Session) Write(data []byte) error {
	if !s.running.Load() {
		return schema.TransportClosed(nil)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return schema.TransportClosed(err)
	}
	if err := s.writer.Flush(); err != nil {
		return schema.TransportClosed(err)
	}
	return nil
}

// Interrupt sends ETX (Ctrl-C).
func (s *Session) Interrupt() error { return s.Write([]byte{0x03}) }

// EOF sends EOT (Ctrl-D).
func (s *Session) EOF() error { return s.Write([]byte{0x04}) }

// Resize changes the PTY window size.
func (s *Session) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return schema.BadArgument("size", "cols and rows must be positive")
	}
	if !s.running.Load() {
		return schema.TransportClosed(nil)
	}
	if err := pty.Setsize(s.master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return schema.IO(err)
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return nil
}

// Ack releases n bytes of output credit.
func (s *Session) Ack(n int) {
	s.flow.Ack(n)
}

// Rename updates the display name.
func (s *Session) Rename(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Close kills the shell tree, stops the reader and reports status closed.
// Repeated calls return nil.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.running.Store(false)
		s.logger.Info("terminal close start")
		if err := process.KillTree(s.Pid(), process.KillGrace, s.exited); err != nil {
			s.logger.Warn("terminal kill failed", "err", err)
		}
		_ = s.master.Close()
		select {
		case <-s.pumpDone:
		case <-ctx.Done():
		case <-time.After(pumpDrainTimeout):
		}
		s.finish(schema.TerminalClosed, nil)
		s.logger.Info("terminal close ok")
	})
	return nil
}

// Kill force-stops the session without waiting.
func (s *Session) Kill() {
	s.closing.Store(true)
	s.running.Store(false)
	_ = process.KillTree(s.Pid(), 0, s.exited)
	_ = s.master.Close()
}
