package remote

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"

	"pkt.systems/cortex/internal/output"
	"pkt.systems/cortex/schema"
)

// ChannelOptions describes the interactive PTY to open.
type ChannelOptions struct {
	Cols uint16
	Rows uint16
	Env  map[string]string
}

type ptyChannel struct {
	sess    *ssh.Session
	stdin   io.WriteCloser
	flow    *output.FlowControl
	running atomic.Bool
	done    chan struct{}

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (c *ptyChannel) close() {
	c.closeOnce.Do(func() {
		c.running.Store(false)
		_ = c.stdin.Close()
		_ = c.sess.Close()
	})
}

// OpenChannel allocates an xterm-256color PTY, applies env best-effort,
// starts the login shell and starts the output pump.
func (s *Session) OpenChannel(ctx context.Context, opts ChannelOptions) error {
	client, gen, err := s.current()
	if err != nil {
		return err
	}
	s.mu.Lock()
	open := s.channel != nil
	s.mu.Unlock()
	if open {
		return schema.BadArgument("channel", "an interactive channel is already open")
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	sess, err := client.NewSession()
	if err != nil {
		return s.opErr(gen, err)
	}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := sess.Setenv(k, opts.Env[k]); err != nil {
			s.logger.Debug("ssh setenv refused", "name", k)
		}
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", int(opts.Rows), int(opts.Cols), modes); err != nil {
		_ = sess.Close()
		return s.opErr(gen, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return s.opErr(gen, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return s.opErr(gen, err)
	}
	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return s.opErr(gen, err)
	}
	ch := &ptyChannel{
		sess:  sess,
		stdin: stdin,
		flow:  output.NewFlowControl(s.cfg.MaxPending),
		done:  make(chan struct{}),
	}
	ch.running.Store(true)

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		ch.close()
		return schema.TransportClosed(nil)
	}
	s.channel = ch
	saved := opts
	s.lastPty = &saved
	s.mu.Unlock()

	go s.pump(ch, stdout, gen)
	s.logger.Info("ssh channel open ok", "cols", opts.Cols, "rows", opts.Rows)
	return nil
}

func (s *Session) pump(ch *ptyChannel, stdout io.Reader, gen uint64) {
	defer close(ch.done)
	err := output.Run(context.Background(), stdout, ch.flow, &ch.running, func(text string) error {
		return s.sink.Emit(schema.TopicSSHOutput, schema.SSHOutputEvent{SessionID: s.id, Data: text})
	}, s.cfg.Output)
	if err != nil {
		s.logger.Debug("ssh channel reader stopped", "err", err)
	}
	s.channelEnded(ch, gen)
}

// channelEnded turns the end of the shell into a disconnected session.
func (s *Session) channelEnded(ch *ptyChannel, gen uint64) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.channel != ch {
		s.mu.Unlock()
		return
	}
	t := s.retireLocked()
	s.lastPty = nil
	s.mu.Unlock()
	s.logger.Info("ssh channel closed by remote")
	t.close()
	s.setStatus(schema.SSHDisconnected, "")
}

func (s *Session) activeChannel() (*ptyChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil || !s.channel.running.Load() {
		return nil, schema.TransportClosed(nil)
	}
	return s.channel, nil
}

// Write sends input to the remote shell.
func (s *Session) Write(data []byte) error {
	ch, err := s.activeChannel()
	if err != nil {
		return err
	}
	ch.wmu.Lock()
	defer ch.wmu.Unlock()
	if _, err := ch.stdin.Write(data); err != nil {
		return schema.TransportClosed(err)
	}
	return nil
}

// Resize changes the remote PTY window size.
func (s *Session) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return schema.BadArgument("size", "cols and rows must be positive")
	}
	ch, err := s.activeChannel()
	if err != nil {
		return err
	}
	if err := ch.sess.WindowChange(int(rows), int(cols)); err != nil {
		return schema.TransportClosed(err)
	}
	s.mu.Lock()
	if s.lastPty != nil {
		s.lastPty.Cols, s.lastPty.Rows = cols, rows
	}
	s.mu.Unlock()
	return nil
}

// Ack releases output credit for the PTY channel.
func (s *Session) Ack(n int) error {
	ch, err := s.activeChannel()
	if err != nil {
		return err
	}
	ch.flow.Ack(n)
	return nil
}

// CloseChannel stops the interactive shell and keeps the transport.
func (s *Session) CloseChannel() error {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.lastPty = nil
	s.mu.Unlock()
	if ch != nil {
		ch.close()
	}
	return nil
}
