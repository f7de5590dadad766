package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// dialFunc re-establishes the transport with freshly fetched credentials.
type dialFunc func(ctx context.Context) (*ssh.Client, error)

// Session is an authenticated SSH transport with an optional interactive
// PTY channel. Exec and SFTP operations share the transport.
type Session struct {
	id        schema.SessionID
	profile   schema.SSHProfile
	cfg       Config
	createdAt time.Time
	logger    pslog.Logger
	sink      core.EventSink
	redial    dialFunc

	mu       sync.Mutex
	status   schema.SSHStatus
	errMsg   string
	platform string
	home     string
	cwd      string
	client   *ssh.Client
	sftp     *sftp.Client
	channel  *ptyChannel
	lastPty  *ChannelOptions
	gen      uint64
	stop     chan struct{}
	closed   bool

	closeOnce sync.Once
}

type transport struct {
	client  *ssh.Client
	sftp    *sftp.Client
	channel *ptyChannel
	stop    chan struct{}
}

func (t transport) close() {
	if t.stop != nil {
		close(t.stop)
	}
	if t.channel != nil {
		t.channel.close()
	}
	if t.sftp != nil {
		_ = t.sftp.Close()
	}
	if t.client != nil {
		_ = t.client.Close()
	}
}

func newSession(id schema.SessionID, profile schema.SSHProfile, cfg Config, sink core.EventSink, logger pslog.Logger, redial dialFunc) *Session {
	return &Session{
		id:        id,
		profile:   profile,
		cfg:       cfg,
		createdAt: time.Now(),
		logger:    logger,
		sink:      sink,
		redial:    redial,
		status:    schema.SSHConnecting,
	}
}

// ID implements core.Session.
func (s *Session) ID() schema.SessionID { return s.id }

// Kind implements core.Session.
func (s *Session) Kind() schema.SessionKind { return schema.KindSSH }

// Info snapshots the session for the renderer.
func (s *Session) Info() schema.SSHSessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	port := s.profile.Port
	if port == 0 {
		port = 22
	}
	return schema.SSHSessionInfo{
		ID:            s.id,
		ProfileID:     s.profile.ID,
		Host:          s.profile.Host,
		Port:          port,
		Username:      s.profile.Username,
		Status:        s.status,
		Error:         s.errMsg,
		Platform:      s.platform,
		HomeDirectory: s.home,
		Cwd:           s.cwd,
		HasChannel:    s.channel != nil,
		CreatedAt:     s.createdAt.Unix(),
	}
}

// attach installs a fresh transport and starts its watchers.
func (s *Session) attach(ctx context.Context, client *ssh.Client) {
	home, platform, err := probe(ctx, client)
	if err != nil {
		s.logger.Warn("ssh probe failed", "err", err)
	}
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.client = client
	s.stop = make(chan struct{})
	stop := s.stop
	if home != "" {
		s.home = home
		if s.cwd == "" {
			s.cwd = home
		}
	}
	if platform != "" {
		s.platform = platform
	}
	s.mu.Unlock()
	go s.watch(client, gen)
	go s.keepalive(client, gen, stop)
}

// retire detaches the current transport so stale watchers ignore its end.
func (s *Session) retire() transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retireLocked()
}

func (s *Session) retireLocked() transport {
	s.gen++
	t := transport{client: s.client, sftp: s.sftp, channel: s.channel, stop: s.stop}
	s.client, s.sftp, s.channel, s.stop = nil, nil, nil, nil
	return t
}

func (s *Session) setStatus(status schema.SSHStatus, msg string) {
	s.mu.Lock()
	if s.status == status && s.errMsg == msg {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.errMsg = ""
	if status == schema.SSHError {
		s.errMsg = msg
	}
	s.mu.Unlock()
	s.logger.Info("ssh status", "status", status)
	if err := s.sink.Emit(schema.TopicSSHStatus, schema.SSHStatusEvent{SessionID: s.id, Status: status, Message: msg}); err != nil {
		s.logger.Debug("ssh status emit failed", "err", err)
	}
}

// fail moves a live transport generation into the error state.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	t := s.retireLocked()
	s.mu.Unlock()
	msg := "transport lost"
	if err != nil {
		msg = err.Error()
	}
	s.logger.Warn("ssh transport failed", "err", err)
	t.close()
	s.setStatus(schema.SSHError, msg)
}

func (s *Session) watch(client *ssh.Client, gen uint64) {
	err := client.Wait()
	if err == nil {
		err = io.EOF
	}
	s.fail(gen, err)
}

func (s *Session) keepalive(client *ssh.Client, gen uint64, stop <-chan struct{}) {
	interval := s.cfg.KeepaliveInterval
	if interval <= 0 {
		return
	}
	maxMissed := s.cfg.keepaliveMaxMissed()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	missed := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		reply := make(chan error, 1)
		go func() {
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			reply <- err
		}()
		select {
		case <-stop:
			return
		case err := <-reply:
			if err != nil {
				s.fail(gen, err)
				return
			}
			missed = 0
		case <-time.After(interval):
			missed++
			s.logger.Debug("ssh keepalive missed", "missed", missed)
			if missed >= maxMissed {
				s.fail(gen, errors.New("keepalive timed out"))
				return
			}
		}
	}
}

// current returns the live transport or fails fast.
func (s *Session) current() (*ssh.Client, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, schema.TransportClosed(nil)
	}
	if s.status == schema.SSHError {
		return nil, 0, schema.TransportClosed(errors.New(s.errMsg))
	}
	if s.status != schema.SSHConnected || s.client == nil {
		return nil, 0, schema.TransportClosed(nil)
	}
	return s.client, s.gen, nil
}

// opErr maps an operation error, failing the session on transport loss.
func (s *Session) opErr(gen uint64, err error) error {
	if err == nil {
		return nil
	}
	if isTransportErr(err) {
		s.fail(gen, err)
		return schema.TransportClosed(err)
	}
	return err
}

func isTransportErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

func (s *Session) resolve(path string) string {
	s.mu.Lock()
	home := s.home
	s.mu.Unlock()
	return ResolvePath(home, path)
}

// Exec runs command to completion on a one-shot channel.
func (s *Session) Exec(ctx context.Context, command string) (schema.ExecResult, error) {
	client, gen, err := s.current()
	if err != nil {
		return schema.ExecResult{}, err
	}
	res, err := runExec(ctx, client, command)
	if err != nil {
		var typed *schema.Error
		if errors.As(err, &typed) {
			return schema.ExecResult{}, err
		}
		if isTransportErr(err) {
			return schema.ExecResult{}, s.opErr(gen, err)
		}
		return schema.ExecResult{}, schema.Remote("exec", err.Error())
	}
	return res, nil
}

// Reconnect re-dials with freshly fetched credentials and reopens the PTY
// channel when one was open.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.TransportClosed(nil)
	}
	reopen := s.channel != nil || s.lastPty != nil
	opts := s.lastPty
	s.mu.Unlock()

	s.setStatus(schema.SSHReconnecting, "")
	s.retire().close()
	s.logger.Info("ssh reconnect start")
	client, err := s.redial(ctx)
	if err != nil {
		s.logger.Warn("ssh reconnect failed", "err", err)
		s.setStatus(schema.SSHError, err.Error())
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = client.Close()
		return schema.TransportClosed(nil)
	}
	s.mu.Unlock()
	s.attach(ctx, client)
	s.setStatus(schema.SSHConnected, "")
	if reopen && opts != nil {
		if err := s.OpenChannel(ctx, *opts); err != nil {
			s.logger.Warn("ssh reconnect channel failed", "err", err)
		}
	}
	s.logger.Info("ssh reconnect ok")
	return nil
}

// Close tears down the channel and transport and reports disconnected.
// Repeated calls return nil.
func (s *Session) Close(context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Info("ssh disconnect start")
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.retire().close()
		s.setStatus(schema.SSHDisconnected, "")
		s.logger.Info("ssh disconnect ok")
	})
	return nil
}

// Kill drops the transport without waiting.
func (s *Session) Kill() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.retire().close()
}
