// Package remote supervises SSH sessions: an authenticated transport with
// an optional interactive PTY channel, one-shot exec and SFTP.
package remote

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/credstore"
	"pkt.systems/cortex/internal/output"
	"pkt.systems/cortex/internal/persist"
	"pkt.systems/cortex/internal/sshkeys"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// DefaultConnectTimeout bounds the TCP connect and the SSH handshake.
const DefaultConnectTimeout = 30 * time.Second

// Config tunes SSH sessions.
type Config struct {
	ConnectTimeout     time.Duration
	KeepaliveInterval  time.Duration
	KeepaliveMaxMissed int
	KnownHostsPath     string
	HostKeyPolicy      sshkeys.HostKeyPolicy
	MaxPending         int
	Output             output.Config
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

func (c Config) keepaliveMaxMissed() int {
	if c.KeepaliveMaxMissed <= 0 {
		return 3
	}
	return c.KeepaliveMaxMissed
}

// Secrets reads stored credentials.
type Secrets interface {
	Fetch(profileID string, role credstore.Role) (string, bool, error)
}

// Profiles resolves saved profiles.
type Profiles interface {
	Profile(id string) (schema.SSHProfile, error)
}

// ConnectOptions describes a connection to open.
type ConnectOptions struct {
	Profile schema.SSHProfile
	// OpenChannel also starts the interactive shell.
	OpenChannel bool
	Channel     ChannelOptions
	// Credentials, when set, authenticate the first dial only. Reconnects
	// read the credential store again.
	Credentials *Credentials
}

// Manager creates SSH sessions and resolves them through the registry.
type Manager struct {
	cfg      Config
	registry *core.Registry
	sink     core.EventSink
	secrets  Secrets
	profiles Profiles
	logger   pslog.Logger

	hostKeyOnce sync.Once
	hostKey     ssh.HostKeyCallback
	hostKeyErr  error
}

// NewManager constructs an SSH session manager.
func NewManager(cfg Config, registry *core.Registry, sink core.EventSink, secrets Secrets, profiles Profiles, logger pslog.Logger) *Manager {
	if sink == nil {
		sink = core.DiscardSink{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{cfg: cfg, registry: registry, sink: sink, secrets: secrets, profiles: profiles, logger: logger}
}

func (m *Manager) hostKeyCallback() (ssh.HostKeyCallback, error) {
	m.hostKeyOnce.Do(func() {
		policy := m.cfg.HostKeyPolicy
		if policy == "" {
			policy = sshkeys.HostKeyAcceptNew
		}
		m.hostKey, m.hostKeyErr = sshkeys.HostKeyCallback(m.cfg.KnownHostsPath, policy, m.logger)
	})
	return m.hostKey, m.hostKeyErr
}

// credentials fetches the secrets the profile's auth method needs.
func (m *Manager) credentials(profile schema.SSHProfile) (Credentials, error) {
	var creds Credentials
	if m.secrets == nil || profile.ID == "" {
		return creds, nil
	}
	switch profile.Auth.Type {
	case schema.SSHAuthPassword:
		secret, _, err := m.secrets.Fetch(profile.ID, credstore.RolePassword)
		if err != nil {
			return creds, err
		}
		creds.Password = secret
	case schema.SSHAuthKey:
		secret, _, err := m.secrets.Fetch(profile.ID, credstore.RolePassphrase)
		if err != nil {
			return creds, err
		}
		creds.Passphrase = secret
	}
	return creds, nil
}

func (m *Manager) dialer(profile schema.SSHProfile) dialFunc {
	return func(ctx context.Context) (*ssh.Client, error) {
		hostKey, err := m.hostKeyCallback()
		if err != nil {
			return nil, err
		}
		creds, err := m.credentials(profile)
		if err != nil {
			return nil, err
		}
		return m.cfg.dial(ctx, profile, creds, hostKey)
	}
}

func (m *Manager) oneShotDialer(profile schema.SSHProfile, creds Credentials) dialFunc {
	return func(ctx context.Context) (*ssh.Client, error) {
		hostKey, err := m.hostKeyCallback()
		if err != nil {
			return nil, err
		}
		return m.cfg.dial(ctx, profile, creds, hostKey)
	}
}

// Connect dials, authenticates and probes the host, registers the session
// and optionally opens the interactive channel.
func (m *Manager) Connect(ctx context.Context, opts ConnectOptions) (schema.SSHSessionInfo, error) {
	profile := opts.Profile
	if err := persist.ValidateProfile(profile); err != nil {
		return schema.SSHSessionInfo{}, err
	}
	id := core.NewSessionID(schema.KindSSH)
	logger := m.logger.With("session", id, "kind", schema.KindSSH, "host", profile.Host, "user", profile.Username)
	logger.Info("ssh connect start", "auth", profile.Auth.Type)
	redial := m.dialer(profile)
	dial := redial
	if opts.Credentials != nil {
		dial = m.oneShotDialer(profile, *opts.Credentials)
	}
	client, err := dial(ctx)
	if err != nil {
		logger.Warn("ssh connect failed", "err", err)
		return schema.SSHSessionInfo{}, err
	}
	s := newSession(id, profile, m.cfg, m.sink, logger, redial)
	s.attach(ctx, client)
	s.mu.Lock()
	s.status = schema.SSHConnected
	s.mu.Unlock()
	if _, err := m.registry.Insert(s); err != nil {
		s.Kill()
		return schema.SSHSessionInfo{}, err
	}
	if opts.OpenChannel {
		if err := s.OpenChannel(ctx, withProfileEnv(opts.Channel, profile.Env)); err != nil {
			logger.Warn("ssh channel open failed", "err", err)
			if _, ok := m.registry.Remove(id); ok {
				s.Kill()
			}
			return schema.SSHSessionInfo{}, err
		}
	}
	info := s.Info()
	if err := m.sink.Emit(schema.TopicSSHConnected, info); err != nil {
		logger.Debug("ssh connected emit failed", "err", err)
	}
	logger.Info("ssh connect ok", "platform", info.Platform)
	return info, nil
}

// ConnectProfile connects using a saved profile.
func (m *Manager) ConnectProfile(ctx context.Context, profileID string, openChannel bool, ch ChannelOptions) (schema.SSHSessionInfo, error) {
	if m.profiles == nil {
		return schema.SSHSessionInfo{}, schema.NotFound("ssh profile", profileID)
	}
	profile, err := m.profiles.Profile(profileID)
	if err != nil {
		return schema.SSHSessionInfo{}, err
	}
	return m.Connect(ctx, ConnectOptions{Profile: profile, OpenChannel: openChannel, Channel: ch})
}

// Session resolves a live SSH session.
func (m *Manager) Session(id schema.SessionID) (*Session, error) {
	return core.Lookup[*Session](m.registry, id, schema.KindSSH)
}

// Get describes one session.
func (m *Manager) Get(id schema.SessionID) (schema.SSHSessionInfo, error) {
	s, err := m.Session(id)
	if err != nil {
		return schema.SSHSessionInfo{}, err
	}
	return s.Info(), nil
}

// List describes every SSH session in creation order.
func (m *Manager) List() []schema.SSHSessionInfo {
	sessions := m.registry.List(schema.KindSSH)
	out := make([]schema.SSHSessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if rs, ok := s.(*Session); ok {
			out = append(out, rs.Info())
		}
	}
	return out
}

// Disconnect removes and closes a session. Unknown ids succeed.
func (m *Manager) Disconnect(ctx context.Context, id schema.SessionID) error {
	s, ok := m.registry.Take(id, schema.KindSSH)
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// CloseAll disconnects every SSH session.
func (m *Manager) CloseAll(ctx context.Context) int {
	return m.registry.CloseKind(ctx, schema.KindSSH)
}

// withProfileEnv layers explicit channel env over the profile defaults.
func withProfileEnv(opts ChannelOptions, env map[string]string) ChannelOptions {
	if len(env) == 0 {
		return opts
	}
	merged := make(map[string]string, len(env)+len(opts.Env))
	for k, v := range env {
		merged[k] = v
	}
	for k, v := range opts.Env {
		merged[k] = v
	}
	opts.Env = merged
	return opts
}

// OpenChannel opens the interactive shell on an existing session.
func (m *Manager) OpenChannel(ctx context.Context, id schema.SessionID, opts ChannelOptions) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return s.OpenChannel(ctx, withProfileEnv(opts, s.profile.Env))
}

// Reconnect re-dials a session that is still registered.
func (m *Manager) Reconnect(ctx context.Context, id schema.SessionID) (schema.SSHSessionInfo, error) {
	s, err := m.Session(id)
	if err != nil {
		return schema.SSHSessionInfo{}, err
	}
	if err := s.Reconnect(ctx); err != nil {
		return schema.SSHSessionInfo{}, err
	}
	return s.Info(), nil
}
