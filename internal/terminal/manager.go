// Package terminal supervises local shells attached to pseudo-terminals.
package terminal

import (
	"context"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/output"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Config tunes terminal sessions.
type Config struct {
	DefaultShell     string
	ShellIntegration bool
	WriterBufferSize int
	MaxPending       int
	Output           output.Config
}

func (c Config) writerBufferSize() int {
	if c.WriterBufferSize <= 0 {
		return 64 << 10
	}
	return c.WriterBufferSize
}

// Options describes a terminal to open.
type Options struct {
	Name  string
	Shell string
	Args  []string
	Cwd   string
	Cols  uint16
	Rows  uint16
	Env   map[string]string
	// ShellIntegration overrides Config.ShellIntegration when set.
	ShellIntegration *bool
}

// Manager creates terminal sessions and resolves them through the registry.
type Manager struct {
	cfg      Config
	registry *core.Registry
	sink     core.EventSink
	logger   pslog.Logger
}

// NewManager constructs a terminal manager.
func NewManager(cfg Config, registry *core.Registry, sink core.EventSink, logger pslog.Logger) *Manager {
	if sink == nil {
		sink = core.DiscardSink{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{cfg: cfg, registry: registry, sink: sink, logger: logger}
}

// Create opens a terminal, registers it, announces it and starts its reader.
func (m *Manager) Create(ctx context.Context, opts Options) (schema.TerminalInfo, error) {
	ctx = pslog.ContextWithLogger(ctx, m.logger)
	s, err := startSession(ctx, m.cfg, opts, m.sink)
	if err != nil {
		return schema.TerminalInfo{}, err
	}
	s.onEnd = func(s *Session) bool {
		_, ok := m.registry.Remove(s.ID())
		return ok
	}
	if _, err := m.registry.Insert(s); err != nil {
		s.Kill()
		return schema.TerminalInfo{}, err
	}
	info := s.Info()
	if err := m.sink.Emit(schema.TopicTerminalCreated, info); err != nil {
		s.logger.Debug("terminal created emit failed", "err", err)
	}
	s.startPump(m.cfg.Output)

	integrate := m.cfg.ShellIntegration
	if opts.ShellIntegration != nil {
		integrate = *opts.ShellIntegration
	}
	if integrate {
		if script := integrationScript(s.shell); script != "" {
			if err := s.Write([]byte(script)); err != nil {
				s.logger.Warn("terminal shell integration failed", "err", err)
			}
		}
	}
	return info, nil
}

func (m *Manager) get(id schema.SessionID) (*Session, error) {
	return core.Lookup[*Session](m.registry, id, schema.KindPty)
}

// Get describes one terminal.
func (m *Manager) Get(id schema.SessionID) (schema.TerminalInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return schema.TerminalInfo{}, err
	}
	return s.Info(), nil
}

// List describes every live terminal in creation order.
func (m *Manager) List() []schema.TerminalInfo {
	sessions := m.registry.List(schema.KindPty)
	out := make([]schema.TerminalInfo, 0, len(sessions))
	for _, s := range sessions {
		if ts, ok := s.(*Session); ok {
			out = append(out, ts.Info())
		}
	}
	return out
}

// Write sends input to a terminal.
func (m *Manager) Write(id schema.SessionID, data string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.Write([]byte(data))
}

// Resize changes a terminal's window size.
func (m *Manager) Resize(id schema.SessionID, cols, rows uint16) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.Resize(cols, rows)
}

// Update renames a terminal.
func (m *Manager) Update(id schema.SessionID, name string) (schema.TerminalInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return schema.TerminalInfo{}, err
	}
	if name != "" {
		s.Rename(name)
	}
	return s.Info(), nil
}

// Interrupt sends Ctrl-C.
func (m *Manager) Interrupt(id schema.SessionID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.Interrupt()
}

// EOF sends Ctrl-D.
func (m *Manager) EOF(id schema.SessionID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.EOF()
}

// Ack releases output credit.
func (m *Manager) Ack(id schema.SessionID, n int) error {
	if n < 0 {
		return schema.BadArgument("bytes", "must not be negative")
	}
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.Ack(n)
	return nil
}

// Close removes and closes a terminal. Closing an unknown or already closed
// terminal succeeds.
func (m *Manager) Close(ctx context.Context, id schema.SessionID) error {
	s, ok := m.registry.Take(id, schema.KindPty)
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// DefaultShell reports the shell new terminals start when none is given.
func (m *Manager) DefaultShell() string {
	if m.cfg.DefaultShell != "" {
		return m.cfg.DefaultShell
	}
	return DefaultShell()
}

// CloseAll closes every terminal and returns how many were closed.
func (m *Manager) CloseAll(ctx context.Context) int {
	return m.registry.CloseKind(ctx, schema.KindPty)
}
