package lsp

import (
	"context"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/logx"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Manager starts language servers and resolves them through the registry.
type Manager struct {
	registry *core.Registry
	sink     core.EventSink
	opts     Options
	logger   pslog.Logger
}

// NewManager constructs a language server manager.
func NewManager(registry *core.Registry, sink core.EventSink, opts Options, logger pslog.Logger) *Manager {
	if sink == nil {
		sink = core.DiscardSink{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{registry: registry, sink: sink, opts: opts, logger: logger}
}

// Start spawns and initializes a language server.
func (m *Manager) Start(ctx context.Context, cfg schema.LSPServerConfig) (schema.LSPServerInfo, error) {
	return m.startWithID(ctx, core.NewSessionID(schema.KindLSP), cfg)
}

func (m *Manager) startWithID(ctx context.Context, id schema.SessionID, cfg schema.LSPServerConfig) (schema.LSPServerInfo, error) {
	logger := logx.WithSession(m.logger, schema.KindLSP, id).With("server", cfg.Name)
	s, err := start(ctx, id, cfg, m.opts, m.sink, logger)
	if err != nil {
		return schema.LSPServerInfo{}, err
	}
	if _, err := m.registry.Insert(s); err != nil {
		s.Kill()
		return schema.LSPServerInfo{}, err
	}
	return s.Info(), nil
}

// Session resolves a live language server.
func (m *Manager) Session(id schema.SessionID) (*Session, error) {
	return core.Lookup[*Session](m.registry, id, schema.KindLSP)
}

// Get describes one language server.
func (m *Manager) Get(id schema.SessionID) (schema.LSPServerInfo, error) {
	s, err := m.Session(id)
	if err != nil {
		return schema.LSPServerInfo{}, err
	}
	return s.Info(), nil
}

// List describes every language server in start order.
func (m *Manager) List() []schema.LSPServerInfo {
	sessions := m.registry.List(schema.KindLSP)
	out := make([]schema.LSPServerInfo, 0, len(sessions))
	for _, s := range sessions {
		if ls, ok := s.(*Session); ok {
			out = append(out, ls.Info())
		}
	}
	return out
}

// Stop shuts a language server down and removes it. Unknown ids succeed.
func (m *Manager) Stop(ctx context.Context, id schema.SessionID) error {
	s, ok := m.registry.Take(id, schema.KindLSP)
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Restart stops a language server and starts it again under the same id.
func (m *Manager) Restart(ctx context.Context, id schema.SessionID) (schema.LSPServerInfo, error) {
	taken, ok := m.registry.Take(id, schema.KindLSP)
	if !ok {
		return schema.LSPServerInfo{}, schema.NotFound("lsp session", string(id))
	}
	s := taken.(*Session)
	cfg := s.Config()
	if err := s.Close(ctx); err != nil {
		m.logger.Warn("lsp restart stop failed", "session", id, "err", err)
	}
	return m.startWithID(ctx, id, cfg)
}

// CloseAll stops every language server.
func (m *Manager) CloseAll(ctx context.Context) int {
	return m.registry.CloseKind(ctx, schema.KindLSP)
}
