package dap

import (
	"context"
	"encoding/json"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/logx"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Manager starts debug sessions and resolves them through the registry.
type Manager struct {
	registry *core.Registry
	sink     core.EventSink
	opts     Options
	logger   pslog.Logger
}

// NewManager constructs a debug session manager.
func NewManager(registry *core.Registry, sink core.EventSink, opts Options, logger pslog.Logger) *Manager {
	if sink == nil {
		sink = core.DiscardSink{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{registry: registry, sink: sink, opts: opts, logger: logger}
}

// Start connects to an adapter and runs the launch or attach handshake.
func (m *Manager) Start(ctx context.Context, cfg schema.DAPAdapterConfig) (schema.DAPSessionInfo, error) {
	id := core.NewSessionID(schema.KindDAP)
	logger := logx.WithSession(m.logger, schema.KindDAP, id).With("adapter", cfg.Type)
	s, err := start(ctx, id, cfg, m.opts, m.sink, logger)
	if err != nil {
		return schema.DAPSessionInfo{}, err
	}
	if _, err := m.registry.Insert(s); err != nil {
		s.Kill()
		return schema.DAPSessionInfo{}, err
	}
	return s.Info(), nil
}

// Session resolves a live debug session.
func (m *Manager) Session(id schema.SessionID) (*Session, error) {
	return core.Lookup[*Session](m.registry, id, schema.KindDAP)
}

// List describes every debug session in start order.
func (m *Manager) List() []schema.DAPSessionInfo {
	sessions := m.registry.List(schema.KindDAP)
	out := make([]schema.DAPSessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if ds, ok := s.(*Session); ok {
			out = append(out, ds.Info())
		}
	}
	return out
}

// Request runs one DAP command against a session.
func (m *Manager) Request(ctx context.Context, id schema.SessionID, command string, args any) (json.RawMessage, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	return s.Request(ctx, command, args)
}

// Respond answers a forwarded reverse request.
func (m *Manager) Respond(id schema.SessionID, seq int, success bool, message string, body json.RawMessage) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return s.Respond(seq, success, message, body)
}

// Stop disconnects a debug session and removes it. Unknown ids succeed.
func (m *Manager) Stop(ctx context.Context, id schema.SessionID) error {
	s, ok := m.registry.Take(id, schema.KindDAP)
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// CloseAll stops every debug session.
func (m *Manager) CloseAll(ctx context.Context) int {
	return m.registry.CloseKind(ctx, schema.KindDAP)
}
