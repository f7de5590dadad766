package repl

import (
	"context"
	"sync"
	"time"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/logx"
	"pkt.systems/cortex/internal/output"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Config tunes kernels.
type Config struct {
	// Specs replaces interpreter probing when set.
	Specs         []schema.KernelSpec
	IdleDelay     time.Duration
	ShutdownGrace time.Duration
	Cwd           string
	Output        output.Config
}

func (c Config) idleDelay() time.Duration {
	if c.IdleDelay <= 0 {
		return DefaultIdleDelay
	}
	return c.IdleDelay
}

func (c Config) shutdownGrace() time.Duration {
	if c.ShutdownGrace <= 0 {
		return DefaultShutdownGrace
	}
	return c.ShutdownGrace
}

// Manager starts kernels and resolves them through the registry.
type Manager struct {
	cfg      Config
	registry *core.Registry
	sink     core.EventSink
	logger   pslog.Logger

	probeOnce sync.Once
	specs     []schema.KernelSpec
}

// NewManager constructs a kernel manager.
func NewManager(cfg Config, registry *core.Registry, sink core.EventSink, logger pslog.Logger) *Manager {
	if sink == nil {
		sink = core.DiscardSink{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{cfg: cfg, registry: registry, sink: sink, logger: logger}
}

// Specs lists the available interpreters, probing PATH on first use.
func (m *Manager) Specs(ctx context.Context) []schema.KernelSpec {
	m.probeOnce.Do(func() {
		if m.cfg.Specs != nil {
			m.specs = m.cfg.Specs
			return
		}
		m.specs = Probe(pslog.ContextWithLogger(ctx, m.logger))
	})
	return append([]schema.KernelSpec(nil), m.specs...)
}

func (m *Manager) spec(ctx context.Context, name string) (schema.KernelSpec, error) {
	for _, spec := range m.Specs(ctx) {
		if spec.Name == name {
			return spec, nil
		}
	}
	return schema.KernelSpec{}, schema.NotFound("kernel spec", name)
}

// Start launches a kernel from a named spec.
func (m *Manager) Start(ctx context.Context, specName string) (schema.KernelInfo, error) {
	spec, err := m.spec(ctx, specName)
	if err != nil {
		return schema.KernelInfo{}, err
	}
	return m.startWithID(ctx, core.NewSessionID(schema.KindREPL), spec)
}

func (m *Manager) startWithID(ctx context.Context, id schema.SessionID, spec schema.KernelSpec) (schema.KernelInfo, error) {
	logger := logx.WithSession(m.logger, schema.KindREPL, id).With("kernel", spec.Name)
	k, err := startKernel(ctx, id, spec, m.cfg, m.sink, logger)
	if err != nil {
		return schema.KernelInfo{}, err
	}
	if _, err := m.registry.Insert(k); err != nil {
		_ = k.Close(ctx)
		return schema.KernelInfo{}, err
	}
	return k.Info(), nil
}

// Kernel resolves a kernel.
func (m *Manager) Kernel(id schema.SessionID) (*Kernel, error) {
	return core.Lookup[*Kernel](m.registry, id, schema.KindREPL)
}

// Get describes one kernel.
func (m *Manager) Get(id schema.SessionID) (schema.KernelInfo, error) {
	k, err := m.Kernel(id)
	if err != nil {
		return schema.KernelInfo{}, err
	}
	return k.Info(), nil
}

// List describes every kernel in start order.
func (m *Manager) List() []schema.KernelInfo {
	sessions := m.registry.List(schema.KindREPL)
	out := make([]schema.KernelInfo, 0, len(sessions))
	for _, s := range sessions {
		if k, ok := s.(*Kernel); ok {
			out = append(out, k.Info())
		}
	}
	return out
}

// Execute submits code to a kernel and returns its execution count.
func (m *Manager) Execute(id schema.SessionID, code, cellID string) (int, error) {
	k, err := m.Kernel(id)
	if err != nil {
		return 0, err
	}
	return k.Execute(code, cellID)
}

// Interrupt interrupts a kernel.
func (m *Manager) Interrupt(id schema.SessionID) error {
	k, err := m.Kernel(id)
	if err != nil {
		return err
	}
	return k.Interrupt()
}

// Shutdown stops a kernel and removes it. Unknown ids succeed.
func (m *Manager) Shutdown(ctx context.Context, id schema.SessionID) error {
	k, ok := m.registry.Take(id, schema.KindREPL)
	if !ok {
		return nil
	}
	return k.Close(ctx)
}

// Restart shuts a kernel down and starts its spec again under the same id.
func (m *Manager) Restart(ctx context.Context, id schema.SessionID) (schema.KernelInfo, error) {
	taken, ok := m.registry.Take(id, schema.KindREPL)
	if !ok {
		return schema.KernelInfo{}, schema.NotFound("kernel", string(id))
	}
	k := taken.(*Kernel)
	_ = k.Close(ctx)
	return m.startWithID(ctx, id, k.Spec())
}

// ShutdownAll stops every kernel.
func (m *Manager) ShutdownAll(ctx context.Context) int {
	return m.registry.CloseKind(ctx, schema.KindREPL)
}
