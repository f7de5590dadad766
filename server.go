// Package cortex composes the IDE backend: session managers, the command
// router and the renderer transport.
package cortex

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/httpapi"
	"pkt.systems/cortex/internal/appconfig"
	"pkt.systems/cortex/internal/credstore"
	"pkt.systems/cortex/internal/dap"
	"pkt.systems/cortex/internal/eventbus"
	"pkt.systems/cortex/internal/fsbatch"
	"pkt.systems/cortex/internal/ipc"
	"pkt.systems/cortex/internal/lsp"
	"pkt.systems/cortex/internal/output"
	"pkt.systems/cortex/internal/persist"
	"pkt.systems/cortex/internal/remote"
	"pkt.systems/cortex/internal/repl"
	"pkt.systems/cortex/internal/sshkeys"
	"pkt.systems/cortex/internal/terminal"
	"pkt.systems/cortex/internal/version"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Server runs the backend.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Router is the command surface, also usable without the transport.
	Router() *ipc.Router
	// Bus delivers renderer events to in-process subscribers.
	Bus() *eventbus.Bus
	// Addr is the bound transport address once started.
	Addr() string
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Config appconfig.Config
	// InstancePath overrides <state_dir>/ipc.json.
	InstancePath string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	Logger pslog.Logger
	// EventSink receives every renderer event in addition to the transport.
	EventSink core.EventSink
	// Secrets overrides the configured credential backend.
	Secrets credstore.Store
	// Focus raises the main window after a deep link.
	Focus func()
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableTransport bool
}

// WithTransport enables the HTTP/SSE/websocket IPC transport.
func WithTransport() ServerOption {
	return func(o *serverOptions) { o.enableTransport = true }
}

// New constructs the backend. Nothing is started until Start.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	c := cfg.Config
	if c.StateDir == "" {
		return nil, schema.BadArgument("state_dir", "is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if cfg.InstancePath == "" {
		cfg.InstancePath = filepath.Join(c.StateDir, httpapi.InstanceFile)
	}

	registry := core.NewRegistry(logger)
	hub := httpapi.NewHub(c.IPC.EventHistory, logger)
	bus := eventbus.New(logger)
	sinks := []core.EventSink{hub, bus}
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}
	sink := eventFanout{sinks: sinks}

	store, err := persist.NewStoreWithLogger(c.StateDir, logger)
	if err != nil {
		return nil, err
	}
	secrets := deps.Secrets
	if secrets == nil {
		ctx := pslog.ContextWithLogger(context.Background(), logger)
		secrets, err = credstore.Open(ctx, credstore.Config{
			Backend:      c.Credentials.Backend,
			Service:      c.Credentials.Service,
			KeyStorePath: c.Credentials.KeyStorePath,
			VaultPath:    c.Credentials.VaultPath,
		})
		if err != nil {
			return nil, err
		}
	}

	out := output.Config{
		ReadBufferSize: c.Terminal.ReadBufferBytes,
		Window:         appconfig.Millis(c.Terminal.BatchWindowMillis),
	}
	terminals := terminal.NewManager(terminal.Config{
		DefaultShell:     c.Terminal.DefaultShell,
		ShellIntegration: c.Terminal.ShellIntegration,
		WriterBufferSize: c.Terminal.WriterBufferBytes,
		MaxPending:       c.Terminal.MaxPendingBytes,
		Output:           out,
	}, registry, sink, logger)
	ssh := remote.NewManager(remote.Config{
		ConnectTimeout:     appconfig.Seconds(c.SSH.ConnectTimeoutSeconds),
		KeepaliveInterval:  appconfig.Seconds(c.SSH.KeepaliveIntervalSeconds),
		KeepaliveMaxMissed: c.SSH.KeepaliveMisses,
		KnownHostsPath:     c.SSH.KnownHostsPath,
		HostKeyPolicy:      sshkeys.HostKeyPolicy(c.SSH.HostKeyPolicy),
		MaxPending:         c.Terminal.MaxPendingBytes,
		Output:             out,
	}, registry, sink, secrets, store, logger)
	languages := lsp.NewManager(registry, sink, lsp.Options{
		InitTimeout:     appconfig.Seconds(c.LSP.InitTimeoutSeconds),
		ShutdownTimeout: appconfig.Millis(c.LSP.ShutdownTimeoutMillis),
	}, logger)
	debuggers := dap.NewManager(registry, sink, dap.Options{
		StartTimeout:      appconfig.Seconds(c.DAP.StartTimeoutSeconds),
		DisconnectTimeout: appconfig.Millis(c.DAP.DisconnectTimeoutMillis),
	}, logger)
	kernels := repl.NewManager(repl.Config{
		IdleDelay:     appconfig.Millis(c.REPL.IdleDelayMillis),
		ShutdownGrace: appconfig.Millis(c.REPL.ShutdownGraceMillis),
		Cwd:           c.REPL.Cwd,
		Output:        out,
	}, registry, sink, logger)
	files := fsbatch.New(fsbatch.Config{
		Cache: fsbatch.CacheConfig{
			ContentsSize:          c.FS.ContentsCacheSize,
			ContentsTTL:           appconfig.Seconds(c.FS.ContentsTTLSeconds),
			MaxCachedFileSize:     c.FS.MaxCachedFileBytes,
			MetadataTTL:           appconfig.Seconds(c.FS.MetadataTTLSeconds),
			ExistenceTTL:          appconfig.Seconds(c.FS.ExistenceTTLSeconds),
			InvalidationRetention: appconfig.Seconds(c.FS.InvalidationRetentionSeconds),
		},
		Parallelism:   c.FS.Parallelism,
		WatchDebounce: appconfig.Millis(c.FS.WatchDebounceMillis),
		WatchIgnore:   c.FS.WatchIgnore,
	}, sink, logger)

	router := ipc.New(ipc.Services{
		Sink:      sink,
		Terminals: terminals,
		SSH:       ssh,
		LSP:       languages,
		DAP:       debuggers,
		REPL:      kernels,
		FS:        files,
		State:     store,
		Secrets:   secrets,
		Focus:     deps.Focus,
	}, logger)

	var httpSrv *httpapi.Server
	token := c.IPC.Token
	if options.enableTransport {
		if token == "" {
			if token, err = httpapi.NewToken(); err != nil {
				return nil, err
			}
		}
		httpSrv = httpapi.NewServer(httpapi.Config{
			Addr:        c.IPC.Addr,
			Token:       token,
			HistorySize: c.IPC.EventHistory,
		}, router, hub)
	}

	return &compositeServer{
		cfg:       cfg,
		options:   options,
		logger:    logger,
		registry:  registry,
		sink:      sink,
		bus:       bus,
		store:     store,
		secrets:   secrets,
		terminals: terminals,
		kernels:   kernels,
		files:     files,
		router:    router,
		httpSrv:   httpSrv,
		token:     token,
	}, nil
}

type compositeServer struct {
	cfg       ServerConfig
	options   serverOptions
	logger    pslog.Logger
	registry  *core.Registry
	sink      core.EventSink
	bus       *eventbus.Bus
	store     *persist.Store
	secrets   credstore.Store
	terminals *terminal.Manager
	kernels   *repl.Manager
	files     *fsbatch.Service
	router    *ipc.Router
	httpSrv   *httpapi.Server
	token     string

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	done    chan struct{}
	addr    string
	started bool
	stopped bool
}

func (s *compositeServer) Router() *ipc.Router { return s.router }

func (s *compositeServer) Bus() *eventbus.Bus { return s.bus }

func (s *compositeServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(ctx, s.logger))
	s.errCh = make(chan error, 1)
	s.done = make(chan struct{})
	s.started = true
	s.mu.Unlock()

	log := s.logger
	log.Info("server start", "transport", s.options.enableTransport, "state_dir", s.cfg.Config.StateDir, "credentials", s.secrets.Backend())

	if s.httpSrv != nil {
		ln, err := httpapi.Listen(s.cfg.Config.IPC.Addr)
		if err != nil {
			log.Error("ipc listen failed", "addr", s.cfg.Config.IPC.Addr, "err", err)
			s.cancel()
			close(s.done)
			return err
		}
		addr := ln.Addr().String()
		s.mu.Lock()
		s.addr = addr
		s.mu.Unlock()
		if err := httpapi.WriteInstance(s.cfg.InstancePath, httpapi.Instance{
			Addr:      addr,
			Token:     s.token,
			PID:       os.Getpid(),
			StartedAt: time.Now(),
		}); err != nil {
			log.Error("ipc instance file failed", "path", s.cfg.InstancePath, "err", err)
			_ = ln.Close()
			s.cancel()
			close(s.done)
			return err
		}
		log.Info("ipc listening", "addr", addr, "instance", s.cfg.InstancePath)
		go s.serve(ln)
	} else {
		close(s.done)
	}

	go s.announceReady(s.ctx)
	return nil
}

func (s *compositeServer) serve(ln net.Listener) {
	defer close(s.done)
	if err := httpapi.Serve(s.ctx, ln, s.httpSrv.Handler()); err != nil {
		s.logger.Error("ipc server failed", "err", err)
		select {
		case s.errCh <- err:
		default:
		}
	}
}

// announceReady probes shells, interpreters and profiles concurrently and
// emits backend:ready once all finished.
func (s *compositeServer) announceReady(ctx context.Context) {
	log := s.logger
	start := time.Now()
	var ready schema.BackendReadyEvent
	ready.Version = version.Current()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ready.Shells = terminal.DetectShells()
		ready.DefaultShell = s.terminals.DefaultShell()
		return nil
	})
	g.Go(func() error {
		ready.KernelSpecs = s.kernels.Specs(gctx)
		return nil
	})
	g.Go(func() error {
		profiles, err := s.store.Profiles()
		if err != nil {
			log.Warn("startup profile load failed", "err", err)
			return nil
		}
		ready.Profiles = len(profiles)
		return nil
	})
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}
	if err := s.sink.Emit(schema.TopicBackendReady, ready); err != nil {
		log.Warn("backend ready emit failed", "err", err)
	}
	log.Info("backend ready", "shells", len(ready.Shells), "kernels", len(ready.KernelSpecs), "profiles", ready.Profiles, "elapsed", time.Since(start))
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

// Stop drains every session within the configured budget, then stops the
// transport and removes the instance file.
func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	stopped := s.stopped
	done := s.done
	s.stopped = true
	s.mu.Unlock()
	if !started || stopped {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := s.logger
	log.Info("server stop requested")

	budget := appconfig.Millis(s.cfg.Config.Shutdown.DrainBudgetMillis)
	s.registry.Drain(ctx, budget)
	if err := s.files.Close(); err != nil {
		log.Warn("server fs close failed", "err", err)
	}
	if cancel != nil {
		cancel()
	}
	if s.httpSrv != nil {
		if err := httpapi.RemoveInstance(s.cfg.InstancePath, os.Getpid()); err != nil {
			log.Warn("ipc instance remove failed", "err", err)
		}
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
