// Package lsp supervises language server processes and exposes the LSP
// document lifecycle and feature requests over a shared correlation core.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/internal/process"
	"pkt.systems/cortex/internal/version"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultInitTimeout bounds the initialize handshake.
	DefaultInitTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds the shutdown request on stop.
	DefaultShutdownTimeout = 2 * time.Second
	exitGrace              = 500 * time.Millisecond
)

// Options tunes language server sessions.
type Options struct {
	InitTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	return o
}

// NotificationHandler consumes the params of a server notification.
type NotificationHandler func(params json.RawMessage)

// Session is one running language server.
type Session struct {
	id     schema.SessionID
	cfg    schema.LSPServerConfig
	opts   Options
	logger pslog.Logger
	sink   core.EventSink
	child  *process.Child
	rpc    *jsonrpc.Client

	mu       sync.Mutex
	status   schema.LSPStatus
	caps     json.RawMessage
	handlers map[string]NotificationHandler
	docs     map[protocol.DocumentURI]int32
	diags    map[protocol.DocumentURI]json.RawMessage
	stopping bool

	closeOnce sync.Once
}

// start spawns the server and runs the initialize handshake.
func start(ctx context.Context, id schema.SessionID, cfg schema.LSPServerConfig, opts Options, sink core.EventSink, logger pslog.Logger) (*Session, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, schema.BadArgument("command", "is required")
	}
	if cfg.RootPath != "" {
		if info, err := os.Stat(cfg.RootPath); err != nil || !info.IsDir() {
			return nil, schema.BadArgument("rootPath", "is not a directory")
		}
	}
	opts = opts.withDefaults()
	s := &Session{
		id:       id,
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		sink:     sink,
		status:   schema.LSPStarting,
		handlers: make(map[string]NotificationHandler),
		docs:     make(map[protocol.DocumentURI]int32),
		diags:    make(map[protocol.DocumentURI]json.RawMessage),
	}
	s.installHandlers()

	logger.Info("lsp start", "command", cfg.Command, "root", cfg.RootPath)
	child, err := process.Spawn(pslog.ContextWithLogger(ctx, logger), process.Spec{
		Path:   cfg.Command,
		Args:   cfg.Args,
		Dir:    cfg.RootPath,
		Env:    cfg.Env,
		Stdin:  process.Piped,
		Stdout: process.Piped,
		Stderr: process.Piped,
	})
	if err != nil {
		logger.Warn("lsp start failed", "err", err)
		return nil, schema.IO(err)
	}
	s.child = child
	s.rpc = jsonrpc.NewClient(child.Stdout, child.Stdin, envelope{}, s.dispatch, logger)
	go jsonrpc.TailStderr(child.Stderr, logger, "lsp stderr")
	s.emitStatus("")

	initCtx, cancel := context.WithTimeout(ctx, opts.InitTimeout)
	defer cancel()
	if err := s.initialize(initCtx); err != nil {
		logger.Warn("lsp initialize failed", "err", err)
		s.Kill()
		return nil, err
	}
	go s.watch()
	logger.Info("lsp start ok", "pid", child.Pid())
	return s, nil
}

type initializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
}

func (s *Session) initialize(ctx context.Context) error {
	params := protocol.InitializeParams{
		ProcessID:             int32(os.Getpid()),
		ClientInfo:            &protocol.ClientInfo{Name: "cortex", Version: version.Current()},
		InitializationOptions: s.cfg.InitializationOptions,
		Capabilities:          clientCapabilities(),
	}
	if s.cfg.RootPath != "" {
		root := uri.File(s.cfg.RootPath)
		params.RootPath = s.cfg.RootPath
		params.RootURI = root
		params.WorkspaceFolders = []protocol.WorkspaceFolder{{URI: string(root), Name: filepath.Base(s.cfg.RootPath)}}
	}
	var res initializeResult
	if err := s.rpc.Call(ctx, "initialize", params, &res); err != nil {
		return err
	}
	s.mu.Lock()
	s.caps = res.Capabilities
	s.status = schema.LSPRunning
	s.mu.Unlock()
	s.emitStatus("")
	if err := s.rpc.Send(notification{JSONRPC: "2.0", Method: "initialized", Params: protocol.InitializedParams{}}); err != nil {
		return err
	}
	if s.cfg.Settings != nil {
		return s.notify("workspace/didChangeConfiguration", map[string]any{"settings": s.cfg.Settings})
	}
	return nil
}

func clientCapabilities() protocol.ClientCapabilities {
	markup := []protocol.MarkupKind{protocol.Markdown, protocol.PlainText}
	return protocol.ClientCapabilities{
		Workspace: &protocol.WorkspaceClientCapabilities{
			ApplyEdit:              false,
			WorkspaceFolders:       true,
			Configuration:          true,
			DidChangeConfiguration: &protocol.DidChangeConfigurationWorkspaceClientCapabilities{},
		},
		TextDocument: &protocol.TextDocumentClientCapabilities{
			Synchronization: &protocol.TextDocumentSyncClientCapabilities{DidSave: true},
			Completion: &protocol.CompletionTextDocumentClientCapabilities{
				CompletionItem: &protocol.CompletionTextDocumentClientCapabilitiesItem{
					SnippetSupport:      true,
					DocumentationFormat: markup,
					DeprecatedSupport:   true,
				},
				ContextSupport: true,
			},
			Hover:              &protocol.HoverTextDocumentClientCapabilities{ContentFormat: markup},
			SignatureHelp:      &protocol.SignatureHelpTextDocumentClientCapabilities{ContextSupport: true},
			Definition:         &protocol.DefinitionTextDocumentClientCapabilities{LinkSupport: true},
			DocumentSymbol:     &protocol.DocumentSymbolClientCapabilities{HierarchicalDocumentSymbolSupport: true},
			Rename:             &protocol.RenameClientCapabilities{PrepareSupport: true},
			PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{RelatedInformation: true, VersionSupport: true},
		},
		Window: &protocol.WindowClientCapabilities{WorkDoneProgress: true},
	}
}

// ID implements core.Session.
func (s *Session) ID() schema.SessionID { return s.id }

// Kind implements core.Session.
func (s *Session) Kind() schema.SessionKind { return schema.KindLSP }

// Config returns the launch configuration.
func (s *Session) Config() schema.LSPServerConfig { return s.cfg }

// Info snapshots the session for the renderer.
func (s *Session) Info() schema.LSPServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.LSPServerInfo{
		ID:           s.id,
		Name:         s.cfg.Name,
		Status:       s.status,
		LanguageIDs:  s.cfg.LanguageIDs,
		RootPath:     s.cfg.RootPath,
		Capabilities: s.caps,
		Pid:          s.child.Pid(),
	}
}

// Status reports the lifecycle state.
func (s *Session) Status() schema.LSPStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) emitStatus(msg string) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if err := s.sink.Emit(schema.TopicLSPStatus, schema.LSPStatusEvent{ID: s.id, Status: status, Message: msg}); err != nil {
		s.logger.Debug("lsp status emit failed", "err", err)
	}
}

// watch turns an unrequested end of the server into the crashed state.
func (s *Session) watch() {
	select {
	case <-s.child.Done():
	case <-s.rpc.Done():
	}
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.status = schema.LSPCrashed
	s.mu.Unlock()
	msg := "language server exited"
	if err := s.rpc.Err(); err != nil {
		msg = err.Error()
	}
	s.logger.Warn("lsp server crashed", "exit", s.child.ExitCode(), "err", s.rpc.Err())
	s.rpc.Close()
	_ = s.child.Close()
	s.emitStatus(msg)
}

// client returns the correlation core when the server is usable.
func (s *Session) client() (*jsonrpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case schema.LSPRunning:
		return s.rpc, nil
	case schema.LSPCrashed, schema.LSPStopped:
		return nil, schema.TransportClosed(errors.New("language server is " + string(s.status)))
	default:
		return nil, schema.TransportClosed(errors.New("language server is not initialized"))
	}
}

func (s *Session) notify(method string, params any) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.Send(notification{JSONRPC: "2.0", Method: method, Params: params})
}

// Request sends an arbitrary request and returns the raw result.
func (s *Session) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.CallRaw(ctx, method, params)
}

// Notify sends an arbitrary notification.
func (s *Session) Notify(method string, params any) error {
	return s.notify(method, params)
}

// Close runs shutdown and exit, then tears the process tree down. Pending
// requests fail with Cancelled. Repeated calls return nil.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		running := s.status == schema.LSPRunning
		s.stopping = true
		s.mu.Unlock()
		s.logger.Info("lsp stop start")
		if running {
			shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
			if err := s.rpc.Call(shutdownCtx, "shutdown", nil, nil); err != nil {
				s.logger.Debug("lsp shutdown request failed", "err", err)
			}
			cancel()
			_ = s.rpc.Send(notification{JSONRPC: "2.0", Method: "exit"})
			select {
			case <-s.child.Done():
			case <-time.After(exitGrace):
			case <-ctx.Done():
			}
		}
		s.rpc.Close()
		if err := s.child.Close(); err != nil {
			s.logger.Debug("lsp kill failed", "err", err)
		}
		s.mu.Lock()
		s.status = schema.LSPStopped
		s.mu.Unlock()
		s.emitStatus("")
		s.logger.Info("lsp stop ok")
	})
	return nil
}

// Kill tears the process tree down without the shutdown handshake.
func (s *Session) Kill() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	if s.rpc != nil {
		s.rpc.Close()
	}
	if s.child != nil {
		_ = s.child.Close()
	}
}
