// Package dap drives debug adapters over the shared correlation core: the
// initialize and launch or attach handshake, request families, adapter
// events and reverse requests.
package dap

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/internal/process"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultStartTimeout bounds the whole start handshake.
	DefaultStartTimeout = 30 * time.Second
	// DefaultDisconnectTimeout bounds the disconnect request on stop.
	DefaultDisconnectTimeout = 2 * time.Second
	exitGrace                = 500 * time.Millisecond
)

// Options tunes debug sessions.
type Options struct {
	StartTimeout      time.Duration
	DisconnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = DefaultDisconnectTimeout
	}
	return o
}

// Session is one debug adapter connection.
type Session struct {
	id     schema.SessionID
	cfg    schema.DAPAdapterConfig
	opts   Options
	logger pslog.Logger
	sink   core.EventSink
	child  *process.Child
	conn   net.Conn
	rpc    *jsonrpc.Client

	initialized chan struct{}
	initOnce    sync.Once

	mu       sync.Mutex
	status   schema.DAPStatus
	caps     json.RawMessage
	reverse  map[int]string
	stopping bool

	closeOnce sync.Once
}

func validate(cfg schema.DAPAdapterConfig) error {
	if strings.TrimSpace(cfg.Command) == "" && cfg.Port == 0 {
		return schema.BadArgument("command", "a command or a port is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return schema.BadArgument("port", "out of range")
	}
	switch cfg.Request {
	case "launch", "attach":
	default:
		return schema.BadArgument("request", `must be "launch" or "attach"`)
	}
	for _, bp := range cfg.Breakpoints {
		if strings.TrimSpace(bp.Path) == "" {
			return schema.BadArgument("breakpoints", "path is required")
		}
	}
	return nil
}

// start connects to the adapter and runs initialize, launch or attach,
// the initial breakpoints and configurationDone.
func start(ctx context.Context, id schema.SessionID, cfg schema.DAPAdapterConfig, opts Options, sink core.EventSink, logger pslog.Logger) (*Session, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	s := &Session{
		id:          id,
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		sink:        sink,
		status:      schema.DAPStarting,
		reverse:     make(map[int]string),
		initialized: make(chan struct{}),
	}
	startCtx, cancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer cancel()

	logger.Info("dap start", "type", cfg.Type, "request", cfg.Request)
	if err := s.connect(startCtx); err != nil {
		logger.Warn("dap start failed", "err", err)
		return nil, err
	}
	s.emitStatus()
	if err := s.handshake(startCtx); err != nil {
		logger.Warn("dap handshake failed", "err", err)
		s.Kill()
		return nil, err
	}
	go s.watch()
	logger.Info("dap start ok")
	return s, nil
}

func (s *Session) connect(ctx context.Context) error {
	if s.cfg.Port > 0 {
		host := s.cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(s.cfg.Port)))
		if err != nil {
			if ctx.Err() != nil {
				return schema.FromContext(ctx.Err())
			}
			return schema.IO(err)
		}
		s.conn = conn
		s.rpc = jsonrpc.NewClient(conn, conn, envelope{}, s.dispatch, s.logger)
		return nil
	}
	child, err := process.Spawn(pslog.ContextWithLogger(ctx, s.logger), process.Spec{
		Path:   s.cfg.Command,
		Args:   s.cfg.Args,
		Dir:    s.cfg.Cwd,
		Env:    s.cfg.Env,
		Stdin:  process.Piped,
		Stdout: process.Piped,
		Stderr: process.Piped,
	})
	if err != nil {
		return schema.IO(err)
	}
	s.child = child
	s.rpc = jsonrpc.NewClient(child.Stdout, child.Stdin, envelope{}, s.dispatch, s.logger)
	go jsonrpc.TailStderr(child.Stderr, s.logger, "dap stderr")
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	args := dap.InitializeRequestArguments{
		ClientID:                     "cortex",
		ClientName:                   "Cortex",
		AdapterID:                    s.cfg.Type,
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsRunInTerminalRequest: true,
	}
	caps, err := s.rpc.CallRaw(ctx, "initialize", args)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()

	// Adapters may hold the launch response until configurationDone.
	launched := make(chan error, 1)
	go func() {
		_, err := s.rpc.CallRaw(ctx, s.cfg.Request, json.RawMessage(configuration(s.cfg.Configuration)))
		launched <- err
	}()

	select {
	case <-s.initialized:
	case err := <-launched:
		if err != nil {
			return err
		}
		select {
		case <-s.initialized:
		case <-ctx.Done():
			return schema.FromContext(ctx.Err())
		}
		launched <- nil
	case <-ctx.Done():
		return schema.FromContext(ctx.Err())
	}

	for _, bp := range s.cfg.Breakpoints {
		if _, err := s.rpc.CallRaw(ctx, "setBreakpoints", breakpointArgs(bp)); err != nil {
			s.logger.Warn("dap initial breakpoints failed", "path", bp.Path, "err", err)
		}
	}
	if s.supports(func(c dap.Capabilities) bool { return c.SupportsConfigurationDoneRequest }) {
		if _, err := s.rpc.CallRaw(ctx, "configurationDone", nil); err != nil {
			return err
		}
	}
	select {
	case err := <-launched:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return schema.FromContext(ctx.Err())
	}

	s.mu.Lock()
	if s.status == schema.DAPStarting {
		s.status = schema.DAPRunning
	}
	s.mu.Unlock()
	s.emitStatus()
	return nil
}

func configuration(raw schema.RawJSON) []byte {
	if jsonrpc.IsNull(json.RawMessage(raw)) {
		return []byte("{}")
	}
	return raw
}

func breakpointArgs(bp schema.DAPSourceBreakpoints) dap.SetBreakpointsArguments {
	args := dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: bp.Path, Name: baseName(bp.Path)},
		Breakpoints: make([]dap.SourceBreakpoint, 0, len(bp.Lines)),
	}
	for _, line := range bp.Lines {
		args.Breakpoints = append(args.Breakpoints, dap.SourceBreakpoint{Line: line})
	}
	return args
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

func (s *Session) supports(pred func(dap.Capabilities) bool) bool {
	s.mu.Lock()
	raw := s.caps
	s.mu.Unlock()
	var caps dap.Capabilities
	if jsonrpc.IsNull(raw) || json.Unmarshal(raw, &caps) != nil {
		return false
	}
	return pred(caps)
}

// ID implements core.Session.
func (s *Session) ID() schema.SessionID { return s.id }

// Kind implements core.Session.
func (s *Session) Kind() schema.SessionKind { return schema.KindDAP }

// Info snapshots the session for the renderer.
func (s *Session) Info() schema.DAPSessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.DAPSessionInfo{
		ID:           s.id,
		Name:         s.cfg.Name,
		Type:         s.cfg.Type,
		Status:       s.status,
		Capabilities: schema.RawJSON(s.caps),
	}
}

// Status reports the lifecycle state.
func (s *Session) Status() schema.DAPStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status schema.DAPStatus) {
	s.mu.Lock()
	if s.status == status || s.status == schema.DAPTerminated {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()
	s.emitStatus()
}

func (s *Session) emitStatus() {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if err := s.sink.Emit(schema.TopicDAPStatus, schema.DAPStatusEvent{SessionID: s.id, Status: status}); err != nil {
		s.logger.Debug("dap status emit failed", "err", err)
	}
}

func (s *Session) exited() <-chan struct{} {
	if s.child != nil {
		return s.child.Done()
	}
	return s.rpc.Done()
}

// watch marks the session terminated when the adapter goes away.
func (s *Session) watch() {
	select {
	case <-s.exited():
	case <-s.rpc.Done():
	}
	s.mu.Lock()
	stopping := s.stopping
	s.stopping = true
	s.mu.Unlock()
	if stopping {
		return
	}
	s.logger.Info("dap adapter gone", "err", s.rpc.Err())
	s.teardown()
	s.setStatus(schema.DAPTerminated)
}

func (s *Session) client() (*jsonrpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == schema.DAPTerminated || s.stopping {
		return nil, schema.TransportClosed(errors.New("debug session has ended"))
	}
	return s.rpc, nil
}

// Request issues any DAP command and returns the raw response body.
func (s *Session) Request(ctx context.Context, command string, args any) (json.RawMessage, error) {
	if strings.TrimSpace(command) == "" {
		return nil, schema.BadArgument("command", "is required")
	}
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.CallRaw(ctx, command, args)
}

// Respond answers a reverse request previously forwarded to the renderer.
func (s *Session) Respond(seq int, success bool, message string, body json.RawMessage) error {
	s.mu.Lock()
	command, ok := s.reverse[seq]
	delete(s.reverse, seq)
	s.mu.Unlock()
	if !ok {
		return schema.NotFound("reverse request", strconv.Itoa(seq))
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	resp := response{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: int(c.NextID()), Type: "response"},
			RequestSeq:      seq,
			Success:         success,
			Command:         command,
			Message:         message,
		},
	}
	if !jsonrpc.IsNull(body) {
		resp.Body = body
	}
	return c.Send(resp)
}

func (s *Session) teardown() {
	if s.rpc != nil {
		s.rpc.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.child != nil {
		if err := s.child.Close(); err != nil {
			s.logger.Debug("dap kill failed", "err", err)
		}
	}
}

// Close disconnects from the adapter, terminating a launched debuggee, and
// tears the process down. Repeated calls return nil.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		live := !s.stopping
		s.stopping = true
		s.mu.Unlock()
		select {
		case <-s.rpc.Done():
			live = false
		default:
		}
		s.logger.Info("dap stop start")
		if live {
			dctx, cancel := context.WithTimeout(ctx, s.opts.DisconnectTimeout)
			args := dap.DisconnectArguments{TerminateDebuggee: s.cfg.Request == "launch"}
			if _, err := s.rpc.CallRaw(dctx, "disconnect", args); err != nil {
				s.logger.Debug("dap disconnect request failed", "err", err)
			}
			cancel()
			if s.child != nil {
				select {
				case <-s.child.Done():
				case <-time.After(exitGrace):
				case <-ctx.Done():
				}
			}
		}
		s.teardown()
		s.setStatus(schema.DAPTerminated)
		s.logger.Info("dap stop ok")
	})
	return nil
}

// Kill tears the adapter down without a disconnect request.
func (s *Session) Kill() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.teardown()
}
