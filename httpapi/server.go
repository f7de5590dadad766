// Package httpapi is the renderer transport: command invocation over HTTP,
// an SSE event stream with replay and a duplex websocket.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/cortex/internal/logx"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// maxParamsBytes bounds a request body; FS batches are the largest payloads.
const maxParamsBytes = 64 << 20

// Invoker runs a named command with JSON params.
type Invoker interface {
	Invoke(ctx context.Context, name string, params json.RawMessage) (any, error)
}

// Server serves the IPC endpoints.
type Server struct {
	cfg      Config
	invoker  Invoker
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer constructs an IPC server.
func NewServer(cfg Config, invoker Invoker, hub *Hub) *Server {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	return &Server{
		cfg:     cfg,
		invoker: invoker,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			// The bearer token authenticates; the renderer origin varies by
			// platform.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ipc/health", s.handleHealth)
	mux.HandleFunc("POST /ipc/invoke/{command}", s.requireToken(s.handleInvoke))
	mux.HandleFunc("GET /ipc/events", s.requireToken(s.handleEvents))
	mux.HandleFunc("GET /ipc/ws", s.requireToken(s.handleWebsocket))
	return withRequestLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "seq": s.hub.Seq()})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	command := r.PathValue("command")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBytes+1))
	if err != nil {
		writeError(w, schema.IO(err))
		return
	}
	if len(body) > maxParamsBytes {
		writeError(w, schema.BadArgument("params", "request body too large"))
		return
	}
	result, err := s.invoker.Invoke(r.Context(), command, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	if lastID == 0 {
		lastID = parseUint(r.URL.Query().Get("lastEventId"))
	}
	topics := parseTopics(r)

	ch, replay, unsubscribe := s.hub.Subscribe(lastID, topics)
	defer unsubscribe()

	w.WriteHeader(http.StatusOK)
	for _, event := range replay {
		_ = writeSSEvent(w, event)
	}
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	notify := r.Context().Done()
	log.Info("ipc stream opened", "last_id", lastID, "replay", len(replay))
	for {
		select {
		case <-notify:
			log.Info("ipc stream closed")
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEvent(w, event); err != nil {
				log.Warn("ipc stream encode failed", "topic", event.Topic, "err", err)
				continue
			}
			flusher.Flush()
		}
	}
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := bearerToken(r)
		if s.cfg.Token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			logx.Ctx(r.Context()).With("remote", r.RemoteAddr).Warn("ipc token rejected", "present", got != "")
			writeJSON(w, http.StatusUnauthorized, schema.WireError{Kind: schema.KindAuth, Message: "missing or invalid token"})
			return
		}
		next(w, r)
	}
}

// bearerToken reads the Authorization header. EventSource and browser
// websockets cannot set headers, so the token query parameter is accepted too.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func parseTopics(r *http.Request) []string {
	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return nil
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// StatusFor maps an error kind to the HTTP status of an invoke reply.
func StatusFor(kind schema.ErrorKind) int {
	switch kind {
	case schema.KindNotFound:
		return http.StatusNotFound
	case schema.KindBadArgument:
		return http.StatusBadRequest
	case schema.KindUnsupported:
		return http.StatusNotImplemented
	case schema.KindTimeout:
		return http.StatusGatewayTimeout
	case schema.KindCancelled:
		return http.StatusConflict
	case schema.KindAuth, schema.KindRemote, schema.KindTransportClosed, schema.KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(schema.WireError{Kind: schema.KindInternal, Message: "encode result: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	wire := schema.ToWire(err)
	writeJSON(w, StatusFor(wire.Kind), wire)
}

func writeSSEvent(w http.ResponseWriter, event schema.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// requestLogger returns the request logger with the remote address.
func requestLogger(r *http.Request) pslog.Logger {
	return pslog.Ctx(r.Context()).With("remote", r.RemoteAddr)
}
