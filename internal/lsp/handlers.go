package lsp

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/schema"
)

// forwarded lists server notifications passed to the renderer untouched.
var forwarded = []string{
	"window/logMessage",
	"window/showMessage",
	"$/progress",
	"telemetry/event",
}

// OnNotification routes a server notification to fn, replacing any
// previous handler for method.
func (s *Session) OnNotification(method string, fn NotificationHandler) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
}

func (s *Session) installHandlers() {
	s.handlers["textDocument/publishDiagnostics"] = s.publishDiagnostics
	for _, method := range forwarded {
		s.handlers[method] = func(params json.RawMessage) {
			s.forward(method, params)
		}
	}
}

func (s *Session) dispatch(in jsonrpc.Incoming) {
	switch in.Kind {
	case jsonrpc.Notification:
		s.mu.Lock()
		fn := s.handlers[in.Method]
		s.mu.Unlock()
		if fn == nil {
			s.logger.Trace("lsp notification ignored", "method", in.Method)
			return
		}
		fn(in.Params)
	case jsonrpc.Request:
		s.answer(in)
	}
}

func (s *Session) forward(method string, params json.RawMessage) {
	if method == "window/logMessage" {
		var msg protocol.LogMessageParams
		if err := json.Unmarshal(params, &msg); err == nil {
			s.logger.Debug("lsp log", "type", msg.Type.String(), "message", msg.Message)
		}
	}
	ev := schema.LSPNotificationEvent{ID: s.id, Method: method, Params: params}
	if err := s.sink.Emit(schema.LSPNotificationTopic(s.id), ev); err != nil {
		s.logger.Debug("lsp notification emit failed", "err", err)
	}
}

type diagnosticsParams struct {
	URI         protocol.DocumentURI `json:"uri"`
	Version     *int                 `json:"version,omitempty"`
	Diagnostics json.RawMessage      `json:"diagnostics"`
}

func (s *Session) publishDiagnostics(params json.RawMessage) {
	var p diagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("lsp diagnostics malformed", "err", err)
		return
	}
	if jsonrpc.IsNull(p.Diagnostics) {
		p.Diagnostics = json.RawMessage("[]")
	}
	s.mu.Lock()
	s.diags[p.URI] = p.Diagnostics
	s.mu.Unlock()
	ev := schema.LSPDiagnosticsEvent{ID: s.id, URI: string(p.URI), Version: p.Version, Diagnostics: p.Diagnostics}
	if err := s.sink.Emit(schema.LSPDiagnosticsTopic(s.id), ev); err != nil {
		s.logger.Debug("lsp diagnostics emit failed", "err", err)
	}
}

// Diagnostics returns the last diagnostics published for a document.
func (s *Session) Diagnostics(docURI string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.diags[documentURI(docURI)]; ok {
		return d
	}
	return json.RawMessage("[]")
}

// answer replies to server-initiated requests on the reader goroutine.
func (s *Session) answer(in jsonrpc.Incoming) {
	var (
		result any
		rerr   *responseError
	)
	switch in.Method {
	case "workspace/configuration":
		var p protocol.ConfigurationParams
		if err := json.Unmarshal(in.Params, &p); err != nil {
			rerr = &responseError{Code: codeInternalError, Message: err.Error()}
			break
		}
		items := make([]any, len(p.Items))
		for i, item := range p.Items {
			items[i] = lookupSetting(s.cfg.Settings, item.Section)
		}
		result = items
	case "workspace/workspaceFolders":
		if s.cfg.RootPath == "" {
			break
		}
		result = []protocol.WorkspaceFolder{{URI: string(uri.File(s.cfg.RootPath)), Name: filepath.Base(s.cfg.RootPath)}}
	case "client/registerCapability", "client/unregisterCapability",
		"window/workDoneProgress/create", "window/showMessageRequest":
	case "workspace/applyEdit":
		s.forward(in.Method, in.Params)
		result = map[string]any{"applied": false, "failureReason": "edits are applied by the editor"}
	default:
		s.logger.Debug("lsp server request unsupported", "method", in.Method)
		rerr = &responseError{Code: codeMethodNotFound, Message: "method not found: " + in.Method}
	}
	resp := response{JSONRPC: "2.0", ID: in.RawID}
	if rerr != nil {
		resp.Error = rerr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			raw = json.RawMessage("null")
		}
		resp.Result = raw
	}
	if err := s.rpc.Send(resp); err != nil {
		s.logger.Debug("lsp server request reply failed", "method", in.Method, "err", err)
	}
}

// lookupSetting walks a dotted section path through decoded settings.
func lookupSetting(settings any, section string) any {
	if section == "" {
		return settings
	}
	cur := settings
	for _, part := range strings.Split(section, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}
