package schema

import "encoding/json"

// RawJSON is an opaque JSON value passed through without interpretation.
type RawJSON = json.RawMessage

// Event topics emitted to the renderer.
const (
	TopicTerminalCreated = "terminal:created"
	TopicTerminalOutput  = "terminal:output"
	TopicTerminalStatus  = "terminal:status"

	TopicSSHConnected = "ssh_terminal:connected"
	TopicSSHOutput    = "ssh_terminal:output"
	TopicSSHStatus    = "ssh_terminal:status"

	TopicLSPStatus = "lsp:status"
	TopicDAPStatus = "debug:status"

	TopicDAPReverseRequest = "debug:reverse-request"

	TopicREPLOutput = "repl:output"
	TopicREPLStatus = "repl:status"

	TopicFSChanged = "fs:changed"

	TopicDeepLink     = "deep-link"
	TopicBackendReady = "backend:ready"
)

// LSPDiagnosticsTopic is the per-session diagnostics topic.
func LSPDiagnosticsTopic(id SessionID) string {
	return "lsp:diagnostics:" + string(id)
}

// LSPNotificationTopic is the per-session topic for forwarded server notifications.
func LSPNotificationTopic(id SessionID) string {
	return "lsp:notification:" + string(id)
}

// DAPEventTopic is the per-session topic carrying raw DAP events.
func DAPEventTopic(id SessionID) string {
	return "debug:event:" + string(id)
}

// Event is one message on the event channel.
type Event struct {
	Seq     uint64 `json:"seq,omitempty"`
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// TerminalOutputEvent carries decoded terminal bytes.
type TerminalOutputEvent struct {
	ID   SessionID `json:"id"`
	Data string    `json:"data"`
}

// TerminalStatusEvent reports how a terminal session ended.
type TerminalStatusEvent struct {
	ID       SessionID      `json:"id"`
	Status   TerminalStatus `json:"status"`
	ExitCode *int           `json:"exitCode,omitempty"`
}

// SSHOutputEvent carries decoded remote PTY bytes.
type SSHOutputEvent struct {
	SessionID SessionID `json:"sessionId"`
	Data      string    `json:"data"`
}

// SSHStatusEvent reports an SSH status transition.
type SSHStatusEvent struct {
	SessionID SessionID `json:"sessionId"`
	Status    SSHStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
}

// LSPStatusEvent reports a language server status transition.
type LSPStatusEvent struct {
	ID      SessionID `json:"id"`
	Status  LSPStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// LSPDiagnosticsEvent carries one publishDiagnostics notification.
type LSPDiagnosticsEvent struct {
	ID          SessionID `json:"id"`
	URI         string    `json:"uri"`
	Version     *int      `json:"version,omitempty"`
	Diagnostics RawJSON   `json:"diagnostics"`
}

// LSPNotificationEvent forwards a server notification the core does not consume.
type LSPNotificationEvent struct {
	ID     SessionID `json:"id"`
	Method string    `json:"method"`
	Params RawJSON   `json:"params,omitempty"`
}

// DAPEvent carries a raw DAP event.
type DAPEvent struct {
	SessionID SessionID `json:"sessionId"`
	Event     string    `json:"event"`
	Body      RawJSON   `json:"body,omitempty"`
}

// DAPStatusEvent reports a debug session status transition.
type DAPStatusEvent struct {
	SessionID SessionID `json:"sessionId"`
	Status    DAPStatus `json:"status"`
}

// DAPReverseRequestEvent forwards an adapter-initiated request.
type DAPReverseRequestEvent struct {
	SessionID SessionID `json:"sessionId"`
	Seq       int       `json:"seq"`
	Command   string    `json:"command"`
	Arguments RawJSON   `json:"arguments,omitempty"`
}

// REPLOutputEvent carries kernel output.
type REPLOutputEvent struct {
	KernelID SessionID `json:"kernelId"`
	Stream   string    `json:"stream"`
	Text     string    `json:"text"`
	CellID   string    `json:"cellId,omitempty"`
}

// REPLStatusEvent reports a kernel status transition.
type REPLStatusEvent struct {
	KernelID       SessionID    `json:"kernelId"`
	Status         KernelStatus `json:"status"`
	ExecutionCount int          `json:"executionCount"`
}

// FSChangedEvent reports paths changed on disk.
type FSChangedEvent struct {
	Root  string   `json:"root"`
	Paths []string `json:"paths"`
}

// BackendReadyEvent is emitted once after startup init.
type BackendReadyEvent struct {
	Version      string       `json:"version"`
	DefaultShell string       `json:"defaultShell"`
	Shells       []ShellInfo  `json:"shells"`
	KernelSpecs  []KernelSpec `json:"kernelSpecs"`
	Profiles     int          `json:"profiles"`
}
