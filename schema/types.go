package schema

import "time"

// SessionID identifies a live session of any kind. IDs are unique across kinds.
type SessionID string

// SessionKind tags the variant of a registered session.
type SessionKind string

const (
	// KindPty is a local pseudo-terminal session.
	KindPty SessionKind = "pty"
	// KindSSH is a remote SSH session.
	KindSSH SessionKind = "ssh"
	// KindLSP is a language server client session.
	KindLSP SessionKind = "lsp"
	// KindDAP is a debug adapter client session.
	KindDAP SessionKind = "dap"
	// KindREPL is a REPL kernel session.
	KindREPL SessionKind = "repl"
)

// TerminalStatus is the lifecycle state of a PTY session.
type TerminalStatus string

const (
	// TerminalRunning indicates the shell is alive.
	TerminalRunning TerminalStatus = "running"
	// TerminalExited indicates the shell exited on its own.
	TerminalExited TerminalStatus = "exited"
	// TerminalClosed indicates the session was closed by request.
	TerminalClosed TerminalStatus = "closed"
)

// TerminalInfo describes a PTY session to the renderer.
type TerminalInfo struct {
	ID        SessionID      `json:"id"`
	Name      string         `json:"name"`
	Shell     string         `json:"shell"`
	Cwd       string         `json:"cwd"`
	Cols      uint16         `json:"cols"`
	Rows      uint16         `json:"rows"`
	Pid       int            `json:"pid"`
	Status    TerminalStatus `json:"status"`
	ExitCode  *int           `json:"exitCode,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// ShellInfo describes a shell found on the host.
type ShellInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Default bool   `json:"default"`
}

// PortProcess describes a process listening on a local TCP port.
type PortProcess struct {
	Port    uint32 `json:"port"`
	Pid     int32  `json:"pid"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// SSHStatus is the lifecycle state of an SSH session.
type SSHStatus string

const (
	// SSHConnecting indicates the transport is being established.
	SSHConnecting SSHStatus = "connecting"
	// SSHConnected indicates the transport is authenticated and usable.
	SSHConnected SSHStatus = "connected"
	// SSHDisconnected indicates the transport is gone.
	SSHDisconnected SSHStatus = "disconnected"
	// SSHReconnecting indicates the transport is being re-dialled.
	SSHReconnecting SSHStatus = "reconnecting"
	// SSHError indicates a transport or lock failure; operations fail fast.
	SSHError SSHStatus = "error"
)

// SSHAuthType selects how an SSH profile authenticates.
type SSHAuthType string

const (
	// SSHAuthPassword authenticates with a password from the credential store.
	SSHAuthPassword SSHAuthType = "password"
	// SSHAuthKey authenticates with a private key file and optional passphrase.
	SSHAuthKey SSHAuthType = "key"
	// SSHAuthAgent authenticates with identities held by the SSH agent.
	SSHAuthAgent SSHAuthType = "agent"
)

// SSHAuth describes the auth method of a profile. It never carries secrets,
// only flags indicating whether the credential store holds them.
type SSHAuth struct {
	Type          SSHAuthType `json:"type"`
	KeyPath       string      `json:"keyPath,omitempty"`
	HasPassword   bool        `json:"hasPassword,omitempty"`
	HasPassphrase bool        `json:"hasPassphrase,omitempty"`
}

// SSHProfile is a saved connection target.
type SSHProfile struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Username string            `json:"username"`
	Auth     SSHAuth           `json:"auth"`
	Env      map[string]string `json:"env,omitempty"`
}

// SSHSessionInfo describes an SSH session to the renderer.
type SSHSessionInfo struct {
	ID            SessionID `json:"id"`
	ProfileID     string    `json:"profileId"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Username      string    `json:"username"`
	Status        SSHStatus `json:"status"`
	Error         string    `json:"error,omitempty"`
	Platform      string    `json:"platform"`
	HomeDirectory string    `json:"homeDirectory"`
	Cwd           string    `json:"cwd"`
	HasChannel    bool      `json:"hasChannel"`
	CreatedAt     int64     `json:"createdAt"`
}

// ExecResult is the outcome of a one-shot remote command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// RemoteEntry describes a remote file system entry.
type RemoteEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
	IsSymlink   bool   `json:"isSymlink"`
	Size        int64  `json:"size"`
	Modified    int64  `json:"modified"`
	Permissions uint32 `json:"permissions"`
}

// LSPStatus is the lifecycle state of a language server client.
type LSPStatus string

const (
	// LSPStarting indicates the server is spawned but not initialized.
	LSPStarting LSPStatus = "starting"
	// LSPRunning indicates initialize completed.
	LSPRunning LSPStatus = "running"
	// LSPStopped indicates an orderly shutdown.
	LSPStopped LSPStatus = "stopped"
	// LSPCrashed indicates the server went away without shutdown.
	LSPCrashed LSPStatus = "crashed"
)

// LSPServerConfig describes how to launch a language server.
type LSPServerConfig struct {
	Name                  string            `json:"name"`
	Command               string            `json:"command"`
	Args                  []string          `json:"args,omitempty"`
	RootPath              string            `json:"rootPath"`
	LanguageIDs           []string          `json:"languageIds,omitempty"`
	Env                   map[string]string `json:"env,omitempty"`
	InitializationOptions any               `json:"initializationOptions,omitempty"`
	Settings              any               `json:"settings,omitempty"`
}

// LSPServerInfo describes a language server session to the renderer.
type LSPServerInfo struct {
	ID           SessionID `json:"id"`
	Name         string    `json:"name"`
	Status       LSPStatus `json:"status"`
	LanguageIDs  []string  `json:"languageIds,omitempty"`
	RootPath     string    `json:"rootPath"`
	Capabilities RawJSON   `json:"capabilities,omitempty"`
	Pid          int       `json:"pid"`
}

// DAPStatus is the lifecycle state of a debug adapter client.
type DAPStatus string

const (
	// DAPStarting indicates the adapter is being initialized.
	DAPStarting DAPStatus = "starting"
	// DAPRunning indicates the debuggee is running.
	DAPRunning DAPStatus = "running"
	// DAPStopped indicates the debuggee is paused.
	DAPStopped DAPStatus = "stopped"
	// DAPTerminated indicates the debug session ended.
	DAPTerminated DAPStatus = "terminated"
)

// DAPAdapterConfig describes how to reach a debug adapter and what to ask it.
type DAPAdapterConfig struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// Host and Port select a socket adapter instead of a child process.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	// Request is "launch" or "attach".
	Request       string                 `json:"request"`
	Configuration RawJSON                `json:"configuration,omitempty"`
	Breakpoints   []DAPSourceBreakpoints `json:"breakpoints,omitempty"`
}

// DAPSourceBreakpoints lists the initial breakpoints for one source file.
type DAPSourceBreakpoints struct {
	Path  string `json:"path"`
	Lines []int  `json:"lines"`
}

// DAPSessionInfo describes a debug session to the renderer.
type DAPSessionInfo struct {
	ID           SessionID `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Status       DAPStatus `json:"status"`
	Capabilities RawJSON   `json:"capabilities,omitempty"`
}

// KernelStatus is the lifecycle state of a REPL kernel.
type KernelStatus string

const (
	// KernelIdle indicates the kernel accepts input.
	KernelIdle KernelStatus = "idle"
	// KernelBusy indicates input was just submitted.
	KernelBusy KernelStatus = "busy"
	// KernelShuttingDown indicates shutdown is in progress.
	KernelShuttingDown KernelStatus = "shutting_down"
	// KernelShutdown indicates the kernel process is gone.
	KernelShutdown KernelStatus = "shutdown"
)

// KernelSpec describes an interpreter that can back a REPL kernel.
type KernelSpec struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Language    string   `json:"language"`
	Interpreter string   `json:"interpreter"`
	Args        []string `json:"args,omitempty"`
}

// KernelInfo describes a running kernel to the renderer.
type KernelInfo struct {
	ID             SessionID    `json:"id"`
	Spec           KernelSpec   `json:"spec"`
	Status         KernelStatus `json:"status"`
	ExecutionCount int          `json:"executionCount"`
	Pid            int          `json:"pid"`
}

// WindowSnapshot is the restorable state of one IDE window.
type WindowSnapshot struct {
	WindowID  string   `json:"windowId"`
	Folders   []string `json:"folders"`
	OpenFiles []string `json:"openFiles"`
	Active    string   `json:"active,omitempty"`
	Layout    RawJSON  `json:"layout,omitempty"`
	SavedAt   int64    `json:"savedAt"`
}

// UnixSeconds converts t to seconds since the epoch, or 0 for the zero time.
func UnixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
