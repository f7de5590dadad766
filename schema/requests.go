package schema

// Parameters and results of IPC commands. Field names are camelCase on the
// wire.

// SessionRef addresses one session.
type SessionRef struct {
	ID SessionID `json:"id"`
}

// CloseAllResult reports how many sessions a close_all command stopped.
type CloseAllResult struct {
	Closed int `json:"closed"`
}

// Terminals.

// TerminalCreateParams describes a PTY session to spawn.
type TerminalCreateParams struct {
	Name             string            `json:"name,omitempty"`
	Shell            string            `json:"shell,omitempty"`
	Args             []string          `json:"args,omitempty"`
	Cwd              string            `json:"cwd,omitempty"`
	Cols             uint16            `json:"cols"`
	Rows             uint16            `json:"rows"`
	Env              map[string]string `json:"env,omitempty"`
	ShellIntegration *bool             `json:"shellIntegration,omitempty"`
}

// WriteParams carries input for a byte-stream session.
type WriteParams struct {
	ID   SessionID `json:"id"`
	Data string    `json:"data"`
}

// ResizeParams changes a session's window size.
type ResizeParams struct {
	ID   SessionID `json:"id"`
	Cols uint16    `json:"cols"`
	Rows uint16    `json:"rows"`
}

// AckParams returns flow-control credit.
type AckParams struct {
	ID    SessionID `json:"id"`
	Bytes int       `json:"bytes"`
}

// TerminalUpdateParams renames a terminal.
type TerminalUpdateParams struct {
	ID   SessionID `json:"id"`
	Name string    `json:"name"`
}

// PortParams addresses a listening TCP port.
type PortParams struct {
	Port uint32 `json:"port"`
}

// SSH.

// SSHConnectParams opens an SSH session from an inline or saved profile.
// Password and Passphrase authenticate this dial only and are never stored.
type SSHConnectParams struct {
	Profile     *SSHProfile       `json:"profile,omitempty"`
	ProfileID   string            `json:"profileId,omitempty"`
	Password    string            `json:"password,omitempty"`
	Passphrase  string            `json:"passphrase,omitempty"`
	OpenChannel bool              `json:"openChannel"`
	Cols        uint16            `json:"cols,omitempty"`
	Rows        uint16            `json:"rows,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// SSHOpenChannelParams opens the interactive shell on a session.
type SSHOpenChannelParams struct {
	ID   SessionID         `json:"id"`
	Cols uint16            `json:"cols"`
	Rows uint16            `json:"rows"`
	Env  map[string]string `json:"env,omitempty"`
}

// SSHExecParams runs one command on a fresh channel.
type SSHExecParams struct {
	ID      SessionID `json:"id"`
	Command string    `json:"command"`
}

// SSHProfileSaveParams stores a profile. Secrets go to the credential store;
// empty secrets leave the stored ones untouched.
type SSHProfileSaveParams struct {
	Profile    SSHProfile `json:"profile"`
	Password   string     `json:"password,omitempty"`
	Passphrase string     `json:"passphrase,omitempty"`
}

// ProfileRef addresses a saved profile.
type ProfileRef struct {
	ID string `json:"id"`
}

// RemotePathParams addresses a remote path.
type RemotePathParams struct {
	ID        SessionID `json:"id"`
	Path      string    `json:"path"`
	Recursive bool      `json:"recursive,omitempty"`
	Binary    bool      `json:"binary,omitempty"`
}

// RemoteWriteParams writes a remote file. Base64 content is decoded first.
type RemoteWriteParams struct {
	ID      SessionID `json:"id"`
	Path    string    `json:"path"`
	Content string    `json:"content"`
	Base64  bool      `json:"base64,omitempty"`
}

// RenameParams moves a path.
type RenameParams struct {
	ID   SessionID `json:"id,omitempty"`
	From string    `json:"from"`
	To   string    `json:"to"`
}

// FileContent is a read file, as text or base64.
type FileContent struct {
	Path   string  `json:"path"`
	Text   *string `json:"text,omitempty"`
	Base64 *string `json:"base64,omitempty"`
}

// Debug adapters.

// DAPRequestParams sends one request family to a debug session.
type DAPRequestParams struct {
	ID        SessionID `json:"id"`
	Arguments RawJSON   `json:"arguments,omitempty"`
}

// DAPRawRequestParams sends an arbitrary DAP command.
type DAPRawRequestParams struct {
	ID        SessionID `json:"id"`
	Command   string    `json:"command"`
	Arguments RawJSON   `json:"arguments,omitempty"`
}

// DAPRespondParams answers a reverse request.
type DAPRespondParams struct {
	ID      SessionID `json:"id"`
	Seq     int       `json:"seq"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Body    RawJSON   `json:"body,omitempty"`
}

// REPL kernels.

// KernelStartParams starts a kernel from a spec name.
type KernelStartParams struct {
	Spec string `json:"spec"`
}

// KernelExecuteParams submits code to a kernel.
type KernelExecuteParams struct {
	ID     SessionID `json:"id"`
	Code   string    `json:"code"`
	CellID string    `json:"cellId,omitempty"`
}

// KernelExecuteResult reports the execution counter assigned to the code.
type KernelExecuteResult struct {
	ExecutionCount int `json:"executionCount"`
}

// File system.

// FSMsgpackParams carries a base64 MessagePack batch.
type FSMsgpackParams struct {
	Body string `json:"body"`
}

// FSPathParams addresses a local path.
type FSPathParams struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

// FSWriteParams writes a local file from text or base64.
type FSWriteParams struct {
	Path          string  `json:"path"`
	Text          *string `json:"text,omitempty"`
	Base64        *string `json:"base64,omitempty"`
	CreateParents bool    `json:"createParents,omitempty"`
}

// FSWatchResult reports the canonical watched root.
type FSWatchResult struct {
	Root string `json:"root"`
}

// Application.

// WindowRef addresses a saved window session.
type WindowRef struct {
	WindowID string `json:"windowId"`
}

// SettingsParams selects a settings section; empty loads everything.
type SettingsParams struct {
	Section string `json:"section,omitempty"`
}

// DeepLinkParams carries a received URL.
type DeepLinkParams struct {
	URL string `json:"url"`
}
