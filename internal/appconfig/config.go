package appconfig

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int               `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string            `mapstructure:"state_dir" yaml:"state_dir"`
	IPC           IPCConfig         `mapstructure:"ipc" yaml:"ipc"`
	Terminal      TerminalConfig    `mapstructure:"terminal" yaml:"terminal"`
	SSH           SSHConfig         `mapstructure:"ssh" yaml:"ssh"`
	LSP           LSPConfig         `mapstructure:"lsp" yaml:"lsp"`
	DAP           DAPConfig         `mapstructure:"dap" yaml:"dap"`
	REPL          REPLConfig        `mapstructure:"repl" yaml:"repl"`
	FS            FSConfig          `mapstructure:"fs" yaml:"fs"`
	Credentials   CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Shutdown      ShutdownConfig    `mapstructure:"shutdown" yaml:"shutdown"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// IPCConfig configures the renderer transport.
type IPCConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	EventHistory int    `mapstructure:"event_history" yaml:"event_history"`
	// Token pins the bearer token; empty generates one per start.
	Token string `mapstructure:"token" yaml:"token"`
}

// TerminalConfig tunes local PTY sessions and the shared output pipeline.
type TerminalConfig struct {
	DefaultShell      string `mapstructure:"default_shell" yaml:"default_shell"`
	ShellIntegration  bool   `mapstructure:"shell_integration" yaml:"shell_integration"`
	BatchWindowMillis int    `mapstructure:"batch_window_ms" yaml:"batch_window_ms"`
	MaxPendingBytes   int    `mapstructure:"max_pending_bytes" yaml:"max_pending_bytes"`
	ReadBufferBytes   int    `mapstructure:"read_buffer_bytes" yaml:"read_buffer_bytes"`
	WriterBufferBytes int    `mapstructure:"writer_buffer_bytes" yaml:"writer_buffer_bytes"`
}

// SSHConfig tunes SSH sessions.
type SSHConfig struct {
	ConnectTimeoutSeconds    int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	KeepaliveIntervalSeconds int    `mapstructure:"keepalive_interval_seconds" yaml:"keepalive_interval_seconds"`
	KeepaliveMisses          int    `mapstructure:"keepalive_misses" yaml:"keepalive_misses"`
	KnownHostsPath           string `mapstructure:"known_hosts_path" yaml:"known_hosts_path"`
	HostKeyPolicy            string `mapstructure:"host_key_policy" yaml:"host_key_policy"`
}

// LSPConfig tunes language server sessions.
type LSPConfig struct {
	InitTimeoutSeconds    int `mapstructure:"init_timeout_seconds" yaml:"init_timeout_seconds"`
	ShutdownTimeoutMillis int `mapstructure:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
}

// DAPConfig tunes debug adapter sessions.
type DAPConfig struct {
	StartTimeoutSeconds     int `mapstructure:"start_timeout_seconds" yaml:"start_timeout_seconds"`
	DisconnectTimeoutMillis int `mapstructure:"disconnect_timeout_ms" yaml:"disconnect_timeout_ms"`
}

// REPLConfig tunes REPL kernels.
type REPLConfig struct {
	IdleDelayMillis     int    `mapstructure:"idle_delay_ms" yaml:"idle_delay_ms"`
	ShutdownGraceMillis int    `mapstructure:"shutdown_grace_ms" yaml:"shutdown_grace_ms"`
	Cwd                 string `mapstructure:"cwd" yaml:"cwd"`
}

// FSConfig tunes the batch file system service and its caches.
type FSConfig struct {
	ContentsCacheSize            int      `mapstructure:"contents_cache_size" yaml:"contents_cache_size"`
	ContentsTTLSeconds           int      `mapstructure:"contents_ttl_seconds" yaml:"contents_ttl_seconds"`
	MaxCachedFileBytes           int64    `mapstructure:"max_cached_file_bytes" yaml:"max_cached_file_bytes"`
	MetadataTTLSeconds           int      `mapstructure:"metadata_ttl_seconds" yaml:"metadata_ttl_seconds"`
	ExistenceTTLSeconds          int      `mapstructure:"existence_ttl_seconds" yaml:"existence_ttl_seconds"`
	InvalidationRetentionSeconds int      `mapstructure:"invalidation_retention_seconds" yaml:"invalidation_retention_seconds"`
	Parallelism                  int      `mapstructure:"parallelism" yaml:"parallelism"`
	WatchDebounceMillis          int      `mapstructure:"watch_debounce_ms" yaml:"watch_debounce_ms"`
	WatchIgnore                  []string `mapstructure:"watch_ignore" yaml:"watch_ignore"`
}

// CredentialsConfig selects the credential store backend.
type CredentialsConfig struct {
	// Backend is auto, keyring or file.
	Backend      string `mapstructure:"backend" yaml:"backend"`
	Service      string `mapstructure:"service" yaml:"service"`
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
	VaultPath    string `mapstructure:"vault_path" yaml:"vault_path"`
}

// ShutdownConfig bounds the graceful drain on exit.
type ShutdownConfig struct {
	DrainBudgetMillis int `mapstructure:"drain_budget_ms" yaml:"drain_budget_ms"`
}

// Millis converts a millisecond setting.
func Millis(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Seconds converts a second setting.
func Seconds(v int) time.Duration { return time.Duration(v) * time.Second }

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	state := filepath.Join(home, ".cortex", "state")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      state,
		IPC: IPCConfig{
			Addr:         "127.0.0.1:0",
			EventHistory: 1024,
		},
		Terminal: TerminalConfig{
			DefaultShell:      "",
			ShellIntegration:  true,
			BatchWindowMillis: 16,
			MaxPendingBytes:   100000,
			ReadBufferBytes:   8 << 10,
			WriterBufferBytes: 64 << 10,
		},
		SSH: SSHConfig{
			ConnectTimeoutSeconds:    30,
			KeepaliveIntervalSeconds: 15,
			KeepaliveMisses:          3,
			KnownHostsPath:           filepath.Join(home, ".ssh", "known_hosts"),
			HostKeyPolicy:            "accept-new",
		},
		LSP: LSPConfig{
			InitTimeoutSeconds:    30,
			ShutdownTimeoutMillis: 2000,
		},
		DAP: DAPConfig{
			StartTimeoutSeconds:     30,
			DisconnectTimeoutMillis: 2000,
		},
		REPL: REPLConfig{
			IdleDelayMillis:     100,
			ShutdownGraceMillis: 1000,
			Cwd:                 "",
		},
		FS: FSConfig{
			ContentsCacheSize:            256,
			ContentsTTLSeconds:           5,
			MaxCachedFileBytes:           1 << 20,
			MetadataTTLSeconds:           10,
			ExistenceTTLSeconds:          10,
			InvalidationRetentionSeconds: 60,
			Parallelism:                  16,
			WatchDebounceMillis:          100,
			WatchIgnore:                  []string{".git", "node_modules"},
		},
		Credentials: CredentialsConfig{
			Backend:      "auto",
			Service:      "cortex",
			KeyStorePath: filepath.Join(state, "credentials", "keys.bundle"),
			VaultPath:    filepath.Join(state, "credentials", "vault.json"),
		},
		Shutdown: ShutdownConfig{
			DrainBudgetMillis: 2000,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cortex", "config.yaml"), nil
}
