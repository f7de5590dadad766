package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("ipc.addr", cfg.IPC.Addr)
	v.SetDefault("ipc.event_history", cfg.IPC.EventHistory)
	v.SetDefault("ipc.token", cfg.IPC.Token)
	v.SetDefault("terminal.default_shell", cfg.Terminal.DefaultShell)
	v.SetDefault("terminal.shell_integration", cfg.Terminal.ShellIntegration)
	v.SetDefault("terminal.batch_window_ms", cfg.Terminal.BatchWindowMillis)
	v.SetDefault("terminal.max_pending_bytes", cfg.Terminal.MaxPendingBytes)
	v.SetDefault("terminal.read_buffer_bytes", cfg.Terminal.ReadBufferBytes)
	v.SetDefault("terminal.writer_buffer_bytes", cfg.Terminal.WriterBufferBytes)
	v.SetDefault("ssh.connect_timeout_seconds", cfg.SSH.ConnectTimeoutSeconds)
	v.SetDefault("ssh.keepalive_interval_seconds", cfg.SSH.KeepaliveIntervalSeconds)
	v.SetDefault("ssh.keepalive_misses", cfg.SSH.KeepaliveMisses)
	v.SetDefault("ssh.known_hosts_path", cfg.SSH.KnownHostsPath)
	v.SetDefault("ssh.host_key_policy", cfg.SSH.HostKeyPolicy)
	v.SetDefault("lsp.init_timeout_seconds", cfg.LSP.InitTimeoutSeconds)
	v.SetDefault("lsp.shutdown_timeout_ms", cfg.LSP.ShutdownTimeoutMillis)
	v.SetDefault("dap.start_timeout_seconds", cfg.DAP.StartTimeoutSeconds)
	v.SetDefault("dap.disconnect_timeout_ms", cfg.DAP.DisconnectTimeoutMillis)
	v.SetDefault("repl.idle_delay_ms", cfg.REPL.IdleDelayMillis)
	v.SetDefault("repl.shutdown_grace_ms", cfg.REPL.ShutdownGraceMillis)
	v.SetDefault("repl.cwd", cfg.REPL.Cwd)
	v.SetDefault("fs.contents_cache_size", cfg.FS.ContentsCacheSize)
	v.SetDefault("fs.contents_ttl_seconds", cfg.FS.ContentsTTLSeconds)
	v.SetDefault("fs.max_cached_file_bytes", cfg.FS.MaxCachedFileBytes)
	v.SetDefault("fs.metadata_ttl_seconds", cfg.FS.MetadataTTLSeconds)
	v.SetDefault("fs.existence_ttl_seconds", cfg.FS.ExistenceTTLSeconds)
	v.SetDefault("fs.invalidation_retention_seconds", cfg.FS.InvalidationRetentionSeconds)
	v.SetDefault("fs.parallelism", cfg.FS.Parallelism)
	v.SetDefault("fs.watch_debounce_ms", cfg.FS.WatchDebounceMillis)
	v.SetDefault("fs.watch_ignore", cfg.FS.WatchIgnore)
	v.SetDefault("credentials.backend", cfg.Credentials.Backend)
	v.SetDefault("credentials.service", cfg.Credentials.Service)
	v.SetDefault("credentials.key_store_path", cfg.Credentials.KeyStorePath)
	v.SetDefault("credentials.vault_path", cfg.Credentials.VaultPath)
	v.SetDefault("shutdown.drain_budget_ms", cfg.Shutdown.DrainBudgetMillis)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.StateDir) == "" {
		return fmt.Errorf("state_dir is required")
	}
	if _, _, err := net.SplitHostPort(cfg.IPC.Addr); err != nil {
		return fmt.Errorf("ipc.addr must be host:port: %w", err)
	}
	switch cfg.SSH.HostKeyPolicy {
	case "strict", "accept-new", "insecure":
	default:
		return fmt.Errorf("unsupported ssh.host_key_policy %q", cfg.SSH.HostKeyPolicy)
	}
	switch strings.ToLower(cfg.Credentials.Backend) {
	case "auto", "keyring", "file":
	default:
		return fmt.Errorf("unsupported credentials.backend %q", cfg.Credentials.Backend)
	}
	if cfg.Terminal.MaxPendingBytes < 0 || cfg.FS.Parallelism < 0 {
		return fmt.Errorf("terminal.max_pending_bytes and fs.parallelism must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Terminal.DefaultShell = expandEnv(cfg.Terminal.DefaultShell)
	cfg.SSH.KnownHostsPath = expandEnv(cfg.SSH.KnownHostsPath)
	cfg.REPL.Cwd = expandEnv(cfg.REPL.Cwd)
	cfg.Credentials.KeyStorePath = expandEnv(cfg.Credentials.KeyStorePath)
	cfg.Credentials.VaultPath = expandEnv(cfg.Credentials.VaultPath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
