// Package credstore keeps SSH passwords and key passphrases outside of the
// profile files, keyed by profile id and role.
package credstore

import (
	"context"
	"errors"
	"strings"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Role names which secret of a profile is addressed.
type Role string

const (
	// RolePassword is the SSH login password.
	RolePassword Role = "password"
	// RolePassphrase is the private key passphrase.
	RolePassphrase Role = "passphrase"
)

// Roles lists every role; Delete removes all of them.
var Roles = []Role{RolePassword, RolePassphrase}

// ErrUnavailable is returned by a backend that cannot run on this host.
var ErrUnavailable = errors.New("credential backend unavailable")

// Store holds secrets per profile and role. Fetch reports ok=false when no
// secret is stored. Delete removes every role and succeeds when none exist.
type Store interface {
	Store(profileID string, role Role, secret string) error
	Fetch(profileID string, role Role) (string, bool, error)
	Delete(profileID string) error
	Backend() string
}

// Config selects and configures the backend.
type Config struct {
	// Backend is "auto", "keyring" or "file".
	Backend string
	// Service is the keychain service name.
	Service string
	// KeyStorePath is the kryptograf key bundle of the file backend.
	KeyStorePath string
	// VaultPath is the encrypted secrets file of the file backend.
	VaultPath string
}

// Open returns the configured backend. "auto" prefers the OS keychain and
// falls back to the encrypted file when the keychain cannot be reached.
func Open(ctx context.Context, cfg Config) (Store, error) {
	logger := pslog.Ctx(ctx)
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "auto"
	}
	switch backend {
	case "keyring":
		return NewKeyring(cfg.Service), nil
	case "file":
		return NewVault(cfg.KeyStorePath, cfg.VaultPath, logger)
	case "auto":
		kr := NewKeyring(cfg.Service)
		err := kr.Probe()
		if err == nil {
			logger.Info("credential store ok", "backend", kr.Backend())
			return kr, nil
		}
		logger.Warn("credential keychain unavailable; using encrypted file", "err", err)
		return NewVault(cfg.KeyStorePath, cfg.VaultPath, logger)
	default:
		return nil, schema.BadArgument("credentials.backend", "unknown backend "+cfg.Backend)
	}
}

func validate(profileID string, role Role) error {
	if strings.TrimSpace(profileID) == "" {
		return schema.BadArgument("profileId", "is required")
	}
	switch role {
	case RolePassword, RolePassphrase:
		return nil
	default:
		return schema.BadArgument("role", "unknown role "+string(role))
	}
}
