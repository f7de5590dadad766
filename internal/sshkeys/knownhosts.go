package sshkeys

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// HostKeyPolicy selects how unknown hosts are treated.
type HostKeyPolicy string

const (
	// HostKeyStrict rejects hosts missing from known_hosts.
	HostKeyStrict HostKeyPolicy = "strict"
	// HostKeyAcceptNew records unknown hosts and rejects changed keys.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyInsecure accepts any host key.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// DefaultKnownHostsPath is ~/.ssh/known_hosts.
func DefaultKnownHostsPath() string {
	return ExpandHome("~/.ssh/known_hosts")
}

// HostKeyCallback verifies server keys against the known_hosts file at path.
// A changed key for a known host is always rejected.
func HostKeyCallback(path string, policy HostKeyPolicy, logger pslog.Logger) (ssh.HostKeyCallback, error) {
	if policy == HostKeyInsecure {
		if logger != nil {
			logger.Warn("ssh host key verification disabled")
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if path == "" {
		path = DefaultKnownHostsPath()
	}
	path = ExpandHome(path)
	if policy == HostKeyAcceptNew {
		if err := ensureFile(path); err != nil {
			return nil, schema.IO(err)
		}
	}
	h := &hostKeys{path: path, policy: policy, logger: logger}
	if err := h.reload(); err != nil {
		return nil, err
	}
	return h.Check, nil
}

type hostKeys struct {
	path   string
	policy HostKeyPolicy
	logger pslog.Logger

	mu    sync.Mutex
	check ssh.HostKeyCallback
}

func (h *hostKeys) reload() error {
	cb, err := knownhosts.New(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.NotFound("known_hosts", h.path)
		}
		return schema.IO(err)
	}
	h.mu.Lock()
	h.check = h.verify(cb)
	h.mu.Unlock()
	return nil
}

// Check verifies key against the current known_hosts contents.
func (h *hostKeys) Check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	h.mu.Lock()
	cb := h.check
	h.mu.Unlock()
	return cb(hostname, remote, key)
}

func (h *hostKeys) verify(cb ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			if h.logger != nil {
				h.logger.Warn("ssh host key mismatch", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
			}
			return schema.Auth("host key for " + hostname + " does not match known_hosts")
		}
		if h.policy != HostKeyAcceptNew {
			return schema.Auth("host " + hostname + " is not in known_hosts")
		}
		if err := h.append(hostname, remote, key); err != nil {
			return schema.IO(err)
		}
		if h.logger != nil {
			h.logger.Info("ssh host key added", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
		}
		return nil
	}
}

func (h *hostKeys) append(hostname string, remote net.Addr, key ssh.PublicKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	addresses := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if addr := knownhosts.Normalize(remote.String()); addr != addresses[0] {
			addresses = append(addresses, addr)
		}
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(knownhosts.Line(addresses, key) + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	cb, err := knownhosts.New(h.path)
	if err != nil {
		return err
	}
	h.check = h.verify(cb)
	return nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}
