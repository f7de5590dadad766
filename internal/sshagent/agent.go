// Package sshagent reads identities from a running SSH agent.
package sshagent

import (
	"errors"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"pkt.systems/cortex/schema"
)

// dialTimeout bounds connecting to the agent socket.
const dialTimeout = 5 * time.Second

// Conn is an open agent connection. Signers stay usable until Close.
type Conn struct {
	conn   net.Conn
	client agent.ExtendedAgent
}

// SocketPath returns the agent socket from SSH_AUTH_SOCK.
func SocketPath() string {
	return strings.TrimSpace(os.Getenv("SSH_AUTH_SOCK"))
}

// Dial connects to the agent at socket, or SSH_AUTH_SOCK when empty.
func Dial(socket string) (*Conn, error) {
	if socket == "" {
		socket = SocketPath()
	}
	if socket == "" {
		return nil, schema.Auth("no ssh agent is running (SSH_AUTH_SOCK is unset)")
	}
	if runtime.GOOS == "windows" {
		return nil, schema.Unsupported("ssh agent named pipes")
	}
	conn, err := net.DialTimeout("unix", socket, dialTimeout)
	if err != nil {
		return nil, schema.Auth("ssh agent unreachable")
	}
	return &Conn{conn: conn, client: agent.NewClient(conn)}, nil
}

// Signers lists one signer per agent identity, in agent order.
func (c *Conn) Signers() ([]ssh.Signer, error) {
	signers, err := c.client.Signers()
	if err != nil {
		return nil, schema.Auth("ssh agent listing failed")
	}
	if len(signers) == 0 {
		return nil, schema.Auth("ssh agent holds no identities")
	}
	return signers, nil
}

// Fingerprints lists the SHA256 fingerprints of the agent identities.
func (c *Conn) Fingerprints() ([]string, error) {
	keys, err := c.client.List()
	if err != nil {
		return nil, schema.Auth("ssh agent listing failed")
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, ssh.FingerprintSHA256(k))
	}
	return out, nil
}

// Close releases the agent connection.
func (c *Conn) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
