package sshagent

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"path/filepath"
	"runtime"
	"testing"

	"golang.org/x/crypto/ssh/agent"

	"pkt.systems/cortex/schema"
)

func serveKeyring(t *testing.T) (string, agent.Agent) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("ssh agent sockets are not supported on windows")
	}
	socket := filepath.Join(t.TempDir(), "agent.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })
	keyring := agent.NewKeyring()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				_ = agent.ServeAgent(keyring, c)
				_ = c.Close()
			}(conn)
		}
	}()
	return socket, keyring
}

func TestSignersFromAgent(t *testing.T) {
	socket, keyring := serveKeyring(t)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := keyring.Add(agent.AddedKey{PrivateKey: priv, Comment: "test"}); err != nil {
		t.Fatalf("add key: %v", err)
	}
	conn, err := Dial(socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	signers, err := conn.Signers()
	if err != nil {
		t.Fatalf("signers: %v", err)
	}
	if len(signers) != 1 {
		t.Fatalf("expected 1 signer, got %d", len(signers))
	}
	fps, err := conn.Fingerprints()
	if err != nil || len(fps) != 1 {
		t.Fatalf("fingerprints: %v %v", fps, err)
	}
}

func TestEmptyAgentIsAuthError(t *testing.T) {
	socket, _ := serveKeyring(t)
	conn, err := Dial(socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Signers(); !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestDialWithoutSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	if _, err := Dial(""); !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
