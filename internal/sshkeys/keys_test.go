package sshkeys

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"pkt.systems/cortex/schema"
)

func TestWriteAndLoadSigner(t *testing.T) {
	dir := t.TempDir()
	priv, err := Generate(KeyTypeEd25519, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	pub, err := WriteKeyPair(path, priv, "alice@host", nil)
	if err != nil {
		t.Fatalf("write key pair: %v", err)
	}
	if !strings.HasPrefix(pub, "ssh-ed25519 ") || !strings.HasSuffix(pub, "alice@host") {
		t.Fatalf("unexpected public key %q", pub)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	signer, err := LoadSigner(path, nil)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	if !strings.HasPrefix(pub, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))) {
		t.Fatalf("public key mismatch")
	}
	if _, err := WriteKeyPair(path, priv, "", nil); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
}

func TestLoadSignerPassphrase(t *testing.T) {
	dir := t.TempDir()
	priv, err := Generate(KeyTypeEd25519, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(dir, "id_enc")
	if _, err := WriteKeyPair(path, priv, "", []byte("correct horse")); err != nil {
		t.Fatalf("write key pair: %v", err)
	}
	if _, err := LoadSigner(path, nil); !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("expected auth error without passphrase, got %v", err)
	}
	_, err = LoadSigner(path, []byte("wrong"))
	if !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("expected auth error with wrong passphrase, got %v", err)
	}
	if strings.Contains(err.Error(), "wrong") {
		t.Fatalf("error leaks passphrase: %v", err)
	}
	if _, err := LoadSigner(path, []byte("correct horse")); err != nil {
		t.Fatalf("load with passphrase: %v", err)
	}
	if _, err := LoadSigner(filepath.Join(dir, "missing"), nil); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateRejectsWeakRSA(t *testing.T) {
	if _, err := Generate(KeyTypeRSA, 1024); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument, got %v", err)
	}
	if _, err := Generate("dsa", 0); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument, got %v", err)
	}
}

func hostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	priv, err := Generate(KeyTypeEd25519, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer.PublicKey()
}

func TestHostKeyAcceptNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	cb, err := HostKeyCallback(path, HostKeyAcceptNew, nil)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2222}
	key := hostKey(t)
	if err := cb("example.test:2222", addr, key); err != nil {
		t.Fatalf("first contact should be accepted: %v", err)
	}
	if err := cb("example.test:2222", addr, key); err != nil {
		t.Fatalf("known key should be accepted: %v", err)
	}
	if err := cb("example.test:2222", addr, hostKey(t)); !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("changed key should be rejected, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 1 {
		t.Fatalf("expected one known_hosts line, got %d", got)
	}

	strict, err := HostKeyCallback(path, HostKeyStrict, nil)
	if err != nil {
		t.Fatalf("strict callback: %v", err)
	}
	if err := strict("example.test:2222", addr, key); err != nil {
		t.Fatalf("strict should accept recorded key: %v", err)
	}
	if err := strict("other.test:22", addr, key); !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("strict should reject unknown host, got %v", err)
	}
}
