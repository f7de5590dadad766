// Package sshkeys loads SSH private keys and verifies host keys against
// known_hosts files.
package sshkeys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"pkt.systems/cortex/schema"
)

const (
	// KeyTypeEd25519 requests Ed25519 key generation.
	KeyTypeEd25519 = "ed25519"
	// KeyTypeRSA requests RSA key generation.
	KeyTypeRSA = "rsa"
	// DefaultRSABits is the default RSA key size in bits.
	DefaultRSABits = 3072
)

// ExpandHome rewrites a leading ~ to the local home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// LoadSigner reads the private key at path, decrypting it with passphrase
// when the key is encrypted. Parse and decrypt failures are auth errors that
// never include the passphrase.
func LoadSigner(path string, passphrase []byte) (ssh.Signer, error) {
	path = ExpandHome(strings.TrimSpace(path))
	if path == "" {
		return nil, schema.BadArgument("keyPath", "private key path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, schema.NotFound("private key", path)
		}
		return nil, schema.IO(err)
	}
	return ParseSigner(data, passphrase)
}

// ParseSigner parses PEM or OpenSSH private key data.
func ParseSigner(data, passphrase []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, schema.Auth("unreadable private key")
	}
	if len(passphrase) == 0 {
		return nil, schema.Auth("private key is encrypted and no passphrase is stored")
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(data, passphrase)
	if err != nil {
		return nil, schema.Auth("private key passphrase rejected")
	}
	return signer, nil
}

// Generate creates a new private key of keyType.
func Generate(keyType string, bits int) (crypto.PrivateKey, error) {
	switch strings.ToLower(strings.TrimSpace(keyType)) {
	case "", KeyTypeEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return key, nil
	case KeyTypeRSA:
		if bits == 0 {
			bits = DefaultRSABits
		}
		if bits < 2048 {
			return nil, schema.BadArgument("bits", "rsa bits must be at least 2048")
		}
		return rsa.GenerateKey(rand.Reader, bits)
	default:
		return nil, schema.BadArgument("type", fmt.Sprintf("unsupported ssh key type %q", keyType))
	}
}

// WriteKeyPair writes priv to path (mode 0600) in OpenSSH format, encrypted
// when passphrase is set, and the public key to path+".pub". It returns the
// authorized_keys line.
func WriteKeyPair(path string, priv crypto.PrivateKey, comment string, passphrase []byte) (string, error) {
	path = ExpandHome(path)
	if _, err := os.Stat(path); err == nil {
		return "", schema.BadArgument("path", "refusing to overwrite existing key "+path)
	}
	var (
		block *pem.Block
		err   error
	)
	if len(passphrase) > 0 {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, comment, passphrase)
	} else {
		block, err = ssh.MarshalPrivateKey(priv, comment)
	}
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", schema.IO(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return "", schema.IO(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return "", err
	}
	pub := ssh.MarshalAuthorizedKey(signer.PublicKey())
	if comment != "" {
		pub = append(pub[:len(pub)-1], []byte(" "+comment+"\n")...)
	}
	if err := os.WriteFile(path+".pub", pub, 0o644); err != nil {
		return "", schema.IO(err)
	}
	return strings.TrimSpace(string(pub)), nil
}

// DefaultIdentityFiles lists the conventional private key locations that exist.
func DefaultIdentityFiles() []string {
	var out []string
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := ExpandHome("~/.ssh/" + name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			out = append(out, path)
		}
	}
	return out
}
