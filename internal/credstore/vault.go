package credstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"

	"pkt.systems/cortex/schema"
)

const vaultDescriptor = "cortex:credentials"

// Vault stores secrets in a kryptograf-encrypted file for hosts without a
// usable keychain. The whole map is re-encrypted on every change.
type Vault struct {
	keyStorePath string
	path         string
	log          pslog.Logger

	mu sync.Mutex
}

// NewVault ensures the key store root key exists and returns the backend.
func NewVault(keyStorePath, path string, logger pslog.Logger) (*Vault, error) {
	if strings.TrimSpace(keyStorePath) == "" {
		return nil, errors.New("credential key store path is required")
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("credential vault path is required")
	}
	if err := os.MkdirAll(filepath.Dir(keyStorePath), 0o700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	v := &Vault{keyStorePath: keyStorePath, path: path, log: logger}
	if _, _, err := v.material(); err != nil {
		if logger != nil {
			logger.Warn("credential vault ensure failed", "err", err)
		}
		return nil, err
	}
	if logger != nil {
		logger.Info("credential vault ensure ok", "path", path)
	}
	return v, nil
}

// Backend implements Store.
func (v *Vault) Backend() string { return "file" }

// Store implements Store.
func (v *Vault) Store(profileID string, role Role, secret string) error {
	if err := validate(profileID, role); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	secrets, err := v.load()
	if err != nil {
		return err
	}
	secrets[key(profileID, role)] = secret
	return v.save(secrets)
}

// Fetch implements Store.
func (v *Vault) Fetch(profileID string, role Role) (string, bool, error) {
	if err := validate(profileID, role); err != nil {
		return "", false, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	secrets, err := v.load()
	if err != nil {
		return "", false, err
	}
	secret, ok := secrets[key(profileID, role)]
	return secret, ok, nil
}

// Delete implements Store.
func (v *Vault) Delete(profileID string) error {
	if strings.TrimSpace(profileID) == "" {
		return schema.BadArgument("profileId", "is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	secrets, err := v.load()
	if err != nil {
		return err
	}
	changed := false
	for _, role := range Roles {
		if _, ok := secrets[key(profileID, role)]; ok {
			delete(secrets, key(profileID, role))
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return v.save(secrets)
}

func key(profileID string, role Role) string {
	return profileID + ":" + string(role)
}

func (v *Vault) material() (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(v.keyStorePath)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	material, err := store.EnsureDescriptor(vaultDescriptor, root, []byte(vaultDescriptor))
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := os.Chmod(v.keyStorePath, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func (v *Vault) load() (map[string]string, error) {
	secrets := make(map[string]string)
	file, err := os.Open(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return secrets, nil
	}
	if err != nil {
		return nil, schema.IO(err)
	}
	defer func() { _ = file.Close() }()
	material, root, err := v.material()
	if err != nil {
		return nil, err
	}
	reader, err := kryptograf.New(root).DecryptReader(file, material)
	if err != nil {
		if v.log != nil {
			v.log.Warn("credential vault load failed", "err", err)
		}
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		if v.log != nil {
			v.log.Warn("credential vault load failed", "err", err)
		}
		return nil, err
	}
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, err
	}
	return secrets, nil
}

func (v *Vault) save(secrets map[string]string) error {
	plain, err := json.Marshal(secrets)
	if err != nil {
		return err
	}
	material, root, err := v.material()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(v.path), "credentials-*.enc")
	if err != nil {
		return schema.IO(err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if v.log != nil {
			v.log.Warn("credential vault save failed", "err", err)
		}
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fail(err)
	}
	writer, err := kryptograf.New(root).EncryptWriter(tmp, material)
	if err != nil {
		return fail(err)
	}
	if _, err := io.Copy(writer, bytes.NewReader(plain)); err != nil {
		_ = writer.Close()
		return fail(err)
	}
	if err := writer.Close(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, v.path); err != nil {
		_ = os.Remove(tmpPath)
		return schema.IO(err)
	}
	return nil
}
