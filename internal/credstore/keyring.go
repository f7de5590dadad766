package credstore

import (
	"errors"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"

	"pkt.systems/cortex/schema"
)

// DefaultService is the keychain service name entries are filed under.
const DefaultService = "cortex"

// Keyring stores secrets in the OS keychain.
type Keyring struct {
	service string
}

// NewKeyring returns a keychain-backed store.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultService
	}
	return &Keyring{service: service}
}

// Backend implements Store.
func (k *Keyring) Backend() string { return "keyring" }

func (k *Keyring) account(profileID string, role Role) string {
	return profileID + ":" + string(role)
}

// Probe round-trips a throwaway entry to check the keychain is reachable.
func (k *Keyring) Probe() error {
	account := "probe:" + uuid.NewString()
	if err := keyring.Set(k.service, account, "probe"); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	if _, err := keyring.Get(k.service, account); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	_ = keyring.Delete(k.service, account)
	return nil
}

// Store implements Store.
func (k *Keyring) Store(profileID string, role Role, secret string) error {
	if err := validate(profileID, role); err != nil {
		return err
	}
	if err := keyring.Set(k.service, k.account(profileID, role), secret); err != nil {
		return schema.IO(err)
	}
	return nil
}

// Fetch implements Store.
func (k *Keyring) Fetch(profileID string, role Role) (string, bool, error) {
	if err := validate(profileID, role); err != nil {
		return "", false, err
	}
	secret, err := keyring.Get(k.service, k.account(profileID, role))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, schema.IO(err)
	}
	return secret, true, nil
}

// Delete implements Store.
func (k *Keyring) Delete(profileID string) error {
	for _, role := range Roles {
		if err := validate(profileID, role); err != nil {
			return err
		}
		err := keyring.Delete(k.service, k.account(profileID, role))
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return schema.IO(err)
		}
	}
	return nil
}
