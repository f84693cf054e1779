package persist

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringBackend stores the document in the OS-native credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
type KeyringBackend struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringBackend implements Backend
var _ Backend = (*KeyringBackend)(nil)

// NewKeyringBackend creates a KeyringBackend using the given service and
// user identifiers.
func NewKeyringBackend(service, user string) (*KeyringBackend, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringBackend{
		service: service,
		user:    user,
	}, nil
}

// Load returns the document from the system keyring.
func (k *KeyringBackend) Load() ([]byte, error) {
	secret, err := keyring.Get(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(secret), nil
}

// Save persists the document to the system keyring, overwriting any existing
// value. Keyring writes are atomic per entry.
func (k *KeyringBackend) Save(data []byte) error {
	return keyring.Set(k.service, k.user, string(data))
}
