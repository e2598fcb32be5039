// Package keystore implements the Secure Key Store contract (§4.2): one
// opaque byte string per named slot, backed by the OS keychain. The Vault
// uses it to hold the Master Key; nothing else in this codebase reads or
// writes the keychain directly.
package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "ghost-auth"

var ErrNotFound = errors.New("keystore: slot not found")

// Store is the Secure Key Store contract: get/put/delete of one opaque
// byte string per named slot, scoped to a single vault identity.
type Store struct {
	vaultID string
}

// New returns a Store scoped to vaultID. Distinct vault identities never
// share a keychain entry.
func New(vaultID string) *Store {
	return &Store{vaultID: sanitizeVaultID(vaultID)}
}

func sanitizeVaultID(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

func (s *Store) account(slot string) string {
	return fmt.Sprintf("%s:%s", s.vaultID, slot)
}

// Get returns the bytes stored under slot, or ErrNotFound.
func (s *Store) Get(slot string) ([]byte, error) {
	encoded, err := keyring.Get(serviceName, s.account(slot))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: get %q: %w", slot, err)
	}
	decoded, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keystore: corrupt entry for %q: %w", slot, err)
	}
	return decoded, nil
}

// Put stores value under slot, overwriting any existing entry.
func (s *Store) Put(slot string, value []byte) error {
	if err := keyring.Set(serviceName, s.account(slot), hex.EncodeToString(value)); err != nil {
		return fmt.Errorf("keystore: put %q: %w", slot, err)
	}
	return nil
}

// Delete removes the entry under slot. Deleting an absent slot is not an error.
func (s *Store) Delete(slot string) error {
	if err := keyring.Delete(serviceName, s.account(slot)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("keystore: delete %q: %w", slot, err)
	}
	return nil
}

// IsAvailable reports whether the OS keychain backend responds at all.
func (s *Store) IsAvailable() bool {
	probe := s.account("__ping__")
	if err := keyring.Set(serviceName, probe, "1"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, probe)
	return true
}
