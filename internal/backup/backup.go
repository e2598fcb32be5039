// Package backup implements the .ghostauth container codec (§4.5): a
// password-protected, bit-exact binary format wrapping a JSON account
// payload. The format is the interop contract between implementations;
// do not change field order or offsets.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
	"github.com/KestrelAS/ghost-auth-sub000/internal/vault"
)

const (
	magic          = "GHST"
	formatVersion  = 1
	minPasswordLen = 8
	headerLen      = 4 + 1 + crypto.SaltLength + crypto.NonceLength // 33
	minTotalLen    = headerLen + 16                                  // header + GCM tag, no plaintext
)

var (
	ErrPasswordTooShort = errors.New("backup: password must be at least 8 characters")
	// ErrInvalid is the single ambiguous error for any failure past the
	// magic/version check, per §4.5: the decoder must not reveal which
	// check failed (wrong password vs. corrupted file).
	ErrInvalid = errors.New("backup: wrong password or corrupted file")
)

// Payload is the plaintext JSON contents of a .ghostauth container.
type Payload struct {
	Version    int            `json:"version"`
	ExportedAt int64          `json:"exported_at"`
	Accounts   []vault.Account `json:"accounts"`
}

// Export seals accounts into a .ghostauth blob under password.
func Export(password string, accounts []vault.Account, exportedAt int64) ([]byte, error) {
	if len(password) < minPasswordLen {
		return nil, ErrPasswordTooShort
	}

	salt, err := crypto.GenerateSalt(crypto.SaltLength)
	if err != nil {
		return nil, err
	}

	kek := crypto.DeriveKey([]byte(password), salt, crypto.VaultProfile)
	defer crypto.ClearBytes(kek)

	payload := Payload{Version: formatVersion, ExportedAt: exportedAt, Accounts: accounts}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backup: encode payload: %w", err)
	}

	nonce, ciphertext, err := crypto.AEADSeal(kek, plaintext)
	if err != nil {
		return nil, fmt.Errorf("backup: seal: %w", err)
	}

	out := make([]byte, 0, headerLen+len(ciphertext))
	out = append(out, magic...)
	out = append(out, byte(formatVersion))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Import opens a .ghostauth blob under password. Any failure past the
// magic/version check collapses to ErrInvalid so no oracle is exposed.
func Import(data []byte, password string) (*Payload, error) {
	if len(data) < minTotalLen {
		return nil, ErrInvalid
	}
	if string(data[0:4]) != magic {
		return nil, ErrInvalid
	}
	if data[4] != formatVersion {
		return nil, ErrInvalid
	}

	salt := data[5 : 5+crypto.SaltLength]
	nonceOffset := 5 + crypto.SaltLength
	nonce := data[nonceOffset : nonceOffset+crypto.NonceLength]
	ciphertext := data[nonceOffset+crypto.NonceLength:]

	kek := crypto.DeriveKey([]byte(password), salt, crypto.VaultProfile)
	defer crypto.ClearBytes(kek)

	plaintext, err := crypto.AEADOpen(kek, nonce, ciphertext)
	if err != nil {
		return nil, ErrInvalid
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrInvalid
	}
	return &payload, nil
}
