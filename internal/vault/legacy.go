package vault

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
)

// Vault files carry a one-byte format marker ahead of the AEAD blob so a
// build that still understands the legacy PBKDF2-wrapped layout can open
// a file written before this install adopted it directly from the Secure
// Key Store, and upgrade it in place.
const (
	formatLegacyPBKDF2 byte = 1
	formatDirect        byte = 2

	legacyPBKDF2Iterations = 210000
	legacyPBKDF2SaltLength = 16
)

// legacyDecryptionKey derives the AES key a pre-Argon2id build would have
// used: PBKDF2-SHA256 over the raw Master Key bytes, not the Master Key
// itself. This mirrors the teacher's ChangePassword upgrade path, adapted
// from a password input to the Master Key as the input secret.
func legacyDecryptionKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, legacyPBKDF2Iterations, crypto.KeyLength, sha256.New)
}

// decodeLegacy parses a formatLegacyPBKDF2 file body (salt || nonce ||
// ciphertext+tag) and returns its plaintext.
func decodeLegacy(body, masterKey []byte) ([]byte, error) {
	if len(body) < legacyPBKDF2SaltLength {
		return nil, fmt.Errorf("vault: legacy body too short")
	}
	salt := body[:legacyPBKDF2SaltLength]
	rest := body[legacyPBKDF2SaltLength:]

	key := legacyDecryptionKey(masterKey, salt)
	defer crypto.ClearBytes(key)

	return crypto.Open(key, rest)
}
