// Package crypto implements the primitive operations GhostAuth builds
// everything else on: AEAD sealing, HMAC, HKDF, and the two Argon2id
// profiles used for vault/backup key derivation and PIN hashing.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	KeyLength   = 32 // AES-256 key length
	NonceLength = 12 // GCM nonce length
	SaltLength  = 16 // Argon2id salt length used by the backup codec and PIN/recovery-code hashing

	// SessionInfo is the fixed HKDF info string for sync session key derivation (§4.7.4).
	SessionInfo = "ghost-auth-session-v1"
)

var (
	ErrInvalidKeyLength   = errors.New("invalid key length")
	ErrInvalidNonceLength = errors.New("invalid nonce length")
	ErrInvalidSaltLength  = errors.New("invalid salt length")
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext length")
)

// Argon2Profile pins the Argon2id cost parameters for one of the two
// fixed profiles this system uses. Both profiles produce a 32-byte key.
type Argon2Profile struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

var (
	// VaultProfile is used for the backup codec KEK. The vault file itself
	// is sealed directly under the Master Key, with no Argon2id step.
	VaultProfile = Argon2Profile{Time: 3, Memory: 65536, Threads: 1}
	// PINProfile is used for PIN and recovery-code hashing.
	PINProfile = Argon2Profile{Time: 3, Memory: 16384, Threads: 1}
)

// DeriveKey runs Argon2id over password+salt under the given profile,
// producing a 32-byte key.
func DeriveKey(password, salt []byte, profile Argon2Profile) []byte {
	return argon2.IDKey(password, salt, profile.Time, profile.Memory, profile.Threads, KeyLength)
}

// GenerateSalt returns n fresh random bytes suitable as an Argon2id salt.
func GenerateSalt(n int) ([]byte, error) {
	return RandomBytes(n)
}

// RandomBytes returns n cryptographically random bytes. Failure is fatal
// to the caller; callers must never fall back to a weaker entropy source.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("invalid length")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("random generation failed: %w", err)
	}
	return b, nil
}

// AEADSeal encrypts plaintext under key with a freshly generated nonce
// and returns them separately, per §4.1 aead_seal.
func AEADSeal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = RandomBytes(NonceLength)
	if err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// AEADOpen verifies and decrypts ciphertext, failing closed: on any
// authentication failure it returns ErrDecryptionFailed and no partial
// plaintext, per §4.1 aead_open.
func AEADOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Seal is a convenience wrapper that concatenates nonce||ciphertext, the
// layout used by the vault envelope (§3 Vault File).
func Seal(key, plaintext []byte) ([]byte, error) {
	nonce, ct, err := AEADSeal(key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ct))
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// Open reverses Seal: splits nonce||ciphertext and opens it.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceLength {
		return nil, ErrInvalidCiphertext
	}
	return AEADOpen(key, blob[:NonceLength], blob[NonceLength:])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// HMAC256 computes HMAC-SHA-256 over data with key.
func HMAC256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// HKDFExpand derives length bytes via RFC 5869 HKDF-SHA-256.
func HKDFExpand(ikm, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}
	return out, nil
}

// CTEqual is a length-checked constant-time byte comparison (§4.1 ct_eq).
func CTEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ClearBytes zeroes a byte slice in place. Used to wipe keys and other
// secrets as soon as they are no longer needed.
func ClearBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
	// Constant-time compare as a compiler barrier so the zeroing above
	// cannot be optimized away.
	dummy := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, dummy)
}
