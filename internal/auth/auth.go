// Package auth implements the Auth subsystem (§4.4): PIN hashing, the
// persistent escalating rate limiter, and the 8 individually-hashed
// recovery codes. It is independent of the Vault but gates access to it.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
)

var (
	ErrNoPIN           = errors.New("auth: no pin set")
	ErrPINRequired     = errors.New("auth: current pin required")
	ErrInvalidPIN      = errors.New("auth: pin must be 4-8 ASCII digits")
	ErrWrongCurrentPIN = errors.New("auth: wrong current pin")
)

// RateLimitedError is raised instead of attempting a hash-verify when the
// caller is currently locked out, per §4.4 (no oracle on a locked account).
type RateLimitedError struct {
	RemainingSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: too many attempts, retry in %d seconds", e.RemainingSeconds)
}

const recoveryCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const recoveryCodeCount = 8

// pinRecord is the on-disk representation of the PIN hash, Argon2id
// salt embedded alongside it (spec §3 "Argon2id-encoded hash string +
// salt embedded").
type pinRecord struct {
	Salt string `json:"salt"`
	Hash string `json:"hash"`
}

type rateLimitState struct {
	FailedAttempts   int   `json:"failed_attempts"`
	LastFailureEpoch int64 `json:"last_failure_epoch"`
}

type recoveryEntry struct {
	Hash string `json:"hash"`
	Used bool   `json:"used"`
}

// Service owns the PIN hash, rate-limit state, and recovery-code list for
// one vault identity. Rate-limit state and the PIN hash share a single
// mutex to prevent a TOCTOU window between checking the limit and
// recording a failure (§5).
type Service struct {
	mu sync.Mutex

	pinPath      string
	rateLimitPath string
	recoveryPath string

	pin       *pinRecord
	rateLimit rateLimitState
	recovery  []recoveryEntry
}

// New loads (or initializes empty) auth state from dir.
func New(dir string) (*Service, error) {
	s := &Service{
		pinPath:       filepath.Join(dir, "pin_hash"),
		rateLimitPath: filepath.Join(dir, "pin_rate_limit"),
		recoveryPath:  filepath.Join(dir, "pin_recovery"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load() error {
	if rec, err := readJSONIfExists[pinRecord](s.pinPath); err != nil {
		return err
	} else {
		s.pin = rec
	}

	var rl rateLimitState
	if rec, err := readJSONIfExists[rateLimitState](s.rateLimitPath); err != nil {
		return err
	} else if rec != nil {
		rl = *rec
	}
	s.rateLimit = rl

	if rec, err := readJSONIfExists[[]recoveryEntry](s.recoveryPath); err != nil {
		return err
	} else if rec != nil {
		s.recovery = *rec
	}
	return nil
}

func readJSONIfExists[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: read %s: %w", path, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("auth: decode %s: %w", path, err)
	}
	return &v, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("auth: encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("auth: commit %s: %w", path, err)
	}
	return nil
}

// HasPIN reports whether a PIN is currently set.
func (s *Service) HasPIN() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin != nil
}

// HasRecoveryCodes reports whether unused recovery codes remain.
func (s *Service) HasRecoveryCodes() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.recovery {
		if !e.Used {
			return true
		}
	}
	return false
}

func validatePIN(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}

// SetPIN sets a new PIN, requiring currentPIN when one is already set.
// On success it resets rate-limit state and generates 8 fresh recovery
// codes, returned in plaintext exactly once.
func (s *Service) SetPIN(newPIN string, currentPIN *string) ([]string, error) {
	if err := validatePIN(newPIN); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pin != nil {
		if currentPIN == nil {
			return nil, ErrPINRequired
		}
		if !s.verifyLocked(*currentPIN) {
			return nil, ErrWrongCurrentPIN
		}
	}

	salt, err := crypto.GenerateSalt(crypto.SaltLength)
	if err != nil {
		return nil, err
	}
	hash := crypto.DeriveKey([]byte(newPIN), salt, crypto.PINProfile)
	s.pin = &pinRecord{
		Salt: base64.StdEncoding.EncodeToString(salt),
		Hash: base64.StdEncoding.EncodeToString(hash),
	}
	s.rateLimit = rateLimitState{}

	codes, entries, err := generateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	s.recovery = entries

	if err := writeJSONAtomic(s.pinPath, s.pin); err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(s.rateLimitPath, s.rateLimit); err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(s.recoveryPath, s.recovery); err != nil {
		return nil, err
	}
	return codes, nil
}

// RemovePIN requires the current PIN and clears the PIN, rate-limit
// state, and recovery codes entirely.
func (s *Service) RemovePIN(currentPIN string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pin == nil {
		return ErrNoPIN
	}
	if locked, remaining := s.lockoutRemaining(); locked {
		return &RateLimitedError{RemainingSeconds: remaining}
	}
	if !s.verifyLocked(currentPIN) {
		s.recordFailureLocked()
		return ErrWrongCurrentPIN
	}
	return s.clearAllLocked()
}

// VerifyPIN checks pin against the stored hash, applying the rate
// limiter. A wrong PIN returns (false, nil): per §7 this is a boolean
// result, not a structural error.
func (s *Service) VerifyPIN(pin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pin == nil {
		return false, ErrNoPIN
	}
	if locked, remaining := s.lockoutRemaining(); locked {
		return false, &RateLimitedError{RemainingSeconds: remaining}
	}

	ok := s.verifyLocked(pin)
	if ok {
		s.rateLimit = rateLimitState{}
		if err := writeJSONAtomic(s.rateLimitPath, s.rateLimit); err != nil {
			return true, err
		}
		return true, nil
	}
	s.recordFailureLocked()
	return false, nil
}

// verifyLocked hash-verifies pin against the stored record without
// touching rate-limit state. Caller must hold s.mu.
func (s *Service) verifyLocked(pin string) bool {
	salt, err := base64.StdEncoding.DecodeString(s.pin.Salt)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(s.pin.Hash)
	if err != nil {
		return false
	}
	got := crypto.DeriveKey([]byte(pin), salt, crypto.PINProfile)
	return crypto.CTEqual(got, want)
}

func (s *Service) recordFailureLocked() {
	s.rateLimit.FailedAttempts++
	s.rateLimit.LastFailureEpoch = time.Now().Unix()
	_ = writeJSONAtomic(s.rateLimitPath, s.rateLimit)
}

// lockoutRemaining reports whether the caller is currently locked out and,
// if so, the remaining seconds, per the escalating table in §4.4.
func (s *Service) lockoutRemaining() (bool, int) {
	lockoutSeconds := lockoutFor(s.rateLimit.FailedAttempts)
	if lockoutSeconds == 0 {
		return false, 0
	}
	elapsed := time.Now().Unix() - s.rateLimit.LastFailureEpoch
	remaining := lockoutSeconds - int(elapsed)
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

func lockoutFor(failedAttempts int) int {
	switch {
	case failedAttempts >= 10:
		return 900
	case failedAttempts >= 8:
		return 300
	case failedAttempts >= 5:
		return 30
	default:
		return 0
	}
}

// VerifyRecoveryCode checks code against the unused recovery entries. On
// match, it marks the entry used and removes the PIN and all auth state
// entirely (recovery is the explicit escape hatch). On no match, it
// applies the same rate-limit penalty as a failed PIN attempt.
func (s *Service) VerifyRecoveryCode(code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if locked, remaining := s.lockoutRemaining(); locked {
		return false, &RateLimitedError{RemainingSeconds: remaining}
	}

	clean := normalizeRecoveryCode(code)
	for i := range s.recovery {
		entry := &s.recovery[i]
		if entry.Used {
			continue
		}
		want, err := base64.StdEncoding.DecodeString(entry.Hash)
		if err != nil {
			continue
		}
		salt, secret := splitRecoverySalt(want)
		got := crypto.DeriveKey([]byte(clean), salt, crypto.PINProfile)
		if crypto.CTEqual(got, secret) {
			entry.Used = true
			if err := writeJSONAtomic(s.recoveryPath, s.recovery); err != nil {
				return true, err
			}
			return true, s.clearAllLocked()
		}
	}

	s.recordFailureLocked()
	return false, nil
}

func (s *Service) clearAllLocked() error {
	s.pin = nil
	s.rateLimit = rateLimitState{}
	s.recovery = nil
	if err := os.Remove(s.pinPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("auth: remove %s: %w", s.pinPath, err)
	}
	if err := writeJSONAtomic(s.rateLimitPath, s.rateLimit); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.recoveryPath, s.recovery); err != nil {
		return err
	}
	return nil
}

func normalizeRecoveryCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r == '-' || r == ' ' {
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// generateRecoveryCodes creates 8 fresh codes, each individually hashed
// with the PIN Argon2id profile under its own salt. The salt is stored
// concatenated with the hash (salt || hash) so a single base64 field
// round-trips both.
func generateRecoveryCodes() (codes []string, entries []recoveryEntry, err error) {
	for i := 0; i < recoveryCodeCount; i++ {
		code, err := randomRecoveryCode()
		if err != nil {
			return nil, nil, err
		}
		salt, err := crypto.GenerateSalt(crypto.SaltLength)
		if err != nil {
			return nil, nil, err
		}
		hash := crypto.DeriveKey([]byte(normalizeRecoveryCode(code)), salt, crypto.PINProfile)
		combined := append(append([]byte{}, salt...), hash...)
		entries = append(entries, recoveryEntry{
			Hash: base64.StdEncoding.EncodeToString(combined),
		})
		codes = append(codes, code)
	}
	return codes, entries, nil
}

func splitRecoverySalt(combined []byte) (salt, hash []byte) {
	if len(combined) < crypto.SaltLength {
		return combined, nil
	}
	return combined[:crypto.SaltLength], combined[crypto.SaltLength:]
}

// randomRecoveryCode returns one recovery code in the form XXXX-XXXX:
// 8 characters from recoveryCodeAlphabet, in two groups of four.
func randomRecoveryCode() (string, error) {
	const length = 8
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate recovery code: %w", err)
	}
	b := make([]byte, length)
	for i, v := range raw {
		b[i] = recoveryCodeAlphabet[int(v)%len(recoveryCodeAlphabet)]
	}
	return fmt.Sprintf("%s-%s", b[:4], b[4:]), nil
}
