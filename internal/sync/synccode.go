// Package sync implements the Sync Engine (§4.7): sync-code derived
// pre-shared keys, a mutual-HMAC handshake over a reliable stream, HKDF
// session-key derivation, and a length-framed AEAD payload exchange that
// feeds the Merge Engine.
package sync

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
)

const (
	codeAlphabet   = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength     = 24
	preSharedKeyID = "ghost-auth-sync-key-v1"
)

var ErrInvalidSyncCode = errors.New("sync: invalid sync code")

// GenerateCode returns a fresh 24-character sync code.
func GenerateCode() (string, error) {
	raw := make([]byte, codeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("sync: generate code: %w", err)
	}
	b := make([]byte, codeLength)
	for i, v := range raw {
		b[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(b), nil
}

// CleanCode strips dashes/spaces and upper-cases a user-entered code.
func CleanCode(code string) string {
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

// FormatCode renders a clean code as six dash-separated groups of four.
func FormatCode(clean string) string {
	var groups []string
	for i := 0; i < len(clean); i += 4 {
		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		groups = append(groups, clean[i:end])
	}
	return strings.Join(groups, "-")
}

// ValidateCode checks a cleaned code is exactly 24 characters from the
// sync code alphabet.
func ValidateCode(clean string) error {
	if len(clean) != codeLength {
		return ErrInvalidSyncCode
	}
	for _, r := range clean {
		if !strings.ContainsRune(codeAlphabet, r) {
			return ErrInvalidSyncCode
		}
	}
	return nil
}

// DerivePreSharedKey computes K_pre = HMAC-SHA-256("ghost-auth-sync-key-v1", clean_uppercase_code).
func DerivePreSharedKey(code string) []byte {
	clean := CleanCode(code)
	return crypto.HMAC256([]byte(preSharedKeyID), []byte(clean))
}

// Advertisement is the initiator's out-of-band invitation.
type Advertisement struct {
	Code  string
	Hosts []string
	Port  int
}

// BuildAdvertisementURI renders ghost-auth://sync?code=...&hosts=...&port=...
func BuildAdvertisementURI(a Advertisement) string {
	v := url.Values{}
	v.Set("code", a.Code)
	v.Set("hosts", strings.Join(a.Hosts, ","))
	v.Set("port", strconv.Itoa(a.Port))
	return "ghost-auth://sync?" + v.Encode()
}

// ParseAdvertisementURI parses an advertisement URI, accepting both
// hosts=/host= and port=/ws= (legacy) forms.
func ParseAdvertisementURI(raw string) (Advertisement, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Advertisement{}, fmt.Errorf("sync: parse advertisement: %w", err)
	}
	if u.Scheme != "ghost-auth" {
		return Advertisement{}, fmt.Errorf("sync: advertisement has unexpected scheme %q", u.Scheme)
	}

	q := u.Query()
	code := q.Get("code")
	if err := ValidateCode(CleanCode(code)); err != nil {
		return Advertisement{}, err
	}

	var hosts []string
	if raw := q.Get("hosts"); raw != "" {
		hosts = strings.Split(raw, ",")
	} else if h := q.Get("host"); h != "" {
		hosts = []string{h}
	}
	if len(hosts) == 0 {
		return Advertisement{}, fmt.Errorf("sync: advertisement missing hosts")
	}

	portStr := q.Get("port")
	if portStr == "" {
		portStr = q.Get("ws")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Advertisement{}, fmt.Errorf("sync: advertisement has invalid port")
	}

	return Advertisement{Code: code, Hosts: hosts, Port: port}, nil
}
