package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestAEADSealOpenRoundTrip(t *testing.T) {
	key, err := RandomBytes(KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}

	plaintext := []byte("totp vault payload")
	nonce, ct, err := AEADSeal(key, plaintext)
	if err != nil {
		t.Fatalf("AEADSeal failed: %v", err)
	}
	if len(nonce) != NonceLength {
		t.Errorf("expected nonce length %d, got %d", NonceLength, len(nonce))
	}

	got, err := AEADOpen(key, nonce, ct)
	if err != nil {
		t.Fatalf("AEADOpen failed: %v", err)
	}
	if !bytes.Equal(plaintext, got) {
		t.Errorf("expected %q, got %q", plaintext, got)
	}
}

func TestAEADOpenFailsOnTamperedCiphertext(t *testing.T) {
	key, err := RandomBytes(KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}

	nonce, ct, err := AEADSeal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("AEADSeal failed: %v", err)
	}
	ct[0] ^= 0xFF

	_, err = AEADOpen(key, nonce, ct)
	if err == nil {
		t.Fatal("expected an error for tampered ciphertext")
	}
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestAEADOpenNeverReturnsPartialPlaintext(t *testing.T) {
	key, err := RandomBytes(KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	nonce, ct, err := AEADSeal(key, []byte("a-vault-account-secret"))
	if err != nil {
		t.Fatalf("AEADSeal failed: %v", err)
	}

	wrongKey, err := RandomBytes(KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}

	plaintext, err := AEADOpen(wrongKey, nonce, ct)
	if err == nil {
		t.Fatal("expected an error when opening with the wrong key")
	}
	if plaintext != nil {
		t.Errorf("expected nil plaintext on failure, got %q", plaintext)
	}
}

func TestSealOpenConcatenatedLayout(t *testing.T) {
	key, err := RandomBytes(KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}

	blob, err := Seal(key, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(blob) <= NonceLength {
		t.Fatalf("expected blob longer than nonce length %d, got %d", NonceLength, len(blob))
	}

	got, err := Open(key, blob)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal([]byte("payload"), got) {
		t.Errorf("expected %q, got %q", "payload", got)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := make([]byte, SaltLength)
	k1 := DeriveKey([]byte("correct horse"), salt, VaultProfile)
	k2 := DeriveKey([]byte("correct horse"), salt, VaultProfile)
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey should be deterministic for the same input")
	}
	if len(k1) != KeyLength {
		t.Errorf("expected key length %d, got %d", KeyLength, len(k1))
	}

	k3 := DeriveKey([]byte("correct horse"), salt, PINProfile)
	if bytes.Equal(k1, k3) {
		t.Error("different profiles must yield different keys")
	}
}

func TestHKDFExpandMatchesInfoString(t *testing.T) {
	ikm := []byte("pre-shared-key")
	salt := []byte("handshake-nonce")
	out, err := HKDFExpand(ikm, salt, []byte(SessionInfo), KeyLength)
	if err != nil {
		t.Fatalf("HKDFExpand failed: %v", err)
	}
	if len(out) != KeyLength {
		t.Errorf("expected output length %d, got %d", KeyLength, len(out))
	}

	out2, err := HKDFExpand(ikm, salt, []byte(SessionInfo), KeyLength)
	if err != nil {
		t.Fatalf("HKDFExpand failed: %v", err)
	}
	if !bytes.Equal(out, out2) {
		t.Error("HKDFExpand should be deterministic for the same info string")
	}

	out3, err := HKDFExpand(ikm, salt, []byte("different-info"), KeyLength)
	if err != nil {
		t.Fatalf("HKDFExpand failed: %v", err)
	}
	if bytes.Equal(out, out3) {
		t.Error("different info strings must yield different output")
	}
}

func TestCTEqual(t *testing.T) {
	if !CTEqual([]byte("abc"), []byte("abc")) {
		t.Error("expected equal byte slices to compare equal")
	}
	if CTEqual([]byte("abc"), []byte("abd")) {
		t.Error("expected differing byte slices to compare unequal")
	}
	if CTEqual([]byte("abc"), []byte("ab")) {
		t.Error("expected differing lengths to compare unequal")
	}
}

func TestClearBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	ClearBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not cleared, got %d", i, v)
		}
	}
}

func TestHMAC256SyncKeyDerivation(t *testing.T) {
	// HMAC over a sync code must be identical regardless of dash
	// formatting or case, once cleaned and uppercased.
	key := []byte("ghost-auth-sync-key-v1")
	clean := "ABCDEFGHJKMNPQRSTUVWXY23"
	withDashes := "abcd-efgh-jkmn-pqrs-tuvw-xy23"

	normalize := func(code string) []byte {
		out := make([]byte, 0, len(code))
		for _, r := range code {
			if r == '-' {
				continue
			}
			if r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			out = append(out, byte(r))
		}
		return out
	}

	mac1 := HMAC256(key, normalize(clean))
	mac2 := HMAC256(key, normalize(withDashes))
	if !bytes.Equal(mac1, mac2) {
		t.Error("expected identical HMAC for differently formatted but equal codes")
	}
}
