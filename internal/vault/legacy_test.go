package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
	"github.com/KestrelAS/ghost-auth-sub000/internal/keystore"
)

func writeLegacyVault(t *testing.T, dir, vaultID string, masterKey []byte, payload Payload) {
	t.Helper()

	salt, err := crypto.GenerateSalt(legacyPBKDF2SaltLength)
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	key := legacyDecryptionKey(masterKey, salt)

	plaintext, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	blob, err := crypto.Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	out := make([]byte, 0, 1+len(salt)+len(blob))
	out = append(out, formatLegacyPBKDF2)
	out = append(out, salt...)
	out = append(out, blob...)

	if err := os.WriteFile(filepath.Join(dir, vaultFileName), out, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestOpenMigratesLegacyPBKDF2Vault(t *testing.T) {
	dir := t.TempDir()
	vaultID := "legacy-" + t.Name()

	masterKey, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if err := keystore.New(vaultID).Put(masterKeySlot, masterKey); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	writeLegacyVault(t, dir, vaultID, masterKey, Payload{
		Version: schemaVersion,
		Accounts: []Account{
			{ID: "a1", Issuer: "GitHub", Label: "me", Secret: "JBSWY3DPEHPK3PXP", Algorithm: "SHA1", Digits: 6, Period: 30, LastModified: 1700000000},
		},
	})

	v, err := Open(dir, vaultID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(v.List()) != 1 {
		t.Fatalf("expected 1 account, got %d", len(v.List()))
	}
	if v.List()[0].Issuer != "GitHub" {
		t.Errorf("expected issuer GitHub, got %q", v.List()[0].Issuer)
	}
	if v.needsMigration {
		t.Error("save during Open should clear the migration flag")
	}

	data, err := os.ReadFile(filepath.Join(dir, vaultFileName))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty vault file")
	}
	if data[0] != formatDirect {
		t.Errorf("expected legacy vault to be rewritten in format %d, got %d", formatDirect, data[0])
	}

	v2, err := Open(dir, vaultID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(v2.List()) != 1 {
		t.Errorf("expected 1 account after reopen, got %d", len(v2.List()))
	}
}
