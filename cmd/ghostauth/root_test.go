package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveVaultDirPrefersFlag(t *testing.T) {
	orig := vaultDir
	defer func() { vaultDir = orig }()

	vaultDir = "/tmp/explicit-vault-dir"
	dir, err := resolveVaultDir()
	if err != nil {
		t.Fatalf("resolveVaultDir failed: %v", err)
	}
	if dir != "/tmp/explicit-vault-dir" {
		t.Errorf("expected /tmp/explicit-vault-dir, got %q", dir)
	}
}

func TestResolveVaultDirFallsBackToConfigFile(t *testing.T) {
	orig := vaultDir
	origCfg := cfgFile
	defer func() { vaultDir = orig; cfgFile = origCfg }()
	vaultDir = ""

	dir := t.TempDir()
	wantVaultDir := filepath.Join(dir, "my-vault")
	configPath := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(configPath, []byte("vault_dir: "+wantVaultDir+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfgFile = configPath
	got, err := resolveVaultDir()
	if err != nil {
		t.Fatalf("resolveVaultDir failed: %v", err)
	}
	if got != wantVaultDir {
		t.Errorf("expected %q, got %q", wantVaultDir, got)
	}
}

func TestResolveVaultDirDefaultsAlongsideConfig(t *testing.T) {
	orig := vaultDir
	origCfg := cfgFile
	defer func() { vaultDir = orig; cfgFile = origCfg }()
	vaultDir = ""
	cfgFile = ""

	dir := t.TempDir()
	t.Setenv("GHOSTAUTH_CONFIG", filepath.Join(dir, "config.yml"))

	got, err := resolveVaultDir()
	if err != nil {
		t.Fatalf("resolveVaultDir failed: %v", err)
	}
	if got != dir {
		t.Errorf("expected %q, got %q", dir, got)
	}
}
