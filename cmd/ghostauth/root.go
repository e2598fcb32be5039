package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KestrelAS/ghost-auth-sub000/internal/command"
	"github.com/KestrelAS/ghost-auth-sub000/internal/config"
)

var (
	cfgFile  string
	vaultDir string

	version = "dev"
	commit  = "none"
	date    = "unknown"

	rootCmd = &cobra.Command{
		Use:   "ghostauth",
		Short: "A local-first TOTP authenticator",
		Long: `GhostAuth stores your TOTP accounts in an encrypted vault protected by
a PIN and a Master Key held in your OS keychain. It can export an
encrypted .ghostauth backup and sync accounts directly with another
device over the local network, with no cloud account required.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands and runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: OS config dir)/ghost-auth/config.yml")
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault-dir", "", "directory holding the vault, auth, and sync history files")
	_ = viper.BindPFlag("vault_dir", rootCmd.PersistentFlags().Lookup("vault-dir"))

	rootCmd.AddGroup(
		&cobra.Group{ID: "account", Title: "Account Management:"},
		&cobra.Group{ID: "auth", Title: "PIN & Recovery:"},
		&cobra.Group{ID: "backup", Title: "Backup:"},
		&cobra.Group{ID: "sync", Title: "LAN Sync:"},
	)

	rootCmd.AddCommand(versionCmd)
}

// resolveVaultDir returns the effective vault directory: --vault-dir flag,
// else the loaded config's vault_dir, else the default alongside the
// config file.
func resolveVaultDir() (string, error) {
	if vaultDir != "" {
		return vaultDir, nil
	}

	var cfg *config.Config
	var result *config.ValidationResult
	if cfgFile != "" {
		cfg, result = config.LoadFromPath(cfgFile)
	} else {
		cfg, result = config.Load()
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Field, w.Message)
	}
	if !result.Valid {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Field, e.Message)
		}
		return "", fmt.Errorf("invalid configuration")
	}

	if cfg.VaultDir != "" {
		return cfg.VaultDir, nil
	}
	return config.DefaultVaultDir()
}

// openSurface resolves the vault directory and opens the Command Surface.
func openSurface() (*command.Surface, error) {
	dir, err := resolveVaultDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	return command.Open(dir)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ghostauth version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ghostauth %s (commit %s, built %s)\n", version, commit, date)
	},
}
