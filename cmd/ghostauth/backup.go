package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "backup",
	Short:   "Export and import encrypted .ghostauth backups",
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupExportCmd, backupPreviewCmd, backupImportCmd)
}

var backupExportPath string

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all accounts to a password-protected .ghostauth file",
	RunE:  runBackupExport,
}

func init() {
	backupExportCmd.Flags().StringVarP(&backupExportPath, "output", "o", "backup.ghostauth", "output file path")
}

func runBackupExport(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	password, err := readSecret("Backup password: ")
	if err != nil {
		return err
	}
	confirm, err := readSecret("Confirm backup password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	blob, err := s.ExportBackup(password)
	if err != nil {
		return fmt.Errorf("export backup: %w", err)
	}
	if err := os.WriteFile(backupExportPath, blob, 0o600); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	printSuccess("wrote %s", backupExportPath)
	return nil
}

var backupPreviewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Preview a .ghostauth backup's accounts without importing them",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupPreview,
}

func runBackupPreview(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read backup file: %w", err)
	}
	password, err := readSecret("Backup password: ")
	if err != nil {
		return err
	}

	payload, err := s.ImportBackupPreview(blob, password)
	if err != nil {
		return fmt.Errorf("preview backup: %w", err)
	}
	fmt.Printf("%d account(s), exported at unix time %d:\n", len(payload.Accounts), payload.ExportedAt)
	for _, a := range payload.Accounts {
		fmt.Printf("  %s / %s\n", a.Issuer, a.Label)
	}
	return nil
}

var backupImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import every account from a .ghostauth backup as new accounts",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupImport,
}

func runBackupImport(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read backup file: %w", err)
	}
	password, err := readSecret("Backup password: ")
	if err != nil {
		return err
	}

	added, err := s.ImportBackupConfirm(blob, password)
	if err != nil {
		return fmt.Errorf("import backup: %w", err)
	}
	printSuccess("imported %d account(s)", len(added))
	return nil
}
