package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	addIssuer    string
	addLabel     string
	addSecret    string
	addAlgorithm string
	addDigits    int
	addPeriod    int
	addURI       string
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "account",
	Short:   "Add a new TOTP account",
	Long: `Add stores a new TOTP account in the vault. The account's secret is
never printed back out and never leaves the vault except inside an
encrypted backup or sync exchange.`,
	Example: `  ghostauth add --issuer GitHub --label me@example.com --secret JBSWY3DPEHPK3PXP
  ghostauth add --issuer Google --label work
  ghostauth add --uri "otpauth://totp/GitHub:me?secret=JBSWY3DPEHPK3PXP&issuer=GitHub"`,
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&addIssuer, "issuer", "", "issuer name (e.g. GitHub)")
	addCmd.Flags().StringVar(&addLabel, "label", "", "account label (e.g. an email or username)")
	addCmd.Flags().StringVar(&addSecret, "secret", "", "base32 TOTP secret (prompted if omitted)")
	addCmd.Flags().StringVar(&addAlgorithm, "algorithm", "SHA1", "HMAC algorithm: SHA1, SHA256, or SHA512")
	addCmd.Flags().IntVar(&addDigits, "digits", 6, "code length (6-8)")
	addCmd.Flags().IntVar(&addPeriod, "period", 30, "code validity period in seconds (15-120)")
	addCmd.Flags().StringVar(&addURI, "uri", "", "otpauth:// URI; overrides every other flag")
}

func runAdd(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}

	if addURI != "" {
		display, err := s.AddAccount(addURI)
		if err != nil {
			return fmt.Errorf("add account: %w", err)
		}
		printSuccess("added %s (%s)", display.Issuer, display.ID)
		return nil
	}

	secret := addSecret
	if secret == "" {
		secret, err = readSecret("Secret: ")
		if err != nil {
			return err
		}
	}

	display, err := s.AddAccountManual(addIssuer, addLabel, secret, strings.ToUpper(addAlgorithm), addDigits, addPeriod)
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	printSuccess("added %s (%s)", display.Issuer, display.ID)
	return nil
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "account",
	Short:   "List all accounts",
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}

	accounts := s.GetAccounts()
	if len(accounts) == 0 {
		fmt.Println("no accounts")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	if err := table.Header([]string{"ID", "Issuer", "Label", "Algorithm", "Digits", "Period"}); err != nil {
		return err
	}
	data := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		data = append(data, []string{
			a.ID,
			a.Issuer,
			a.Label,
			a.Algorithm,
			strconv.Itoa(a.Digits),
			strconv.Itoa(a.Period),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

var codesCmd = &cobra.Command{
	Use:     "codes",
	GroupID: "account",
	Short:   "Generate current TOTP codes for every account",
	RunE:    runCodes,
}

func init() {
	rootCmd.AddCommand(codesCmd)
}

func runCodes(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}

	codes, err := s.GenerateAllCodes()
	if err != nil {
		return fmt.Errorf("generate codes: %w", err)
	}
	if len(codes) == 0 {
		fmt.Println("no accounts")
		return nil
	}

	accountsByID := make(map[string]string, len(codes))
	for _, a := range s.GetAccounts() {
		accountsByID[a.ID] = a.Issuer
	}

	table := tablewriter.NewWriter(os.Stdout)
	if err := table.Header([]string{"Issuer", "Code", "Expires in"}); err != nil {
		return err
	}
	data := make([][]string, 0, len(codes))
	for _, c := range codes {
		data = append(data, []string{accountsByID[c.ID], c.Code, fmt.Sprintf("%ds", c.Remaining)})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

var (
	editIssuer string
	editLabel  string
)

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "account",
	Short:   "Edit an account's issuer or label",
	Args:    cobra.ExactArgs(1),
	RunE:    runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringVar(&editIssuer, "issuer", "", "new issuer name")
	editCmd.Flags().StringVar(&editLabel, "label", "", "new label")
}

func runEdit(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}

	var issuer, label *string
	if cmd.Flags().Changed("issuer") {
		issuer = &editIssuer
	}
	if cmd.Flags().Changed("label") {
		label = &editLabel
	}
	if err := s.EditAccount(args[0], issuer, label); err != nil {
		return fmt.Errorf("edit account: %w", err)
	}
	printSuccess("updated %s", args[0])
	return nil
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "account",
	Short:   "Delete an account",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	if err := s.DeleteAccount(args[0]); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	printSuccess("deleted %s", args[0])
	return nil
}

var reorderCmd = &cobra.Command{
	Use:     "reorder <id> [id...]",
	GroupID: "account",
	Short:   "Reorder accounts; listed ids come first in the given order",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runReorder,
}

func init() {
	rootCmd.AddCommand(reorderCmd)
}

func runReorder(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	if err := s.ReorderAccounts(args); err != nil {
		return fmt.Errorf("reorder accounts: %w", err)
	}
	printSuccess("reordered %d account(s)", len(args))
	return nil
}
