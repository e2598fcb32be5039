package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pinCmd = &cobra.Command{
	Use:     "pin",
	GroupID: "auth",
	Short:   "Manage the vault PIN",
}

func init() {
	rootCmd.AddCommand(pinCmd)
	pinCmd.AddCommand(pinSetCmd, pinVerifyCmd, pinRemoveCmd)
}

var pinSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set or change the PIN, printing 8 fresh recovery codes",
	RunE:  runPINSet,
}

func runPINSet(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}

	var currentPIN *string
	if s.HasPIN() {
		current, err := readSecret("Current PIN: ")
		if err != nil {
			return err
		}
		currentPIN = &current
	}

	newPIN, err := readSecret("New PIN: ")
	if err != nil {
		return err
	}
	confirm, err := readSecret("Confirm new PIN: ")
	if err != nil {
		return err
	}
	if newPIN != confirm {
		return fmt.Errorf("PINs do not match")
	}

	codes, err := s.SetPIN(newPIN, currentPIN)
	if err != nil {
		return fmt.Errorf("set PIN: %w", err)
	}

	printSuccess("PIN set. Save these recovery codes now; they will not be shown again:")
	for _, c := range codes {
		fmt.Println("  " + c)
	}
	return nil
}

var pinVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the PIN",
	RunE:  runPINVerify,
}

func runPINVerify(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	if !s.HasPIN() {
		return fmt.Errorf("no PIN is set")
	}

	pin, err := readSecret("PIN: ")
	if err != nil {
		return err
	}
	ok, err := s.VerifyPIN(pin)
	if err != nil {
		printError("%v", err)
		return nil
	}
	if ok {
		printSuccess("PIN correct")
	} else {
		printError("incorrect PIN")
	}
	return nil
}

var pinRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the PIN and all recovery codes",
	RunE:  runPINRemove,
}

func runPINRemove(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	pin, err := readSecret("Current PIN: ")
	if err != nil {
		return err
	}
	if err := s.RemovePIN(pin); err != nil {
		return fmt.Errorf("remove PIN: %w", err)
	}
	printSuccess("PIN removed")
	return nil
}

var recoveryCmd = &cobra.Command{
	Use:     "recovery",
	GroupID: "auth",
	Short:   "Use a recovery code to clear a forgotten PIN",
}

func init() {
	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.AddCommand(recoveryVerifyCmd)
}

var recoveryVerifyCmd = &cobra.Command{
	Use:   "use <code>",
	Short: "Redeem a recovery code; one-shot, clears the PIN on success",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecoveryUse,
}

func runRecoveryUse(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	ok, err := s.VerifyRecoveryCode(args[0])
	if err != nil {
		printError("%v", err)
		return nil
	}
	if ok {
		printSuccess("recovery code accepted, PIN cleared; set a new PIN with 'ghostauth pin set'")
	} else {
		printError("invalid or already-used recovery code")
	}
	return nil
}
