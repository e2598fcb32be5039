package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/howeyc/gopass"
	"golang.org/x/term"
)

// readSecret prompts and reads a masked line (PIN or backup password). In
// test mode (GHOSTAUTH_TEST=1) it falls back to a plain stdin read since
// gopass's masking requires a real terminal.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if os.Getenv("GHOSTAUTH_TEST") == "1" || !term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	masked, err := gopass.GetPasswdMasked()
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(masked), nil
}

func printSuccess(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...any) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}
