// Command ghostauth is the CLI presentation layer over the Command
// Surface (§6.1): account management, PIN/recovery auth, .ghostauth
// backup export/import, and LAN sync, all implemented in internal/command.
package main

func main() {
	Execute()
}
