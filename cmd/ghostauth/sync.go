package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KestrelAS/ghost-auth-sub000/internal/command"
	"github.com/KestrelAS/ghost-auth-sub000/internal/merge"
	"github.com/KestrelAS/ghost-auth-sub000/internal/sync"
	"github.com/KestrelAS/ghost-auth-sub000/internal/vault"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync accounts directly with another device over the LAN",
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStartCmd, syncJoinCmd, syncHistoryCmd)
}

var syncStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Advertise this device and wait for a peer to join",
	RunE:  runSyncStart,
}

func runSyncStart(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}

	info, err := s.SyncStart()
	if err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	defer s.SyncCancel(info.Session)

	fmt.Println("Share this sync code with the other device:")
	fmt.Printf("  code: %s\n", info.TextCode)
	fmt.Printf("  hosts: %s, port: %d\n", strings.Join(info.Hosts, ", "), info.Port)
	fmt.Println("  or the full advertisement URI: " + info.Advertise)
	fmt.Printf("Waiting up to %s for a peer to connect...\n", info.ExpiresIn)

	plan, err := s.SyncAccept(info)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return resolveAndConfirm(s, plan)
}

var syncJoinHost, syncJoinCode string
var syncJoinPort int

var syncJoinCmd = &cobra.Command{
	Use:   "join [advertisement-uri]",
	Short: "Connect to a device that is advertising a sync session",
	Long: `Join connects to a peer that ran 'sync start'. Pass the full
ghost-auth://sync advertisement URI it printed, or supply --code,
--host, and --port individually.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSyncJoin,
}

func init() {
	syncJoinCmd.Flags().StringVar(&syncJoinCode, "code", "", "24-character sync code")
	syncJoinCmd.Flags().StringVar(&syncJoinHost, "host", "", "peer host or IP")
	syncJoinCmd.Flags().IntVar(&syncJoinPort, "port", 0, "peer port")
}

func runSyncJoin(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}

	var session *sync.Session
	var plan *sync.Plan
	if len(args) == 1 {
		var adv sync.Advertisement
		adv, err = sync.ParseAdvertisementURI(args[0])
		if err != nil {
			return fmt.Errorf("parse advertisement: %w", err)
		}
		session, plan, err = s.SyncJoinAdvertisement(adv)
		if err != nil {
			return fmt.Errorf("join sync: %w", err)
		}
	} else {
		if syncJoinCode == "" || syncJoinHost == "" || syncJoinPort == 0 {
			return fmt.Errorf("either pass an advertisement URI or set --code, --host, and --port")
		}
		session, plan, err = s.SyncJoin(syncJoinCode, syncJoinHost, syncJoinPort)
		if err != nil {
			return fmt.Errorf("join sync: %w", err)
		}
	}
	defer s.SyncCancel(session)

	return resolveAndConfirm(s, plan)
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the last synced time per peer device",
	RunE:  runSyncHistory,
}

func runSyncHistory(cmd *cobra.Command, args []string) error {
	s, err := openSurface()
	if err != nil {
		return err
	}
	history := s.SyncHistory()
	if len(history) == 0 {
		fmt.Println("no sync history")
		return nil
	}
	for peer, epoch := range history {
		fmt.Printf("  %s: last synced at unix time %d\n", peer, epoch)
	}
	return nil
}

// resolveAndConfirm prints a merge plan, asks the operator to accept or
// reject each conflict and whether to honor remote deletions, then
// confirms the plan against the vault.
func resolveAndConfirm(s *command.Surface, plan *sync.Plan) error {
	fmt.Printf("peer device: %s\n", plan.RemoteDeviceID)
	fmt.Printf("  to add:        %d\n", len(plan.ToAdd))
	fmt.Printf("  auto-updated:  %d\n", len(plan.AutoUpdated))
	fmt.Printf("  conflicts:     %d\n", len(plan.Conflicts))
	fmt.Printf("  remote delete: %d\n", len(plan.RemoteDeletions))
	fmt.Printf("  unchanged:     %d\n", plan.Unchanged)

	reader := bufio.NewReader(os.Stdin)
	decisions := command.Decisions{
		AcceptConflict: make([]bool, len(plan.Conflicts)),
	}
	for i, c := range plan.Conflicts {
		fmt.Printf("conflict: local %s vs remote %s\n", describeAccount(c.Local), describeAccount(c.Remote))
		answer, err := promptYesNo(reader, "  keep remote version? [y/N] ")
		if err != nil {
			return err
		}
		decisions.AcceptConflict[i] = answer
	}

	if len(plan.RemoteDeletions) > 0 {
		fmt.Printf("%d account(s) were deleted on the peer.\n", len(plan.RemoteDeletions))
		answer, err := promptYesNo(reader, "  apply those deletions here too? [y/N] ")
		if err != nil {
			return err
		}
		decisions.HonorDeletions = answer
	}

	added, updated, deleted, err := s.SyncConfirm(plan, decisions)
	if err != nil {
		return fmt.Errorf("confirm sync: %w", err)
	}
	printSuccess("sync complete: %d added, %d updated, %d deleted", added, updated, deleted)
	return nil
}

func describeAccount(a merge.Account) string {
	if account, ok := a.Value.(vault.Account); ok {
		return fmt.Sprintf("%s / %s", account.Issuer, account.Label)
	}
	return a.ID
}

func promptYesNo(reader *bufio.Reader, prompt string) (bool, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}
