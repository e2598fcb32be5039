// Package command implements the Command Surface (§6.1): thin,
// synchronous-from-the-caller's-perspective wrappers over Vault, Auth,
// Backup, and Sync that validate inputs and strip secret from every
// output, so cmd/ghostauth stays a pure presentation layer.
package command

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/KestrelAS/ghost-auth-sub000/internal/auth"
	"github.com/KestrelAS/ghost-auth-sub000/internal/backup"
	"github.com/KestrelAS/ghost-auth-sub000/internal/merge"
	"github.com/KestrelAS/ghost-auth-sub000/internal/sync"
	"github.com/KestrelAS/ghost-auth-sub000/internal/totp"
	"github.com/KestrelAS/ghost-auth-sub000/internal/vault"
)

// Surface bundles the modules one GhostAuth identity needs, matching
// the teacher's "thin cobra command calls into an internal service"
// layering.
type Surface struct {
	dir     string
	Vault   *vault.Vault
	Auth    *auth.Service
	History *sync.History
}

// Open loads (or initializes) the Vault, Auth, and sync history state
// rooted at dir.
func Open(dir string) (*Surface, error) {
	v, err := vault.Open(dir, dir)
	if err != nil {
		return nil, err
	}
	a, err := auth.New(dir)
	if err != nil {
		return nil, err
	}
	h, err := sync.OpenHistory(dir)
	if err != nil {
		return nil, err
	}
	return &Surface{dir: dir, Vault: v, Auth: a, History: h}, nil
}

// GetAccounts is the get_accounts command.
func (s *Surface) GetAccounts() []vault.Display {
	return s.Vault.List()
}

// AddAccountManual is the add_account_manual command.
func (s *Surface) AddAccountManual(issuer, label, secret, algorithm string, digits, period int) (vault.Display, error) {
	account, err := s.Vault.Add(issuer, label, secret, algorithm, digits, period)
	if err != nil {
		return vault.Display{}, err
	}
	return displayOf(account), nil
}

// AddAccount is the add_account(uri) command: decodes an otpauth://
// URI and adds it the same way AddAccountManual would.
func (s *Surface) AddAccount(uri string) (vault.Display, error) {
	parsed, err := totp.ParseURI(uri)
	if err != nil {
		return vault.Display{}, err
	}
	return s.AddAccountManual(parsed.Issuer, parsed.Label, parsed.Secret, string(parsed.Algorithm), parsed.Digits, parsed.Period)
}

func displayOf(a vault.Account) vault.Display {
	return vault.Display{
		ID:           a.ID,
		Issuer:       a.Issuer,
		Label:        a.Label,
		Algorithm:    a.Algorithm,
		Digits:       a.Digits,
		Period:       a.Period,
		Icon:         a.Icon,
		LastModified: a.LastModified,
	}
}

// EditAccount is the edit_account command.
func (s *Surface) EditAccount(id string, issuer, label *string) error {
	return s.Vault.Edit(id, issuer, label)
}

// DeleteAccount is the delete_account command.
func (s *Surface) DeleteAccount(id string) error {
	return s.Vault.Delete(id)
}

// ReorderAccounts is the reorder_accounts command.
func (s *Surface) ReorderAccounts(ids []string) error {
	return s.Vault.Reorder(ids)
}

// GenerateAllCodes is the generate_all_codes command.
func (s *Surface) GenerateAllCodes() ([]vault.Code, error) {
	return s.Vault.GenerateCodes()
}

// HasPIN is the has_pin command.
func (s *Surface) HasPIN() bool {
	return s.Auth.HasPIN()
}

// SetPIN is the set_pin command. It returns the 8 fresh recovery codes
// in plaintext exactly once.
func (s *Surface) SetPIN(pin string, currentPIN *string) ([]string, error) {
	return s.Auth.SetPIN(pin, currentPIN)
}

// VerifyPIN is the verify_pin command.
func (s *Surface) VerifyPIN(pin string) (bool, error) {
	return s.Auth.VerifyPIN(pin)
}

// RemovePIN is the remove_pin command.
func (s *Surface) RemovePIN(pin string) error {
	return s.Auth.RemovePIN(pin)
}

// VerifyRecoveryCode is the verify_recovery_code command.
func (s *Surface) VerifyRecoveryCode(code string) (bool, error) {
	return s.Auth.VerifyRecoveryCode(code)
}

// HasRecoveryCodes is the has_recovery_codes command.
func (s *Surface) HasRecoveryCodes() bool {
	return s.Auth.HasRecoveryCodes()
}

// ExportBackup is the export_backup command.
func (s *Surface) ExportBackup(password string) ([]byte, error) {
	accounts, _ := s.Vault.Snapshot()
	return backup.Export(password, accounts, time.Now().Unix())
}

// ImportBackupPreview is the import_backup command: decodes and returns
// the accounts a confirm step would add, without mutating the vault.
func (s *Surface) ImportBackupPreview(data []byte, password string) (*backup.Payload, error) {
	return backup.Import(data, password)
}

// ImportBackupConfirm is the import_backup_confirm command: re-decodes
// and adds each account as new (fresh ids), returning the added displays.
func (s *Surface) ImportBackupConfirm(data []byte, password string) ([]vault.Display, error) {
	payload, err := backup.Import(data, password)
	if err != nil {
		return nil, err
	}
	out := make([]vault.Display, 0, len(payload.Accounts))
	for _, a := range payload.Accounts {
		d, err := s.AddAccountManual(a.Issuer, a.Label, a.Secret, a.Algorithm, a.Digits, a.Period)
		if err != nil {
			return nil, fmt.Errorf("command: import account %s: %w", a.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// SessionInfo is the sync_start command's result (spec.md §6.1's
// SessionInfo{session_id, text_code, hosts, port, expires_in}; qr_data
// is omitted since no SPEC_FULL.md component renders a QR code).
type SessionInfo struct {
	Session   *sync.Session
	Listener  net.Listener
	TextCode  string
	Hosts     []string
	Port      int
	Advertise string
	ExpiresIn time.Duration
}

// SyncStart is the sync_start command: begins advertising as initiator.
func (s *Surface) SyncStart() (*SessionInfo, error) {
	session, listener, adv, err := sync.StartInitiator()
	if err != nil {
		return nil, err
	}
	return &SessionInfo{
		Session:   session,
		Listener:  listener,
		TextCode:  sync.FormatCode(adv.Code),
		Hosts:     adv.Hosts,
		Port:      adv.Port,
		Advertise: sync.BuildAdvertisementURI(adv),
		ExpiresIn: 5 * time.Minute,
	}, nil
}

// SyncAccept is the sync_poll command's blocking counterpart: it waits
// for a joiner, completes the handshake and exchange, and returns the
// merge preview.
func (s *Surface) SyncAccept(info *SessionInfo) (*sync.Plan, error) {
	accounts, tombstones := s.Vault.Snapshot()
	return info.Session.Accept(info.Listener, s.Vault.DeviceID(), accounts, tombstones, s.History.LastSyncWith)
}

// SyncJoin is the sync_join(code, host, port) command: connects to an
// advertised host and returns the session together with the merge preview.
func (s *Surface) SyncJoin(code, host string, port int) (*sync.Session, *sync.Plan, error) {
	adv := sync.Advertisement{Code: code, Hosts: []string{host}, Port: port}
	accounts, tombstones := s.Vault.Snapshot()
	return sync.Join(adv, s.Vault.DeviceID(), accounts, tombstones, s.History.LastSyncWith)
}

// SyncJoinAdvertisement is a convenience over SyncJoin for callers that
// already parsed a full out-of-band advertisement (e.g. cmd/ghostauth
// decoding a ghost-auth://sync URI), trying every advertised host.
func (s *Surface) SyncJoinAdvertisement(adv sync.Advertisement) (*sync.Session, *sync.Plan, error) {
	accounts, tombstones := s.Vault.Snapshot()
	return sync.Join(adv, s.Vault.DeviceID(), accounts, tombstones, s.History.LastSyncWith)
}

// SyncCancel is the sync_cancel command.
func (s *Surface) SyncCancel(session *sync.Session) {
	session.Close()
}

// Decisions selects how the caller resolves a merge plan's conflicts and
// whether to honor its remote_deletions; the Merge Engine itself never
// decides this (§4.6 "the plan is advisory").
type Decisions struct {
	// AcceptConflict[i] chooses the remote side of plan.Conflicts[i]
	// when true, otherwise keeps local.
	AcceptConflict []bool
	// HonorDeletions applies plan.RemoteDeletions when true.
	HonorDeletions bool
}

// SyncConfirm is the sync_confirm command: applies a confirmed merge
// plan to the vault in a single save and records the peer's sync
// timestamp.
func (s *Surface) SyncConfirm(plan *sync.Plan, decisions Decisions) (added, updated, deleted int, err error) {
	toAdd, err := toVaultAccounts(plan.ToAdd)
	if err != nil {
		return 0, 0, 0, err
	}
	autoUpdated, err := toVaultAccounts(plan.AutoUpdated)
	if err != nil {
		return 0, 0, 0, err
	}

	for i, conflict := range plan.Conflicts {
		if i < len(decisions.AcceptConflict) && decisions.AcceptConflict[i] {
			account, err := accountOf(conflict.Remote)
			if err != nil {
				return 0, 0, 0, err
			}
			autoUpdated = append(autoUpdated, account)
		}
	}

	var deletions []vault.Account
	if decisions.HonorDeletions {
		deletions, err = toVaultAccounts(plan.RemoteDeletions)
		if err != nil {
			return 0, 0, 0, err
		}
	}

	if err := s.Vault.ApplyRemote(toAdd, autoUpdated, deletions); err != nil {
		return 0, 0, 0, err
	}
	if err := s.History.RecordSync(plan.RemoteDeviceID, plan.RemoteTime); err != nil {
		return 0, 0, 0, err
	}
	return len(toAdd), len(autoUpdated), len(deletions), nil
}

// SyncHistory is the sync_history command.
func (s *Surface) SyncHistory() map[string]int64 {
	return s.History.Peers
}

func toVaultAccounts(accounts []merge.Account) ([]vault.Account, error) {
	out := make([]vault.Account, 0, len(accounts))
	for _, a := range accounts {
		account, err := accountOf(a)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

func accountOf(a merge.Account) (vault.Account, error) {
	if account, ok := a.Value.(vault.Account); ok {
		return account, nil
	}
	// Round-trip through JSON when the merge.Account carries an
	// untyped value (e.g. after a wire decode), rather than assuming
	// the in-process type assertion always holds.
	data, err := json.Marshal(a.Value)
	if err != nil {
		return vault.Account{}, fmt.Errorf("command: encode merge account %s: %w", a.ID, err)
	}
	var account vault.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return vault.Account{}, fmt.Errorf("command: decode merge account %s: %w", a.ID, err)
	}
	return account, nil
}
