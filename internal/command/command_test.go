package command

import (
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/KestrelAS/ghost-auth-sub000/internal/sync"
)

func init() {
	keyring.MockInit()
}

func TestOpenEmptyInit(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if len(s.GetAccounts()) != 0 {
		t.Errorf("expected no accounts, got %d", len(s.GetAccounts()))
	}
	if s.HasPIN() {
		t.Error("expected HasPIN to be false on a fresh vault")
	}

	codes, err := s.GenerateAllCodes()
	if err != nil {
		t.Fatalf("GenerateAllCodes failed: %v", err)
	}
	if len(codes) != 0 {
		t.Errorf("expected no codes, got %d", len(codes))
	}
}

func TestAddAccountThenGenerateCode(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	display, err := s.AddAccountManual("GitHub", "me", "JBSWY3DPEHPK3PXP", "SHA1", 6, 30)
	if err != nil {
		t.Fatalf("AddAccountManual failed: %v", err)
	}
	if len(s.GetAccounts()) != 1 {
		t.Fatalf("expected 1 account, got %d", len(s.GetAccounts()))
	}

	codes, err := s.GenerateAllCodes()
	if err != nil {
		t.Fatalf("GenerateAllCodes failed: %v", err)
	}
	if len(codes) != 1 {
		t.Fatalf("expected 1 code, got %d", len(codes))
	}
	if codes[0].ID != display.ID {
		t.Errorf("expected code id %q, got %q", display.ID, codes[0].ID)
	}
	if len(codes[0].Code) != 6 {
		t.Errorf("expected a 6-digit code, got %q", codes[0].Code)
	}
}

func TestAddAccountFromURI(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	display, err := s.AddAccount("otpauth://totp/GitHub:me?secret=JBSWY3DPEHPK3PXP&issuer=GitHub")
	if err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}
	if display.Issuer != "GitHub" {
		t.Errorf("expected issuer GitHub, got %q", display.Issuer)
	}
	if display.Label != "me" {
		t.Errorf("expected label me, got %q", display.Label)
	}
	if len(s.GetAccounts()) != 1 {
		t.Errorf("expected 1 account, got %d", len(s.GetAccounts()))
	}
}

func TestSyncStartJoinConfirmEndToEnd(t *testing.T) {
	initiator, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	joiner, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := initiator.AddAccountManual("GitHub", "me", "JBSWY3DPEHPK3PXP", "SHA1", 6, 30); err != nil {
		t.Fatalf("AddAccountManual failed: %v", err)
	}

	info, err := initiator.SyncStart()
	if err != nil {
		t.Fatalf("SyncStart failed: %v", err)
	}
	defer initiator.SyncCancel(info.Session)

	type acceptResult struct {
		plan *sync.Plan
		err  error
	}
	acceptDone := make(chan acceptResult, 1)
	go func() {
		plan, err := initiator.SyncAccept(info)
		acceptDone <- acceptResult{plan, err}
	}()

	joinSession, joinPlan, err := joiner.SyncJoin(info.TextCode, "127.0.0.1", info.Port)
	if err != nil {
		t.Fatalf("SyncJoin failed: %v", err)
	}
	defer joiner.SyncCancel(joinSession)

	accept := <-acceptDone
	if accept.err != nil {
		t.Fatalf("SyncAccept failed: %v", accept.err)
	}

	if len(joinPlan.ToAdd) != 1 {
		t.Fatalf("expected 1 entry in ToAdd, got %d", len(joinPlan.ToAdd))
	}
	if _, _, _, err := joiner.SyncConfirm(joinPlan, Decisions{}); err != nil {
		t.Fatalf("SyncConfirm failed: %v", err)
	}
	if len(joiner.GetAccounts()) != 1 {
		t.Errorf("expected 1 account after sync, got %d", len(joiner.GetAccounts()))
	}

	if _, _, _, err := initiator.SyncConfirm(accept.plan, Decisions{}); err != nil {
		t.Fatalf("SyncConfirm failed: %v", err)
	}
}

func TestSetPINThenExportBackupRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	codes, err := s.SetPIN("1234", nil)
	if err != nil {
		t.Fatalf("SetPIN failed: %v", err)
	}
	if len(codes) != 8 {
		t.Errorf("expected 8 recovery codes, got %d", len(codes))
	}

	if _, err := s.AddAccountManual("GitHub", "me", "JBSWY3DPEHPK3PXP", "SHA1", 6, 30); err != nil {
		t.Fatalf("AddAccountManual failed: %v", err)
	}

	blob, err := s.ExportBackup("a-strong-password")
	if err != nil {
		t.Fatalf("ExportBackup failed: %v", err)
	}

	payload, err := s.ImportBackupPreview(blob, "a-strong-password")
	if err != nil {
		t.Fatalf("ImportBackupPreview failed: %v", err)
	}
	if len(payload.Accounts) != 1 {
		t.Errorf("expected 1 account in the preview, got %d", len(payload.Accounts))
	}
}
