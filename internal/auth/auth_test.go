package auth

import (
	"errors"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestSetPINRequiresCurrentWhenSet(t *testing.T) {
	s := newTestService(t)

	codes, err := s.SetPIN("1234", nil)
	if err != nil {
		t.Fatalf("SetPIN failed: %v", err)
	}
	if len(codes) != recoveryCodeCount {
		t.Errorf("expected %d recovery codes, got %d", recoveryCodeCount, len(codes))
	}

	_, err = s.SetPIN("5678", nil)
	if !errors.Is(err, ErrPINRequired) {
		t.Errorf("expected ErrPINRequired, got %v", err)
	}

	wrong := "0000"
	_, err = s.SetPIN("5678", &wrong)
	if !errors.Is(err, ErrWrongCurrentPIN) {
		t.Errorf("expected ErrWrongCurrentPIN, got %v", err)
	}

	current := "1234"
	if _, err := s.SetPIN("5678", &current); err != nil {
		t.Errorf("SetPIN with correct current PIN failed: %v", err)
	}
}

func TestVerifyPINRoundTrip(t *testing.T) {
	s := newTestService(t)
	if _, err := s.SetPIN("4242", nil); err != nil {
		t.Fatalf("SetPIN failed: %v", err)
	}

	ok, err := s.VerifyPIN("4242")
	if err != nil {
		t.Fatalf("VerifyPIN failed: %v", err)
	}
	if !ok {
		t.Error("expected the correct PIN to verify")
	}

	ok, err = s.VerifyPIN("0000")
	if err != nil {
		t.Fatalf("VerifyPIN failed: %v", err)
	}
	if ok {
		t.Error("expected the wrong PIN to not verify")
	}
}

func TestRateLimiterLocksOutAfterFiveFailures(t *testing.T) {
	s := newTestService(t)
	if _, err := s.SetPIN("1234", nil); err != nil {
		t.Fatalf("SetPIN failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		ok, err := s.VerifyPIN("0000")
		if err != nil {
			t.Fatalf("VerifyPIN failed on attempt %d: %v", i, err)
		}
		if ok {
			t.Fatalf("expected attempt %d to fail", i)
		}
	}

	ok, err := s.VerifyPIN("1234")
	if ok {
		t.Error("expected the 6th attempt to be rate limited even with the correct PIN")
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected a *RateLimitedError, got %v", err)
	}
	if rl.RemainingSeconds < 1 || rl.RemainingSeconds > 30 {
		t.Errorf("expected remaining seconds in [1,30], got %d", rl.RemainingSeconds)
	}
}

func TestVerifyRecoveryCodeRemovesPINAndIsOneShot(t *testing.T) {
	s := newTestService(t)
	codes, err := s.SetPIN("1234", nil)
	if err != nil {
		t.Fatalf("SetPIN failed: %v", err)
	}
	if len(codes) == 0 {
		t.Fatal("expected at least one recovery code")
	}

	ok, err := s.VerifyRecoveryCode(codes[0])
	if err != nil {
		t.Fatalf("VerifyRecoveryCode failed: %v", err)
	}
	if !ok {
		t.Error("expected the fresh recovery code to verify")
	}
	if s.HasPIN() {
		t.Error("expected HasPIN to be false after a recovery code clears the PIN")
	}

	// Set a new PIN (which issues a fresh set of recovery codes) before
	// retrying the old code, since clearAllLocked wiped recovery state too.
	if _, err := s.SetPIN("4321", nil); err != nil {
		t.Fatalf("SetPIN failed: %v", err)
	}

	ok2, err := s.VerifyRecoveryCode(codes[0])
	if err != nil {
		t.Fatalf("VerifyRecoveryCode failed: %v", err)
	}
	if ok2 {
		t.Error("a used-up recovery code must never verify again")
	}
}

func TestVerifyRecoveryCodeWrongCodeIncrementsRateLimit(t *testing.T) {
	s := newTestService(t)
	if _, err := s.SetPIN("1234", nil); err != nil {
		t.Fatalf("SetPIN failed: %v", err)
	}

	ok, err := s.VerifyRecoveryCode("ZZZZ-ZZZZ")
	if err != nil {
		t.Fatalf("VerifyRecoveryCode failed: %v", err)
	}
	if ok {
		t.Error("expected an unknown recovery code to fail")
	}
	if s.rateLimit.FailedAttempts != 1 {
		t.Errorf("expected FailedAttempts=1, got %d", s.rateLimit.FailedAttempts)
	}
}

func TestRecoveryCodeNormalization(t *testing.T) {
	if got := normalizeRecoveryCode("abcd-efgh"); got != "ABCDEFGH" {
		t.Errorf("expected ABCDEFGH, got %s", got)
	}
	if got := normalizeRecoveryCode("ABCD-EFGH"); got != "ABCDEFGH" {
		t.Errorf("expected ABCDEFGH, got %s", got)
	}
}
