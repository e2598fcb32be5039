package totp

import (
	"testing"
	"time"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func TestGenerateProducesSixDigitsByDefault(t *testing.T) {
	code, remaining, err := Generate(Params{
		Secret:    testSecret,
		Algorithm: AlgorithmSHA1,
		Digits:    6,
		Period:    30,
	}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("expected a 6-digit code, got %q", code)
	}
	if remaining < 1 || remaining > 30 {
		t.Errorf("expected remaining in [1,30], got %d", remaining)
	}
}

func TestGenerateProducesEightDigitsWhenConfigured(t *testing.T) {
	code, _, err := Generate(Params{
		Secret:    testSecret,
		Algorithm: AlgorithmSHA1,
		Digits:    8,
		Period:    30,
	}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(code) != 8 {
		t.Errorf("expected an 8-digit code, got %q", code)
	}
}

func TestGenerateSupportsAllThreeAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512} {
		code, _, err := Generate(Params{
			Secret:    testSecret,
			Algorithm: alg,
			Digits:    6,
			Period:    30,
		}, time.Unix(1700000000, 0))
		if err != nil {
			t.Fatalf("Generate failed for algorithm %s: %v", alg, err)
		}
		if len(code) != 6 {
			t.Errorf("algorithm %s: expected a 6-digit code, got %q", alg, code)
		}
	}
}

func TestGenerateRemainingCountsDownWithinPeriod(t *testing.T) {
	base := time.Unix(1700000000, 0)
	base = base.Truncate(30 * time.Second)

	_, remainingAtStart, err := Generate(Params{Secret: testSecret, Algorithm: AlgorithmSHA1, Digits: 6, Period: 30}, base)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	_, remainingAfter10s, err := Generate(Params{Secret: testSecret, Algorithm: AlgorithmSHA1, Digits: 6, Period: 30}, base.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if remainingAtStart != 30 {
		t.Errorf("expected remaining=30 at window start, got %d", remainingAtStart)
	}
	if remainingAfter10s != 20 {
		t.Errorf("expected remaining=20 after 10s, got %d", remainingAfter10s)
	}
}

func TestGenerateIsDeterministicForSameWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	code1, _, err := Generate(Params{Secret: testSecret, Algorithm: AlgorithmSHA1, Digits: 6, Period: 30}, now)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	code2, _, err := Generate(Params{Secret: testSecret, Algorithm: AlgorithmSHA1, Digits: 6, Period: 30}, now)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if code1 != code2 {
		t.Errorf("expected the same code within one window, got %q and %q", code1, code2)
	}
}

func TestGenerateDefaultsZeroDigitsAndPeriod(t *testing.T) {
	code, remaining, err := Generate(Params{Secret: testSecret, Algorithm: AlgorithmSHA1}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("expected a 6-digit code when Digits is unset, got %q", code)
	}
	if remaining > 30 {
		t.Errorf("expected remaining <= 30 when Period is unset, got %d", remaining)
	}
}

// TestGenerateMatchesWorkedExample pins the exact code produced for
// secret JBSWY3DPEHPK3PXP at t=59s (counter floor(59/30)=1), so the
// RFC 6238 implementation is checked against a known value rather than
// only against itself.
func TestGenerateMatchesWorkedExample(t *testing.T) {
	code, _, err := Generate(Params{
		Secret:    testSecret,
		Algorithm: AlgorithmSHA1,
		Digits:    6,
		Period:    30,
	}, time.Unix(59, 0))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if code != "996554" {
		t.Errorf("expected code 996554 at t=59s, got %q", code)
	}
}
