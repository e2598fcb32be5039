// Package totp wraps pquerna/otp's RFC 6238 implementation to produce the
// {code, remaining} pairs the Vault's generate_codes operation returns.
// The HMAC code generator itself is an assumed standard implementation
// per the scope notes; this package only adapts it to the Account model.
package totp

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Algorithm mirrors the Account.algorithm enum.
type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "SHA1"
	AlgorithmSHA256 Algorithm = "SHA256"
	AlgorithmSHA512 Algorithm = "SHA512"
)

func (a Algorithm) otpAlgorithm() otp.Algorithm {
	switch a {
	case AlgorithmSHA256:
		return otp.AlgorithmSHA256
	case AlgorithmSHA512:
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// Params is the subset of an Account needed to produce a code.
type Params struct {
	Secret    string
	Algorithm Algorithm
	Digits    int
	Period    int
}

// ParsedURI is what an otpauth://totp/... URI decodes to, ready to feed
// into the Vault's add_account operation.
type ParsedURI struct {
	Issuer    string
	Label     string
	Secret    string
	Algorithm Algorithm
	Digits    int
	Period    int
}

// ParseURI decodes an otpauth://totp/... URI for add_account(uri). HOTP
// URIs are rejected since the Account model has no counter field.
func ParseURI(uri string) (ParsedURI, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return ParsedURI{}, fmt.Errorf("totp: parse uri: %w", err)
	}
	if key.Type() != "totp" {
		return ParsedURI{}, fmt.Errorf("totp: unsupported otp type %q", key.Type())
	}

	period := int(key.Period())
	if period <= 0 {
		period = 30
	}
	digits := key.Digits().Length()
	if digits == 0 {
		digits = 6
	}

	var algorithm Algorithm
	switch key.Algorithm() {
	case otp.AlgorithmSHA256:
		algorithm = AlgorithmSHA256
	case otp.AlgorithmSHA512:
		algorithm = AlgorithmSHA512
	default:
		algorithm = AlgorithmSHA1
	}

	return ParsedURI{
		Issuer:    key.Issuer(),
		Label:     key.AccountName(),
		Secret:    key.Secret(),
		Algorithm: algorithm,
		Digits:    digits,
		Period:    period,
	}, nil
}

// Generate returns the current TOTP code and the seconds remaining in the
// current period, evaluated at now.
func Generate(p Params, now time.Time) (code string, remaining int, err error) {
	period := uint(p.Period)
	if period == 0 {
		period = 30
	}
	digits := otp.Digits(p.Digits)
	if p.Digits == 0 {
		digits = otp.DigitsSix
	}

	code, err = totp.GenerateCodeCustom(p.Secret, now, totp.ValidateOpts{
		Period:    period,
		Digits:    digits,
		Algorithm: p.Algorithm.otpAlgorithm(),
	})
	if err != nil {
		return "", 0, fmt.Errorf("totp: generate: %w", err)
	}

	elapsed := now.Unix() % int64(period)
	remaining = int(int64(period) - elapsed)
	return code, remaining, nil
}
