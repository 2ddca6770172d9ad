package erpauth

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpManager wraps authenticator-app code generation and verification with
// the engine's digit, period, and skew settings applied uniformly.
type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{config: cfg}
}

// GenerateSecret mints a fresh shared secret for the account and returns it
// together with the otpauth enrollment URI.
func (m *totpManager) GenerateSecret(accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      uint(m.config.Period),
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Verify checks code against the shared secret at time t, accepting the
// configured number of adjacent time steps.
func (m *totpManager) Verify(secret, code string, t time.Time) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != m.config.Digits {
		return false, nil
	}

	return totp.ValidateCustom(code, secret, t, totp.ValidateOpts{
		Period:    uint(m.config.Period),
		Skew:      m.config.Skew,
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
}
