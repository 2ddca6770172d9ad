package erpauth

import (
	"bytes"
	"errors"
	"time"
)

// Config carries every tunable of the engine. Instances are treated as
// immutable after Build; the Builder clones what it is given.
type Config struct {
	Token        TokenConfig
	TOTP         TOTPConfig
	EmailOTP     EmailOTPConfig
	Lockout      LockoutConfig
	SecondFactor SecondFactorConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures the access/refresh token pair. The two secrets are
// independent by contract: Validate rejects equal values so a leaked refresh
// secret never signs access tokens.
type TokenConfig struct {
	AccessSecret  []byte
	AccessTTL     time.Duration
	RefreshSecret []byte
	RefreshTTL    time.Duration
	Issuer        string
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// TOTPConfig configures authenticator-app verification.
type TOTPConfig struct {
	Issuer string
	Digits int
	// Period is the time-step size in seconds.
	Period int
	// Skew is the number of steps accepted on either side of the current
	// one. The default of 2 is wider than the usual ±1: clock drift on shop
	// floor terminals was the driver, and the enlarged replay window is an
	// accepted trade-off. Do not tighten without revisiting that decision.
	Skew uint
}

// EmailOTPConfig configures emailed one-time codes.
type EmailOTPConfig struct {
	Digits int
	// TTL is the validity horizon of a code from the moment of issuance.
	TTL     time.Duration
	Subject string
	// RedisPrefix namespaces the default Redis-backed code store.
	RedisPrefix string
}

// SecondFactorConfig holds lifecycle policy.
type SecondFactorConfig struct {
	// ReverifyOnDisable requires a valid code for the factor being removed
	// before DisableSecondFactor clears it. Off by default: disabling then
	// only needs an authenticated session.
	ReverifyOnDisable bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the per-identity attempt limiter.
type LockoutConfig struct {
	// MaxAttempts is the number of failed credential checks within Window
	// after which further attempts are rejected.
	MaxAttempts int
	Window      time.Duration
	RedisPrefix string
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the request path when the
	// buffer is saturated.
	DropIfFull bool
}

// MetricsConfig configures the in-process counters.
type MetricsConfig struct {
	Enabled                bool
	EnableLatencyHistogram bool
}

// DefaultConfig returns the configuration the Builder starts from. Token
// secrets are intentionally absent and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "erp-auth",
		},
		TOTP: TOTPConfig{
			Issuer: "ERP",
			Digits: 6,
			Period: 30,
			Skew:   2,
		},
		EmailOTP: EmailOTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			Subject:     "Your verification code",
			RedisPrefix: "eotp",
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Window:      time.Hour,
			RedisPrefix: "alf",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate reports the first configuration defect found.
func (c Config) Validate() error {
	if len(c.Token.AccessSecret) == 0 || len(c.Token.RefreshSecret) == 0 {
		return errors.New("token secrets must be provided")
	}
	if bytes.Equal(c.Token.AccessSecret, c.Token.RefreshSecret) {
		return errors.New("access and refresh secrets must be independent")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("refresh lifetime must exceed access lifetime")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.EmailOTP.Digits < 6 || c.EmailOTP.Digits > 10 {
		return errors.New("email otp digits must be between 6 and 10")
	}
	if c.EmailOTP.TTL <= 0 {
		return errors.New("email otp ttl must be positive")
	}
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("lockout max attempts must be positive")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("lockout window must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessSecret = cloneBytes(cfg.Token.AccessSecret)
	out.Token.RefreshSecret = cloneBytes(cfg.Token.RefreshSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
