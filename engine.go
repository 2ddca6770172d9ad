package erpauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MartialMiranda/ERP-sub000/password"
	"github.com/MartialMiranda/ERP-sub000/token"
)

// Engine is the authentication core: credential verification, second-factor
// challenges, token issuance, and the per-identity lockout. It is safe for
// concurrent use once built.
type Engine struct {
	config Config

	users  UserStore
	otps   OTPStore
	mailer Mailer

	limiter  *loginAttemptLimiter
	emailOTP *emailOTPManager
	totp     *totpManager
	tokens   *token.Issuer
	hasher   *password.Argon2

	// dummyHash is verified against when the account does not exist, keeping
	// the unknown-user and wrong-password paths the same shape.
	dummyHash string

	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkCredentials resolves the identity and verifies the password. The two
// failure modes (unknown email, wrong password) collapse into
// ErrInvalidCredentials and take the same code path; infrastructure failures
// surface as ErrBackendUnavailable and never count against the caller.
func (e *Engine) checkCredentials(ctx context.Context, email, pass string) (*User, error) {
	user, err := e.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = e.hasher.Verify(pass, e.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, ErrBackendUnavailable
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// HashPassword produces a stored-form hash for a new or changed password.
// Exposed so account-provisioning code outside the engine writes hashes in
// the same format Login verifies.
func (e *Engine) HashPassword(pass string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}
	return e.hasher.Hash(pass)
}

// VerifyAccessToken parses and validates an access token, returning its
// claims. Any defect maps to ErrTokenInvalid.
func (e *Engine) VerifyAccessToken(tokenStr string) (*token.AccessClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
