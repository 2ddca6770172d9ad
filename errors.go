package erpauth

import "errors"

// The engine reports every caller-visible outcome through this closed set so
// boundaries can map errors to statuses without matching on message text.
var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password; the two are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned once the failed-attempt threshold has been
	// reached within the rolling window, regardless of credential
	// correctness.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrSecondFactorRequired is returned by [Engine.Login] when the account
	// needs a code; it is a distinct non-terminal outcome, not a failure.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrInvalidSecondFactorCode is returned for a wrong, expired, or
	// already-consumed code.
	ErrInvalidSecondFactorCode = errors.New("invalid second factor code")
	// ErrSecondFactorAlreadyConfigured is returned when enabling a factor on
	// an account that already has one enabled.
	ErrSecondFactorAlreadyConfigured = errors.New("second factor already configured")
	// ErrSecondFactorNotConfigured is returned when verifying or disabling a
	// factor the account does not have.
	ErrSecondFactorNotConfigured = errors.New("second factor not configured")
	// ErrUnsupportedSecondFactor is returned for a method outside the closed
	// enum.
	ErrUnsupportedSecondFactor = errors.New("unsupported second factor method")
	// ErrTokenInvalid covers signature, expiry, and shape failures of access
	// and refresh tokens, and refresh tokens whose subject no longer exists.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrEmailDeliveryFailed is returned when the mailer rejects the
	// dispatch; no code record is committed in that case.
	ErrEmailDeliveryFailed = errors.New("email delivery failed")
	// ErrUserNotFound is returned by store-backed operations that are keyed
	// by user id (never by the login path, which folds it into
	// ErrInvalidCredentials).
	ErrUserNotFound = errors.New("user not found")
	// ErrBackendUnavailable is the generic infrastructure failure (database,
	// cache); it is never conflated with ErrInvalidCredentials.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady indicates the engine was not built through [Builder].
	ErrEngineNotReady = errors.New("engine not initialized")
)
