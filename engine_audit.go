package erpauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventSecondFactorChallenge = "second_factor_challenge"
	auditEventSecondFactorSuccess   = "second_factor_success"
	auditEventSecondFactorFailure   = "second_factor_failure"
	auditEventSecondFactorEnabled   = "second_factor_enabled"
	auditEventSecondFactorDisabled  = "second_factor_disabled"
	auditEventOTPIssued             = "otp_issued"
	auditEventOTPDeliveryFailed     = "otp_delivery_failed"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshFailure        = "refresh_failure"
)

// AuditErrorCode is the stable identifier carried in AuditEvent.Error; sinks
// should key on it rather than on error strings.
type AuditErrorCode string

const (
	auditErrInvalidCredentials   AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked        AuditErrorCode = "account_locked"
	auditErrSecondFactorRequired AuditErrorCode = "second_factor_required"
	auditErrCodeInvalid          AuditErrorCode = "second_factor_code_invalid"
	auditErrAlreadyConfigured    AuditErrorCode = "second_factor_already_configured"
	auditErrNotConfigured        AuditErrorCode = "second_factor_not_configured"
	auditErrUnsupportedMethod    AuditErrorCode = "second_factor_unsupported"
	auditErrInvalidToken         AuditErrorCode = "invalid_token"
	auditErrDeliveryFailed       AuditErrorCode = "email_delivery_failed"
	auditErrUserNotFound         AuditErrorCode = "user_not_found"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrSecondFactorRequired):
		return auditErrSecondFactorRequired
	case errors.Is(err, ErrInvalidSecondFactorCode):
		return auditErrCodeInvalid
	case errors.Is(err, ErrSecondFactorAlreadyConfigured):
		return auditErrAlreadyConfigured
	case errors.Is(err, ErrSecondFactorNotConfigured):
		return auditErrNotConfigured
	case errors.Is(err, ErrUnsupportedSecondFactor):
		return auditErrUnsupportedMethod
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrEmailDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
