package erpauth

import (
	"context"
	"errors"
)

// EnableSecondFactor starts second-factor enrollment for an authenticated
// user. The method stays pending (challenged at login but not marked enabled)
// until the first successful verification, either through
// VerifySecondFactorSetup or a completed login.
//
// For MethodTOTP the returned setup carries the shared secret and otpauth
// URI. For MethodEmail a first code is dispatched before anything is
// persisted, so a dead mailbox never leaves the account half-enrolled.
func (e *Engine) EnableSecondFactor(ctx context.Context, userID string, method SecondFactorMethod) (*SecondFactorSetup, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, ErrBackendUnavailable
	}
	if user.SecondFactorEnabled {
		return nil, ErrSecondFactorAlreadyConfigured
	}

	switch method {
	case MethodTOTP:
		secret, uri, err := e.totp.GenerateSecret(user.Email)
		if err != nil {
			return nil, err
		}
		if err := e.users.SetSecondFactorMethod(ctx, user.ID, MethodTOTP, secret); err != nil {
			return nil, ErrBackendUnavailable
		}
		e.metricInc(MetricSecondFactorEnabled)
		e.emitAudit(ctx, auditEventSecondFactorEnabled, true, user.ID, nil, func() map[string]string {
			return map[string]string{
				"method": string(MethodTOTP),
			}
		})
		return &SecondFactorSetup{
			Method: MethodTOTP,
			Secret: secret,
			URI:    uri,
		}, nil

	case MethodEmail:
		if e.mailer == nil {
			return nil, ErrEngineNotReady
		}
		if err := e.emailOTP.Issue(ctx, user); err != nil {
			e.metricInc(MetricOTPDeliveryFailed)
			e.emitAudit(ctx, auditEventOTPDeliveryFailed, false, user.ID, err, nil)
			if errors.Is(err, ErrEmailDeliveryFailed) {
				return nil, ErrEmailDeliveryFailed
			}
			return nil, ErrBackendUnavailable
		}
		if err := e.users.SetSecondFactorMethod(ctx, user.ID, MethodEmail, ""); err != nil {
			return nil, ErrBackendUnavailable
		}
		e.metricInc(MetricOTPIssued)
		e.metricInc(MetricSecondFactorEnabled)
		e.emitAudit(ctx, auditEventSecondFactorEnabled, true, user.ID, nil, func() map[string]string {
			return map[string]string{
				"method": string(MethodEmail),
			}
		})
		return &SecondFactorSetup{Method: MethodEmail}, nil

	default:
		return nil, ErrUnsupportedSecondFactor
	}
}

// VerifySecondFactorSetup completes enrollment by proving possession of the
// pending factor: the current authenticator code for TOTP, the mailed code
// for email.
func (e *Engine) VerifySecondFactorSetup(ctx context.Context, userID, code string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return ErrBackendUnavailable
	}
	if user.SecondFactorMethod == "" || user.SecondFactorMethod == MethodNone {
		return ErrSecondFactorNotConfigured
	}

	if err := e.verifySecondFactorCode(ctx, user, user.SecondFactorMethod, code); err != nil {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"method": string(user.SecondFactorMethod),
				"phase":  "setup",
			}
		})
		return err
	}

	if !user.SecondFactorEnabled {
		if err := e.users.MarkSecondFactorVerified(ctx, user.ID); err != nil {
			return ErrBackendUnavailable
		}
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"method": string(user.SecondFactorMethod),
			"phase":  "setup",
		}
	})

	return nil
}

// ResendSecondFactorCode dispatches a fresh email code for a user whose
// configured method is email, replacing any outstanding code.
func (e *Engine) ResendSecondFactorCode(ctx context.Context, userID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return ErrBackendUnavailable
	}
	if user.SecondFactorMethod != MethodEmail {
		return ErrSecondFactorNotConfigured
	}

	if err := e.emailOTP.Issue(ctx, user); err != nil {
		e.metricInc(MetricOTPDeliveryFailed)
		e.emitAudit(ctx, auditEventOTPDeliveryFailed, false, user.ID, err, nil)
		if errors.Is(err, ErrEmailDeliveryFailed) {
			return ErrEmailDeliveryFailed
		}
		return ErrBackendUnavailable
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, user.ID, nil, nil)

	return nil
}

// DisableSecondFactor removes the user's second factor and discards any
// stored secret and outstanding codes. When the engine is configured with
// SecondFactor.ReverifyOnDisable, a valid code for the factor being removed
// must accompany the call; an empty code then returns
// ErrSecondFactorRequired (dispatching a fresh code first when the method is
// email).
func (e *Engine) DisableSecondFactor(ctx context.Context, userID, code string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return ErrBackendUnavailable
	}
	if user.SecondFactorMethod == "" || user.SecondFactorMethod == MethodNone {
		return ErrSecondFactorNotConfigured
	}

	if e.config.SecondFactor.ReverifyOnDisable {
		if code == "" {
			if user.SecondFactorMethod == MethodEmail {
				if err := e.emailOTP.Issue(ctx, user); err != nil {
					e.metricInc(MetricOTPDeliveryFailed)
					e.emitAudit(ctx, auditEventOTPDeliveryFailed, false, user.ID, err, nil)
					if errors.Is(err, ErrEmailDeliveryFailed) {
						return ErrEmailDeliveryFailed
					}
					return ErrBackendUnavailable
				}
				e.metricInc(MetricOTPIssued)
				e.emitAudit(ctx, auditEventOTPIssued, true, user.ID, nil, nil)
			}
			return ErrSecondFactorRequired
		}
		if err := e.verifySecondFactorCode(ctx, user, user.SecondFactorMethod, code); err != nil {
			e.metricInc(MetricSecondFactorFailure)
			e.emitAudit(ctx, auditEventSecondFactorFailure, false, user.ID, err, func() map[string]string {
				return map[string]string{
					"method": string(user.SecondFactorMethod),
					"phase":  "disable",
				}
			})
			return err
		}
	}

	if err := e.users.ClearSecondFactor(ctx, user.ID); err != nil {
		return ErrBackendUnavailable
	}
	if user.SecondFactorMethod == MethodEmail {
		// Outstanding codes are dead once the factor is gone.
		if err := e.otps.PurgeCodes(ctx, user.ID); err != nil {
			return ErrBackendUnavailable
		}
	}

	e.metricInc(MetricSecondFactorDisabled)
	e.emitAudit(ctx, auditEventSecondFactorDisabled, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"method": string(user.SecondFactorMethod),
		}
	})

	return nil
}

// SecondFactorStatus reports the configured method and whether it has been
// verified at least once.
func (e *Engine) SecondFactorStatus(ctx context.Context, userID string) (SecondFactorMethod, bool, error) {
	if e == nil || e.users == nil {
		return MethodNone, false, ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return MethodNone, false, ErrUserNotFound
		}
		return MethodNone, false, ErrBackendUnavailable
	}

	method := user.SecondFactorMethod
	if method == "" {
		method = MethodNone
	}

	return method, user.SecondFactorEnabled, nil
}
