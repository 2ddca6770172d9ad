package erpauth

import (
	"context"
	"errors"
	"time"
)

// Login authenticates with email and password only. When the account carries
// a second factor it fails with ErrSecondFactorRequired and the caller must
// retry through LoginWithCode; for the email method a fresh code has already
// been dispatched by then.
func (e *Engine) Login(ctx context.Context, email, pass string) (string, string, error) {
	result, err := e.LoginWithResult(ctx, email, pass, "")
	if err != nil {
		return "", "", err
	}
	if result.SecondFactorRequired {
		return "", "", ErrSecondFactorRequired
	}
	return result.AccessToken, result.RefreshToken, nil
}

// LoginWithCode authenticates with email, password, and a second-factor code
// in a single call.
func (e *Engine) LoginWithCode(ctx context.Context, email, pass, code string) (string, string, error) {
	result, err := e.LoginWithResult(ctx, email, pass, code)
	if err != nil {
		return "", "", err
	}
	if result.SecondFactorRequired {
		return "", "", ErrSecondFactorRequired
	}
	return result.AccessToken, result.RefreshToken, nil
}

// LoginWithResult runs the full login sequence and reports the outcome as a
// [LoginResult]. With an empty code and a second-factor account the result
// carries SecondFactorRequired instead of tokens; every other non-token
// outcome is an error from the closed set.
func (e *Engine) LoginWithResult(ctx context.Context, email, pass, code string) (*LoginResult, error) {
	if e == nil || e.hasher == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricLoginLatency, time.Since(start))
		}()
	}

	identity := normalizeEmail(email)

	locked, err := e.limiter.Check(ctx, identity)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"identifier": identity,
			}
		})
		return nil, ErrAccountLocked
	}

	user, err := e.checkCredentials(ctx, identity, pass)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			return nil, ErrBackendUnavailable
		}
		nowLocked, recErr := e.limiter.RecordFailure(ctx, identity)
		if recErr != nil {
			return nil, ErrBackendUnavailable
		}
		if nowLocked {
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginLocked, false, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{
					"identifier": identity,
				}
			})
			return nil, ErrAccountLocked
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identity,
			}
		})
		return nil, ErrInvalidCredentials
	}
	pass = ""

	if err := e.limiter.RecordSuccess(ctx, identity); err != nil {
		return nil, ErrBackendUnavailable
	}

	method := user.SecondFactorMethod
	if method == "" {
		method = MethodNone
	}
	challenge := method != MethodNone

	if !challenge {
		return e.finishLogin(ctx, user)
	}

	if code == "" {
		if method == MethodEmail {
			if err := e.emailOTP.Issue(ctx, user); err != nil {
				e.metricInc(MetricOTPDeliveryFailed)
				e.emitAudit(ctx, auditEventOTPDeliveryFailed, false, user.ID, err, nil)
				if errors.Is(err, ErrEmailDeliveryFailed) {
					return nil, ErrEmailDeliveryFailed
				}
				return nil, ErrBackendUnavailable
			}
			e.metricInc(MetricOTPIssued)
			e.emitAudit(ctx, auditEventOTPIssued, true, user.ID, nil, nil)
		}
		e.metricInc(MetricSecondFactorChallenge)
		e.emitAudit(ctx, auditEventSecondFactorChallenge, true, user.ID, nil, func() map[string]string {
			return map[string]string{
				"method": string(method),
			}
		})
		return &LoginResult{
			SecondFactorRequired: true,
			Method:               method,
			UserID:               user.ID,
		}, nil
	}

	if err := e.verifySecondFactorCode(ctx, user, method, code); err != nil {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"method": string(method),
			}
		})
		return nil, err
	}

	if !user.SecondFactorEnabled {
		// First successful verification completes enrollment.
		if err := e.users.MarkSecondFactorVerified(ctx, user.ID); err != nil {
			return nil, ErrBackendUnavailable
		}
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"method": string(method),
		}
	})

	return e.finishLogin(ctx, user)
}

func (e *Engine) verifySecondFactorCode(ctx context.Context, user *User, method SecondFactorMethod, code string) error {
	switch method {
	case MethodTOTP:
		if user.TOTPSecret == "" {
			return ErrSecondFactorNotConfigured
		}
		ok, err := e.totp.Verify(user.TOTPSecret, code, time.Now())
		if err != nil || !ok {
			return ErrInvalidSecondFactorCode
		}
		return nil
	case MethodEmail:
		return e.emailOTP.Verify(ctx, user.ID, code)
	default:
		return ErrUnsupportedSecondFactor
	}
}

func (e *Engine) finishLogin(ctx context.Context, user *User) (*LoginResult, error) {
	access, err := e.tokens.IssueAccess(user.ID, user.Email, string(user.Role))
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"reason": "issue_access_failed",
			}
		})
		return nil, err
	}

	refresh, err := e.tokens.IssueRefresh(user.ID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"reason": "issue_refresh_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, nil, nil)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Method:       user.SecondFactorMethod,
		UserID:       user.ID,
	}, nil
}

// Refresh exchanges a valid refresh token for a fresh access token. The
// subject is re-fetched so a deleted account stops refreshing immediately and
// role or email changes land in the next access token.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}

	userID, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "parse_failed",
			}
		})
		return "", ErrTokenInvalid
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshFailure, false, userID, ErrTokenInvalid, func() map[string]string {
				return map[string]string{
					"reason": "subject_gone",
				}
			})
			return "", ErrTokenInvalid
		}
		return "", ErrBackendUnavailable
	}

	access, err := e.tokens.IssueAccess(user.ID, user.Email, string(user.Role))
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, user.ID, err, nil)
		return "", err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, nil, nil)

	return access, nil
}
