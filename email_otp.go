package erpauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MartialMiranda/ERP-sub000/internal"
	"github.com/google/uuid"
)

// emailOTPManager issues and verifies the emailed one-time codes. Issuance
// sends before it persists: a code the user can never receive is never
// committed, and the previously outstanding code stays valid on a failed
// send.
type emailOTPManager struct {
	config EmailOTPConfig
	store  OTPStore
	mailer Mailer
}

func newEmailOTPManager(cfg EmailOTPConfig, store OTPStore, mailer Mailer) *emailOTPManager {
	return &emailOTPManager{
		config: cfg,
		store:  store,
		mailer: mailer,
	}
}

// Issue generates a fresh code, emails it, and replaces the user's
// outstanding code record. At most one code per user is live at any time.
func (m *emailOTPManager) Issue(ctx context.Context, user *User) error {
	if m.mailer == nil {
		return ErrEngineNotReady
	}

	code, err := internal.NewOTPCode(m.config.Digits)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(
		"Your verification code is %s. It expires in %d minutes.",
		code, int(m.config.TTL.Minutes()),
	)
	if err := m.mailer.Send(ctx, user.Email, m.config.Subject, body); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailDeliveryFailed, err)
	}

	now := time.Now()
	record := EmailOTPRecord{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CodeHash:  internal.HashCode(code),
		ExpiresAt: now.Add(m.config.TTL),
		CreatedAt: now,
	}

	if err := m.store.ReplaceCode(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return nil
}

// Verify consumes the user's outstanding code when it matches. Whitespace
// around the submitted code is forgiven; anything else must match exactly.
func (m *emailOTPManager) Verify(ctx context.Context, userID, code string) error {
	code = strings.TrimSpace(code)
	if len(code) != m.config.Digits || !isNumeric(code) {
		return ErrInvalidSecondFactorCode
	}

	ok, err := m.store.ConsumeCode(ctx, userID, internal.HashCode(code))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !ok {
		return ErrInvalidSecondFactorCode
	}

	return nil
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
