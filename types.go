package erpauth

import (
	"context"
	"time"
)

// Role is the closed set of roles the ERP recognizes. The engine never
// interprets a role beyond embedding it in access-token claims; per-operation
// authorization belongs to the caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// SecondFactorMethod identifies how a user proves the second factor.
type SecondFactorMethod string

const (
	// MethodNone means no second factor is configured.
	MethodNone SecondFactorMethod = "none"
	// MethodTOTP is an authenticator-app time-based code.
	MethodTOTP SecondFactorMethod = "totp"
	// MethodEmail is a short-lived numeric code delivered by email.
	MethodEmail SecondFactorMethod = "email"
)

// User is the account record the engine operates on. Invariant:
// SecondFactorEnabled is true only when SecondFactorMethod is set and, for
// MethodTOTP, a secret is present.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Role                Role
	SecondFactorEnabled bool
	SecondFactorMethod  SecondFactorMethod
	// TOTPSecret is the base32 shared secret; empty unless method is totp.
	TOTPSecret string
}

// EmailOTPRecord is one outstanding emailed code. The plaintext code is never
// persisted; deletion of the record is the consumption marker.
type EmailOTPRecord struct {
	ID        string
	UserID    string
	CodeHash  [32]byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserStore is the relational data-access interface the engine consumes for
// user records. Implementations must compare emails case-insensitively and
// must return ErrUserNotFound (possibly wrapped) for missing records so the
// engine can distinguish absence from infrastructure failure.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// SetSecondFactorMethod records the method (and TOTP secret, when
	// applicable) while leaving the enabled flag false.
	SetSecondFactorMethod(ctx context.Context, userID string, method SecondFactorMethod, totpSecret string) error
	// MarkSecondFactorVerified flips the enabled flag after the first
	// successful verification of the configured factor.
	MarkSecondFactorVerified(ctx context.Context, userID string) error
	// ClearSecondFactor resets the user to no second factor and discards any
	// stored TOTP secret.
	ClearSecondFactor(ctx context.Context, userID string) error
}

// OTPStore holds outstanding email codes. At most one live code per user is
// relied upon: ReplaceCode discards prior records for the user, ConsumeCode
// deletes on match.
type OTPStore interface {
	ReplaceCode(ctx context.Context, record EmailOTPRecord) error
	// ConsumeCode reports whether a non-expired record with the given hash
	// existed for the user, deleting it when it did.
	ConsumeCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error)
	PurgeCodes(ctx context.Context, userID string) error
}

// Mailer is the outbound-email collaborator. Send must not return nil unless
// the message was handed off for delivery.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LoginResult is returned by [Engine.LoginWithResult] and
// [Engine.LoginWithCode]. Either the token pair is populated, or
// SecondFactorRequired is set and the caller is expected to resubmit with a
// code.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	SecondFactorRequired bool
	Method               SecondFactorMethod
	UserID               string
}

// SecondFactorSetup is returned by [Engine.EnableSecondFactor]. For
// MethodTOTP it carries the enrollment material; for MethodEmail a first code
// has already been dispatched.
type SecondFactorSetup struct {
	Method SecondFactorMethod

	// Secret and URI are set only for MethodTOTP.
	Secret string
	URI    string
}
