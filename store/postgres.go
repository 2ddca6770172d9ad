// Package store provides the PostgreSQL implementation of the engine's
// UserStore and OTPStore interfaces, backed by a pgx connection pool.
package store

import (
	"context"
	"errors"
	"fmt"

	erpauth "github.com/MartialMiranda/ERP-sub000"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS auth_users (
    id                    UUID PRIMARY KEY,
    email                 TEXT NOT NULL UNIQUE,
    password_hash         TEXT NOT NULL,
    role                  TEXT NOT NULL,
    second_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    second_factor_method  TEXT NOT NULL DEFAULT 'none',
    totp_secret           TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS auth_email_otps (
    id         UUID PRIMARY KEY,
    user_id    UUID NOT NULL REFERENCES auth_users(id) ON DELETE CASCADE,
    code_hash  BYTEA NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id)
);
`

// PostgresStore persists users and outstanding email codes in PostgreSQL. It
// satisfies both erpauth.UserStore and erpauth.OTPStore, so a deployment
// without Redis can run everything on one database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the auth tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate auth schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new account and returns its generated ID. The email
// must be unique; a duplicate surfaces the constraint violation unchanged so
// callers can map it to a conflict.
func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string, role erpauth.Role) (string, error) {
	id := uuid.NewString()

	query := `
        INSERT INTO auth_users (id, email, password_hash, role)
        VALUES ($1, lower($2), $3, $4)
    `
	if _, err := s.db.Exec(ctx, query, id, email, passwordHash, string(role)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", err
		}
		return "", fmt.Errorf("insert user: %w", err)
	}

	return id, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*erpauth.User, error) {
	return s.getUser(ctx, `
        SELECT id, email, password_hash, role,
               second_factor_enabled, second_factor_method, totp_secret
        FROM auth_users
        WHERE email = lower($1)
    `, email)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*erpauth.User, error) {
	return s.getUser(ctx, `
        SELECT id, email, password_hash, role,
               second_factor_enabled, second_factor_method, totp_secret
        FROM auth_users
        WHERE id = $1
    `, id)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*erpauth.User, error) {
	var (
		user   erpauth.User
		role   string
		method string
	)

	err := s.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.SecondFactorEnabled,
		&method,
		&user.TOTPSecret,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, erpauth.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	user.Role = erpauth.Role(role)
	user.SecondFactorMethod = erpauth.SecondFactorMethod(method)

	return &user, nil
}

func (s *PostgresStore) SetSecondFactorMethod(ctx context.Context, userID string, method erpauth.SecondFactorMethod, totpSecret string) error {
	query := `
        UPDATE auth_users
        SET second_factor_method = $2,
            totp_secret = $3,
            second_factor_enabled = FALSE,
            updated_at = now()
        WHERE id = $1
    `
	tag, err := s.db.Exec(ctx, query, userID, string(method), totpSecret)
	if err != nil {
		return fmt.Errorf("set second factor method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return erpauth.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) MarkSecondFactorVerified(ctx context.Context, userID string) error {
	query := `
        UPDATE auth_users
        SET second_factor_enabled = TRUE,
            updated_at = now()
        WHERE id = $1 AND second_factor_method <> 'none'
    `
	tag, err := s.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("mark second factor verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return erpauth.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) ClearSecondFactor(ctx context.Context, userID string) error {
	query := `
        UPDATE auth_users
        SET second_factor_enabled = FALSE,
            second_factor_method = 'none',
            totp_secret = '',
            updated_at = now()
        WHERE id = $1
    `
	tag, err := s.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("clear second factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return erpauth.ErrUserNotFound
	}
	return nil
}

// ReplaceCode upserts the user's single outstanding code record.
func (s *PostgresStore) ReplaceCode(ctx context.Context, record erpauth.EmailOTPRecord) error {
	query := `
        INSERT INTO auth_email_otps (id, user_id, code_hash, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id) DO UPDATE
        SET id = EXCLUDED.id,
            code_hash = EXCLUDED.code_hash,
            expires_at = EXCLUDED.expires_at,
            created_at = EXCLUDED.created_at
    `
	_, err := s.db.Exec(ctx, query,
		record.ID,
		record.UserID,
		record.CodeHash[:],
		record.ExpiresAt,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("replace otp code: %w", err)
	}
	return nil
}

// ConsumeCode deletes the matching live record in a single conditional
// DELETE, so concurrent submissions of the same code spend it once.
func (s *PostgresStore) ConsumeCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error) {
	query := `
        DELETE FROM auth_email_otps
        WHERE user_id = $1 AND code_hash = $2 AND expires_at > now()
    `
	tag, err := s.db.Exec(ctx, query, userID, codeHash[:])
	if err != nil {
		return false, fmt.Errorf("consume otp code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) PurgeCodes(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM auth_email_otps WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("purge otp codes: %w", err)
	}
	return nil
}
