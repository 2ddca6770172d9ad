//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	erpauth "github.com/MartialMiranda/ERP-sub000"
	"github.com/MartialMiranda/ERP-sub000/internal"
)

func newTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	return s, pool.Close
}

func TestPostgresUserLifecycle(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	email := "pgtest-" + time.Now().Format("20060102150405.000") + "@example.com"

	id, err := s.CreateUser(ctx, email, "$argon2id$placeholder", erpauth.RoleEmployee)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if user.ID != id || user.SecondFactorMethod != erpauth.MethodNone {
		t.Fatalf("unexpected user: %+v", user)
	}

	if err := s.SetSecondFactorMethod(ctx, id, erpauth.MethodTOTP, "JBSWY3DPEHPK3PXP"); err != nil {
		t.Fatalf("set method: %v", err)
	}
	user, err = s.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if user.SecondFactorMethod != erpauth.MethodTOTP || user.SecondFactorEnabled {
		t.Fatalf("expected pending totp, got %+v", user)
	}

	if err := s.MarkSecondFactorVerified(ctx, id); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	user, _ = s.GetUserByID(ctx, id)
	if !user.SecondFactorEnabled {
		t.Fatal("expected enabled after verification")
	}

	if err := s.ClearSecondFactor(ctx, id); err != nil {
		t.Fatalf("clear: %v", err)
	}
	user, _ = s.GetUserByID(ctx, id)
	if user.SecondFactorEnabled || user.SecondFactorMethod != erpauth.MethodNone || user.TOTPSecret != "" {
		t.Fatalf("expected cleared, got %+v", user)
	}
}

func TestPostgresUnknownUser(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, erpauth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestPostgresOTPConsumeOnce(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	email := "pgotp-" + time.Now().Format("20060102150405.000") + "@example.com"
	id, err := s.CreateUser(ctx, email, "$argon2id$placeholder", erpauth.RoleEmployee)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	hash := internal.HashCode("123456")
	record := erpauth.EmailOTPRecord{
		ID:        uuid.NewString(),
		UserID:    id,
		CodeHash:  hash,
		ExpiresAt: time.Now().Add(time.Minute),
		CreatedAt: time.Now(),
	}
	if err := s.ReplaceCode(ctx, record); err != nil {
		t.Fatalf("replace: %v", err)
	}

	ok, err := s.ConsumeCode(ctx, id, hash)
	if err != nil || !ok {
		t.Fatalf("expected consume, got ok=%v err=%v", ok, err)
	}
	ok, err = s.ConsumeCode(ctx, id, hash)
	if err != nil || ok {
		t.Fatalf("expected spent, got ok=%v err=%v", ok, err)
	}
}
