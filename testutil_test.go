package erpauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessSecret = []byte("access-secret-for-tests-0123456789")
	cfg.Token.RefreshSecret = []byte("refresh-secret-for-tests-987654321")
	cfg.Lockout.MaxAttempts = 3
	cfg.Lockout.Window = time.Hour
	cfg.Audit.Enabled = false
	return cfg
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return client, mr, func() {
		_ = client.Close()
		mr.Close()
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mockUserStore, *mockMailer, *miniredis.Miniredis, func()) {
	t.Helper()

	client, mr, closeRedis := newTestRedis(t)

	users := newMockUserStore()
	mailer := &mockMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(users).
		WithMailer(mailer).
		Build()
	if err != nil {
		closeRedis()
		t.Fatalf("engine build failed: %v", err)
	}

	return engine, users, mailer, mr, func() {
		engine.Close()
		closeRedis()
	}
}

func seedUser(t *testing.T, engine *Engine, users *mockUserStore, id, email, pass string) *User {
	t.Helper()

	hash, err := engine.HashPassword(pass)
	if err != nil {
		t.Fatalf("hash password failed: %v", err)
	}

	user := &User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleEmployee,
	}
	users.Put(user)
	return user
}

// ---------------------------------------------------------------------------
// Mock user store
// ---------------------------------------------------------------------------

type mockUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string

	failWith error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *mockUserStore) Put(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.byID[u.ID] = &cp
	s.byEmail[strings.ToLower(u.Email)] = u.ID
}

func (s *mockUserStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		delete(s.byEmail, strings.ToLower(u.Email))
		delete(s.byID, id)
	}
}

func (s *mockUserStore) Get(id string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.byID[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (s *mockUserStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *mockUserStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *mockUserStore) SetSecondFactorMethod(_ context.Context, userID string, method SecondFactorMethod, totpSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.SecondFactorMethod = method
	u.TOTPSecret = totpSecret
	u.SecondFactorEnabled = false
	return nil
}

func (s *mockUserStore) MarkSecondFactorVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.SecondFactorEnabled = true
	return nil
}

func (s *mockUserStore) ClearSecondFactor(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.SecondFactorEnabled = false
	u.SecondFactorMethod = MethodNone
	u.TOTPSecret = ""
	return nil
}

// ---------------------------------------------------------------------------
// Mock mailer
// ---------------------------------------------------------------------------

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type mockMailer struct {
	mu       sync.Mutex
	sent     []sentMail
	failWith error
}

func (m *mockMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *mockMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockMailer) Last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

// lastCode digs the numeric code out of the most recent mail body.
func (m *mockMailer) lastCode(t *testing.T, digits int) string {
	t.Helper()
	body := m.Last(t).Body

	for i := 0; i+digits <= len(body); i++ {
		candidate := body[i : i+digits]
		if isNumeric(candidate) {
			if i+digits == len(body) || body[i+digits] < '0' || body[i+digits] > '9' {
				return candidate
			}
		}
	}
	t.Fatalf("no %d-digit code found in mail body: %q", digits, body)
	return ""
}

var errBackendDown = errors.New("backend down")
