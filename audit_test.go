package erpauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAuditLoginEventsReachSink(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 16

	client, _, closeRedis := newTestRedis(t)
	defer closeRedis()

	users := newMockUserStore()
	sink := NewChannelSink(16)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(users).
		WithMailer(&mockMailer{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	defer engine.Close()

	seedUser(t, engine, users, "u1", "alice@example.com", "correct-horse-1")

	ctx := WithClientIP(context.Background(), "10.1.2.3")

	if _, _, err := engine.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := engine.Login(ctx, "alice@example.com", "correct-horse-1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	failure := waitForEvent(t, sink, auditEventLoginFailure)
	if failure.Success || failure.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected failure event: %+v", failure)
	}
	if failure.IP != "10.1.2.3" {
		t.Fatalf("expected client ip on event, got %q", failure.IP)
	}

	success := waitForEvent(t, sink, auditEventLoginSuccess)
	if !success.Success || success.UserID != "u1" || success.Error != "" {
		t.Fatalf("unexpected success event: %+v", success)
	}
}

func waitForEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sink.Events():
			if event.EventType == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

type countingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *countingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *countingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink)

	const n = 40
	for i := 0; i < n; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: fmt.Sprintf("event_%d", i)})
	}
	d.Close()

	if got := sink.Count(); got != n {
		t.Fatalf("expected %d events after drain, got %d", n, got)
	}

	// Emit after Close is a silent no-op.
	d.Emit(context.Background(), AuditEvent{EventType: "late"})
	if got := sink.Count(); got != n {
		t.Fatalf("expected emit after close to be dropped, got %d", got)
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event may be in flight inside the sink and one in the buffer;
	// everything beyond that must drop rather than block.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "burst"})
	}

	if d.Dropped() == 0 {
		t.Fatal("expected drops with a saturated buffer")
	}

	close(sink.release)
	d.Close()
}

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}

	// Nil receivers are safe on the request path.
	d.Emit(context.Background(), AuditEvent{EventType: "noop"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventLoginSuccess,
		UserID:    "u1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventLoginFailure,
		Error:     string(auditErrInvalidCredentials),
	})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first AuditEvent
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if first.EventType != auditEventLoginSuccess || first.UserID != "u1" || !first.Success {
		t.Fatalf("unexpected first event: %+v", first)
	}
}

func TestAuditErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{ErrAccountLocked, auditErrAccountLocked},
		{ErrSecondFactorRequired, auditErrSecondFactorRequired},
		{fmt.Errorf("wrapped: %w", ErrInvalidSecondFactorCode), auditErrCodeInvalid},
		{ErrEmailDeliveryFailed, auditErrDeliveryFailed},
		{ErrBackendUnavailable, auditErrUnavailable},
		{errors.New("something else"), auditErrInternal},
	}

	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
