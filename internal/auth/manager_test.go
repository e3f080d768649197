package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"torrentgate/internal/domain"
	"torrentgate/internal/repository/memory"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(memory.NewStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.Now = func() time.Time { return now }
	return m, &now
}

func TestRegisterAndAuthenticate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	user, err := m.Register(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordHash == "correct horse" {
		t.Fatal("password stored in clear")
	}

	if _, err := m.Register(ctx, "alice", "another pass"); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("duplicate register err = %v", err)
	}
	if _, err := m.Register(ctx, "bob", "short"); !errors.Is(err, domain.ErrWeakPassword) {
		t.Fatalf("weak password err = %v", err)
	}

	got, err := m.Authenticate(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated wrong user")
	}

	// Unknown usernames and wrong passwords fail identically.
	if _, err := m.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := m.Authenticate(ctx, "nobody", "whatever"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.BootstrapAdmin(ctx, "admin", "admin-password")
	if err != nil || !created {
		t.Fatalf("BootstrapAdmin = %v, %v", created, err)
	}
	user, err := m.Authenticate(ctx, "admin", "admin-password")
	if err != nil {
		t.Fatalf("Authenticate admin: %v", err)
	}
	if !user.IsAdmin {
		t.Fatal("bootstrapped user is not admin")
	}

	// Users already exist: bootstrap is a no-op.
	created, err = m.BootstrapAdmin(ctx, "admin2", "another-password")
	if err != nil || created {
		t.Fatalf("second BootstrapAdmin = %v, %v", created, err)
	}
}

func TestSessionTokenShape(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	user, _ := m.Register(ctx, "alice", "correct horse")

	sessionID, rememberID, err := m.CreateSession(ctx, user, "127.0.0.1", "test", true)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(sessionID) != TokenLength {
		t.Fatalf("session id length = %d, want %d", len(sessionID), TokenLength)
	}
	if len(rememberID) != TokenLength {
		t.Fatalf("remember id length = %d, want %d", len(rememberID), TokenLength)
	}
}

func TestResolveSessionSlidesExpiry(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()
	user, _ := m.Register(ctx, "alice", "correct horse")
	sessionID, _, err := m.CreateSession(ctx, user, "127.0.0.1", "test", false)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	created := *now

	*now = now.Add(2 * time.Minute)
	res, err := m.ResolveSession(ctx, sessionID, "", "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if res.Method != domain.AuthSession {
		t.Fatalf("method = %v", res.Method)
	}
	if res.NewSessionID != "" {
		t.Fatal("slide must not mint a new session")
	}
	want := now.Add(SlidingWindow)
	if !res.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", res.ExpiresAt, want)
	}

	// Sliding every few days keeps the session alive, but never past
	// created + MaxSessionAge.
	for day := 6; day <= 24; day += 6 {
		*now = created.AddDate(0, 0, day)
		res, err = m.ResolveSession(ctx, sessionID, "", "127.0.0.1", "test")
		if err != nil {
			t.Fatalf("ResolveSession at day %d: %v", day, err)
		}
	}
	if cap := created.Add(MaxSessionAge); !res.ExpiresAt.Equal(cap) {
		t.Fatalf("ExpiresAt = %v, want capped %v", res.ExpiresAt, cap)
	}
}

func TestResolveSessionRenewsFromRememberToken(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()
	user, _ := m.Register(ctx, "alice", "correct horse")
	sessionID, rememberID, err := m.CreateSession(ctx, user, "127.0.0.1", "test", true)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Past the sliding window the session is dead but the remember token
	// still valid: a new session is minted.
	*now = now.Add(SlidingWindow + time.Hour)
	res, err := m.ResolveSession(ctx, sessionID, rememberID, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if res.Method != domain.AuthRemember {
		t.Fatalf("method = %v", res.Method)
	}
	if res.NewSessionID == "" || res.NewSessionID == sessionID {
		t.Fatalf("expected fresh session id, got %q", res.NewSessionID)
	}
	if res.User.ID != user.ID {
		t.Fatal("renewed session belongs to wrong user")
	}

	// Without the remember token the expired session is simply rejected.
	if _, err := m.ResolveSession(ctx, sessionID, "", "127.0.0.1", "test"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expired session err = %v", err)
	}
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	user, _ := m.Register(ctx, "alice", "correct horse")
	sessionID, rememberID, _ := m.CreateSession(ctx, user, "127.0.0.1", "test", true)

	m.Logout(ctx, sessionID, rememberID)

	if _, err := m.ResolveSession(ctx, sessionID, rememberID, "127.0.0.1", "test"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("after logout err = %v", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()
	user, _ := m.Register(ctx, "alice", "correct horse")

	value, key, err := m.CreateAPIKey(ctx, user.ID, "ci", 0)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if len(value) != TokenLength {
		t.Fatalf("key length = %d", len(value))
	}
	if key.Prefix != value[:APIKeyPrefixLen] {
		t.Fatalf("prefix = %q", key.Prefix)
	}

	got, err := m.AuthenticateAPIKey(ctx, value)
	if err != nil {
		t.Fatalf("AuthenticateAPIKey: %v", err)
	}
	if got.ID != user.ID {
		t.Fatal("key authenticated wrong user")
	}

	keys, err := m.ListAPIKeys(ctx, user.ID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("ListAPIKeys = %v, %v", keys, err)
	}

	if err := m.RevokeAPIKey(ctx, user.ID, key.Prefix); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := m.AuthenticateAPIKey(ctx, value); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("revoked key err = %v", err)
	}

	// Expiring keys stop authenticating once past their deadline.
	value2, _, err := m.CreateAPIKey(ctx, user.ID, "short-lived", 1)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	*now = now.Add(48 * time.Hour)
	if _, err := m.AuthenticateAPIKey(ctx, value2); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expired key err = %v", err)
	}
}
