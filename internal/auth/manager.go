package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
)

const (
	SlidingWindow  = 7 * 24 * time.Hour
	MaxSessionAge  = 30 * 24 * time.Hour
	RememberMaxAge = 90 * 24 * time.Hour

	// Sessions slide at most once per minute to avoid a store write on
	// every request.
	slideInterval = time.Minute

	TokenLength     = 64
	APIKeyPrefixLen = 8

	minPasswordLen = 8
)

// Store is the persistence surface the manager needs.
type Store interface {
	ports.UserStore
	ports.SessionStore
	ports.RememberTokenStore
	ports.APIKeyStore
}

// Manager owns users, sessions, remember-me tokens and API keys.
type Manager struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{Store: store, Logger: logger, Now: time.Now}
}

// newToken returns a 64-char URL-safe opaque token.
func newToken() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (m *Manager) Register(ctx context.Context, username, password string) (domain.User, error) {
	if username == "" {
		return domain.User{}, fmt.Errorf("%w: username is required", domain.ErrBadRequest)
	}
	if len(password) < minPasswordLen {
		return domain.User{}, domain.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	id, err := newID()
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		ID:           id,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    m.Now().UTC(),
	}
	if err := m.Store.CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}

	m.Logger.Info("user created", slog.String("username", username), slog.String("userId", id))
	return user, nil
}

// Authenticate verifies a username/password pair. Failures are uniformly
// domain.ErrInvalidCredentials so callers cannot probe for usernames.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	user, err := m.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.Logger.Warn("authentication failed", slog.String("username", username))
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		m.Logger.Warn("authentication failed", slog.String("username", username))
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}

// BootstrapAdmin creates the initial admin account when the user table is
// empty. Returns false when users already exist.
func (m *Manager) BootstrapAdmin(ctx context.Context, username, password string) (bool, error) {
	count, err := m.Store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	if len(password) < minPasswordLen {
		return false, domain.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	id, err := newID()
	if err != nil {
		return false, err
	}
	user := domain.User{
		ID:           id,
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      true,
		CreatedAt:    m.Now().UTC(),
	}
	if err := m.Store.CreateUser(ctx, user); err != nil {
		return false, err
	}
	m.Logger.Info("bootstrapped admin user", slog.String("username", username))
	return true, nil
}

// CreateSession mints a session and, when remember is set, a remember-me
// token alongside it.
func (m *Manager) CreateSession(ctx context.Context, user domain.User, ip, ua string, remember bool) (string, string, error) {
	sessionID, err := newToken()
	if err != nil {
		return "", "", err
	}
	now := m.Now().UTC()

	session := domain.Session{
		ID:           sessionID,
		UserID:       user.ID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(SlidingWindow),
		IP:           ip,
		UserAgent:    ua,
	}
	if err := m.Store.CreateSession(ctx, session); err != nil {
		return "", "", err
	}
	m.Logger.Info("session created",
		slog.String("session", sessionID[:8]),
		slog.String("userId", user.ID),
	)

	var rememberID string
	if remember {
		rememberID, err = newToken()
		if err != nil {
			return "", "", err
		}
		token := domain.RememberToken{
			ID:        rememberID,
			UserID:    user.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(RememberMaxAge),
			IP:        ip,
			UserAgent: ua,
		}
		if err := m.Store.CreateRememberToken(ctx, token); err != nil {
			return "", "", err
		}
		m.Logger.Info("remember token created",
			slog.String("token", rememberID[:8]),
			slog.String("userId", user.ID),
		)
	}

	return sessionID, rememberID, nil
}

// Resolution reports how a request authenticated and whether a fresh
// session was minted from a remember token.
type Resolution struct {
	User         domain.User
	Method       domain.AuthMethod
	NewSessionID string
	ExpiresAt    time.Time
}

// ResolveSession validates the session cookie, sliding its expiry forward
// when active. When the session is missing or expired but the remember
// token is valid, a fresh session is minted for the same user.
func (m *Manager) ResolveSession(ctx context.Context, sessionID, rememberID, ip, ua string) (Resolution, error) {
	now := m.Now().UTC()

	if sessionID != "" {
		session, err := m.Store.GetSession(ctx, sessionID)
		switch {
		case err == nil && !session.Expired(now):
			if now.Sub(session.LastActivity) >= slideInterval {
				session.LastActivity = now
				session.ExpiresAt = minTime(now.Add(SlidingWindow), session.CreatedAt.Add(MaxSessionAge))
				if err := m.Store.UpdateSession(ctx, session); err != nil {
					return Resolution{}, err
				}
			}
			user, err := m.Store.GetUser(ctx, session.UserID)
			if err != nil {
				return Resolution{}, domain.ErrNotAuthenticated
			}
			return Resolution{User: user, Method: domain.AuthSession, ExpiresAt: session.ExpiresAt}, nil
		case err == nil:
			// Expired: remove so the remember path below can renew.
			_ = m.Store.DeleteSession(ctx, sessionID)
		case !errors.Is(err, domain.ErrNotFound):
			return Resolution{}, err
		}
	}

	if rememberID != "" {
		token, err := m.Store.GetRememberToken(ctx, rememberID)
		if err == nil && token.Valid(now) {
			user, err := m.Store.GetUser(ctx, token.UserID)
			if err != nil {
				return Resolution{}, domain.ErrNotAuthenticated
			}
			newID, _, err := m.CreateSession(ctx, user, ip, ua, false)
			if err != nil {
				return Resolution{}, err
			}
			m.Logger.Info("session renewed from remember token",
				slog.String("token", rememberID[:8]),
				slog.String("userId", user.ID),
			)
			return Resolution{
				User:         user,
				Method:       domain.AuthRemember,
				NewSessionID: newID,
				ExpiresAt:    now.Add(SlidingWindow),
			}, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Resolution{}, err
		}
	}

	return Resolution{}, domain.ErrNotAuthenticated
}

// Logout deletes the session and revokes the presented remember token.
func (m *Manager) Logout(ctx context.Context, sessionID, rememberID string) {
	if sessionID != "" {
		if err := m.Store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.Logger.Warn("session delete failed", slog.String("error", err.Error()))
		}
	}
	if rememberID != "" {
		if err := m.Store.RevokeRememberToken(ctx, rememberID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.Logger.Warn("remember token revoke failed", slog.String("error", err.Error()))
		}
	}
}

// DeleteAccount removes the user; the store cascades the deletion to every
// credential and record they own.
func (m *Manager) DeleteAccount(ctx context.Context, userID string) error {
	if err := m.Store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	m.Logger.Info("account deleted", slog.String("userId", userID))
	return nil
}

// CreateAPIKey mints a key. The full value is returned exactly once;
// listings show only the 8-char prefix.
func (m *Manager) CreateAPIKey(ctx context.Context, userID, name string, expiresDays int) (string, domain.APIKey, error) {
	if name == "" {
		return "", domain.APIKey{}, fmt.Errorf("%w: key name is required", domain.ErrBadRequest)
	}
	value, err := newToken()
	if err != nil {
		return "", domain.APIKey{}, err
	}
	now := m.Now().UTC()

	key := domain.APIKey{
		Key:       value,
		Prefix:    value[:APIKeyPrefixLen],
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
	}
	if expiresDays > 0 {
		exp := now.Add(time.Duration(expiresDays) * 24 * time.Hour)
		key.ExpiresAt = &exp
	}
	if err := m.Store.CreateAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}

	m.Logger.Info("api key created",
		slog.String("prefix", key.Prefix),
		slog.String("name", name),
		slog.String("userId", userID),
	)
	return value, key, nil
}

// AuthenticateAPIKey validates a bearer value and stamps last_used_at.
func (m *Manager) AuthenticateAPIKey(ctx context.Context, value string) (domain.User, error) {
	key, err := m.Store.GetAPIKeyByValue(ctx, value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrNotAuthenticated
		}
		return domain.User{}, err
	}
	now := m.Now().UTC()
	if !key.Valid(now) {
		m.Logger.Info("api key rejected", slog.String("prefix", key.Prefix))
		return domain.User{}, domain.ErrNotAuthenticated
	}

	key.LastUsedAt = &now
	if err := m.Store.UpdateAPIKey(ctx, key); err != nil {
		m.Logger.Warn("api key last-used update failed", slog.String("error", err.Error()))
	}

	user, err := m.Store.GetUser(ctx, key.UserID)
	if err != nil {
		return domain.User{}, domain.ErrNotAuthenticated
	}
	return user, nil
}

func (m *Manager) RevokeAPIKey(ctx context.Context, userID, prefix string) error {
	key, err := m.Store.GetAPIKeyByPrefix(ctx, userID, prefix)
	if err != nil {
		return err
	}
	key.Revoked = true
	if err := m.Store.UpdateAPIKey(ctx, key); err != nil {
		return err
	}
	m.Logger.Info("api key revoked", slog.String("prefix", prefix))
	return nil
}

func (m *Manager) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return m.Store.ListAPIKeys(ctx, userID, false)
}

// CleanupExpired removes expired sessions, remember tokens and API keys.
// Called periodically by the maintenance scheduler.
func (m *Manager) CleanupExpired(ctx context.Context) {
	now := m.Now().UTC()
	if n, err := m.Store.DeleteExpiredSessions(ctx, now); err != nil {
		m.Logger.Warn("session cleanup failed", slog.String("error", err.Error()))
	} else if n > 0 {
		m.Logger.Info("cleaned up expired sessions", slog.Int64("count", n))
	}
	if n, err := m.Store.DeleteExpiredRememberTokens(ctx, now); err != nil {
		m.Logger.Warn("remember token cleanup failed", slog.String("error", err.Error()))
	} else if n > 0 {
		m.Logger.Info("cleaned up expired remember tokens", slog.Int64("count", n))
	}
	if n, err := m.Store.DeleteExpiredAPIKeys(ctx, now); err != nil {
		m.Logger.Warn("api key cleanup failed", slog.String("error", err.Error()))
	} else if n > 0 {
		m.Logger.Info("cleaned up expired api keys", slog.Int64("count", n))
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
