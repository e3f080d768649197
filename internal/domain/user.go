package domain

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Session is an opaque-token login. ExpiresAt slides forward on activity but
// never passes CreatedAt plus the maximum session age.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	IP           string
	UserAgent    string
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

type RememberToken struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
	Revoked   bool
}

func (t RememberToken) Valid(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// APIKey stores the full bearer value once so lookup by the complete token
// works; listings expose only Prefix.
type APIKey struct {
	Key        string
	Prefix     string
	UserID     string
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	Revoked    bool
}

func (k APIKey) Valid(now time.Time) bool {
	if k.Revoked {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AuthMethod reports how a request was authenticated.
type AuthMethod string

const (
	AuthSession  AuthMethod = "session"
	AuthRemember AuthMethod = "remember"
	AuthAPIKey   AuthMethod = "api_key"
)
