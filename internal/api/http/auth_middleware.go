package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"torrentgate/internal/domain"
)

const (
	sessionCookie  = "session"
	rememberCookie = "remember_me"
)

type contextKey int

const (
	userKey contextKey = iota
	authMethodKey
)

func userFrom(ctx context.Context) domain.User {
	u, _ := ctx.Value(userKey).(domain.User)
	return u
}

func authMethodFrom(ctx context.Context) domain.AuthMethod {
	m, _ := ctx.Value(authMethodKey).(domain.AuthMethod)
	return m
}

// requireAuth authenticates the request by API key bearer token or by
// session/remember cookies. A session renewed from a remember token is set
// on the response before the handler runs.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token := bearerToken(r); token != "" {
			user, err := s.auth.AuthenticateAPIKey(ctx, token)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			ctx = context.WithValue(ctx, userKey, user)
			ctx = context.WithValue(ctx, authMethodKey, domain.AuthAPIKey)
			next(w, r.WithContext(ctx))
			return
		}

		res, err := s.auth.ResolveSession(ctx, cookieValue(r, sessionCookie), cookieValue(r, rememberCookie), clientIP(r), r.UserAgent())
		if err != nil {
			if errors.Is(err, domain.ErrNotAuthenticated) {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			writeDomainError(w, err)
			return
		}
		if res.NewSessionID != "" {
			s.setSessionCookie(w, res.NewSessionID, res.ExpiresAt)
		}

		ctx = context.WithValue(ctx, userKey, res.User)
		ctx = context.WithValue(ctx, authMethodKey, res.Method)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setRememberCookie(w http.ResponseWriter, rememberID string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     rememberCookie,
		Value:    rememberID,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{sessionCookie, rememberCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
