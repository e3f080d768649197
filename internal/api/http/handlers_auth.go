package apihttp

import (
	"net/http"
	"time"

	"torrentgate/internal/auth"
	"torrentgate/internal/domain"
)

type userResponse struct {
	ID         string `json:"user_id"`
	Username   string `json:"username"`
	IsAdmin    bool   `json:"is_admin"`
	AuthMethod string `json:"auth_method,omitempty"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Remember bool   `json:"remember_me"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sessionID, rememberID, err := s.auth.CreateSession(r.Context(), user, clientIP(r), r.UserAgent(), req.Remember)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	s.setSessionCookie(w, sessionID, now.Add(auth.SlidingWindow))
	if rememberID != "" {
		s.setRememberCookie(w, rememberID, now.Add(auth.RememberMaxAge))
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.auth.Logout(r.Context(), cookieValue(r, sessionCookie), cookieValue(r, rememberCookie))
	s.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := toUserResponse(userFrom(r.Context()))
	resp.AuthMethod = string(authMethodFrom(r.Context()))
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteAccount removes the authenticated user and everything they
// own via the store cascade.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())

	backends, err := s.store.ListBackends(r.Context(), user.ID, false)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.auth.DeleteAccount(r.Context(), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	for _, b := range backends {
		s.gateway.Factory.Invalidate(b.ID)
	}
	s.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type apiKeyResponse struct {
	Prefix     string     `json:"prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func toAPIKeyResponse(k domain.APIKey) apiKeyResponse {
	return apiKeyResponse{
		Prefix:     k.Prefix,
		Name:       k.Name,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		ExpiresAt:  k.ExpiresAt,
	}
}

func (s *Server) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	switch r.Method {
	case http.MethodGet:
		keys, err := s.auth.ListAPIKeys(r.Context(), user.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]apiKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, toAPIKeyResponse(k))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			ExpiresDays int    `json:"expires_days"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		value, key, err := s.auth.CreateAPIKey(r.Context(), user.ID, req.Name, req.ExpiresDays)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		// The full key value is returned only here.
		writeJSON(w, http.StatusCreated, struct {
			apiKeyResponse
			Key string `json:"api_key"`
		}{toAPIKeyResponse(key), value})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAPIKeyByPrefix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	prefix, _ := pathTail(r.URL.Path, "/auth/api-keys")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "key prefix is required")
		return
	}
	if err := s.auth.RevokeAPIKey(r.Context(), userFrom(r.Context()).ID, prefix); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
