package apihttp

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"torrentgate/internal/domain"
)

type serverAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type httpDownloadRequest struct {
	Enabled bool               `json:"enabled"`
	Host    string             `json:"host"`
	Port    int                `json:"port"`
	Path    string             `json:"path"`
	UseSSL  bool               `json:"use_ssl"`
	Auth    *serverAuthRequest `json:"auth,omitempty"`
}

type autoDownloadRequest struct {
	Enabled           bool   `json:"enabled"`
	LocalPath         string `json:"local_path"`
	DeleteRemoteAfter bool   `json:"delete_remote_after"`
}

type sshRequest struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	User    string `json:"user"`
	KeyPath string `json:"key_path"`
}

type serverRequest struct {
	Name         string               `json:"name"`
	Kind         string               `json:"server_type"`
	Host         string               `json:"host"`
	Port         int                  `json:"port"`
	RPCPath      string               `json:"rpc_path"`
	UseSSL       bool                 `json:"use_ssl"`
	Auth         *serverAuthRequest   `json:"auth,omitempty"`
	Enabled      *bool                `json:"enabled,omitempty"`
	IsDefault    bool                 `json:"is_default"`
	DownloadDir  string               `json:"download_dir"`
	MountPath    string               `json:"mount_path"`
	HTTPDownload *httpDownloadRequest `json:"http_download,omitempty"`
	AutoDownload *autoDownloadRequest `json:"auto_download,omitempty"`
	SSH          *sshRequest          `json:"ssh,omitempty"`
}

// serverResponse never echoes credentials back.
type serverResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        string    `json:"server_type"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	RPCPath     string    `json:"rpc_path,omitempty"`
	UseSSL      bool      `json:"use_ssl"`
	HasAuth     bool      `json:"has_auth"`
	Enabled     bool      `json:"enabled"`
	IsDefault   bool      `json:"is_default"`
	DownloadDir string    `json:"download_dir,omitempty"`
	MountPath   string    `json:"mount_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toServerResponse(b domain.Backend) serverResponse {
	return serverResponse{
		ID:          b.ID,
		Name:        b.Name,
		Kind:        string(b.Kind),
		Host:        b.Host,
		Port:        b.Port,
		RPCPath:     b.RPCPath,
		UseSSL:      b.UseSSL,
		HasAuth:     b.Auth != nil,
		Enabled:     b.Enabled,
		IsDefault:   b.IsDefault,
		DownloadDir: b.DownloadDir,
		MountPath:   b.MountPath,
		CreatedAt:   b.CreatedAt,
	}
}

func (req serverRequest) apply(b *domain.Backend) {
	b.Name = req.Name
	b.Kind = domain.BackendKind(req.Kind)
	b.Host = req.Host
	b.Port = req.Port
	b.RPCPath = req.RPCPath
	b.UseSSL = req.UseSSL
	b.IsDefault = req.IsDefault
	b.DownloadDir = req.DownloadDir
	b.MountPath = req.MountPath
	if req.Enabled != nil {
		b.Enabled = *req.Enabled
	}
	if req.Auth != nil {
		b.Auth = &domain.BackendAuth{Username: req.Auth.Username, Password: req.Auth.Password}
	}
	if req.HTTPDownload != nil {
		b.HTTPDownload = &domain.HTTPDownload{
			Enabled: req.HTTPDownload.Enabled,
			Host:    req.HTTPDownload.Host,
			Port:    req.HTTPDownload.Port,
			Path:    req.HTTPDownload.Path,
			UseSSL:  req.HTTPDownload.UseSSL,
		}
		if req.HTTPDownload.Auth != nil {
			b.HTTPDownload.Auth = &domain.BackendAuth{
				Username: req.HTTPDownload.Auth.Username,
				Password: req.HTTPDownload.Auth.Password,
			}
		}
	}
	if req.AutoDownload != nil {
		b.AutoDownload = &domain.AutoDownload{
			Enabled:           req.AutoDownload.Enabled,
			LocalPath:         req.AutoDownload.LocalPath,
			DeleteRemoteAfter: req.AutoDownload.DeleteRemoteAfter,
		}
	}
	if req.SSH != nil {
		b.SSH = &domain.SSHConfig{
			Host:    req.SSH.Host,
			Port:    req.SSH.Port,
			User:    req.SSH.User,
			KeyPath: req.SSH.KeyPath,
		}
	}
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	switch r.Method {
	case http.MethodGet:
		backends, err := s.store.ListBackends(r.Context(), user.ID, false)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]serverResponse, 0, len(backends))
		for _, b := range backends {
			out = append(out, toServerResponse(b))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req serverRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		b := domain.Backend{
			ID:          uuid.NewString(),
			OwnerUserID: user.ID,
			Enabled:     true,
			Version:     1,
			CreatedAt:   time.Now().UTC(),
		}
		req.apply(&b)
		if err := b.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if b.IsDefault {
			if err := s.store.ClearDefaultBackend(r.Context(), user.ID); err != nil {
				writeDomainError(w, err)
				return
			}
		}
		if err := s.store.CreateBackend(r.Context(), b); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toServerResponse(b))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleServerByID(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, action := pathTail(r.URL.Path, "/servers")
	if id == "" {
		writeError(w, http.StatusBadRequest, "server id is required")
		return
	}

	b, err := s.ownedBackend(r, user, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if action == "test" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.gateway.TestBackend(r.Context(), user, b.ID); err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "detail": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
		return
	}
	if action != "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toServerResponse(b))

	case http.MethodPut, http.MethodPatch:
		var req serverRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.apply(&b)
		if err := b.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if b.IsDefault {
			if err := s.store.ClearDefaultBackend(r.Context(), user.ID); err != nil {
				writeDomainError(w, err)
				return
			}
		}
		// Version bump discards any cached client built from the old settings.
		b.Version++
		if err := s.store.UpdateBackend(r.Context(), b); err != nil {
			writeDomainError(w, err)
			return
		}
		s.gateway.Factory.Invalidate(b.ID)
		writeJSON(w, http.StatusOK, toServerResponse(b))

	case http.MethodDelete:
		if err := s.store.DeleteBackend(r.Context(), b.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		if err := s.store.DeleteTorrentsByBackend(r.Context(), b.ID); err != nil {
			s.logger.Warn("torrent cascade delete failed", "backendId", b.ID, "error", err.Error())
		}
		s.gateway.Factory.Invalidate(b.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ownedBackend loads the backend and hides other users' backends behind a
// not-found error.
func (s *Server) ownedBackend(r *http.Request, user domain.User, id string) (domain.Backend, error) {
	b, err := s.store.GetBackend(r.Context(), id)
	if err != nil {
		return domain.Backend{}, err
	}
	if b.OwnerUserID != user.ID {
		return domain.Backend{}, fmt.Errorf("%w: server not found", domain.ErrNotFound)
	}
	return b, nil
}
