package domain

import (
	"errors"
	"strings"
	"time"
)

type BackendKind string

const (
	KindRTorrent     BackendKind = "rtorrent"
	KindTransmission BackendKind = "transmission"
)

func ParseBackendKind(raw string) (BackendKind, error) {
	switch BackendKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindRTorrent:
		return KindRTorrent, nil
	case KindTransmission:
		return KindTransmission, nil
	default:
		return "", errors.New("unknown backend kind")
	}
}

type BackendAuth struct {
	Username string
	Password string
}

// HTTPDownload points at a web server exposing the backend's download
// directory, used by the transfer manager as a transport.
type HTTPDownload struct {
	Enabled bool
	Host    string
	Port    int
	Path    string
	UseSSL  bool
	Auth    *BackendAuth
}

type AutoDownload struct {
	Enabled           bool
	LocalPath         string
	DeleteRemoteAfter bool
}

type SSHConfig struct {
	Host    string
	Port    int
	User    string
	KeyPath string
}

// Backend is one remote torrent client owned by a user. Version increments
// on every update so the client factory can discard stale cached clients.
type Backend struct {
	ID           string
	OwnerUserID  string
	Name         string
	Kind         BackendKind
	Host         string
	Port         int
	RPCPath      string
	UseSSL       bool
	Auth         *BackendAuth
	Enabled      bool
	IsDefault    bool
	DownloadDir  string
	MountPath    string
	HTTPDownload *HTTPDownload
	AutoDownload *AutoDownload
	SSH          *SSHConfig
	Version      int64
	CreatedAt    time.Time
}

func (b Backend) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("name is required")
	}
	if _, err := ParseBackendKind(string(b.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(b.Host) == "" {
		return errors.New("host is required")
	}
	if b.Port <= 0 || b.Port > 65535 {
		return errors.New("port out of range")
	}
	return nil
}
