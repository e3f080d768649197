package domain

import (
	"errors"
	"strings"
	"time"
)

// Download priorities shared by both backend kinds. Zero means "do not
// download", two maps to the backend's high priority.
const (
	PriorityOff    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// NormalizeInfoHash upper-cases a 40-char hex info hash. Hashes are stored
// and compared in this canonical form on every path.
func NormalizeInfoHash(raw string) (string, error) {
	h := strings.ToUpper(strings.TrimSpace(raw))
	if len(h) != 40 {
		return "", errors.New("info hash must be 40 hex characters")
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", errors.New("info hash must be hex")
		}
	}
	return h, nil
}

// FileView is one file inside a torrent as reported by a backend.
type FileView struct {
	Index    int     `json:"index"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Priority int     `json:"priority"`
	Progress float64 `json:"progress"`
}

// TorrentView is the normalized per-torrent snapshot produced by every
// backend client. TorrentFilePath is nil when the backend cannot report it.
type TorrentView struct {
	InfoHash        string     `json:"hash"`
	Name            string     `json:"name"`
	BasePath        string     `json:"base_path"`
	Directory       string     `json:"directory"`
	Size            int64      `json:"size"`
	IsMultiFile     bool       `json:"is_multi_file"`
	BytesDone       int64      `json:"bytes_done"`
	State           string     `json:"state"`
	IsActive        bool       `json:"is_active"`
	Complete        bool       `json:"complete"`
	Ratio           float64    `json:"ratio"`
	UpRate          int64      `json:"up_rate"`
	DownRate        int64      `json:"down_rate"`
	Peers           int        `json:"peers"`
	Seeds           int        `json:"seeds"`
	Priority        int        `json:"priority"`
	IsPrivate       bool       `json:"is_private"`
	Progress        float64    `json:"progress"`
	IsMagnetPending bool       `json:"is_magnet_pending"`
	Labels          []string   `json:"labels,omitempty"`
	TorrentFilePath *string    `json:"torrent_file_path,omitempty"`
	Files           []FileView `json:"files,omitempty"`
}

// TorrentRecord is the persisted torrent row. Identity is
// (OwnerUserID, InfoHash, BackendID).
type TorrentRecord struct {
	InfoHash    string
	OwnerUserID string
	BackendID   string
	Name        string
	Size        int64
	IsPrivate   bool
	BasePath    string
	AddedAt     time.Time
	Labels      []string
}

func (t TorrentRecord) Validate() error {
	if _, err := NormalizeInfoHash(t.InfoHash); err != nil {
		return err
	}
	if strings.TrimSpace(t.OwnerUserID) == "" {
		return errors.New("owner is required")
	}
	if strings.TrimSpace(t.BackendID) == "" {
		return errors.New("backend is required")
	}
	return nil
}

// TorrentSetting is a per-user per-torrent override (auto download flags,
// download path and similar).
type TorrentSetting struct {
	OwnerUserID string
	TorrentHash string
	Key         string
	Value       string
}
