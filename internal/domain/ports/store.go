package ports

import (
	"context"
	"time"

	"torrentgate/internal/domain"
)

type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	CountUsers(ctx context.Context) (int64, error)
	// DeleteUser cascades to everything the user owns: backends, torrents,
	// sessions, remember tokens, api keys, transfer jobs, webhooks and
	// settings. Status and action history is left to retention pruning.
	DeleteUser(ctx context.Context, id string) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	UpdateSession(ctx context.Context, s domain.Session) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type RememberTokenStore interface {
	CreateRememberToken(ctx context.Context, t domain.RememberToken) error
	GetRememberToken(ctx context.Context, id string) (domain.RememberToken, error)
	RevokeRememberToken(ctx context.Context, id string) error
	DeleteExpiredRememberTokens(ctx context.Context, now time.Time) (int64, error)
}

type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k domain.APIKey) error
	GetAPIKeyByValue(ctx context.Context, key string) (domain.APIKey, error)
	GetAPIKeyByPrefix(ctx context.Context, userID, prefix string) (domain.APIKey, error)
	UpdateAPIKey(ctx context.Context, k domain.APIKey) error
	ListAPIKeys(ctx context.Context, userID string, includeRevoked bool) ([]domain.APIKey, error)
	DeleteExpiredAPIKeys(ctx context.Context, now time.Time) (int64, error)
}

type BackendStore interface {
	CreateBackend(ctx context.Context, b domain.Backend) error
	GetBackend(ctx context.Context, id string) (domain.Backend, error)
	UpdateBackend(ctx context.Context, b domain.Backend) error
	DeleteBackend(ctx context.Context, id string) error
	ListBackends(ctx context.Context, ownerUserID string, enabledOnly bool) ([]domain.Backend, error)
	ListAllEnabledBackends(ctx context.Context) ([]domain.Backend, error)
	ClearDefaultBackend(ctx context.Context, ownerUserID string) error
}

type TorrentStore interface {
	UpsertTorrent(ctx context.Context, t domain.TorrentRecord) error
	GetTorrent(ctx context.Context, ownerUserID, infoHash, backendID string) (domain.TorrentRecord, error)
	ListTorrents(ctx context.Context, ownerUserID string) ([]domain.TorrentRecord, error)
	DeleteTorrent(ctx context.Context, ownerUserID, infoHash, backendID string) error
	DeleteTorrentsByBackend(ctx context.Context, backendID string) error
}

type StatusStore interface {
	AppendStatus(ctx context.Context, s domain.Status) error
	ListStatuses(ctx context.Context, torrentHash string) ([]domain.Status, error)
	NeverSeededHashes(ctx context.Context, ownerUserID string) ([]string, error)
	PruneStatuses(ctx context.Context, before time.Time) (int64, error)
}

type ActionStore interface {
	AppendAction(ctx context.Context, a domain.Action) error
	ListActions(ctx context.Context, torrentHash string) ([]domain.Action, error)
}

type TransferStore interface {
	CreateTransferJob(ctx context.Context, j domain.TransferJob) error
	GetTransferJob(ctx context.Context, id string) (domain.TransferJob, error)
	UpdateTransferJob(ctx context.Context, j domain.TransferJob) error
	FindActiveTransferJob(ctx context.Context, torrentHash, backendID string) (domain.TransferJob, error)
	ListTransferJobs(ctx context.Context, ownerUserID string) ([]domain.TransferJob, error)
	ListTransferJobsByState(ctx context.Context, states ...domain.TransferState) ([]domain.TransferJob, error)
}

type WebhookStore interface {
	CreateWebhook(ctx context.Context, w domain.Webhook) error
	DeleteWebhook(ctx context.Context, ownerUserID, url string) error
	ListWebhooks(ctx context.Context, ownerUserID string) ([]domain.Webhook, error)
}

type SettingStore interface {
	SetTorrentSetting(ctx context.Context, s domain.TorrentSetting) error
	GetTorrentSettings(ctx context.Context, ownerUserID, torrentHash string) ([]domain.TorrentSetting, error)
}

// Store is the full persistence surface. Implementations map storage-level
// failures to domain.ErrNotFound and domain.ErrDuplicate where applicable.
type Store interface {
	UserStore
	SessionStore
	RememberTokenStore
	APIKeyStore
	BackendStore
	TorrentStore
	StatusStore
	ActionStore
	TransferStore
	WebhookStore
	SettingStore
}
