package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"torrentgate/internal/domain"
)

type torrentKey struct {
	owner   string
	hash    string
	backend string
}

type settingKey struct {
	owner string
	hash  string
	key   string
}

// Store is an in-memory implementation of the persistence surface, used by
// tests and for running without a database.
type Store struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	sessions  map[string]domain.Session
	remembers map[string]domain.RememberToken
	apiKeys   map[string]domain.APIKey
	backends  map[string]domain.Backend
	torrents  map[torrentKey]domain.TorrentRecord
	statuses  []domain.Status
	actions   []domain.Action
	transfers map[string]domain.TransferJob
	settings  map[settingKey]domain.TorrentSetting
	webhooks  map[string]domain.Webhook
}

func NewStore() *Store {
	return &Store{
		users:     make(map[string]domain.User),
		sessions:  make(map[string]domain.Session),
		remembers: make(map[string]domain.RememberToken),
		apiKeys:   make(map[string]domain.APIKey),
		backends:  make(map[string]domain.Backend),
		torrents:  make(map[torrentKey]domain.TorrentRecord),
		transfers: make(map[string]domain.TransferJob),
		settings:  make(map[settingKey]domain.TorrentSetting),
		webhooks:  make(map[string]domain.Webhook),
	}
}

func (s *Store) CreateUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return domain.ErrDuplicate
		}
	}
	if _, ok := s.users[u.ID]; ok {
		return domain.ErrDuplicate
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *Store) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// DeleteUser removes the user and everything they own. The status and
// action logs stay as hash-keyed history until retention pruning.
func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.users, id)

	for bid, b := range s.backends {
		if b.OwnerUserID == id {
			delete(s.backends, bid)
		}
	}
	for key := range s.torrents {
		if key.owner == id {
			delete(s.torrents, key)
		}
	}
	for sid, v := range s.sessions {
		if v.UserID == id {
			delete(s.sessions, sid)
		}
	}
	for tid, t := range s.remembers {
		if t.UserID == id {
			delete(s.remembers, tid)
		}
	}
	for key, k := range s.apiKeys {
		if k.UserID == id {
			delete(s.apiKeys, key)
		}
	}
	for jid, j := range s.transfers {
		if j.OwnerUserID == id {
			delete(s.transfers, jid)
		}
	}
	for key := range s.settings {
		if key.owner == id {
			delete(s.settings, key)
		}
	}
	for wid, wh := range s.webhooks {
		if wh.OwnerUserID == id {
			delete(s.webhooks, wid)
		}
	}
	return nil
}

func (s *Store) CreateSession(_ context.Context, v domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[v.ID]; ok {
		return domain.ErrDuplicate
	}
	s.sessions[v.ID] = v
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return v, nil
}

func (s *Store) UpdateSession(_ context.Context, v domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[v.ID]; !ok {
		return domain.ErrNotFound
	}
	s.sessions[v.ID] = v
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, v := range s.sessions {
		if v.Expired(now) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CreateRememberToken(_ context.Context, t domain.RememberToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.remembers[t.ID]; ok {
		return domain.ErrDuplicate
	}
	s.remembers[t.ID] = t
	return nil
}

func (s *Store) GetRememberToken(_ context.Context, id string) (domain.RememberToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.remembers[id]
	if !ok {
		return domain.RememberToken{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *Store) RevokeRememberToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.remembers[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Revoked = true
	s.remembers[id] = t
	return nil
}

func (s *Store) DeleteExpiredRememberTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, t := range s.remembers {
		if !t.ExpiresAt.After(now) {
			delete(s.remembers, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CreateAPIKey(_ context.Context, k domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[k.Key]; ok {
		return domain.ErrDuplicate
	}
	s.apiKeys[k.Key] = k
	return nil
}

func (s *Store) GetAPIKeyByValue(_ context.Context, key string) (domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.apiKeys[key]
	if !ok {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (s *Store) GetAPIKeyByPrefix(_ context.Context, userID, prefix string) (domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.apiKeys {
		if k.UserID == userID && k.Prefix == prefix {
			return k, nil
		}
	}
	return domain.APIKey{}, domain.ErrNotFound
}

func (s *Store) UpdateAPIKey(_ context.Context, k domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[k.Key]; !ok {
		return domain.ErrNotFound
	}
	s.apiKeys[k.Key] = k
	return nil
}

func (s *Store) ListAPIKeys(_ context.Context, userID string, includeRevoked bool) ([]domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []domain.APIKey
	for _, k := range s.apiKeys {
		if k.UserID != userID {
			continue
		}
		if k.Revoked && !includeRevoked {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

func (s *Store) DeleteExpiredAPIKeys(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for key, k := range s.apiKeys {
		if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
			delete(s.apiKeys, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CreateBackend(_ context.Context, b domain.Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backends[b.ID]; ok {
		return domain.ErrDuplicate
	}
	s.backends[b.ID] = b
	return nil
}

func (s *Store) GetBackend(_ context.Context, id string) (domain.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backends[id]
	if !ok {
		return domain.Backend{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *Store) UpdateBackend(_ context.Context, b domain.Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backends[b.ID]; !ok {
		return domain.ErrNotFound
	}
	s.backends[b.ID] = b
	return nil
}

func (s *Store) DeleteBackend(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backends[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.backends, id)
	return nil
}

func (s *Store) ListBackends(_ context.Context, ownerUserID string, enabledOnly bool) ([]domain.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var backends []domain.Backend
	for _, b := range s.backends {
		if b.OwnerUserID != ownerUserID {
			continue
		}
		if enabledOnly && !b.Enabled {
			continue
		}
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i].CreatedAt.Before(backends[j].CreatedAt) })
	return backends, nil
}

func (s *Store) ListAllEnabledBackends(_ context.Context) ([]domain.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var backends []domain.Backend
	for _, b := range s.backends {
		if b.Enabled {
			backends = append(backends, b)
		}
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i].CreatedAt.Before(backends[j].CreatedAt) })
	return backends, nil
}

func (s *Store) ClearDefaultBackend(_ context.Context, ownerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.backends {
		if b.OwnerUserID == ownerUserID && b.IsDefault {
			b.IsDefault = false
			s.backends[id] = b
		}
	}
	return nil
}

func (s *Store) UpsertTorrent(_ context.Context, t domain.TorrentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.torrents[torrentKey{t.OwnerUserID, t.InfoHash, t.BackendID}] = t
	return nil
}

func (s *Store) GetTorrent(_ context.Context, ownerUserID, infoHash, backendID string) (domain.TorrentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.torrents[torrentKey{ownerUserID, infoHash, backendID}]
	if !ok {
		return domain.TorrentRecord{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTorrents(_ context.Context, ownerUserID string) ([]domain.TorrentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []domain.TorrentRecord
	for key, t := range s.torrents {
		if key.owner == ownerUserID {
			records = append(records, t)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AddedAt.After(records[j].AddedAt) })
	return records, nil
}

func (s *Store) DeleteTorrent(_ context.Context, ownerUserID, infoHash, backendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := torrentKey{ownerUserID, infoHash, backendID}
	if _, ok := s.torrents[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.torrents, key)
	return nil
}

func (s *Store) DeleteTorrentsByBackend(_ context.Context, backendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.torrents {
		if key.backend == backendID {
			delete(s.torrents, key)
		}
	}
	return nil
}

func (s *Store) AppendStatus(_ context.Context, v domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, v)
	return nil
}

func (s *Store) ListStatuses(_ context.Context, torrentHash string) ([]domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var statuses []domain.Status
	for _, v := range s.statuses {
		if v.TorrentHash == torrentHash {
			statuses = append(statuses, v)
		}
	}
	sort.SliceStable(statuses, func(i, j int) bool { return statuses[i].Timestamp.Before(statuses[j].Timestamp) })
	return statuses, nil
}

func (s *Store) NeverSeededHashes(_ context.Context, ownerUserID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	seeded := make(map[string]bool)
	var order []string
	for _, v := range s.statuses {
		if v.OwnerUserID != ownerUserID {
			continue
		}
		if !seen[v.TorrentHash] {
			seen[v.TorrentHash] = true
			order = append(order, v.TorrentHash)
		}
		if v.IsSeeding {
			seeded[v.TorrentHash] = true
		}
	}
	var hashes []string
	for _, h := range order {
		if !seeded[h] {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

func (s *Store) PruneStatuses(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.statuses[:0]
	var deleted int64
	for _, v := range s.statuses {
		if v.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, v)
	}
	s.statuses = kept
	return deleted, nil
}

func (s *Store) AppendAction(_ context.Context, a domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
	return nil
}

func (s *Store) ListActions(_ context.Context, torrentHash string) ([]domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var actions []domain.Action
	for _, a := range s.actions {
		if a.TorrentHash == torrentHash {
			actions = append(actions, a)
		}
	}
	return actions, nil
}

func (s *Store) CreateTransferJob(_ context.Context, j domain.TransferJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[j.ID]; ok {
		return domain.ErrDuplicate
	}
	s.transfers[j.ID] = j
	return nil
}

func (s *Store) GetTransferJob(_ context.Context, id string) (domain.TransferJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.transfers[id]
	if !ok {
		return domain.TransferJob{}, domain.ErrNotFound
	}
	return j, nil
}

func (s *Store) UpdateTransferJob(_ context.Context, j domain.TransferJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[j.ID]; !ok {
		return domain.ErrNotFound
	}
	s.transfers[j.ID] = j
	return nil
}

func (s *Store) FindActiveTransferJob(_ context.Context, torrentHash, backendID string) (domain.TransferJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.transfers {
		if j.TorrentHash == torrentHash && j.BackendID == backendID && j.Active() {
			return j, nil
		}
	}
	return domain.TransferJob{}, domain.ErrNotFound
}

func (s *Store) ListTransferJobs(_ context.Context, ownerUserID string) ([]domain.TransferJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []domain.TransferJob
	for _, j := range s.transfers {
		if j.OwnerUserID == ownerUserID {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs, nil
}

func (s *Store) ListTransferJobsByState(_ context.Context, states ...domain.TransferState) ([]domain.TransferJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[domain.TransferState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	var jobs []domain.TransferJob
	for _, j := range s.transfers {
		if want[j.State] {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs, nil
}

func (s *Store) CreateWebhook(_ context.Context, w domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.webhooks {
		if existing.OwnerUserID == w.OwnerUserID && existing.URL == w.URL {
			return domain.ErrDuplicate
		}
	}
	s.webhooks[w.ID] = w
	return nil
}

func (s *Store) DeleteWebhook(_ context.Context, ownerUserID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.webhooks {
		if w.OwnerUserID == ownerUserID && w.URL == url {
			delete(s.webhooks, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) ListWebhooks(_ context.Context, ownerUserID string) ([]domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hooks []domain.Webhook
	for _, w := range s.webhooks {
		if w.OwnerUserID == ownerUserID {
			hooks = append(hooks, w)
		}
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].CreatedAt.Before(hooks[j].CreatedAt) })
	return hooks, nil
}

func (s *Store) SetTorrentSetting(_ context.Context, v domain.TorrentSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settingKey{v.OwnerUserID, v.TorrentHash, v.Key}] = v
	return nil
}

func (s *Store) GetTorrentSettings(_ context.Context, ownerUserID, torrentHash string) ([]domain.TorrentSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var settings []domain.TorrentSetting
	for key, v := range s.settings {
		if key.owner == ownerUserID && key.hash == torrentHash {
			settings = append(settings, v)
		}
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}
