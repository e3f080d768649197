package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"torrentgate/internal/domain"
)

const storeHash = "9999999999999999999999999999999999999999"

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.CreateUser(ctx, domain.User{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(ctx, domain.User{ID: "u2", Username: "alice"}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("duplicate username err = %v", err)
	}
	if err := s.CreateUser(ctx, domain.User{ID: "u1", Username: "other"}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("duplicate id err = %v", err)
	}
}

func TestClearDefaultBackend(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.CreateBackend(ctx, domain.Backend{ID: "b1", OwnerUserID: "u1", Name: "a", IsDefault: true})
	_ = s.CreateBackend(ctx, domain.Backend{ID: "b2", OwnerUserID: "u2", Name: "b", IsDefault: true})

	if err := s.ClearDefaultBackend(ctx, "u1"); err != nil {
		t.Fatalf("ClearDefaultBackend: %v", err)
	}

	b1, _ := s.GetBackend(ctx, "b1")
	if b1.IsDefault {
		t.Fatal("u1 default not cleared")
	}
	// Other users' defaults are untouched.
	b2, _ := s.GetBackend(ctx, "b2")
	if !b2.IsDefault {
		t.Fatal("u2 default cleared")
	}
}

func TestListBackendsEnabledOnly(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.CreateBackend(ctx, domain.Backend{ID: "b1", OwnerUserID: "u1", Name: "on", Enabled: true})
	_ = s.CreateBackend(ctx, domain.Backend{ID: "b2", OwnerUserID: "u1", Name: "off", Enabled: false})

	all, err := s.ListBackends(ctx, "u1", false)
	if err != nil || len(all) != 2 {
		t.Fatalf("all backends = %v, %v", all, err)
	}
	enabled, err := s.ListBackends(ctx, "u1", true)
	if err != nil || len(enabled) != 1 || enabled[0].ID != "b1" {
		t.Fatalf("enabled backends = %v, %v", enabled, err)
	}
}

func TestFindActiveTransferJobIgnoresFinishedJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	done := domain.TransferJob{ID: "j1", TorrentHash: storeHash, BackendID: "b1", State: domain.TransferDone}
	if err := s.CreateTransferJob(ctx, done); err != nil {
		t.Fatalf("CreateTransferJob: %v", err)
	}
	if _, err := s.FindActiveTransferJob(ctx, storeHash, "b1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("finished job treated as active: %v", err)
	}

	running := domain.TransferJob{ID: "j2", TorrentHash: storeHash, BackendID: "b1", State: domain.TransferRunning}
	_ = s.CreateTransferJob(ctx, running)
	got, err := s.FindActiveTransferJob(ctx, storeHash, "b1")
	if err != nil || got.ID != "j2" {
		t.Fatalf("active job = %+v, %v", got, err)
	}

	// A different backend has no active job for the hash.
	if _, err := s.FindActiveTransferJob(ctx, storeHash, "b2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cross-backend match: %v", err)
	}
}

func TestNeverSeededHashes(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	appendStatus := func(hash string, seeding bool, offset time.Duration) {
		_ = s.AppendStatus(ctx, domain.Status{
			TorrentHash: hash,
			OwnerUserID: "u1",
			BackendID:   "b1",
			IsSeeding:   seeding,
			Timestamp:   base.Add(offset),
		})
	}

	appendStatus(storeHash, false, 0)
	appendStatus(storeHash, false, time.Minute)
	seededHash := "8888888888888888888888888888888888888888"
	appendStatus(seededHash, false, 0)
	appendStatus(seededHash, true, time.Minute)

	hashes, err := s.NeverSeededHashes(ctx, "u1")
	if err != nil {
		t.Fatalf("NeverSeededHashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != storeHash {
		t.Fatalf("hashes = %v", hashes)
	}

	// Another user's history is invisible.
	hashes, _ = s.NeverSeededHashes(ctx, "u2")
	if len(hashes) != 0 {
		t.Fatalf("foreign hashes = %v", hashes)
	}
}

func TestPruneStatuses(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_ = s.AppendStatus(ctx, domain.Status{
			TorrentHash: storeHash,
			OwnerUserID: "u1",
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
		})
	}

	deleted, err := s.PruneStatuses(ctx, base.Add(2*time.Hour))
	if err != nil || deleted != 2 {
		t.Fatalf("PruneStatuses = %d, %v", deleted, err)
	}
	statuses, _ := s.ListStatuses(ctx, storeHash)
	if len(statuses) != 2 {
		t.Fatalf("kept statuses = %d", len(statuses))
	}
}

func TestUpsertTorrentOverwrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	rec := domain.TorrentRecord{OwnerUserID: "u1", InfoHash: storeHash, BackendID: "b1", Name: "first"}
	if err := s.UpsertTorrent(ctx, rec); err != nil {
		t.Fatalf("UpsertTorrent: %v", err)
	}
	rec.Name = "renamed"
	if err := s.UpsertTorrent(ctx, rec); err != nil {
		t.Fatalf("UpsertTorrent: %v", err)
	}

	got, err := s.GetTorrent(ctx, "u1", storeHash, "b1")
	if err != nil || got.Name != "renamed" {
		t.Fatalf("record = %+v, %v", got, err)
	}
	records, _ := s.ListTorrents(ctx, "u1")
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
}

func TestDeleteTorrentsByBackendCascade(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.UpsertTorrent(ctx, domain.TorrentRecord{OwnerUserID: "u1", InfoHash: storeHash, BackendID: "b1"})
	_ = s.UpsertTorrent(ctx, domain.TorrentRecord{OwnerUserID: "u1", InfoHash: storeHash, BackendID: "b2"})

	if err := s.DeleteTorrentsByBackend(ctx, "b1"); err != nil {
		t.Fatalf("DeleteTorrentsByBackend: %v", err)
	}
	records, _ := s.ListTorrents(ctx, "u1")
	if len(records) != 1 || records[0].BackendID != "b2" {
		t.Fatalf("records = %+v", records)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.CreateUser(ctx, domain.User{ID: "u1", Username: "alice"})
	_ = s.CreateUser(ctx, domain.User{ID: "u2", Username: "bob"})
	_ = s.CreateBackend(ctx, domain.Backend{ID: "b1", OwnerUserID: "u1", Name: "mine"})
	_ = s.CreateBackend(ctx, domain.Backend{ID: "b2", OwnerUserID: "u2", Name: "theirs"})
	_ = s.UpsertTorrent(ctx, domain.TorrentRecord{OwnerUserID: "u1", InfoHash: storeHash, BackendID: "b1"})
	_ = s.CreateSession(ctx, domain.Session{ID: "s1", UserID: "u1"})
	_ = s.CreateRememberToken(ctx, domain.RememberToken{ID: "r1", UserID: "u1"})
	_ = s.CreateAPIKey(ctx, domain.APIKey{Key: "k1", Prefix: "k1", UserID: "u1"})
	_ = s.CreateTransferJob(ctx, domain.TransferJob{ID: "j1", OwnerUserID: "u1", TorrentHash: storeHash, BackendID: "b1"})
	_ = s.SetTorrentSetting(ctx, domain.TorrentSetting{OwnerUserID: "u1", TorrentHash: storeHash, Key: "k", Value: "v"})
	_ = s.CreateWebhook(ctx, domain.Webhook{ID: "w1", OwnerUserID: "u1", URL: "https://example.com/hook"})
	_ = s.AppendStatus(ctx, domain.Status{TorrentHash: storeHash, OwnerUserID: "u1", IsSeeding: true})

	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	if _, err := s.GetBackend(ctx, "b1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("backend survived cascade: %v", err)
	}
	if records, _ := s.ListTorrents(ctx, "u1"); len(records) != 0 {
		t.Fatalf("torrents survived cascade: %+v", records)
	}
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("session survived cascade: %v", err)
	}
	if _, err := s.GetRememberToken(ctx, "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("remember token survived cascade: %v", err)
	}
	if _, err := s.GetAPIKeyByValue(ctx, "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("api key survived cascade: %v", err)
	}
	if jobs, _ := s.ListTransferJobs(ctx, "u1"); len(jobs) != 0 {
		t.Fatalf("transfer jobs survived cascade: %+v", jobs)
	}
	if settings, _ := s.GetTorrentSettings(ctx, "u1", storeHash); len(settings) != 0 {
		t.Fatalf("settings survived cascade: %+v", settings)
	}
	if hooks, _ := s.ListWebhooks(ctx, "u1"); len(hooks) != 0 {
		t.Fatalf("webhooks survived cascade: %+v", hooks)
	}

	// Status history is retention-pruned, not cascaded.
	if statuses, _ := s.ListStatuses(ctx, storeHash); len(statuses) != 1 {
		t.Fatalf("status history = %+v", statuses)
	}
	// The other user is untouched.
	if _, err := s.GetBackend(ctx, "b2"); err != nil {
		t.Fatalf("unrelated backend deleted: %v", err)
	}
}

func TestWebhookLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	hook := domain.Webhook{ID: "w1", OwnerUserID: "u1", URL: "https://example.com/hook", CreatedAt: time.Now()}
	if err := s.CreateWebhook(ctx, hook); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	dup := domain.Webhook{ID: "w2", OwnerUserID: "u1", URL: "https://example.com/hook"}
	if err := s.CreateWebhook(ctx, dup); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("duplicate url err = %v", err)
	}

	hooks, err := s.ListWebhooks(ctx, "u1")
	if err != nil || len(hooks) != 1 || hooks[0].URL != hook.URL {
		t.Fatalf("hooks = %+v, %v", hooks, err)
	}
	if hooks, _ := s.ListWebhooks(ctx, "u2"); len(hooks) != 0 {
		t.Fatalf("foreign hooks = %+v", hooks)
	}

	if err := s.DeleteWebhook(ctx, "u1", hook.URL); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if err := s.DeleteWebhook(ctx, "u1", hook.URL); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}
