package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"torrentgate/internal/activity"
	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/repository/memory"
)

const jobHash = "DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD"

type fakeClient struct {
	views  []domain.TorrentView
	erased []string
}

func (f *fakeClient) ListTorrents(_ context.Context, opts ports.ListOptions) ([]domain.TorrentView, error) {
	if opts.InfoHash == "" {
		return f.views, nil
	}
	for _, v := range f.views {
		if v.InfoHash == opts.InfoHash {
			return []domain.TorrentView{v}, nil
		}
	}
	return nil, nil
}

func (f *fakeClient) AddTorrentFile(context.Context, []byte, bool, int) error { return nil }
func (f *fakeClient) AddMagnet(context.Context, string, bool, int) error      { return nil }
func (f *fakeClient) AddTorrentURL(context.Context, string, bool, int) error  { return nil }
func (f *fakeClient) Start(context.Context, string) error                     { return nil }
func (f *fakeClient) Stop(context.Context, string) error                      { return nil }

func (f *fakeClient) Erase(_ context.Context, hash string, _ bool) error {
	f.erased = append(f.erased, hash)
	return nil
}

func (f *fakeClient) Files(context.Context, string) ([]domain.FileView, error) { return nil, nil }
func (f *fakeClient) SetPriority(context.Context, string, int) error           { return nil }
func (f *fakeClient) SetFilePriority(context.Context, string, int, int) error  { return nil }
func (f *fakeClient) SetLabels(context.Context, string, []string) error        { return nil }
func (f *fakeClient) Ping(context.Context) error                               { return nil }

type fakeFactory struct {
	clients map[string]*fakeClient
}

func (f *fakeFactory) Client(b domain.Backend) (ports.BackendClient, error) {
	c, ok := f.clients[b.ID]
	if !ok {
		return nil, errors.New("no client")
	}
	return c, nil
}

func (f *fakeFactory) Invalidate(string) {}

func newTestManager(t *testing.T) (*Manager, *memory.Store, *fakeFactory) {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := &fakeFactory{clients: map[string]*fakeClient{}}
	recorder := activity.NewRecorder(store, logger)
	m := NewManager(store, factory, recorder, nil, logger, Config{MaxRetries: 1})
	return m, store, factory
}

func mountBackend(t *testing.T) (domain.Backend, string) {
	t.Helper()
	src := t.TempDir()
	return domain.Backend{
		ID:          "b1",
		OwnerUserID: "u1",
		Name:        "alpha",
		Kind:        domain.KindRTorrent,
		Enabled:     true,
		DownloadDir: "/downloads",
		MountPath:   src,
	}, src
}

func TestPickTransportPrecedence(t *testing.T) {
	b := domain.Backend{MountPath: "/mnt", HTTPDownload: &domain.HTTPDownload{Enabled: true}, SSH: &domain.SSHConfig{Host: "h"}}
	tr, err := pickTransport(b)
	if err != nil || tr.Name() != "mount" {
		t.Fatalf("transport = %v, %v", tr, err)
	}

	b.MountPath = ""
	tr, err = pickTransport(b)
	if err != nil || tr.Name() != "http" {
		t.Fatalf("transport = %v, %v", tr, err)
	}

	b.HTTPDownload.Enabled = false
	tr, err = pickTransport(b)
	if err != nil || tr.Name() != "ssh" {
		t.Fatalf("transport = %v, %v", tr, err)
	}

	b.SSH = nil
	if _, err := pickTransport(b); !errors.Is(err, domain.ErrNoTransport) {
		t.Fatalf("no transport err = %v", err)
	}
}

func TestRelSource(t *testing.T) {
	job := domain.TransferJob{SourcePath: "/downloads/show/episode.mkv"}
	b := domain.Backend{DownloadDir: "/downloads"}
	if got := relSource(job, b); got != "show/episode.mkv" {
		t.Fatalf("relSource = %q", got)
	}
	b.DownloadDir = "/downloads/"
	if got := relSource(job, b); got != "show/episode.mkv" {
		t.Fatalf("relSource with trailing slash = %q", got)
	}
}

func TestJoinURLEscapesSegments(t *testing.T) {
	got := joinURL("http://host:8080/files", "my show", "episode 1.mkv")
	want := "http://host:8080/files/my%20show/episode%201.mkv"
	if got != want {
		t.Fatalf("joinURL = %q, want %q", got, want)
	}
}

func TestSubmitValidation(t *testing.T) {
	m, store, factory := newTestManager(t)
	ctx := context.Background()
	user := domain.User{ID: "u1"}

	b, _ := mountBackend(t)
	_ = store.CreateBackend(ctx, b)
	factory.clients["b1"] = &fakeClient{views: []domain.TorrentView{
		{InfoHash: jobHash, Name: "incomplete", Complete: false, BasePath: "/downloads/incomplete"},
	}}

	if _, err := m.Submit(ctx, user, SubmitRequest{TorrentHash: "zz", BackendID: "b1"}); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("bad hash err = %v", err)
	}
	if _, err := m.Submit(ctx, user, SubmitRequest{TorrentHash: jobHash, BackendID: "missing"}); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("unknown backend err = %v", err)
	}
	if _, err := m.Submit(ctx, domain.User{ID: "intruder"}, SubmitRequest{TorrentHash: jobHash, BackendID: "b1"}); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("foreign backend err = %v", err)
	}
	if _, err := m.Submit(ctx, user, SubmitRequest{TorrentHash: jobHash, BackendID: "b1", DestPath: t.TempDir()}); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("incomplete torrent err = %v", err)
	}
}

func TestSubmitIsIdempotentPerHashAndBackend(t *testing.T) {
	m, store, factory := newTestManager(t)
	ctx := context.Background()
	user := domain.User{ID: "u1"}

	b, _ := mountBackend(t)
	_ = store.CreateBackend(ctx, b)
	factory.clients["b1"] = &fakeClient{views: []domain.TorrentView{
		{InfoHash: jobHash, Name: "done", Complete: true, BasePath: "/downloads/done"},
	}}

	existing := domain.TransferJob{
		ID:          "job-1",
		OwnerUserID: "u1",
		TorrentHash: jobHash,
		BackendID:   "b1",
		State:       domain.TransferRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := store.CreateTransferJob(ctx, existing); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	job, err := m.Submit(ctx, user, SubmitRequest{TorrentHash: jobHash, BackendID: "b1", DestPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID != "job-1" {
		t.Fatalf("expected existing active job, got %q", job.ID)
	}

	jobs, _ := store.ListTransferJobs(ctx, "u1")
	if len(jobs) != 1 {
		t.Fatalf("duplicate job created: %d jobs", len(jobs))
	}
}

func TestMountTransferCompletes(t *testing.T) {
	m, store, factory := newTestManager(t)
	ctx := context.Background()
	user := domain.User{ID: "u1"}

	b, src := mountBackend(t)
	_ = store.CreateBackend(ctx, b)

	payload := []byte("payload bytes")
	if err := os.WriteFile(filepath.Join(src, "episode.mkv"), payload, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	factory.clients["b1"] = &fakeClient{views: []domain.TorrentView{{
		InfoHash: jobHash,
		Name:     "episode",
		Complete: true,
		BasePath: "/downloads/episode.mkv",
		Size:     int64(len(payload)),
	}}}

	dest := t.TempDir()
	m.Start(context.Background())
	job, err := m.Submit(ctx, user, SubmitRequest{TorrentHash: jobHash, BackendID: "b1", DestPath: dest})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	m.Stop() // waits for the worker

	final, err := store.GetTransferJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetTransferJob: %v", err)
	}
	if final.State != domain.TransferDone {
		t.Fatalf("state = %q, error = %q", final.State, final.Error)
	}
	if final.BytesDone != int64(len(payload)) {
		t.Fatalf("BytesDone = %d", final.BytesDone)
	}

	copied, err := os.ReadFile(filepath.Join(dest, "episode.mkv"))
	if err != nil || string(copied) != string(payload) {
		t.Fatalf("copied payload = %q, %v", copied, err)
	}

	actions, _ := store.ListActions(ctx, jobHash)
	var start, done int
	for _, a := range actions {
		switch a.Kind {
		case domain.ActionTransferStart:
			start++
		case domain.ActionTransferDone:
			done++
		}
	}
	if start != 1 || done != 1 {
		t.Fatalf("transfer actions = %d start, %d done", start, done)
	}
}
