package apihttp

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"torrentgate/internal/domain"
)

func newTestStreamManager(t *testing.T) *StreamManager {
	// A command that exits immediately; most tests only exercise job
	// bookkeeping, not transcoding.
	return newTestStreamManagerWith(t, "false")
}

func newTestStreamManagerWith(t *testing.T, ffmpegPath string) *StreamManager {
	t.Helper()
	m := NewStreamManager(StreamConfig{
		FFmpegPath:  ffmpegPath,
		FFprobePath: "false",
		ScratchDir:  t.TempDir(),
		IdleTimeout: time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(m.Shutdown)
	return m
}

func waitForJob(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func streamBackend(t *testing.T, files ...string) domain.Backend {
	t.Helper()
	mount := t.TempDir()
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(mount, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return domain.Backend{
		ID:          "b1",
		OwnerUserID: "u1",
		Name:        "alpha",
		DownloadDir: "/downloads",
		MountPath:   mount,
	}
}

func TestEnsureJobDedupsPerBackendAndFile(t *testing.T) {
	m := newTestStreamManager(t)
	b := streamBackend(t, "movie.mkv", "extra.mkv")
	user := domain.User{ID: "u1"}

	first, err := m.EnsureJob(b, user, "movie.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	again, err := m.EnsureJob(b, user, "movie.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("same file produced two jobs: %q, %q", first.ID, again.ID)
	}

	other, err := m.EnsureJob(b, user, "extra.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different files share a job")
	}
}

func TestEnsureJobValidatesInput(t *testing.T) {
	m := newTestStreamManager(t)
	user := domain.User{ID: "u1"}

	b := streamBackend(t)
	if _, err := m.EnsureJob(b, user, "missing.mkv"); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("missing file err = %v", err)
	}

	// No mount, no HTTP download: nothing can read the payload.
	bare := domain.Backend{ID: "b2", OwnerUserID: "u1", Name: "bare"}
	if _, err := m.EnsureJob(bare, user, "movie.mkv"); !errors.Is(err, domain.ErrNoTransport) {
		t.Fatalf("no transport err = %v", err)
	}
}

func TestJobsAreOwnerScoped(t *testing.T) {
	m := newTestStreamManager(t)
	b := streamBackend(t, "movie.mkv")

	job, err := m.EnsureJob(b, domain.User{ID: "u1"}, "movie.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}

	mine := m.Jobs("u1")
	if len(mine) != 1 || mine[0].ID != job.ID {
		t.Fatalf("owner jobs = %+v", mine)
	}
	if foreign := m.Jobs("u2"); len(foreign) != 0 {
		t.Fatalf("foreign jobs = %+v", foreign)
	}
}

func TestJobProgressFromPlaylist(t *testing.T) {
	job := &StreamJob{Dir: t.TempDir(), MediaType: "video", state: StreamStarting}

	// No playlist written yet: the muxer has produced nothing playable.
	info := job.Info()
	if info.Status != StreamStarting || info.TranscodedSeconds != 0 {
		t.Fatalf("fresh job info = %+v", info)
	}

	playlist := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:4\n" +
		"#EXTINF:4.000000,\nseg_00000.ts\n" +
		"#EXTINF:4.000000,\nseg_00001.ts\n" +
		"#EXTINF:2.500000,\nseg_00002.ts\n"
	if err := os.WriteFile(filepath.Join(job.Dir, "index.m3u8"), []byte(playlist), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	info = job.Info()
	if info.Status != StreamRunning {
		t.Fatalf("status = %q, want %q", info.Status, StreamRunning)
	}
	if diff := info.TranscodedSeconds - 10.5; diff < -0.001 || diff > 0.001 {
		t.Fatalf("transcoded seconds = %v, want 10.5", info.TranscodedSeconds)
	}
}

func TestJobStateTransitions(t *testing.T) {
	b := streamBackend(t, "movie.mkv")
	user := domain.User{ID: "u1"}

	// Transcoder exits 0: the job settles on done.
	ok := newTestStreamManagerWith(t, "true")
	done, err := ok.EnsureJob(b, user, "movie.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	waitForJob(t, func() bool { return done.Info().Status == StreamDone })

	// Transcoder exits non-zero: the job settles on failed with the error
	// captured for job info.
	bad := newTestStreamManagerWith(t, "false")
	failed, err := bad.EnsureJob(b, user, "movie.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	waitForJob(t, func() bool { return failed.Info().Status == StreamFailed })
	if failed.Info().Error == "" {
		t.Fatal("failed job carries no error message")
	}
}

func TestMediaTypeDetection(t *testing.T) {
	cases := map[string]string{
		"show/episode.mkv": "video",
		"movie.MP4":        "video",
		"album/track.mp3":  "audio",
		"audio/book.FLAC":  "audio",
		"unknown":          "video",
	}
	for path, want := range cases {
		if got := mediaTypeFor(path); got != want {
			t.Errorf("mediaTypeFor(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestStreamResponseContract(t *testing.T) {
	m := newTestStreamManager(t)
	b := streamBackend(t, "movie.mkv")

	job, err := m.EnsureJob(b, domain.User{ID: "u1"}, "movie.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	resp := newStreamResponse(job)
	if resp.JobID != job.ID {
		t.Fatalf("job_id = %q, want %q", resp.JobID, job.ID)
	}
	if resp.PlaylistURL != "/streams/"+job.ID+"/index.m3u8" {
		t.Fatalf("playlist_url = %q", resp.PlaylistURL)
	}
	if resp.Status == "" || resp.MediaType != "video" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestStopRemovesJobAndScratchDir(t *testing.T) {
	m := newTestStreamManager(t)
	b := streamBackend(t, "movie.mkv")

	job, err := m.EnsureJob(b, domain.User{ID: "u1"}, "movie.mkv")
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	dir := job.Dir

	if !m.Stop(job.ID) {
		t.Fatal("Stop returned false for a live job")
	}
	if _, ok := m.Job(job.ID); ok {
		t.Fatal("job still registered after Stop")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir kept: %v", err)
	}
	if m.Stop(job.ID) {
		t.Fatal("Stop reported success twice")
	}
}
