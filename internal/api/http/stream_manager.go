package apihttp

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"torrentgate/internal/domain"
	"torrentgate/internal/metrics"
)

type StreamConfig struct {
	FFmpegPath  string
	FFprobePath string
	ScratchDir  string
	IdleTimeout time.Duration
}

type streamKey struct {
	backendID string
	filePath  string
}

// StreamState is the lifecycle of one transcode job.
type StreamState string

const (
	StreamStarting StreamState = "starting"
	StreamRunning  StreamState = "running"
	StreamDone     StreamState = "done"
	StreamFailed   StreamState = "failed"
)

// StreamJob is one running HLS transcode. Segments and the playlist are
// written under Dir until the job is stopped or garbage-collected.
type StreamJob struct {
	ID          string
	BackendID   string
	FilePath    string
	OwnerUserID string
	Dir         string
	MediaType   string

	cancel context.CancelFunc

	mu              sync.Mutex
	state           StreamState
	durationSeconds float64
	lastAccess      time.Time
	err             error
}

// StreamInfo is a point-in-time snapshot of a job's progress. Transcoded
// seconds are summed from the segment durations the muxer has written to
// the playlist so far.
type StreamInfo struct {
	Status            StreamState
	TranscodedSeconds float64
	DurationSeconds   float64
	MediaType         string
	Error             string
}

func (j *StreamJob) touch() {
	j.mu.Lock()
	j.lastAccess = time.Now()
	j.mu.Unlock()
}

func (j *StreamJob) idleSince() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastAccess
}

func (j *StreamJob) setState(s StreamState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *StreamJob) setDuration(seconds float64) {
	j.mu.Lock()
	j.durationSeconds = seconds
	j.mu.Unlock()
}

func (j *StreamJob) fail(err error) {
	j.mu.Lock()
	j.state = StreamFailed
	j.err = err
	j.mu.Unlock()
}

// Info reports the job's progress. A job that has not finished counts as
// running as soon as the muxer has produced playable output.
func (j *StreamJob) Info() StreamInfo {
	j.mu.Lock()
	info := StreamInfo{
		Status:          j.state,
		DurationSeconds: j.durationSeconds,
		MediaType:       j.MediaType,
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	j.mu.Unlock()

	info.TranscodedSeconds = playlistSeconds(filepath.Join(j.Dir, "index.m3u8"))
	if info.Status == StreamStarting && info.TranscodedSeconds > 0 {
		info.Status = StreamRunning
	}
	return info
}

// playlistSeconds sums the #EXTINF segment durations in an HLS playlist.
// A missing or unreadable playlist counts as zero progress.
func playlistSeconds(playlist string) float64 {
	f, err := os.Open(playlist)
	if err != nil {
		return 0
	}
	defer f.Close()

	var total float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		value := strings.TrimPrefix(line, "#EXTINF:")
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = value[:idx]
		}
		seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		total += seconds
	}
	return total
}

// StreamManager deduplicates HLS transcode jobs per (backend, file):
// requesting a stream that is already being transcoded returns the
// existing job. Idle jobs are reaped after the configured timeout.
type StreamManager struct {
	cfg    StreamConfig
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[streamKey]*StreamJob
	byID map[string]*StreamJob

	done chan struct{}
	once sync.Once
}

func NewStreamManager(cfg StreamConfig, logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "torrentgate-streams")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	m := &StreamManager{
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[streamKey]*StreamJob),
		byID:   make(map[string]*StreamJob),
		done:   make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// EnsureJob returns the running job for (backend, file) or starts one.
func (m *StreamManager) EnsureJob(b domain.Backend, user domain.User, filePath string) (*StreamJob, error) {
	input, err := m.resolveInput(b, filePath)
	if err != nil {
		return nil, err
	}

	key := streamKey{backendID: b.ID, filePath: filePath}
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[key]; ok {
		job.touch()
		return job, nil
	}

	job := &StreamJob{
		ID:          uuid.NewString(),
		BackendID:   b.ID,
		FilePath:    filePath,
		OwnerUserID: user.ID,
		MediaType:   mediaTypeFor(filePath),
		state:       StreamStarting,
		lastAccess:  time.Now(),
	}
	job.Dir = filepath.Join(m.cfg.ScratchDir, job.ID)
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: stream scratch dir: %v", domain.ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	m.jobs[key] = job
	m.byID[job.ID] = job

	metrics.HLSJobStartsTotal.Inc()
	metrics.HLSActiveJobs.Inc()
	m.logger.Info("hls job started",
		slog.String("jobId", job.ID),
		slog.String("backendId", b.ID),
		slog.String("file", filePath),
	)
	go m.probeDuration(ctx, job, input)
	go m.runFFmpeg(ctx, job, input)
	return job, nil
}

func mediaTypeFor(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3", ".flac", ".ogg", ".m4a", ".wav", ".aac", ".opus":
		return "audio"
	default:
		return "video"
	}
}

// resolveInput maps the backend-side file path onto something ffmpeg can
// read: a path under the backend's local mount, or an HTTP URL when the
// backend exposes its downloads over HTTP.
func (m *StreamManager) resolveInput(b domain.Backend, filePath string) (string, error) {
	rel := strings.TrimPrefix(filePath, strings.TrimSuffix(b.DownloadDir, "/"))
	rel = strings.TrimPrefix(rel, "/")

	switch {
	case b.MountPath != "":
		local := filepath.Join(b.MountPath, filepath.FromSlash(rel))
		if _, err := os.Stat(local); err != nil {
			return "", fmt.Errorf("%w: source file not accessible", domain.ErrBadRequest)
		}
		return local, nil
	case b.HTTPDownload != nil && b.HTTPDownload.Enabled:
		scheme := "http"
		if b.HTTPDownload.UseSSL {
			scheme = "https"
		}
		u := url.URL{
			Scheme: scheme,
			Host:   fmt.Sprintf("%s:%d", b.HTTPDownload.Host, b.HTTPDownload.Port),
			Path:   "/" + path.Join(strings.Trim(b.HTTPDownload.Path, "/"), rel),
		}
		return u.String(), nil
	default:
		return "", domain.ErrNoTransport
	}
}

// probeDuration asks ffprobe for the container duration so job info can
// report total length alongside transcode progress.
func (m *StreamManager) probeDuration(ctx context.Context, job *StreamJob, input string) {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, m.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		m.logger.Debug("ffprobe duration failed",
			slog.String("jobId", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || seconds <= 0 {
		return
	}
	job.setDuration(seconds)
}

func (m *StreamManager) runFFmpeg(ctx context.Context, job *StreamJob, input string) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_playlist_type", "event",
		"-hls_segment_filename", filepath.Join(job.Dir, "seg_%05d.ts"),
		filepath.Join(job.Dir, "index.m3u8"),
	}
	cmd := exec.CommandContext(ctx, m.cfg.FFmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() == nil {
		metrics.HLSJobFailuresTotal.Inc()
		job.fail(fmt.Errorf("ffmpeg: %w: %s", err, truncate(strings.TrimSpace(string(out)), 300)))
		m.logger.Error("hls job failed",
			slog.String("jobId", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if ctx.Err() != nil {
		return
	}
	job.setState(StreamDone)
	m.logger.Info("hls job finished transcoding", slog.String("jobId", job.ID))
}

// Job resolves a stream by id and refreshes its idle timer.
func (m *StreamManager) Job(id string) (*StreamJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.byID[id]
	if ok {
		job.touch()
	}
	return job, ok
}

func (m *StreamManager) Jobs(userID string) []*StreamJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*StreamJob
	for _, job := range m.byID {
		if job.OwnerUserID == userID {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Stop cancels the job, removes it from the index and deletes its
// segment directory.
func (m *StreamManager) Stop(id string) bool {
	m.mu.Lock()
	job, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
		delete(m.jobs, streamKey{backendID: job.BackendID, filePath: job.FilePath})
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.reap(job)
	return true
}

func (m *StreamManager) reap(job *StreamJob) {
	job.cancel()
	if err := os.RemoveAll(job.Dir); err != nil {
		m.logger.Warn("stream dir cleanup failed", slog.String("jobId", job.ID), slog.String("error", err.Error()))
	}
	metrics.HLSActiveJobs.Dec()
	m.logger.Info("hls job stopped", slog.String("jobId", job.ID))
}

func (m *StreamManager) gcLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.gc()
		}
	}
}

func (m *StreamManager) gc() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)
	var idle []*StreamJob
	m.mu.Lock()
	for key, job := range m.jobs {
		if job.idleSince().Before(cutoff) {
			idle = append(idle, job)
			delete(m.jobs, key)
			delete(m.byID, job.ID)
		}
	}
	m.mu.Unlock()
	for _, job := range idle {
		m.logger.Info("reaping idle hls job", slog.String("jobId", job.ID))
		m.reap(job)
	}
}

// Shutdown stops every job and the reaper.
func (m *StreamManager) Shutdown() {
	m.once.Do(func() { close(m.done) })
	m.mu.Lock()
	jobs := make([]*StreamJob, 0, len(m.byID))
	for _, job := range m.byID {
		jobs = append(jobs, job)
	}
	m.jobs = make(map[streamKey]*StreamJob)
	m.byID = make(map[string]*StreamJob)
	m.mu.Unlock()
	for _, job := range jobs {
		m.reap(job)
	}
}
