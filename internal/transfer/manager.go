package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"torrentgate/internal/activity"
	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/events"
	"torrentgate/internal/metrics"
)

// Store is the persistence surface the transfer manager needs.
type Store interface {
	ports.TransferStore
	ports.BackendStore
	ports.ActionStore
}

type Config struct {
	MaxConcurrent       int
	MaxRetries          int
	PublicSeedDuration  time.Duration
	PrivateSeedDuration time.Duration
	MaxStatusGap        time.Duration
}

// SubmitRequest is a manual transfer request.
type SubmitRequest struct {
	TorrentHash       string
	BackendID         string
	DestPath          string
	DeleteRemoteAfter bool
}

// Manager runs transfer jobs that copy completed torrent payloads from a
// backend host to local storage. Submission is idempotent per
// (hash, backend): while a job is pending or running, resubmitting returns
// the existing job. Remote deletion after a transfer is deferred until the
// torrent has met its seed obligation.
type Manager struct {
	Store    Store
	Factory  ports.ClientFactory
	Recorder *activity.Recorder
	Bus      *events.Bus
	Logger   *slog.Logger
	Config   Config
	Now      func() time.Time

	sem    chan struct{}
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store Store, factory ports.ClientFactory, recorder *activity.Recorder, bus *events.Bus, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Manager{
		Store:    store,
		Factory:  factory,
		Recorder: recorder,
		Bus:      bus,
		Logger:   logger,
		Config:   cfg,
		Now:      time.Now,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start resumes interrupted jobs and begins the deferred-deletion sweep.
func (m *Manager) Start(ctx context.Context) {
	m.runCtx, m.cancel = context.WithCancel(ctx)

	jobs, err := m.Store.ListTransferJobsByState(ctx, domain.TransferPending, domain.TransferRunning)
	if err != nil {
		m.Logger.Error("transfer resume failed", slog.String("error", err.Error()))
	}
	for _, job := range jobs {
		job.State = domain.TransferPending
		if err := m.Store.UpdateTransferJob(ctx, job); err != nil {
			m.Logger.Warn("transfer requeue failed", slog.String("jobId", job.ID), slog.String("error", err.Error()))
			continue
		}
		m.dispatch(job)
	}

	m.wg.Add(1)
	go m.sweepLoop()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Submit creates a manual transfer job for a completed torrent.
func (m *Manager) Submit(ctx context.Context, user domain.User, req SubmitRequest) (domain.TransferJob, error) {
	hash, err := domain.NormalizeInfoHash(req.TorrentHash)
	if err != nil {
		return domain.TransferJob{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	b, err := m.Store.GetBackend(ctx, req.BackendID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TransferJob{}, fmt.Errorf("%w: unknown backend", domain.ErrBadRequest)
		}
		return domain.TransferJob{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if b.OwnerUserID != user.ID {
		return domain.TransferJob{}, fmt.Errorf("%w: unknown backend", domain.ErrBadRequest)
	}

	if existing, err := m.Store.FindActiveTransferJob(ctx, hash, b.ID); err == nil {
		return existing, nil
	}

	view, err := m.lookupTorrent(ctx, b, hash)
	if err != nil {
		return domain.TransferJob{}, err
	}
	if !view.Complete {
		return domain.TransferJob{}, fmt.Errorf("%w: torrent is not complete", domain.ErrBadRequest)
	}

	dest := req.DestPath
	if dest == "" && b.AutoDownload != nil {
		dest = b.AutoDownload.LocalPath
	}
	if dest == "" {
		return domain.TransferJob{}, fmt.Errorf("%w: destination path is required", domain.ErrBadRequest)
	}

	return m.create(ctx, b, view, dest, "manual", req.DeleteRemoteAfter)
}

// SubmitAuto queues a transfer triggered by torrent completion.
func (m *Manager) SubmitAuto(ctx context.Context, b domain.Backend, view domain.TorrentView) (domain.TransferJob, error) {
	if b.AutoDownload == nil || !b.AutoDownload.Enabled || b.AutoDownload.LocalPath == "" {
		return domain.TransferJob{}, fmt.Errorf("%w: auto download not configured", domain.ErrBadRequest)
	}
	if existing, err := m.Store.FindActiveTransferJob(ctx, view.InfoHash, b.ID); err == nil {
		return existing, nil
	}
	return m.create(ctx, b, view, b.AutoDownload.LocalPath, "auto", b.AutoDownload.DeleteRemoteAfter)
}

func (m *Manager) create(ctx context.Context, b domain.Backend, view domain.TorrentView, dest, trigger string, deleteRemote bool) (domain.TransferJob, error) {
	if _, err := pickTransport(b); err != nil {
		return domain.TransferJob{}, err
	}

	job := domain.TransferJob{
		ID:                uuid.NewString(),
		OwnerUserID:       b.OwnerUserID,
		TorrentHash:       view.InfoHash,
		BackendID:         b.ID,
		TorrentName:       view.Name,
		SourcePath:        view.BasePath,
		DestPath:          dest,
		State:             domain.TransferPending,
		BytesTotal:        view.Size,
		MaxRetries:        m.Config.MaxRetries,
		TriggeredBy:       trigger,
		DeleteRemoteAfter: deleteRemote,
		StartedAt:         m.Now().UTC(),
	}
	if err := m.Store.CreateTransferJob(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			if existing, ferr := m.Store.FindActiveTransferJob(ctx, view.InfoHash, b.ID); ferr == nil {
				return existing, nil
			}
		}
		return domain.TransferJob{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	m.dispatch(job)
	return job, nil
}

func (m *Manager) dispatch(job domain.TransferJob) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx := m.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case m.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-m.sem }()
		m.run(ctx, job)
	}()
}

func (m *Manager) run(ctx context.Context, job domain.TransferJob) {
	b, err := m.Store.GetBackend(ctx, job.BackendID)
	if err != nil {
		m.finish(ctx, job, fmt.Errorf("backend lookup: %w", err))
		return
	}
	tr, err := pickTransport(b)
	if err != nil {
		m.finish(ctx, job, err)
		return
	}

	job.State = domain.TransferRunning
	if err := m.Store.UpdateTransferJob(ctx, job); err != nil {
		m.Logger.Warn("transfer update failed", slog.String("jobId", job.ID), slog.String("error", err.Error()))
	}
	metrics.TransfersActive.Inc()
	defer metrics.TransfersActive.Dec()

	m.appendAction(ctx, job, domain.ActionTransferStart, tr.Name())
	m.publish(events.TransferStarted, job, tr.Name())
	m.Logger.Info("transfer started",
		slog.String("jobId", job.ID),
		slog.String("hash", job.TorrentHash),
		slog.String("transport", tr.Name()),
		slog.String("trigger", job.TriggeredBy),
	)

	files := m.lookupFiles(ctx, b, job.TorrentHash)
	progress := func(done int64) {
		job.BytesDone = done
		if err := m.Store.UpdateTransferJob(ctx, job); err != nil {
			m.Logger.Debug("transfer progress update failed", slog.String("jobId", job.ID), slog.String("error", err.Error()))
		}
	}

	var lastErr error
	for attempt := 0; attempt <= job.MaxRetries; attempt++ {
		if attempt > 0 {
			job.Retries = attempt
			if err := m.Store.UpdateTransferJob(ctx, job); err != nil {
				m.Logger.Warn("transfer update failed", slog.String("jobId", job.ID), slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				m.finish(ctx, job, ctx.Err())
				return
			case <-time.After(time.Duration(attempt) * 5 * time.Second):
			}
		}
		lastErr = tr.Fetch(ctx, job, b, files, progress)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			m.finish(ctx, job, ctx.Err())
			return
		}
		m.Logger.Warn("transfer attempt failed",
			slog.String("jobId", job.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}
	m.finish(ctx, job, lastErr)
}

func (m *Manager) finish(ctx context.Context, job domain.TransferJob, err error) {
	now := m.Now().UTC()
	job.FinishedAt = &now
	if err != nil {
		job.State = domain.TransferFailed
		job.Error = err.Error()
	} else {
		job.State = domain.TransferDone
		job.BytesDone = job.BytesTotal
		job.Error = ""
	}
	if uerr := m.Store.UpdateTransferJob(ctx, job); uerr != nil {
		m.Logger.Error("transfer final update failed", slog.String("jobId", job.ID), slog.String("error", uerr.Error()))
	}
	metrics.TransferJobsTotal.WithLabelValues(string(job.State)).Inc()

	if err != nil {
		m.Logger.Error("transfer failed",
			slog.String("jobId", job.ID),
			slog.String("hash", job.TorrentHash),
			slog.String("error", err.Error()),
		)
		m.appendAction(ctx, job, domain.ActionError, err.Error())
		m.publish(events.TorrentError, job, err.Error())
		return
	}

	m.Logger.Info("transfer completed",
		slog.String("jobId", job.ID),
		slog.String("hash", job.TorrentHash),
		slog.Int64("bytes", job.BytesTotal),
	)
	m.appendAction(ctx, job, domain.ActionTransferDone, "")
	m.publish(events.TransferCompleted, job, "")

	if job.DeleteRemoteAfter {
		m.maybeDeleteRemote(ctx, job)
	}
}

// sweepLoop retries deferred remote deletions for finished jobs whose
// torrent had not yet met its seed obligation at transfer time.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.sweepDeferred(m.runCtx)
		}
	}
}

func (m *Manager) sweepDeferred(ctx context.Context) {
	jobs, err := m.Store.ListTransferJobsByState(ctx, domain.TransferDone)
	if err != nil {
		m.Logger.Warn("deferred deletion sweep failed", slog.String("error", err.Error()))
		return
	}
	for _, job := range jobs {
		if !job.DeleteRemoteAfter || job.RemoteDeleted {
			continue
		}
		m.maybeDeleteRemote(ctx, job)
	}
}

// maybeDeleteRemote erases the remote torrent with its data once the seed
// obligation is met. A torrent already gone from the backend is treated as
// deleted.
func (m *Manager) maybeDeleteRemote(ctx context.Context, job domain.TransferJob) {
	b, err := m.Store.GetBackend(ctx, job.BackendID)
	if err != nil {
		return
	}
	client, err := m.Factory.Client(b)
	if err != nil {
		return
	}

	view, err := m.lookupTorrent(ctx, b, job.TorrentHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.markRemoteDeleted(ctx, job)
		}
		return
	}

	threshold := m.Config.PublicSeedDuration
	if view.IsPrivate {
		threshold = m.Config.PrivateSeedDuration
	}
	if threshold > 0 && m.Recorder != nil {
		seeded, err := m.Recorder.SeedingDuration(ctx, job.TorrentHash, m.Config.MaxStatusGap)
		if err != nil || seeded < threshold {
			return
		}
	}

	if err := client.Erase(ctx, job.TorrentHash, true); err != nil {
		m.Logger.Warn("remote delete failed",
			slog.String("jobId", job.ID),
			slog.String("hash", job.TorrentHash),
			slog.String("error", err.Error()),
		)
		return
	}
	m.Logger.Info("remote torrent deleted after transfer",
		slog.String("jobId", job.ID),
		slog.String("hash", job.TorrentHash),
	)
	m.markRemoteDeleted(ctx, job)
}

func (m *Manager) markRemoteDeleted(ctx context.Context, job domain.TransferJob) {
	job.RemoteDeleted = true
	if err := m.Store.UpdateTransferJob(ctx, job); err != nil {
		m.Logger.Warn("transfer update failed", slog.String("jobId", job.ID), slog.String("error", err.Error()))
	}
}

func (m *Manager) lookupTorrent(ctx context.Context, b domain.Backend, hash string) (domain.TorrentView, error) {
	client, err := m.Factory.Client(b)
	if err != nil {
		return domain.TorrentView{}, fmt.Errorf("%w: %v", domain.ErrBackendFailure, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	views, err := client.ListTorrents(callCtx, ports.ListOptions{InfoHash: hash})
	if err != nil {
		m.Factory.Invalidate(b.ID)
		return domain.TorrentView{}, fmt.Errorf("%w: %v", domain.ErrBackendFailure, err)
	}
	if len(views) == 0 {
		return domain.TorrentView{}, domain.ErrNotFound
	}
	return views[0], nil
}

func (m *Manager) lookupFiles(ctx context.Context, b domain.Backend, hash string) []domain.FileView {
	client, err := m.Factory.Client(b)
	if err != nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	files, err := client.Files(callCtx, hash)
	if err != nil {
		return nil
	}
	return files
}

func (m *Manager) appendAction(ctx context.Context, job domain.TransferJob, kind domain.ActionKind, detail string) {
	action := domain.Action{
		TorrentHash: job.TorrentHash,
		OwnerUserID: job.OwnerUserID,
		BackendID:   job.BackendID,
		Kind:        kind,
		Detail:      detail,
		Timestamp:   m.Now().UTC(),
	}
	if err := m.Store.AppendAction(ctx, action); err != nil {
		m.Logger.Warn("action append failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) publish(kind events.Kind, job domain.TransferJob, detail string) {
	if m.Bus == nil {
		return
	}
	m.Bus.Publish(events.Event{
		Kind:        kind,
		OwnerUserID: job.OwnerUserID,
		BackendID:   job.BackendID,
		TorrentHash: job.TorrentHash,
		Detail:      detail,
		Payload: map[string]any{
			"job_id":       job.ID,
			"torrent_name": job.TorrentName,
			"dest_path":    job.DestPath,
		},
	})
}
