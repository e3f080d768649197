package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/madflojo/tasks"

	"torrentgate/internal/activity"
	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/events"
	"torrentgate/internal/metrics"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	ports.BackendStore
	ports.ActionStore
}

// CredentialCleaner is satisfied by the auth manager.
type CredentialCleaner interface {
	CleanupExpired(ctx context.Context)
}

type Config struct {
	Interval            time.Duration
	AutoPauseSeeding    bool
	PublicSeedDuration  time.Duration
	PrivateSeedDuration time.Duration
	MaxStatusGap        time.Duration
	StatusRetentionDays int
}

// Scheduler runs the periodic maintenance tick: sample every enabled
// backend, append status rows and auto-pause torrents whose seed window
// has elapsed. It also prunes old statuses and expired credentials.
type Scheduler struct {
	Store    Store
	Recorder *activity.Recorder
	Factory  ports.ClientFactory
	Bus      *events.Bus
	Cleaner  CredentialCleaner
	Logger   *slog.Logger
	Config   Config
	Now      func() time.Time

	scheduler *tasks.Scheduler
}

func New(store Store, recorder *activity.Recorder, factory ports.ClientFactory, bus *events.Bus, cleaner CredentialCleaner, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxStatusGap <= 0 {
		cfg.MaxStatusGap = 5 * time.Minute
	}
	return &Scheduler{
		Store:    store,
		Recorder: recorder,
		Factory:  factory,
		Bus:      bus,
		Cleaner:  cleaner,
		Logger:   logger,
		Config:   cfg,
		Now:      time.Now,
	}
}

// Start registers the periodic tasks. Stop cancels them; an in-flight tick
// finishes within its own deadline.
func (s *Scheduler) Start() error {
	s.scheduler = tasks.New()

	if _, err := s.scheduler.Add(&tasks.Task{
		Interval: s.Config.Interval,
		TaskFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), s.tickDeadline())
			defer cancel()
			s.RunTick(ctx)
			return nil
		},
		ErrFunc: s.logTaskError("maintenance tick"),
	}); err != nil {
		return err
	}

	if _, err := s.scheduler.Add(&tasks.Task{
		Interval: 24 * time.Hour,
		TaskFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			s.Recorder.Prune(ctx, s.Config.StatusRetentionDays)
			return nil
		},
		ErrFunc: s.logTaskError("status prune"),
	}); err != nil {
		return err
	}

	if s.Cleaner != nil {
		if _, err := s.scheduler.Add(&tasks.Task{
			Interval: time.Hour,
			TaskFunc: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				s.Cleaner.CleanupExpired(ctx)
				return nil
			},
			ErrFunc: s.logTaskError("credential cleanup"),
		}); err != nil {
			return err
		}
	}

	s.Logger.Info("maintenance scheduler started",
		slog.Duration("interval", s.Config.Interval),
		slog.Bool("autoPause", s.Config.AutoPauseSeeding),
	)
	return nil
}

func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) logTaskError(name string) func(error) {
	return func(err error) {
		s.Logger.Error("scheduled task failed", slog.String("task", name), slog.String("error", err.Error()))
	}
}

// tickDeadline is the tick period minus a safety margin.
func (s *Scheduler) tickDeadline() time.Duration {
	margin := s.Config.Interval / 10
	if margin < time.Second {
		margin = time.Second
	}
	if s.Config.Interval <= margin {
		return s.Config.Interval
	}
	return s.Config.Interval - margin
}

// RunTick samples every enabled backend once. Backend errors are logged
// and never abort the tick.
func (s *Scheduler) RunTick(ctx context.Context) {
	start := s.Now()
	backends, err := s.Store.ListAllEnabledBackends(ctx)
	if err != nil {
		s.Logger.Error("maintenance: backend list failed", slog.String("error", err.Error()))
		return
	}

	for _, b := range backends {
		if ctx.Err() != nil {
			return
		}
		if err := s.sampleBackend(ctx, b); err != nil {
			s.Logger.Warn("maintenance: backend sample failed",
				slog.String("backendId", b.ID),
				slog.String("backend", b.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	metrics.MaintenanceTickDuration.Observe(s.Now().Sub(start).Seconds())
}

func (s *Scheduler) sampleBackend(ctx context.Context, b domain.Backend) error {
	client, err := s.Factory.Client(b)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	views, err := client.ListTorrents(callCtx, ports.ListOptions{})
	cancel()
	if err != nil {
		s.Factory.Invalidate(b.ID)
		return err
	}

	now := s.Now().UTC()
	for _, view := range views {
		status := domain.Status{
			TorrentHash: view.InfoHash,
			BackendID:   b.ID,
			OwnerUserID: b.OwnerUserID,
			IsSeeding:   view.IsActive && view.Complete,
			IsPrivate:   view.IsPrivate,
			Progress:    view.Progress,
			DownRate:    view.DownRate,
			UpRate:      view.UpRate,
			Peers:       view.Peers,
			Seeds:       view.Seeds,
			Timestamp:   now,
		}
		if err := s.Recorder.Record(ctx, status); err != nil {
			s.Logger.Warn("maintenance: status append failed",
				slog.String("hash", view.InfoHash),
				slog.String("error", err.Error()),
			)
			continue
		}

		if status.IsSeeding && s.Config.AutoPauseSeeding {
			s.maybeAutoPause(ctx, b, client, view)
		}
	}
	return nil
}

// maybeAutoPause stops a seeding torrent once its accumulated seeding
// duration meets the threshold for its privacy class.
func (s *Scheduler) maybeAutoPause(ctx context.Context, b domain.Backend, client ports.BackendClient, view domain.TorrentView) {
	duration, err := s.Recorder.SeedingDuration(ctx, view.InfoHash, s.Config.MaxStatusGap)
	if err != nil {
		s.Logger.Warn("maintenance: seeding duration failed",
			slog.String("hash", view.InfoHash),
			slog.String("error", err.Error()),
		)
		return
	}

	threshold := s.Config.PublicSeedDuration
	if view.IsPrivate {
		threshold = s.Config.PrivateSeedDuration
	}
	if threshold <= 0 || duration < threshold {
		return
	}

	if err := client.Stop(ctx, view.InfoHash); err != nil {
		s.Logger.Warn("maintenance: auto-pause stop failed",
			slog.String("hash", view.InfoHash),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.AutoPausesTotal.Inc()
	s.Logger.Info("auto-paused seeding torrent",
		slog.String("hash", view.InfoHash),
		slog.String("name", view.Name),
		slog.String("seeded", duration.String()),
	)

	action := domain.Action{
		TorrentHash: view.InfoHash,
		OwnerUserID: b.OwnerUserID,
		BackendID:   b.ID,
		Kind:        domain.ActionStop,
		Detail:      "auto_pause",
		Timestamp:   s.Now().UTC(),
	}
	if err := s.Store.AppendAction(ctx, action); err != nil {
		s.Logger.Warn("maintenance: action append failed", slog.String("error", err.Error()))
	}
	if s.Bus != nil {
		s.Bus.Publish(events.Event{
			Kind:        events.TorrentStopped,
			OwnerUserID: b.OwnerUserID,
			BackendID:   b.ID,
			TorrentHash: view.InfoHash,
			Detail:      "auto_pause",
		})
	}
}
