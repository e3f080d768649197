package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"torrentgate/internal/activity"
	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/events"
	"torrentgate/internal/gateway"
	"torrentgate/internal/metrics"
)

// Store is the persistence surface the poller needs.
type Store interface {
	ports.BackendStore
	ports.TransferStore
}

// TransferSubmitter queues an automatic download for a freshly completed
// torrent. Satisfied by the transfer manager.
type TransferSubmitter interface {
	SubmitAuto(ctx context.Context, b domain.Backend, view domain.TorrentView) (domain.TransferJob, error)
}

type Config struct {
	// ActiveInterval applies while a backend has downloading torrents,
	// IdleInterval otherwise.
	ActiveInterval      time.Duration
	IdleInterval        time.Duration
	MaxStatusGap        time.Duration
	PublicSeedDuration  time.Duration
	PrivateSeedDuration time.Duration
}

// CachedTorrent is a tagged backend view enriched with seeding accounting
// and any in-flight transfer for the hash.
type CachedTorrent struct {
	gateway.TaggedTorrent
	SeedingDuration int64               `json:"seeding_duration"`
	SeedThreshold   int64               `json:"seed_threshold"`
	Transfer        *domain.TransferJob `json:"transfer,omitempty"`
}

// Snapshot is the cached list for one user, with per-backend failures.
type Snapshot struct {
	Torrents []CachedTorrent        `json:"torrents"`
	Errors   []gateway.BackendError `json:"errors,omitempty"`
}

type backendCache struct {
	torrents          []domain.TorrentView
	lastPoll          time.Time
	hasActive         bool
	err               error
	consecutiveErrors int
	lastErrorLogged   time.Time
	completed         map[string]bool
	seen              bool
}

// Poller keeps a per-backend torrent cache warm so list requests do not
// hit the backends on every call. The poll interval adapts to activity:
// backends with running downloads are polled more often. A failing poll
// keeps the previous data and surfaces the error alongside it.
type Poller struct {
	Store     Store
	Recorder  *activity.Recorder
	Factory   ports.ClientFactory
	Bus       *events.Bus
	Transfers TransferSubmitter
	Logger    *slog.Logger
	Config    Config
	Now       func() time.Time

	mu    sync.RWMutex
	cache map[string]*backendCache
}

func New(store Store, recorder *activity.Recorder, factory ports.ClientFactory, bus *events.Bus, logger *slog.Logger, cfg Config) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = 15 * time.Second
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Minute
	}
	return &Poller{
		Store:    store,
		Recorder: recorder,
		Factory:  factory,
		Bus:      bus,
		Logger:   logger,
		Config:   cfg,
		Now:      time.Now,
		cache:    make(map[string]*backendCache),
	}
}

// Run polls until the context is cancelled. Each cycle polls only the
// backends whose interval has elapsed.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Config.ActiveInterval)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	backends, err := p.Store.ListAllEnabledBackends(ctx)
	if err != nil {
		p.Logger.Error("poll: backend list failed", slog.String("error", err.Error()))
		metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		return
	}

	now := p.Now()
	alive := make(map[string]bool, len(backends))
	for _, b := range backends {
		alive[b.ID] = true
		if !p.due(b.ID, now) {
			continue
		}
		p.pollBackend(ctx, b)
	}
	p.dropStale(alive)
	metrics.PollCyclesTotal.WithLabelValues("ok").Inc()
}

func (p *Poller) due(backendID string, now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.cache[backendID]
	if !ok {
		return true
	}
	interval := p.Config.IdleInterval
	if c.hasActive {
		interval = p.Config.ActiveInterval
	}
	return now.Sub(c.lastPoll) >= interval
}

// dropStale removes cache entries for backends that were deleted or
// disabled since the last cycle.
func (p *Poller) dropStale(alive map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.cache {
		if !alive[id] {
			delete(p.cache, id)
		}
	}
}

func (p *Poller) pollBackend(ctx context.Context, b domain.Backend) {
	client, err := p.Factory.Client(b)
	if err != nil {
		p.recordError(b, err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	views, err := client.ListTorrents(callCtx, ports.ListOptions{})
	cancel()
	if err != nil {
		p.Factory.Invalidate(b.ID)
		p.recordError(b, err)
		return
	}

	newlyCompleted := p.recordSuccess(b, views)
	for _, view := range newlyCompleted {
		p.onCompleted(ctx, b, view)
	}
}

// recordError keeps the previous torrent data and logs with damping: the
// first and fifth consecutive failures, then at most once per ten minutes.
func (p *Poller) recordError(b domain.Backend, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.entry(b.ID)
	c.lastPoll = p.Now()
	c.err = err
	c.consecutiveErrors++

	shouldLog := c.consecutiveErrors == 1 ||
		c.consecutiveErrors == 5 ||
		p.Now().Sub(c.lastErrorLogged) >= 10*time.Minute
	if shouldLog {
		c.lastErrorLogged = p.Now()
		p.Logger.Warn("poll failed",
			slog.String("backendId", b.ID),
			slog.String("backend", b.Name),
			slog.Int("consecutive", c.consecutiveErrors),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Poller) recordSuccess(b domain.Backend, views []domain.TorrentView) []domain.TorrentView {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.entry(b.ID)
	if c.consecutiveErrors > 0 {
		p.Logger.Info("poll recovered",
			slog.String("backendId", b.ID),
			slog.String("backend", b.Name),
			slog.Int("failures", c.consecutiveErrors),
		)
	}

	var newlyCompleted []domain.TorrentView
	completed := make(map[string]bool, len(views))
	hasActive := false
	for _, view := range views {
		if view.IsActive && !view.Complete {
			hasActive = true
		}
		if view.Complete {
			completed[view.InfoHash] = true
			// The first poll after startup establishes the baseline;
			// only transitions observed afterwards count as completions.
			if c.seen && !c.completed[view.InfoHash] {
				newlyCompleted = append(newlyCompleted, view)
			}
		}
	}

	c.torrents = views
	c.lastPoll = p.Now()
	c.hasActive = hasActive
	c.err = nil
	c.consecutiveErrors = 0
	c.completed = completed
	c.seen = true
	return newlyCompleted
}

func (p *Poller) entry(backendID string) *backendCache {
	c, ok := p.cache[backendID]
	if !ok {
		c = &backendCache{completed: make(map[string]bool)}
		p.cache[backendID] = c
	}
	return c
}

func (p *Poller) onCompleted(ctx context.Context, b domain.Backend, view domain.TorrentView) {
	p.Logger.Info("torrent completed",
		slog.String("backendId", b.ID),
		slog.String("hash", view.InfoHash),
		slog.String("name", view.Name),
	)
	if p.Bus != nil {
		p.Bus.Publish(events.Event{
			Kind:        events.TorrentCompleted,
			OwnerUserID: b.OwnerUserID,
			BackendID:   b.ID,
			TorrentHash: view.InfoHash,
			Detail:      view.Name,
		})
	}
	if p.Transfers != nil && b.AutoDownload != nil && b.AutoDownload.Enabled {
		if _, err := p.Transfers.SubmitAuto(ctx, b, view); err != nil {
			p.Logger.Warn("auto transfer submit failed",
				slog.String("hash", view.InfoHash),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Snapshot returns the cached torrents for all of the user's enabled
// backends (or one, when backendID is set), enriched with seeding
// durations, seed thresholds and in-flight transfers. Backends without a
// cache entry yet are reported in Errors.
func (p *Poller) Snapshot(ctx context.Context, userID, backendID string) (Snapshot, error) {
	backends, err := p.Store.ListBackends(ctx, userID, true)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	for _, b := range backends {
		if backendID != "" && b.ID != backendID {
			continue
		}
		views, cacheErr, ok := p.cached(b.ID)
		if !ok {
			snap.Errors = append(snap.Errors, gateway.BackendError{BackendID: b.ID, Message: "not polled yet"})
			continue
		}
		if cacheErr != nil {
			snap.Errors = append(snap.Errors, gateway.BackendError{BackendID: b.ID, Message: cacheErr.Error()})
		}
		for _, view := range views {
			snap.Torrents = append(snap.Torrents, p.enrich(ctx, b, view))
		}
	}
	return snap, nil
}

func (p *Poller) cached(backendID string) ([]domain.TorrentView, error, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.cache[backendID]
	if !ok || !c.seen {
		var err error
		if ok {
			err = c.err
		}
		if err != nil {
			return nil, err, true
		}
		return nil, nil, false
	}
	views := make([]domain.TorrentView, len(c.torrents))
	copy(views, c.torrents)
	return views, c.err, true
}

func (p *Poller) enrich(ctx context.Context, b domain.Backend, view domain.TorrentView) CachedTorrent {
	out := CachedTorrent{
		TaggedTorrent: gateway.TaggedTorrent{
			TorrentView: view,
			BackendID:   b.ID,
			BackendName: b.Name,
			BackendKind: b.Kind,
		},
	}

	if view.Complete {
		threshold := p.Config.PublicSeedDuration
		if view.IsPrivate {
			threshold = p.Config.PrivateSeedDuration
		}
		out.SeedThreshold = int64(threshold.Seconds())

		if p.Recorder != nil {
			if d, err := p.Recorder.SeedingDuration(ctx, view.InfoHash, p.Config.MaxStatusGap); err == nil {
				out.SeedingDuration = int64(d.Seconds())
			}
		}
	}

	if job, err := p.Store.FindActiveTransferJob(ctx, view.InfoHash, b.ID); err == nil {
		out.Transfer = &job
	}
	return out
}
