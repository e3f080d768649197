package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/events"
)

// Store is the persistence surface the gateway needs.
type Store interface {
	ports.BackendStore
	ports.TorrentStore
	ports.ActionStore
}

// TaggedTorrent is a backend view annotated with its origin.
type TaggedTorrent struct {
	domain.TorrentView
	BackendID   string             `json:"server_id"`
	BackendName string             `json:"server_name"`
	BackendKind domain.BackendKind `json:"server_type"`
}

type BackendError struct {
	BackendID string `json:"backend_id"`
	Message   string `json:"message"`
}

// ListResult carries the merged torrent list plus per-backend failures.
// A failing backend never fails the whole call.
type ListResult struct {
	Torrents []TaggedTorrent
	Errors   []BackendError
}

// Gateway routes torrent operations for a user across their backends:
// reads fan out to every enabled backend, writes are routed to the backend
// holding the hash.
type Gateway struct {
	Store   Store
	Factory ports.ClientFactory
	Bus     *events.Bus
	Logger  *slog.Logger

	// FanoutTimeout bounds each backend call inside a fan-out read.
	FanoutTimeout time.Duration
	Now           func() time.Time

	mruMu sync.Mutex
	mru   map[string]string // user id -> backend id of last by-hash match
}

func New(store Store, factory ports.ClientFactory, bus *events.Bus, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		Store:         store,
		Factory:       factory,
		Bus:           bus,
		Logger:        logger,
		FanoutTimeout: 10 * time.Second,
		Now:           time.Now,
		mru:           make(map[string]string),
	}
}

// ListTorrents fans out to every enabled backend of the user, or to one
// backend when backendID is set. Per-backend ordering is preserved;
// backends are merged in name order so the result is stable.
func (g *Gateway) ListTorrents(ctx context.Context, user domain.User, backendID string) (ListResult, error) {
	backends, err := g.targetBackends(ctx, user, backendID)
	if err != nil {
		return ListResult{}, err
	}

	type slot struct {
		views []domain.TorrentView
		err   error
	}
	slots := make([]slot, len(backends))

	grp, grpCtx := errgroup.WithContext(ctx)
	for i, b := range backends {
		i, b := i, b
		grp.Go(func() error {
			callCtx, cancel := context.WithTimeout(grpCtx, g.FanoutTimeout)
			defer cancel()

			client, err := g.Factory.Client(b)
			if err != nil {
				slots[i].err = err
				return nil
			}
			views, err := client.ListTorrents(callCtx, ports.ListOptions{})
			if err != nil {
				g.Factory.Invalidate(b.ID)
				slots[i].err = err
				return nil
			}
			slots[i].views = views
			return nil
		})
	}
	_ = grp.Wait()

	result := ListResult{}
	for i, b := range backends {
		if slots[i].err != nil {
			g.Logger.Warn("backend list failed",
				slog.String("backendId", b.ID),
				slog.String("backend", b.Name),
				slog.String("error", slots[i].err.Error()),
			)
			result.Errors = append(result.Errors, BackendError{BackendID: b.ID, Message: slots[i].err.Error()})
			continue
		}
		for _, view := range slots[i].views {
			result.Torrents = append(result.Torrents, TaggedTorrent{
				TorrentView: view,
				BackendID:   b.ID,
				BackendName: b.Name,
				BackendKind: b.Kind,
			})
		}
	}
	return result, nil
}

// targetBackends resolves the set of backends a read fans out to.
func (g *Gateway) targetBackends(ctx context.Context, user domain.User, backendID string) ([]domain.Backend, error) {
	if backendID != "" {
		b, err := g.ownedBackend(ctx, user, backendID)
		if err != nil {
			return nil, err
		}
		return []domain.Backend{b}, nil
	}
	backends, err := g.Store.ListBackends(ctx, user.ID, true)
	if err != nil {
		return nil, wrapStore(err)
	}
	sort.SliceStable(backends, func(i, j int) bool { return backends[i].Name < backends[j].Name })
	return backends, nil
}

func (g *Gateway) ownedBackend(ctx context.Context, user domain.User, backendID string) (domain.Backend, error) {
	b, err := g.Store.GetBackend(ctx, backendID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Backend{}, fmt.Errorf("%w: unknown backend", domain.ErrBadRequest)
		}
		return domain.Backend{}, wrapStore(err)
	}
	if b.OwnerUserID != user.ID {
		// Other users' backends are indistinguishable from unknown ones.
		return domain.Backend{}, fmt.Errorf("%w: unknown backend", domain.ErrBadRequest)
	}
	return b, nil
}

// resolveByHash finds the backend holding the hash. With no explicit
// backend the search order is default first, then the most recently used,
// then the remaining enabled backends.
func (g *Gateway) resolveByHash(ctx context.Context, user domain.User, infoHash, backendID string) (domain.Backend, ports.BackendClient, error) {
	hash, err := domain.NormalizeInfoHash(infoHash)
	if err != nil {
		return domain.Backend{}, nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	if backendID != "" {
		b, err := g.ownedBackend(ctx, user, backendID)
		if err != nil {
			return domain.Backend{}, nil, err
		}
		client, err := g.Factory.Client(b)
		if err != nil {
			return domain.Backend{}, nil, wrapBackend(err)
		}
		return b, client, nil
	}

	backends, err := g.Store.ListBackends(ctx, user.ID, true)
	if err != nil {
		return domain.Backend{}, nil, wrapStore(err)
	}
	if len(backends) == 0 {
		return domain.Backend{}, nil, fmt.Errorf("%w: no backends configured", domain.ErrUnavailable)
	}

	for _, b := range searchOrder(backends, g.lastUsed(user.ID)) {
		client, err := g.Factory.Client(b)
		if err != nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, g.FanoutTimeout)
		views, err := client.ListTorrents(callCtx, ports.ListOptions{InfoHash: hash})
		cancel()
		if err != nil {
			g.Factory.Invalidate(b.ID)
			continue
		}
		if len(views) > 0 {
			g.setLastUsed(user.ID, b.ID)
			return b, client, nil
		}
	}
	return domain.Backend{}, nil, domain.ErrNotFound
}

// searchOrder puts the default backend first, then the most recently used,
// then the rest in stored order.
func searchOrder(backends []domain.Backend, mruID string) []domain.Backend {
	ordered := make([]domain.Backend, 0, len(backends))
	var rest []domain.Backend
	var mru *domain.Backend
	for _, b := range backends {
		switch {
		case b.IsDefault:
			ordered = append(ordered, b)
		case b.ID == mruID:
			bb := b
			mru = &bb
		default:
			rest = append(rest, b)
		}
	}
	if mru != nil {
		ordered = append(ordered, *mru)
	}
	return append(ordered, rest...)
}

func (g *Gateway) lastUsed(userID string) string {
	g.mruMu.Lock()
	defer g.mruMu.Unlock()
	return g.mru[userID]
}

func (g *Gateway) setLastUsed(userID, backendID string) {
	g.mruMu.Lock()
	defer g.mruMu.Unlock()
	g.mru[userID] = backendID
}

func (g *Gateway) Start(ctx context.Context, user domain.User, infoHash, backendID string) error {
	b, client, err := g.resolveByHash(ctx, user, infoHash, backendID)
	if err != nil {
		return err
	}
	hash, _ := domain.NormalizeInfoHash(infoHash)
	if err := client.Start(ctx, hash); err != nil {
		return wrapBackend(err)
	}
	g.appendAction(ctx, user.ID, b.ID, hash, domain.ActionStart, "")
	g.publish(events.TorrentStarted, user.ID, b.ID, hash, "")
	return nil
}

func (g *Gateway) Stop(ctx context.Context, user domain.User, infoHash, backendID string) error {
	b, client, err := g.resolveByHash(ctx, user, infoHash, backendID)
	if err != nil {
		return err
	}
	hash, _ := domain.NormalizeInfoHash(infoHash)
	if err := client.Stop(ctx, hash); err != nil {
		return wrapBackend(err)
	}
	g.appendAction(ctx, user.ID, b.ID, hash, domain.ActionStop, "")
	g.publish(events.TorrentStopped, user.ID, b.ID, hash, "")
	return nil
}

func (g *Gateway) Erase(ctx context.Context, user domain.User, infoHash, backendID string, deleteData bool) error {
	b, client, err := g.resolveByHash(ctx, user, infoHash, backendID)
	if err != nil {
		return err
	}
	hash, _ := domain.NormalizeInfoHash(infoHash)
	if err := client.Erase(ctx, hash, deleteData); err != nil {
		return wrapBackend(err)
	}
	if err := g.Store.DeleteTorrent(ctx, user.ID, hash, b.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		g.Logger.Warn("torrent record delete failed", slog.String("error", err.Error()))
	}
	g.appendAction(ctx, user.ID, b.ID, hash, domain.ActionRemove, "")
	g.publish(events.TorrentRemoved, user.ID, b.ID, hash, "")
	return nil
}

func (g *Gateway) Files(ctx context.Context, user domain.User, infoHash, backendID string) ([]domain.FileView, error) {
	_, client, err := g.resolveByHash(ctx, user, infoHash, backendID)
	if err != nil {
		return nil, err
	}
	hash, _ := domain.NormalizeInfoHash(infoHash)
	files, err := client.Files(ctx, hash)
	if err != nil {
		return nil, wrapBackend(err)
	}
	return files, nil
}

func (g *Gateway) SetPriority(ctx context.Context, user domain.User, infoHash, backendID string, priority int) error {
	_, client, err := g.resolveByHash(ctx, user, infoHash, backendID)
	if err != nil {
		return err
	}
	hash, _ := domain.NormalizeInfoHash(infoHash)
	if err := client.SetPriority(ctx, hash, priority); err != nil {
		return wrapBackend(err)
	}
	return nil
}

func (g *Gateway) SetFilePriority(ctx context.Context, user domain.User, infoHash, backendID string, index, priority int) error {
	_, client, err := g.resolveByHash(ctx, user, infoHash, backendID)
	if err != nil {
		return err
	}
	hash, _ := domain.NormalizeInfoHash(infoHash)
	if err := client.SetFilePriority(ctx, hash, index, priority); err != nil {
		return wrapBackend(err)
	}
	return nil
}

func (g *Gateway) SetLabels(ctx context.Context, user domain.User, infoHash, backendID string, labels []string) error {
	b, client, err := g.resolveByHash(ctx, user, infoHash, backendID)
	if err != nil {
		return err
	}
	hash, _ := domain.NormalizeInfoHash(infoHash)
	if err := client.SetLabels(ctx, hash, labels); err != nil {
		return wrapBackend(err)
	}
	if record, err := g.Store.GetTorrent(ctx, user.ID, hash, b.ID); err == nil {
		record.Labels = labels
		if err := g.Store.UpsertTorrent(ctx, record); err != nil {
			g.Logger.Warn("label persist failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// TestBackend probes the backend with a ping, discarding the cached client
// on failure so the next call reconnects.
func (g *Gateway) TestBackend(ctx context.Context, user domain.User, backendID string) error {
	b, err := g.ownedBackend(ctx, user, backendID)
	if err != nil {
		return err
	}
	client, err := g.Factory.Client(b)
	if err != nil {
		return wrapBackend(err)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.FanoutTimeout)
	defer cancel()
	if err := client.Ping(callCtx); err != nil {
		g.Factory.Invalidate(b.ID)
		return wrapBackend(err)
	}
	return nil
}

func (g *Gateway) appendAction(ctx context.Context, userID, backendID, hash string, kind domain.ActionKind, detail string) {
	action := domain.Action{
		TorrentHash: hash,
		OwnerUserID: userID,
		BackendID:   backendID,
		Kind:        kind,
		Detail:      detail,
		Timestamp:   g.Now().UTC(),
	}
	if err := g.Store.AppendAction(ctx, action); err != nil {
		g.Logger.Warn("action append failed", slog.String("error", err.Error()))
	}
}

func (g *Gateway) publish(kind events.Kind, userID, backendID, hash, detail string) {
	if g.Bus == nil {
		return
	}
	g.Bus.Publish(events.Event{
		Kind:        kind,
		OwnerUserID: userID,
		BackendID:   backendID,
		TorrentHash: hash,
		Detail:      detail,
	})
}
