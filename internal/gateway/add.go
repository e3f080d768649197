package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/events"
)

// AddMagnet loads a magnet URI on an explicitly chosen backend. The
// backend id is mandatory for all add operations.
func (g *Gateway) AddMagnet(ctx context.Context, user domain.User, backendID, uri string, start bool, priority int) (string, error) {
	b, client, err := g.addTarget(ctx, user, backendID)
	if err != nil {
		return "", err
	}

	magnet, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return "", fmt.Errorf("%w: invalid magnet uri", domain.ErrBadRequest)
	}
	hash := strings.ToUpper(magnet.InfoHash.HexString())

	if err := client.AddMagnet(ctx, uri, start, priority); err != nil {
		return "", wrapBackend(err)
	}

	record := domain.TorrentRecord{
		InfoHash:    hash,
		OwnerUserID: user.ID,
		BackendID:   b.ID,
		Name:        magnet.DisplayName,
		AddedAt:     g.Now().UTC(),
	}
	g.persistAdd(ctx, record)
	g.appendAction(ctx, user.ID, b.ID, hash, domain.ActionAdd, "magnet")
	g.publish(events.TorrentAdded, user.ID, b.ID, hash, "magnet")
	return hash, nil
}

// AddTorrentFile loads raw bencoded torrent content. The info hash, name,
// size and private flag are read from the metainfo before dispatch.
func (g *Gateway) AddTorrentFile(ctx context.Context, user domain.User, backendID string, data []byte, start bool, priority int) (string, error) {
	b, client, err := g.addTarget(ctx, user, backendID)
	if err != nil {
		return "", err
	}

	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: invalid torrent file", domain.ErrBadRequest)
	}
	hash := strings.ToUpper(mi.HashInfoBytes().HexString())

	record := domain.TorrentRecord{
		InfoHash:    hash,
		OwnerUserID: user.ID,
		BackendID:   b.ID,
		AddedAt:     g.Now().UTC(),
	}
	if info, err := mi.UnmarshalInfo(); err == nil {
		record.Name = info.Name
		record.Size = info.TotalLength()
		if info.Private != nil {
			record.IsPrivate = *info.Private
		}
	}

	if err := client.AddTorrentFile(ctx, data, start, priority); err != nil {
		return "", wrapBackend(err)
	}

	g.persistAdd(ctx, record)
	g.appendAction(ctx, user.ID, b.ID, hash, domain.ActionAdd, "file")
	g.publish(events.TorrentAdded, user.ID, b.ID, hash, "file")
	return hash, nil
}

// AddTorrentURL delegates the download to the backend client; the record
// is filled in by the next poll since the hash is unknown until then.
func (g *Gateway) AddTorrentURL(ctx context.Context, user domain.User, backendID, url string, start bool, priority int) error {
	b, client, err := g.addTarget(ctx, user, backendID)
	if err != nil {
		return err
	}
	if err := client.AddTorrentURL(ctx, url, start, priority); err != nil {
		return wrapBackend(err)
	}
	g.appendAction(ctx, user.ID, b.ID, "", domain.ActionAdd, "url")
	g.publish(events.TorrentAdded, user.ID, b.ID, "", "url")
	return nil
}

// AddURI dispatches on the URI scheme: magnet links go to AddMagnet,
// anything http-like is treated as a remote torrent file.
func (g *Gateway) AddURI(ctx context.Context, user domain.User, backendID, uri string, start bool, priority int) (string, error) {
	switch {
	case strings.HasPrefix(uri, "magnet:"):
		return g.AddMagnet(ctx, user, backendID, uri, start, priority)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return "", g.AddTorrentURL(ctx, user, backendID, uri, start, priority)
	default:
		return "", fmt.Errorf("%w: unsupported uri scheme", domain.ErrBadRequest)
	}
}

func (g *Gateway) addTarget(ctx context.Context, user domain.User, backendID string) (domain.Backend, ports.BackendClient, error) {
	if strings.TrimSpace(backendID) == "" {
		return domain.Backend{}, nil, fmt.Errorf("%w: server_id is required", domain.ErrBadRequest)
	}
	b, err := g.ownedBackend(ctx, user, backendID)
	if err != nil {
		return domain.Backend{}, nil, err
	}
	if !b.Enabled {
		return domain.Backend{}, nil, fmt.Errorf("%w: backend is disabled", domain.ErrBadRequest)
	}
	client, err := g.Factory.Client(b)
	if err != nil {
		return domain.Backend{}, nil, wrapBackend(err)
	}
	return b, client, nil
}

func (g *Gateway) persistAdd(ctx context.Context, record domain.TorrentRecord) {
	if err := record.Validate(); err != nil {
		return
	}
	if err := g.Store.UpsertTorrent(ctx, record); err != nil {
		g.Logger.Warn("torrent record upsert failed",
			slog.String("hash", record.InfoHash),
			slog.String("error", err.Error()),
		)
	}
}
