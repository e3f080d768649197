package backend

import (
	"fmt"
	"sync"

	"torrentgate/internal/backend/rtorrent"
	"torrentgate/internal/backend/transmission"
	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
)

type cacheEntry struct {
	version int64
	client  ports.BackendClient
}

// Factory resolves backend records to live clients, caching one client per
// backend id. A cached client is discarded when the record's version moves
// or when a caller invalidates it after a failed ping.
type Factory struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewFactory() *Factory {
	return &Factory{cache: make(map[string]cacheEntry)}
}

var _ ports.ClientFactory = (*Factory)(nil)

func (f *Factory) Client(b domain.Backend) (ports.BackendClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entry, ok := f.cache[b.ID]; ok && entry.version == b.Version {
		return entry.client, nil
	}

	client, err := build(b)
	if err != nil {
		return nil, err
	}
	f.cache[b.ID] = cacheEntry{version: b.Version, client: client}
	return client, nil
}

func (f *Factory) Invalidate(backendID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, backendID)
}

func build(b domain.Backend) (ports.BackendClient, error) {
	scheme := "http"
	if b.UseSSL {
		scheme = "https"
	}
	var username, password string
	if b.Auth != nil {
		username = b.Auth.Username
		password = b.Auth.Password
	}

	switch b.Kind {
	case domain.KindRTorrent:
		path := b.RPCPath
		if path == "" {
			path = "RPC2"
		}
		url := fmt.Sprintf("%s://%s:%d/%s", scheme, b.Host, b.Port, trimSlash(path))
		return rtorrent.New(rtorrent.Config{URL: url, Username: username, Password: password}), nil
	case domain.KindTransmission:
		url := fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
		if b.RPCPath != "" {
			url += "/" + trimSlash(b.RPCPath)
		}
		return transmission.New(transmission.Config{URL: url, Username: username, Password: password}), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend kind %q", domain.ErrBadRequest, b.Kind)
	}
}

func trimSlash(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}
