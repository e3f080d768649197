package ports

import (
	"context"

	"torrentgate/internal/domain"
)

// ListOptions narrows a backend list call. InfoHash filters to a single
// torrent; IncludeFiles asks for per-file detail where the backend supports
// fetching it in the same round trip.
type ListOptions struct {
	InfoHash     string
	IncludeFiles bool
}

// BackendClient is the one capability set every backend kind satisfies.
// Info hashes in results are canonical uppercase hex; IsActive is true iff
// the torrent is downloading or seeding; Complete iff progress is 1.
type BackendClient interface {
	ListTorrents(ctx context.Context, opts ListOptions) ([]domain.TorrentView, error)
	AddTorrentFile(ctx context.Context, data []byte, start bool, priority int) error
	AddMagnet(ctx context.Context, uri string, start bool, priority int) error
	AddTorrentURL(ctx context.Context, url string, start bool, priority int) error
	Start(ctx context.Context, infoHash string) error
	Stop(ctx context.Context, infoHash string) error
	Erase(ctx context.Context, infoHash string, deleteData bool) error
	Files(ctx context.Context, infoHash string) ([]domain.FileView, error)
	SetPriority(ctx context.Context, infoHash string, priority int) error
	SetFilePriority(ctx context.Context, infoHash string, index, priority int) error
	SetLabels(ctx context.Context, infoHash string, labels []string) error
	Ping(ctx context.Context) error
}

// ClientFactory resolves a backend record to a live client, caching one
// client per backend id and version.
type ClientFactory interface {
	Client(backend domain.Backend) (BackendClient, error)
	Invalidate(backendID string)
}
