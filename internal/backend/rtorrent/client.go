package rtorrent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
)

// d.multicall2 field list fetched in one round trip per listing.
var listFields = []any{
	"d.hash=",
	"d.name=",
	"d.base_path=",
	"d.directory=",
	"d.size_bytes=",
	"d.is_multi_file=",
	"d.bytes_done=",
	"d.state=",
	"d.is_active=",
	"d.complete=",
	"d.ratio=",
	"d.up.rate=",
	"d.down.rate=",
	"d.peers_connected=",
	"d.peers_complete=",
	"d.priority=",
	"d.is_private=",
	"d.custom1=",
}

// Client speaks XML-RPC to one rTorrent instance.
type Client struct {
	rpc *rpcClient
}

type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		rpc: &rpcClient{
			url:        cfg.URL,
			username:   cfg.Username,
			password:   cfg.Password,
			httpClient: &http.Client{Timeout: timeout},
		},
	}
}

var _ ports.BackendClient = (*Client)(nil)

func (c *Client) ListTorrents(ctx context.Context, opts ports.ListOptions) ([]domain.TorrentView, error) {
	args := append([]any{"", "main"}, listFields...)
	raw, err := c.rpc.call(ctx, "d.multicall2", args...)
	if err != nil {
		return nil, err
	}
	rows, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rtorrent: unexpected multicall result %T", raw)
	}

	views := make([]domain.TorrentView, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.([]any)
		if !ok || len(fields) < len(listFields) {
			continue
		}
		view, err := viewFromRow(fields)
		if err != nil {
			continue
		}
		if opts.InfoHash != "" && view.InfoHash != opts.InfoHash {
			continue
		}
		if opts.IncludeFiles {
			files, err := c.Files(ctx, view.InfoHash)
			if err == nil {
				view.Files = files
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func viewFromRow(fields []any) (domain.TorrentView, error) {
	hash, err := domain.NormalizeInfoHash(asString(fields[0]))
	if err != nil {
		return domain.TorrentView{}, err
	}

	name := asString(fields[1])
	size := asInt(fields[4])
	done := asInt(fields[6])
	started := asInt(fields[7]) == 1
	active := asInt(fields[8]) == 1
	complete := asInt(fields[9]) == 1

	progress := 0.0
	if size > 0 {
		progress = float64(done) / float64(size)
	}
	if complete {
		progress = 1
	}

	state := "stopped"
	switch {
	case started && active && complete:
		state = "seeding"
	case started && active:
		state = "downloading"
	case started:
		state = "paused"
	}

	return domain.TorrentView{
		InfoHash:    hash,
		Name:        name,
		BasePath:    asString(fields[2]),
		Directory:   asString(fields[3]),
		Size:        size,
		IsMultiFile: asInt(fields[5]) == 1,
		BytesDone:   done,
		State:       state,
		IsActive:    started && active,
		Complete:    complete,
		// d.ratio reports per mille.
		Ratio:           float64(asInt(fields[10])) / 1000,
		UpRate:          asInt(fields[11]),
		DownRate:        asInt(fields[12]),
		Peers:           int(asInt(fields[13])),
		Seeds:           int(asInt(fields[14])),
		Priority:        int(asInt(fields[15])),
		IsPrivate:       asInt(fields[16]) == 1,
		Progress:        progress,
		IsMagnetPending: isMagnetPending(name, hash),
		Labels:          parseLabels(asString(fields[17])),
	}, nil
}

// isMagnetPending reports whether metadata has not arrived yet: rTorrent
// names such torrents "<hash>.meta".
func isMagnetPending(name, hash string) bool {
	return strings.EqualFold(name, hash+".meta")
}

// Labels live in d.custom1 as a comma-separated list, compatible with
// ruTorrent.
func parseLabels(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	labels := make([]string, 0, len(parts))
	for _, part := range parts {
		if label := strings.TrimSpace(part); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

func (c *Client) AddTorrentFile(ctx context.Context, data []byte, start bool, priority int) error {
	method := "load.raw"
	if start {
		method = "load.raw_start"
	}
	args := []any{"", data}
	args = append(args, priorityCommands(priority)...)
	_, err := c.rpc.call(ctx, method, args...)
	return err
}

func (c *Client) AddMagnet(ctx context.Context, uri string, start bool, priority int) error {
	method := "load"
	if start {
		method = "load.start"
	}
	args := []any{"", uri}
	args = append(args, priorityCommands(priority)...)
	_, err := c.rpc.call(ctx, method, args...)
	return err
}

// priorityCommands returns trailing load commands applying the normalized
// priority to the newly loaded download.
func priorityCommands(priority int) []any {
	switch priority {
	case domain.PriorityOff:
		return []any{"d.priority.set=0"}
	case domain.PriorityHigh:
		return []any{"d.priority.set=3"}
	default:
		return nil
	}
}

func (c *Client) AddTorrentURL(ctx context.Context, url string, start bool, priority int) error {
	data, err := fetchTorrent(ctx, c.rpc.httpClient, url)
	if err != nil {
		return err
	}
	return c.AddTorrentFile(ctx, data, start, priority)
}

func fetchTorrent(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("torrent download failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

func (c *Client) Start(ctx context.Context, infoHash string) error {
	_, err := c.rpc.call(ctx, "d.start", infoHash)
	return err
}

func (c *Client) Stop(ctx context.Context, infoHash string) error {
	_, err := c.rpc.call(ctx, "d.stop", infoHash)
	return err
}

// Erase stops the download first and waits briefly for it to go inactive
// before removing it.
func (c *Client) Erase(ctx context.Context, infoHash string, deleteData bool) error {
	if err := c.Stop(ctx, infoHash); err == nil {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			raw, err := c.rpc.call(ctx, "d.is_active", infoHash)
			if err != nil || asInt(raw) == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	if deleteData {
		// Best effort: rTorrent has no single delete-with-data call.
		if raw, err := c.rpc.call(ctx, "d.base_path", infoHash); err == nil {
			if path := asString(raw); path != "" {
				_, _ = c.rpc.call(ctx, "execute2", "", "rm", "-rf", "--", path)
			}
		}
	}

	_, err := c.rpc.call(ctx, "d.erase", infoHash)
	return err
}

func (c *Client) Files(ctx context.Context, infoHash string) ([]domain.FileView, error) {
	raw, err := c.rpc.call(ctx, "f.multicall", infoHash, "",
		"f.path=", "f.size_bytes=", "f.size_chunks=", "f.completed_chunks=", "f.priority=")
	if err != nil {
		return nil, err
	}
	rows, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rtorrent: unexpected f.multicall result %T", raw)
	}

	files := make([]domain.FileView, 0, len(rows))
	for i, row := range rows {
		fields, ok := row.([]any)
		if !ok || len(fields) < 5 {
			continue
		}
		chunks := asInt(fields[2])
		completed := asInt(fields[3])
		progress := 0.0
		if chunks > 0 {
			progress = float64(completed) / float64(chunks)
		}
		files = append(files, domain.FileView{
			Index:    i,
			Path:     asString(fields[0]),
			Size:     asInt(fields[1]),
			Priority: int(asInt(fields[4])),
			Progress: progress,
		})
	}
	return files, nil
}

func (c *Client) SetPriority(ctx context.Context, infoHash string, priority int) error {
	_, err := c.rpc.call(ctx, "d.priority.set", infoHash, int64(rtorrentPriority(priority)))
	return err
}

// SetFilePriority addresses one file as "<hash>:f<index>".
func (c *Client) SetFilePriority(ctx context.Context, infoHash string, index, priority int) error {
	target := fmt.Sprintf("%s:f%d", infoHash, index)
	if _, err := c.rpc.call(ctx, "f.priority.set", target, int64(rtorrentPriority(priority))); err != nil {
		return err
	}
	_, err := c.rpc.call(ctx, "d.update_priorities", infoHash)
	return err
}

// rtorrentPriority maps the normalized 0/1/2 scale onto rTorrent's 0-3.
func rtorrentPriority(priority int) int {
	switch priority {
	case domain.PriorityOff:
		return 0
	case domain.PriorityHigh:
		return 3
	default:
		return 2
	}
}

func (c *Client) SetLabels(ctx context.Context, infoHash string, labels []string) error {
	_, err := c.rpc.call(ctx, "d.custom1.set", infoHash, strings.Join(labels, ","))
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.rpc.call(ctx, "system.client_version")
	return err
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}
