package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
)

const csrfSessionHeader = "X-Transmission-Session-Id"

// Transmission status values (RPC 14+).
const (
	statusStopped      = 0
	statusCheckWait    = 1
	statusCheck        = 2
	statusDownloadWait = 3
	statusDownload     = 4
	statusSeedWait     = 5
	statusSeed         = 6
)

var torrentGetFields = []string{
	"hashString", "name", "downloadDir", "totalSize", "percentDone",
	"rateDownload", "rateUpload", "peersConnected", "peersSendingToUs",
	"status", "uploadRatio", "isPrivate", "labels", "files", "fileStats",
	"priorities", "wanted", "metadataPercentComplete", "bandwidthPriority",
}

// Client speaks Transmission's JSON-RPC dialect, maintaining the
// X-Transmission-Session-Id handshake.
type Client struct {
	url        string
	username   string
	password   string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
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
	url := cfg.URL
	if !strings.HasSuffix(url, "/transmission/rpc") {
		url = strings.TrimRight(url, "/") + "/transmission/rpc"
	}
	return &Client{
		url:        url,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ ports.BackendClient = (*Client)(nil)

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
	Tag       int    `json:"tag,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
	Tag       int             `json:"tag"`
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	req.Header.Set(csrfSessionHeader, c.sessionID)
	c.mu.Unlock()
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.httpClient.Do(req)
}

// doRPC posts the request, retrying once on 409 with the session id the
// server hands back.
func (c *Client) doRPC(ctx context.Context, method string, args any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		sessionID := resp.Header.Get(csrfSessionHeader)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if sessionID == "" {
			return fmt.Errorf("transmission: 409 without %s", csrfSessionHeader)
		}
		c.mu.Lock()
		c.sessionID = sessionID
		c.mu.Unlock()
		resp, err = c.post(ctx, body)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transmission: unexpected status %d", resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if envelope.Result != "success" {
		return fmt.Errorf("transmission: %s", envelope.Result)
	}
	if out != nil && len(envelope.Arguments) > 0 {
		return json.Unmarshal(envelope.Arguments, out)
	}
	return nil
}

type torrentInfo struct {
	HashString              string   `json:"hashString"`
	Name                    string   `json:"name"`
	DownloadDir             string   `json:"downloadDir"`
	TotalSize               int64    `json:"totalSize"`
	PercentDone             float64  `json:"percentDone"`
	RateDownload            int64    `json:"rateDownload"`
	RateUpload              int64    `json:"rateUpload"`
	PeersConnected          int      `json:"peersConnected"`
	PeersSendingToUs        int      `json:"peersSendingToUs"`
	Status                  int      `json:"status"`
	UploadRatio             float64  `json:"uploadRatio"`
	IsPrivate               bool     `json:"isPrivate"`
	Labels                  []string `json:"labels"`
	MetadataPercentComplete float64  `json:"metadataPercentComplete"`
	BandwidthPriority       int      `json:"bandwidthPriority"`
	Files                   []struct {
		Name           string `json:"name"`
		Length         int64  `json:"length"`
		BytesCompleted int64  `json:"bytesCompleted"`
	} `json:"files"`
	FileStats []struct {
		Wanted   bool `json:"wanted"`
		Priority int  `json:"priority"`
	} `json:"fileStats"`
}

type torrentGetResponse struct {
	Torrents []torrentInfo `json:"torrents"`
}

func (c *Client) ListTorrents(ctx context.Context, opts ports.ListOptions) ([]domain.TorrentView, error) {
	args := map[string]any{"fields": torrentGetFields}
	if opts.InfoHash != "" {
		// Transmission matches hashStrings case-insensitively.
		args["ids"] = []string{strings.ToLower(opts.InfoHash)}
	}

	var result torrentGetResponse
	if err := c.doRPC(ctx, "torrent-get", args, &result); err != nil {
		return nil, err
	}

	views := make([]domain.TorrentView, 0, len(result.Torrents))
	for _, t := range result.Torrents {
		view, err := viewFromInfo(t, opts.IncludeFiles)
		if err != nil {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

func viewFromInfo(t torrentInfo, includeFiles bool) (domain.TorrentView, error) {
	hash, err := domain.NormalizeInfoHash(t.HashString)
	if err != nil {
		return domain.TorrentView{}, err
	}

	active := t.Status == statusDownload || t.Status == statusSeed
	complete := t.PercentDone >= 1

	view := domain.TorrentView{
		InfoHash:    hash,
		Name:        t.Name,
		BasePath:    joinPath(t.DownloadDir, t.Name),
		Directory:   t.DownloadDir,
		Size:        t.TotalSize,
		IsMultiFile: len(t.Files) > 1,
		BytesDone:   int64(t.PercentDone * float64(t.TotalSize)),
		State:       stateName(t.Status),
		IsActive:    active,
		Complete:    complete,
		Ratio:       t.UploadRatio,
		UpRate:      t.RateUpload,
		DownRate:    t.RateDownload,
		Peers:       t.PeersConnected,
		Seeds:       t.PeersSendingToUs,
		Priority:    t.BandwidthPriority + 1,
		IsPrivate:   t.IsPrivate,
		Progress:    t.PercentDone,
		// Transmission cannot report a torrent file path.
		TorrentFilePath: nil,
		IsMagnetPending: t.MetadataPercentComplete < 1 && t.TotalSize == 0,
		Labels:          t.Labels,
	}
	if includeFiles {
		view.Files = filesFromInfo(t)
	}
	return view, nil
}

func stateName(status int) string {
	switch status {
	case statusDownload:
		return "downloading"
	case statusSeed:
		return "seeding"
	case statusCheck, statusCheckWait:
		return "checking"
	case statusDownloadWait, statusSeedWait:
		return "queued"
	default:
		return "stopped"
	}
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

func filesFromInfo(t torrentInfo) []domain.FileView {
	files := make([]domain.FileView, 0, len(t.Files))
	for i, f := range t.Files {
		progress := 0.0
		if f.Length > 0 {
			progress = float64(f.BytesCompleted) / float64(f.Length)
		}
		priority := domain.PriorityNormal
		if i < len(t.FileStats) {
			stat := t.FileStats[i]
			switch {
			case !stat.Wanted:
				priority = domain.PriorityOff
			case stat.Priority > 0:
				priority = domain.PriorityHigh
			}
		}
		files = append(files, domain.FileView{
			Index:    i,
			Path:     f.Name,
			Size:     f.Length,
			Priority: priority,
			Progress: progress,
		})
	}
	return files
}

type addedTorrent struct {
	HashString string `json:"hashString"`
}

type torrentAddResponse struct {
	Added     *addedTorrent `json:"torrent-added"`
	Duplicate *addedTorrent `json:"torrent-duplicate"`
}

func (c *Client) AddTorrentFile(ctx context.Context, data []byte, start bool, priority int) error {
	args := map[string]any{
		"metainfo": base64.StdEncoding.EncodeToString(data),
		"paused":   !start,
	}
	var result torrentAddResponse
	if err := c.doRPC(ctx, "torrent-add", args, &result); err != nil {
		return err
	}
	return c.applyAddPriority(ctx, result, priority)
}

func (c *Client) AddMagnet(ctx context.Context, uri string, start bool, priority int) error {
	args := map[string]any{
		"filename": uri,
		"paused":   !start,
	}
	var result torrentAddResponse
	if err := c.doRPC(ctx, "torrent-add", args, &result); err != nil {
		return err
	}
	return c.applyAddPriority(ctx, result, priority)
}

func (c *Client) AddTorrentURL(ctx context.Context, url string, start bool, priority int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("torrent download failed: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	return c.AddTorrentFile(ctx, data, start, priority)
}

func (c *Client) applyAddPriority(ctx context.Context, result torrentAddResponse, priority int) error {
	if priority == domain.PriorityNormal {
		return nil
	}
	hash := ""
	if result.Added != nil {
		hash = result.Added.HashString
	} else if result.Duplicate != nil {
		hash = result.Duplicate.HashString
	}
	if hash == "" {
		return nil
	}
	return c.SetPriority(ctx, hash, priority)
}

func (c *Client) torrentIDs(infoHash string) []string {
	return []string{strings.ToLower(infoHash)}
}

func (c *Client) Start(ctx context.Context, infoHash string) error {
	return c.doRPC(ctx, "torrent-start", map[string]any{"ids": c.torrentIDs(infoHash)}, nil)
}

func (c *Client) Stop(ctx context.Context, infoHash string) error {
	return c.doRPC(ctx, "torrent-stop", map[string]any{"ids": c.torrentIDs(infoHash)}, nil)
}

// Erase stops first and waits briefly for the torrent to settle before
// removal, matching the abstraction's erase contract.
func (c *Client) Erase(ctx context.Context, infoHash string, deleteData bool) error {
	if err := c.Stop(ctx, infoHash); err == nil {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			views, err := c.ListTorrents(ctx, ports.ListOptions{InfoHash: strings.ToUpper(infoHash)})
			if err != nil || len(views) == 0 || !views[0].IsActive {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	args := map[string]any{
		"ids":               c.torrentIDs(infoHash),
		"delete-local-data": deleteData,
	}
	return c.doRPC(ctx, "torrent-remove", args, nil)
}

func (c *Client) Files(ctx context.Context, infoHash string) ([]domain.FileView, error) {
	views, err := c.ListTorrents(ctx, ports.ListOptions{InfoHash: infoHash, IncludeFiles: true})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, domain.ErrNotFound
	}
	return views[0].Files, nil
}

// SetPriority maps the normalized scale: 0 marks every file unwanted,
// 2 marks everything wanted at high priority.
func (c *Client) SetPriority(ctx context.Context, infoHash string, priority int) error {
	args := map[string]any{"ids": c.torrentIDs(infoHash)}
	switch priority {
	case domain.PriorityOff:
		args["files-unwanted"] = []int{}
	case domain.PriorityHigh:
		args["files-wanted"] = []int{}
		args["priority-high"] = []int{}
	default:
		args["files-wanted"] = []int{}
		args["priority-normal"] = []int{}
	}
	return c.doRPC(ctx, "torrent-set", args, nil)
}

func (c *Client) SetFilePriority(ctx context.Context, infoHash string, index, priority int) error {
	args := map[string]any{"ids": c.torrentIDs(infoHash)}
	switch priority {
	case domain.PriorityOff:
		args["files-unwanted"] = []int{index}
	case domain.PriorityHigh:
		args["files-wanted"] = []int{index}
		args["priority-high"] = []int{index}
	default:
		args["files-wanted"] = []int{index}
		args["priority-normal"] = []int{index}
	}
	return c.doRPC(ctx, "torrent-set", args, nil)
}

func (c *Client) SetLabels(ctx context.Context, infoHash string, labels []string) error {
	args := map[string]any{
		"ids":    c.torrentIDs(infoHash),
		"labels": labels,
	}
	return c.doRPC(ctx, "torrent-set", args, nil)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.doRPC(ctx, "session-get", nil, nil)
}
