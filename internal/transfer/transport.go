package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"torrentgate/internal/domain"
)

// transport copies the payload of one job to local storage. The progress
// callback receives the cumulative byte count.
type transport interface {
	Name() string
	Fetch(ctx context.Context, job domain.TransferJob, b domain.Backend, files []domain.FileView, progress func(int64)) error
}

// pickTransport selects the first configured transport: a local mount of
// the backend's download directory, then HTTP download, then SSH.
func pickTransport(b domain.Backend) (transport, error) {
	switch {
	case b.MountPath != "":
		return &mountTransport{}, nil
	case b.HTTPDownload != nil && b.HTTPDownload.Enabled:
		return &httpTransport{client: &http.Client{Timeout: 0}}, nil
	case b.SSH != nil && b.SSH.Host != "":
		return &sshTransport{}, nil
	default:
		return nil, domain.ErrNoTransport
	}
}

// relSource maps the backend-side source path into a path relative to the
// backend's download directory.
func relSource(job domain.TransferJob, b domain.Backend) string {
	rel := strings.TrimPrefix(job.SourcePath, strings.TrimSuffix(b.DownloadDir, "/"))
	return strings.TrimPrefix(rel, "/")
}

type mountTransport struct{}

func (t *mountTransport) Name() string { return "mount" }

func (t *mountTransport) Fetch(ctx context.Context, job domain.TransferJob, b domain.Backend, files []domain.FileView, progress func(int64)) error {
	root := filepath.Join(b.MountPath, filepath.FromSlash(relSource(job, b)))
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("mount source: %w", err)
	}

	var done int64
	if !info.IsDir() {
		return copyFile(ctx, root, filepath.Join(job.DestPath, info.Name()), &done, progress)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(root, filepath.FromSlash(f.Path))
		dst := filepath.Join(job.DestPath, info.Name(), filepath.FromSlash(f.Path))
		if err := copyFile(ctx, src, dst, &done, progress); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(ctx context.Context, src, dst string, done *int64, progress func(int64)) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	w := &progressWriter{w: out, done: done, progress: progress}
	_, err = io.Copy(w, &contextReader{ctx: ctx, r: in})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

type httpTransport struct {
	client *http.Client
}

func (t *httpTransport) Name() string { return "http" }

func (t *httpTransport) Fetch(ctx context.Context, job domain.TransferJob, b domain.Backend, files []domain.FileView, progress func(int64)) error {
	cfg := b.HTTPDownload
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s:%d/%s", scheme, cfg.Host, cfg.Port, strings.Trim(cfg.Path, "/"))
	rel := relSource(job, b)

	var done int64
	if len(files) <= 1 {
		name := filepath.Base(job.SourcePath)
		return t.fetchOne(ctx, cfg, joinURL(base, rel), filepath.Join(job.DestPath, name), &done, progress)
	}
	dirName := filepath.Base(job.SourcePath)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := joinURL(base, rel, f.Path)
		dst := filepath.Join(job.DestPath, dirName, filepath.FromSlash(f.Path))
		if err := t.fetchOne(ctx, cfg, src, dst, &done, progress); err != nil {
			return err
		}
	}
	return nil
}

func (t *httpTransport) fetchOne(ctx context.Context, cfg *domain.HTTPDownload, src, dst string, done *int64, progress func(int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	if cfg.Auth != nil {
		req.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http download: unexpected status %d for %s", resp.StatusCode, src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	w := &progressWriter{w: out, done: done, progress: progress}
	_, err = io.Copy(w, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func joinURL(base string, segments ...string) string {
	parts := []string{base}
	for _, seg := range segments {
		for _, piece := range strings.Split(seg, "/") {
			if piece == "" {
				continue
			}
			parts = append(parts, url.PathEscape(piece))
		}
	}
	return strings.Join(parts, "/")
}

type sshTransport struct{}

func (t *sshTransport) Name() string { return "ssh" }

// Fetch shells out to rsync so partial transfers resume across retries.
func (t *sshTransport) Fetch(ctx context.Context, job domain.TransferJob, b domain.Backend, files []domain.FileView, progress func(int64)) error {
	cfg := b.SSH
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	sshCmd := fmt.Sprintf("ssh -p %d -o StrictHostKeyChecking=accept-new", port)
	if cfg.KeyPath != "" {
		sshCmd += " -i " + cfg.KeyPath
	}

	if err := os.MkdirAll(job.DestPath, 0o755); err != nil {
		return err
	}
	src := fmt.Sprintf("%s@%s:%s", cfg.User, cfg.Host, job.SourcePath)
	cmd := exec.CommandContext(ctx, "rsync", "-az", "--partial", "-e", sshCmd, src, job.DestPath+"/")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(string(out)))
	}
	progress(job.BytesTotal)
	return nil
}

// progressWriter reports the cumulative byte count, throttled to one
// callback per second.
type progressWriter struct {
	w        io.Writer
	done     *int64
	progress func(int64)
	last     time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	*p.done += int64(n)
	if p.progress != nil && time.Since(p.last) >= time.Second {
		p.last = time.Now()
		p.progress(*p.done)
	}
	return n, err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
