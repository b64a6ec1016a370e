// Package modelcache downloads model files into a local cache directory with
// progress reporting. It has no native dependencies, so the CLI can prefetch
// models on machines that cannot run inference.
package modelcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/go-resty/resty/v2"
)

// DefaultDir returns os.UserCacheDir()/readalong/models.
func DefaultDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("modelcache: resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "readalong", "models"), nil
}

// Cache stores downloaded files under one directory.
type Cache struct {
	dir    string
	client *resty.Client
}

// New returns a Cache rooted at dir. client may be nil.
func New(dir string, client *resty.Client) *Cache {
	if client == nil {
		client = resty.New()
	}
	return &Cache{dir: dir, client: client}
}

// Path returns where the file for rawURL is (or would be) cached.
func (c *Cache) Path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("modelcache: parse URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("modelcache: URL %q has no file name", rawURL)
	}
	return filepath.Join(c.dir, name), nil
}

// Fetch returns the cached file for rawURL, downloading it first if needed.
// onProgress receives percentages in [0, 100] while downloading and 100 when
// the file is ready. Partial downloads never appear under the final name.
func (c *Cache) Fetch(ctx context.Context, rawURL string, onProgress func(float64)) (string, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	dst, err := c.Path(rawURL)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		slog.Debug("modelcache: hit", "path", dst)
		onProgress(100)
		return dst, nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("modelcache: create dir: %w", err)
	}

	slog.Info("modelcache: downloading", "url", rawURL, "dest", dst)
	resp, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("modelcache: download: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 300 {
		return "", fmt.Errorf("modelcache: download: unexpected status %d", resp.StatusCode())
	}

	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("modelcache: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	pw := &progressWriter{total: resp.RawResponse.ContentLength, report: onProgress}
	if _, err := io.Copy(tmp, io.TeeReader(body, pw)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("modelcache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("modelcache: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("modelcache: install: %w", err)
	}
	onProgress(100)
	return dst, nil
}

// progressWriter counts bytes and reports a percentage when the total size is
// known.
type progressWriter struct {
	total   int64
	written int64
	report  func(float64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		w.report(float64(w.written) * 100 / float64(w.total))
	}
	return len(p), nil
}
