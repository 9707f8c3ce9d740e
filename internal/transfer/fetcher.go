package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Fetcher copies the resource at uri into dest, reporting bytes written and
// the expected total (0 if unknown).
type Fetcher interface {
	Fetch(ctx context.Context, uri, dest string, onProgress func(done, total int64)) error
}

// HTTPFetcher downloads over HTTP(S). It does not retry.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher with a tuned transport. Timeouts apply to
// connection setup and headers only; body streaming is bounded by ctx.
func NewHTTPFetcher(connectTimeout time.Duration) *HTTPFetcher {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &HTTPFetcher{Client: &http.Client{Transport: tr}, UserAgent: "llavad"}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri, dest string, onProgress func(done, total int64)) error {
	cli := f.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := cli.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http status %s", resp.Status)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	cw := &countingWriter{w: out, total: total, onProgress: onProgress}
	if _, err := io.Copy(cw, resp.Body); err != nil {
		out.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type countingWriter struct {
	w          io.Writer
	done       int64
	total      int64
	onProgress func(done, total int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.done += int64(n)
	if c.onProgress != nil && n > 0 {
		c.onProgress(c.done, c.total)
	}
	return n, err
}
