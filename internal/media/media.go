// internal/media/media.go
//
// Package media downloads the images and videos a task refers to and spools them to disk
// for the browser's file inputs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/herald/internal/config"
)

var (
	ErrTooMany         = errors.New("too many media items")
	ErrInsecureURL     = errors.New("media url must use https")
	ErrBlockedHost     = errors.New("media url points at a local host")
	ErrTooLarge        = errors.New("media item exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported media type")
)

var blockedHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

// Blob is one downloaded media item.
type Blob struct {
	Name      string
	MIMEType  string
	Data      []byte
	SourceURL string
}

// IsVideo reports whether the blob is a video rather than an image.
func (b Blob) IsVideo() bool { return strings.HasPrefix(b.MIMEType, "video/") }

// Fetcher downloads media with bounded parallelism. Results keep the input order.
type Fetcher struct {
	client *http.Client
	cfg    config.MediaConfig
	logger *zap.Logger
}

// NewFetcher creates a Fetcher on top of the shared HTTP client.
func NewFetcher(client *http.Client, cfg config.MediaConfig, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, cfg: cfg, logger: logger.Named("media")}
}

// Fetch downloads every URL. The first failure cancels the rest.
func (f *Fetcher) Fetch(ctx context.Context, urls []string) ([]Blob, error) {
	if f.cfg.MaxFiles > 0 && len(urls) > f.cfg.MaxFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooMany, len(urls), f.cfg.MaxFiles)
	}
	for _, raw := range urls {
		if err := f.checkURL(raw); err != nil {
			return nil, err
		}
	}

	blobs := make([]Blob, len(urls))
	g, groupCtx := errgroup.WithContext(ctx)
	if f.cfg.Concurrency > 0 {
		g.SetLimit(f.cfg.Concurrency)
	}
	for i, raw := range urls {
		g.Go(func() error {
			b, err := f.fetchOne(groupCtx, i, raw)
			if err != nil {
				return err
			}
			blobs[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	f.logger.Debug("Fetched media.", zap.Int("count", len(blobs)))
	return blobs, nil
}

func (f *Fetcher) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid media url %q", raw)
	}
	if f.cfg.AllowInsecure {
		return nil
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInsecureURL, raw)
	}
	host := strings.ToLower(u.Hostname())
	if blockedHosts[host] {
		return fmt.Errorf("%w: %s", ErrBlockedHost, raw)
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsUnspecified() || ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, raw)
	}
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, index int, raw string) (Blob, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return Blob{}, fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Blob{}, fmt.Errorf("failed to download %s: %w", raw, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Blob{}, fmt.Errorf("failed to download %s: status %d", raw, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Blob{}, fmt.Errorf("failed to read %s: %w", raw, err)
	}
	if f.cfg.MaxBytes > 0 && int64(len(data)) > f.cfg.MaxBytes {
		return Blob{}, fmt.Errorf("%w: %s", ErrTooLarge, raw)
	}

	mimeType := contentType(resp.Header.Get("Content-Type"), data)
	if !strings.HasPrefix(mimeType, "image/") && !strings.HasPrefix(mimeType, "video/") {
		return Blob{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, raw, mimeType)
	}

	return Blob{
		Name:      fileName(raw, index, mimeType),
		MIMEType:  mimeType,
		Data:      data,
		SourceURL: raw,
	}, nil
}

// contentType prefers the server's header and falls back to sniffing.
func contentType(header string, data []byte) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func fileName(raw string, index int, mimeType string) string {
	if u, err := url.Parse(raw); err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
			return base
		}
	}
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("media-%d%s", index+1, ext)
}

// Spool writes blobs into a fresh directory under dir and returns their paths. The
// cleanup func removes the directory.
func Spool(dir string, blobs []Blob) ([]string, func(), error) {
	tmp, err := os.MkdirTemp(dir, "herald-media-")
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to create media spool: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	paths := make([]string, 0, len(blobs))
	for i, b := range blobs {
		// Prefix with the index so duplicate names stay distinct.
		p := filepath.Join(tmp, fmt.Sprintf("%02d-%s", i+1, filepath.Base(b.Name)))
		if err := os.WriteFile(p, b.Data, 0o600); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("failed to spool %s: %w", b.Name, err)
		}
		paths = append(paths, p)
	}
	return paths, cleanup, nil
}
