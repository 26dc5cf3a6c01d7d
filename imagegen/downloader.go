package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jacobedelsonuw/visionboard-ai/core"
)

// DefaultMaxImageBytes caps downloads of generated images.
const DefaultMaxImageBytes = 32 << 20

// TempFilePrefix marks partially written files in the downloads directory.
const TempFilePrefix = "temp_"

// Downloader stores generated images on disk. Hosted backends return URLs
// that expire, so history keeps local copies when SAVE_IMAGES is set.
type Downloader struct {
	client       *http.Client
	downloadsDir string
	maxBytes     int64
}

// DownloadResult describes a stored image.
type DownloadResult struct {
	Path        string
	Size        int64
	ContentType string
}

// NewDownloader creates the downloads directory and a Downloader for it.
func NewDownloader(cfg *core.Config, client *http.Client) (*Downloader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	if client == nil {
		client = core.GetHTTPClient(cfg, cfg.HTTPTimeout)
	}
	dir := cfg.DownloadsDir
	if dir == "" {
		dir = "downloads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagegen: failed to create downloads directory: %w", err)
	}
	return &Downloader{client: client, downloadsDir: dir, maxBytes: DefaultMaxImageBytes}, nil
}

// DownloadsDir returns the target directory.
func (d *Downloader) DownloadsDir() string {
	return d.downloadsDir
}

// Save writes handle under name (extension added from the content type).
// Inline data is written directly; URLs are fetched. Content that does not
// decode as an image is rejected and nothing is left on disk.
func (d *Downloader) Save(ctx context.Context, handle *ImageHandle, name string) (*DownloadResult, error) {
	if handle == nil {
		return nil, fmt.Errorf("imagegen: handle cannot be nil")
	}
	if name == "" {
		return nil, fmt.Errorf("imagegen: filename cannot be empty")
	}

	data, contentType := handle.Data, handle.MIMEType
	if len(data) == 0 {
		if handle.URL == "" {
			return nil, fmt.Errorf("imagegen: handle has neither data nor URL")
		}
		var err error
		data, contentType, err = d.fetch(ctx, handle.URL)
		if err != nil {
			return nil, err
		}
	}

	if _, err := NewInlineHandle(data); err != nil {
		return nil, fmt.Errorf("imagegen: refusing to store non-image content: %w", err)
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = sniffImageType(data)
	}

	ext := extensionFromContentType(contentType)
	if ext == "" {
		ext = ".png"
	}
	base := sanitizeFilename(name) + ext
	fullPath := filepath.Join(d.downloadsDir, base)
	// written under a temp_ name first; leftovers are removed at shutdown
	tempPath := filepath.Join(d.downloadsDir, TempFilePrefix+base)
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("imagegen: failed to write image file: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("imagegen: failed to finalize image file: %w", err)
	}
	return &DownloadResult{Path: fullPath, Size: int64(len(data)), ContentType: contentType}, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to create download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("imagegen: download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to read image data: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("imagegen: image exceeds %d bytes", d.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func extensionFromContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	if idx := strings.Index(lower, ";"); idx != -1 {
		lower = lower[:idx]
	}
	switch strings.TrimSpace(lower) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

// sanitizeFilename keeps letters, digits, dash and underscore.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 128 {
		out = out[:128]
	}
	if out == "" {
		out = "image"
	}
	return out
}
