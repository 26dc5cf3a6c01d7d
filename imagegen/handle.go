package imagegen

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"net/http"
	"strings"

	// Decoders registered for ImageHandle validation.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ImageHandle is what a backend hands back: inline bytes, a remote URL, or
// a job id that still has to be polled. Exactly one of Data, URL and JobID
// is set.
type ImageHandle struct {
	Data     []byte
	MIMEType string
	URL      string
	JobID    string

	// Width and Height are filled in when Data was decoded.
	Width  int
	Height int
}

// IsJob reports whether the handle still needs polling.
func (h *ImageHandle) IsJob() bool {
	return h != nil && h.JobID != "" && len(h.Data) == 0 && h.URL == ""
}

// Location returns the URL, or a data: URL for inline images.
func (h *ImageHandle) Location() string {
	if h == nil {
		return ""
	}
	if h.URL != "" {
		return h.URL
	}
	if len(h.Data) > 0 {
		return "data:" + h.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(h.Data)
	}
	return ""
}

// NewInlineHandle validates data as an image and returns a handle for it.
// Empty or undecodable data is rejected; adapters translate the error into
// a transient failure.
func NewInlineHandle(data []byte) (*ImageHandle, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("imagegen: image data is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imagegen: image data is not a decodable image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("imagegen: image has zero dimensions")
	}
	return &ImageHandle{
		Data:     data,
		MIMEType: "image/" + format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// NewURLHandle returns a handle for a remote image. Only absolute http(s)
// and data URLs are accepted.
func NewURLHandle(raw string) (*ImageHandle, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return nil, fmt.Errorf("imagegen: image URL is empty")
	}
	if strings.HasPrefix(u, "data:") {
		data, err := decodeDataURL(u)
		if err != nil {
			return nil, err
		}
		return NewInlineHandle(data)
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return nil, fmt.Errorf("imagegen: image URL %q is not absolute", u)
	}
	return &ImageHandle{URL: u}, nil
}

// decodeBase64Image accepts bare base64 or a data: URL.
func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		return decodeDataURL(s)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("imagegen: invalid base64 image: %w", err)
	}
	return data, nil
}

func decodeDataURL(s string) ([]byte, error) {
	idx := strings.Index(s, ";base64,")
	if idx < 0 {
		return nil, fmt.Errorf("imagegen: data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(s[idx+len(";base64,"):])
	if err != nil {
		return nil, fmt.Errorf("imagegen: invalid base64 image: %w", err)
	}
	return data, nil
}

// sniffImageType returns the MIME type of data, preferring image decoders
// over http.DetectContentType.
func sniffImageType(data []byte) string {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return "image/" + format
	}
	return http.DetectContentType(data)
}
