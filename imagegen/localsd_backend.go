package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jacobedelsonuw/visionboard-ai/core"
)

// DefaultNegativePrompt is sent with every local diffusion request.
const DefaultNegativePrompt = "blurry, bad art, low quality, text, watermark"

// LocalSDBackend talks to an AUTOMATIC1111-compatible txt2img endpoint and
// returns inline images.
type LocalSDBackend struct {
	client  *http.Client
	baseURL string
	enabled bool
}

// NewLocalSDBackend creates the local diffusion adapter from cfg.
func NewLocalSDBackend(cfg *core.Config, client *http.Client) (*LocalSDBackend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	if client == nil {
		client = core.GetHTTPClient(cfg, cfg.HTTPTimeout)
	}
	return &LocalSDBackend{
		client:  client,
		baseURL: strings.TrimRight(cfg.LocalSDURL, "/"),
		enabled: cfg.BackendEnabled(core.BackendLocalSD),
	}, nil
}

func (b *LocalSDBackend) Name() string  { return core.BackendLocalSD }
func (b *LocalSDBackend) Enabled() bool { return b.enabled }

type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	CFGScale       float64 `json:"cfg_scale"`
	SamplerName    string  `json:"sampler_name"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// Generate renders prompt synchronously.
func (b *LocalSDBackend) Generate(ctx context.Context, prompt string, profile Profile) (*ImageHandle, error) {
	sampler := profile.Sampler
	if sampler == "" {
		sampler = DefaultSampler
	}
	body, err := json.Marshal(txt2imgRequest{
		Prompt:         prompt,
		NegativePrompt: DefaultNegativePrompt,
		Steps:          profile.Steps,
		Width:          profile.Width,
		Height:         profile.Height,
		CFGScale:       profile.Guidance,
		SamplerName:    sampler,
	})
	if err != nil {
		return nil, NewTransientError(b.Name(), "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return nil, NewTransientError(b.Name(), "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, NewTransientError(b.Name(), "diffusion server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewTransientError(b.Name(), fmt.Sprintf("txt2img returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}

	var decoded txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewTransientError(b.Name(), "malformed txt2img response", err)
	}
	if len(decoded.Images) == 0 || decoded.Images[0] == "" {
		return nil, NewTransientError(b.Name(), "txt2img response contained no images", nil)
	}

	data, err := decodeBase64Image(decoded.Images[0])
	if err != nil {
		return nil, NewTransientError(b.Name(), "txt2img image is not valid base64", err)
	}
	handle, err := NewInlineHandle(data)
	if err != nil {
		return nil, NewTransientError(b.Name(), "txt2img returned an unusable image", err)
	}
	return handle, nil
}

var _ Backend = (*LocalSDBackend)(nil)
